package gcode

import (
	"github.com/mastercactapus/cncd/coord"
)

// VM tracks modal state and tool position while scanning a program.
//
// It does not interpolate arcs; only the end points of motion blocks
// contribute to the bounding box.
type VM struct {
	pos    coord.Point
	bounds coord.Bounds

	modal [256]float64
}

// NewVM constructs a new VM with default state.
func NewVM() *VM {
	vm := &VM{}

	// using grbl defaults
	vm.modal[ModalGroupMotion] = 0
	vm.modal[ModalGroupCoordinateSystem] = 54
	vm.modal[ModalGroupPlaneSelection] = 17
	vm.modal[ModalGroupDistanceMode] = 90
	vm.modal[ModalGroupArcDistanceMode] = 91.1
	vm.modal[ModalGroupFeedRateMode] = 94
	vm.modal[ModalGroupUnits] = 21
	vm.modal[ModalGroupCutterCompensationMode] = 40
	vm.modal[ModalGroupToolLength] = 49
	vm.modal[ModalGroupStopping] = 0
	vm.modal[ModalGroupSpindle] = 5
	vm.modal[ModalGroupCoolant] = 9

	return vm
}

func (vm VM) Inches() bool         { return vm.modal[ModalGroupUnits] == 20 }
func (vm VM) RelativeMotion() bool { return vm.modal[ModalGroupDistanceMode] == 91 }

// Modal returns the current value of a modal group.
func (vm VM) Modal(g ModalGroup) float64 { return vm.modal[g] }

func (vm VM) Pos() coord.Point      { return vm.pos }
func (vm VM) Bounds() coord.Bounds  { return vm.bounds }
func (vm *VM) SetPos(p coord.Point) { vm.pos = p }

func isMotion(arg float64) bool {
	switch arg {
	case 0, 1, 2, 3:
		return true
	}
	return false
}

func applyBlock(p coord.Point, b Block, relative bool) coord.Point {
	for _, g := range b {
		if !g.IsAxis() {
			continue
		}
		if relative {
			v, _ := p.Axis(g.W)
			p = p.SetAxis(g.W, v+g.Arg)
		} else {
			p = p.SetAxis(g.W, g.Arg)
		}
	}

	return p
}

// Run applies a single block.
func (vm *VM) Run(b Block) {
	var nonModal bool
	for _, g := range b {
		mg := g.ModalGroup()
		if mg == ModalGroupNonModal {
			// G4 dwell, G10/G28/G30/G53/G92 take axis words that are not a move
			// in the current frame.
			nonModal = true
			continue
		}
		if mg != ModalGroupNone {
			vm.modal[mg] = g.Arg
		}
	}
	if nonModal {
		return
	}

	var hasAxis bool
	for _, g := range b {
		if g.IsAxis() {
			hasAxis = true
			break
		}
	}
	if !hasAxis || !isMotion(vm.modal[ModalGroupMotion]) {
		return
	}

	vm.pos = applyBlock(vm.pos, b, vm.RelativeMotion())
	vm.bounds = vm.bounds.Extend(vm.pos)
}

// ProgramBounds scans a program and returns the extents of its motion.
func ProgramBounds(lines []string) coord.Bounds {
	vm := NewVM()
	for _, l := range lines {
		if len(l) > 0 && l[0] == '%' {
			continue
		}
		vm.Run(ParseLine(l))
	}
	return vm.Bounds()
}
