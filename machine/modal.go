package machine

import (
	"sort"
	"strings"

	"github.com/mastercactapus/cncd/gcode"
)

// DefaultModal is the power-on modal state shared by the supported firmwares.
var DefaultModal = Modal{
	Motion:   "G0",
	WCS:      "G54",
	Plane:    "G17",
	Units:    "G21",
	Distance: "G90",
	Feedrate: "G94",
	Program:  "M0",
	Spindle:  "M5",
	Coolant:  "M9",
}

// ApplyParserState updates st from a parser state report such as
// "G0 G54 G17 G21 G90 G94 M5 M9 T0 F0 S0".
func ApplyParserState(st State, b gcode.Block) State {
	var coolant []string
	for _, w := range b {
		switch w.W {
		case 'T':
			st.Tool = int(w.Arg)
			continue
		case 'F':
			st.Feedrate = w.Arg
			continue
		case 'S':
			st.Spindle = w.Arg
			continue
		}

		s := w.String()
		switch w.ModalGroup() {
		case gcode.ModalGroupMotion:
			st.Modal.Motion = s
		case gcode.ModalGroupCoordinateSystem:
			st.Modal.WCS = s
		case gcode.ModalGroupPlaneSelection:
			st.Modal.Plane = s
		case gcode.ModalGroupUnits:
			st.Modal.Units = s
		case gcode.ModalGroupDistanceMode:
			st.Modal.Distance = s
		case gcode.ModalGroupFeedRateMode:
			st.Modal.Feedrate = s
		case gcode.ModalGroupStopping:
			st.Modal.Program = s
		case gcode.ModalGroupSpindle:
			st.Modal.Spindle = s
		case gcode.ModalGroupCoolant:
			coolant = append(coolant, s)
		}
	}
	if len(coolant) > 0 {
		sort.Strings(coolant)
		st.Modal.Coolant = strings.Join(coolant, " ")
	}
	return st
}
