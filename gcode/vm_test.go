package gcode

import (
	"testing"

	"github.com/mastercactapus/cncd/coord"
	"github.com/stretchr/testify/assert"
)

func TestProgramBounds(t *testing.T) {
	b := ProgramBounds([]string{
		"G21 G90",
		"G0 X10 Y5",
		"G1 Z-1 F100",
		"G91",
		"G1 X-15",
		"G4 P1",
		"G92 X100",
		"%wait",
	})

	assert.Equal(t, coord.Point{X: -5, Y: 5, Z: -1}, b.Min)
	assert.Equal(t, coord.Point{X: 10, Y: 5, Z: 0}, b.Max)
}

func TestProgramBounds_Empty(t *testing.T) {
	assert.True(t, ProgramBounds([]string{"M3 S1000", "G4 P1"}).Empty())
}

func TestProbeOptions_ProbeZ(t *testing.T) {
	opt := ProbeOptions{ZeroZAxis: true, Offset: 0.5, FeedRate: 50, MaxTravel: 20}
	assert.NoError(t, opt.Validate())

	var lines []string
	for _, b := range opt.ProbeZ(-3) {
		lines = append(lines, b.String())
	}
	assert.Equal(t, []string{"G91G38.2Z-20F50", "G92Z0.5", "G90", "G53G0Z-3"}, lines)

	assert.Error(t, ProbeOptions{MaxTravel: 1}.Validate())
}
