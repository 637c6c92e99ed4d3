package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLine(t *testing.T) {
	check := func(line string, exp Block) {
		t.Helper()
		assert.Equal(t, exp, ParseLine(line), line)
	}

	check("G1X10Y-2.5", Block{{W: 'G', Arg: 1}, {W: 'X', Arg: 10}, {W: 'Y', Arg: -2.5}})
	check("g0 x.5 ; move", Block{{W: 'G', Arg: 0}, {W: 'X', Arg: .5}})
	check("M00", Block{{W: 'M', Arg: 0}})
	check("T1 (change tool) M6", Block{{W: 'T', Arg: 1}, {W: 'M', Arg: 6}})
	check("(M6)", nil)
	check("$H", nil)
	check("{mfo:1.2}", nil)
	check("", nil)
}

func TestBlock_Detect(t *testing.T) {
	w, ok := ParseLine("G0 X1 M1").ProgramPause()
	assert.True(t, ok)
	assert.Equal(t, Word{W: 'M', Arg: 1}, w)

	_, ok = ParseLine("M30").ProgramPause()
	assert.False(t, ok)

	w, ok = ParseLine("T2 M06").ToolChange()
	assert.True(t, ok)
	assert.Equal(t, "M6", w.String())
}

func TestLines(t *testing.T) {
	assert.Equal(t, []string{"G0", "", "G1 X1"}, Lines("G0\r\n\r\n  G1 X1  \n"))
	assert.Empty(t, Lines(""))
}

func TestBlock_String(t *testing.T) {
	assert.Equal(t, "G53G0Z-1.25", Block{{W: 'G', Arg: 53}, {W: 'G', Arg: 0}, {W: 'Z', Arg: -1.25}}.String())
	assert.Equal(t, "0", FormatFloat(-0.00001, 3))
}
