package controller

import (
	"testing"

	"github.com/mastercactapus/cncd/expression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	check := func(name, args string, exp Command) {
		t.Helper()
		cmd, err := ParseCommand(name, []byte(args))
		require.NoError(t, err)
		assert.Equal(t, exp, cmd)
		assert.Equal(t, name, cmd.Name())
	}

	check("gcode", `{"commands":"G0 X1\n\nG0 X2\r\n"}`, GCodeCmd{Lines: []string{"G0 X1", "G0 X2"}})
	check("gcode", `{"commands":["G0 X1","G0 Y1\nG0 Z1"],"context":{"a":1}}`, GCodeCmd{
		Lines:   []string{"G0 X1", "G0 Y1", "G0 Z1"},
		Context: expression.Context{"a": float64(1)},
	})
	check("sender:stop", `{"force":true}`, SenderStopCmd{Force: true})
	check("sender:stop", ``, SenderStopCmd{})
	check("sender:load", `{"name":"a.nc","content":"G0 X1"}`, SenderLoadCmd{Program: "a.nc", Content: "G0 X1"})
	check("watchdir:load", `{"file":"sub/a.nc"}`, LoadFileCmd{File: "sub/a.nc"})
	check("override:feed", `{"value":-10}`, OverrideFeedCmd{Delta: -10})
	check("lasertest", `{"power":50,"duration":100}`, LaserTestCmd{Power: 50, Duration: 100, MaxS: 1000})
	check("macro:run", `{"id":"m1"}`, MacroRunCmd{ID: "m1"})
	check("feedhold", `null`, FeedHoldCmd{})

	cmd, err := ParseCommand("probe:z", []byte(`{"feedRate":20,"maxTravel":10,"zeroZAxis":true}`))
	require.NoError(t, err)
	p := cmd.(ProbeZCmd)
	assert.Equal(t, 20.0, p.FeedRate)
	assert.True(t, p.ZeroZAxis)

	_, err = ParseCommand("gcode:bogus", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = ParseCommand("sender:stop", []byte(`{"force":"yes"}`))
	assert.Error(t, err)
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"G0 X1", "  G0 X2"}, splitLines([]string{"G0 X1\r\n\n  G0 X2", " "}))
	assert.Nil(t, splitLines(nil))
}
