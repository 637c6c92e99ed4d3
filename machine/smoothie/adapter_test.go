package smoothie

import (
	"testing"

	"github.com/mastercactapus/cncd/coord"
	"github.com/mastercactapus/cncd/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeOne(t *testing.T, a *Adapter, line string) machine.Event {
	t.Helper()
	ev := a.Decode([]byte(line + "\r\n"))
	require.Len(t, ev, 1)
	assert.Equal(t, line, ev[0].RawLine())
	return ev[0]
}

func TestAdapter_Decode(t *testing.T) {
	a := NewAdapter()
	assert.Equal(t, Type, a.Type())

	assert.IsType(t, machine.EventFirmware{}, decodeOne(t, a, "Build version: edge-3332442, Build date: Apr 22 2015 15:52:55, MCU: LPC1769, System Clock: 120MHz"))
	s := a.Settings()
	assert.Equal(t, "edge-3332442", s.Version)
	assert.Equal(t, "LPC1769", s.Firmware["MCU"])
	assert.Equal(t, "Apr 22 2015 15:52:55", s.Firmware["Build date"])

	assert.IsType(t, machine.EventStatus{}, decodeOne(t, a, "<Idle,MPos:10.0000,0.0000,0.0000,WPos:5.0000,0.0000,0.0000>"))
	assert.True(t, a.IsIdle())
	assert.Equal(t, coord.Point{X: 5}, a.WorkPosition())
	assert.Equal(t, coord.Point{X: 5}, a.State().WCO)

	decodeOne(t, a, "<Run|MPos:1.0000,2.0000,3.0000|WPos:1.0000,2.0000,3.0000|F:1000.0,90.0|S:0.8,100.0>")
	st := a.State()
	assert.Equal(t, "Run", st.Status)
	assert.Equal(t, 1000.0, st.Feedrate)
	assert.Equal(t, 90.0, st.Overrides.Feed)

	assert.IsType(t, machine.EventParserState{}, decodeOne(t, a, "[G0 G54 G17 G21 G90 G94 M0 M5 M9 T0 F4000.0000 S0.8000]"))
	assert.Equal(t, 4000.0, a.State().Feedrate)

	ev := decodeOne(t, a, "[G54:0.0000,0.0000,0.0000]").(machine.EventParameters)
	assert.Equal(t, "G54", ev.Name)

	assert.IsType(t, machine.EventOK{}, decodeOne(t, a, "ok"))
	assert.IsType(t, machine.EventAlarm{}, decodeOne(t, a, "ALARM: Hard limit +X"))
	assert.True(t, a.IsAlarm())
}

func TestAdapter_Overrides(t *testing.T) {
	a := NewAdapter()
	out, err := a.OverrideFeed(-10)
	require.NoError(t, err)
	assert.Equal(t, []machine.Output{machine.Queue("M220S90")}, out)

	assert.Equal(t, "M220S90", a.WriteFilter("M220S90"))
	assert.Equal(t, 90.0, a.State().Overrides.Feed)

	out, _ = a.OverrideSpindle(1000)
	assert.Equal(t, "M221S500", out[0].Data)

	_, err = a.OverrideRapid(50)
	assert.ErrorIs(t, err, machine.ErrUnsupported)
	_, err = a.Sleep()
	assert.ErrorIs(t, err, machine.ErrUnsupported)

	a.WriteFilter("$13=1")
	v, _ := a.Settings().Value("$13")
	assert.Equal(t, "1", v)
}

func TestAdapter_Protocol(t *testing.T) {
	a := NewAdapter()
	assert.Equal(t, machine.Handshake{Steps: []machine.Step{{Line: "version"}}}, a.Handshake())
	assert.Equal(t, machine.FlowControl{Kind: machine.CharacterCounting, BufferSize: 120}, a.FlowControl())
	assert.Equal(t, []machine.Output{machine.Realtime("!")}, a.FeedHold())
}
