package marlin

import (
	"testing"

	"github.com/mastercactapus/cncd/coord"
	"github.com/mastercactapus/cncd/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeOne(t *testing.T, a *Adapter, line string) machine.Event {
	t.Helper()
	ev := a.Decode([]byte(line + "\n"))
	require.Len(t, ev, 1)
	assert.Equal(t, line, ev[0].RawLine())
	return ev[0]
}

func TestAdapter_Decode(t *testing.T) {
	a := NewAdapter()

	assert.IsType(t, machine.EventStartup{}, decodeOne(t, a, "start"))

	assert.IsType(t, machine.EventFirmware{}, decodeOne(t, a, "FIRMWARE_NAME:Marlin 1.1.0 (Github) SOURCE_CODE_URL:https://github.com/MarlinFirmware/Marlin PROTOCOL_VERSION:1.0 MACHINE_TYPE:RepRap EXTRUDER_COUNT:1"))
	s := a.Settings()
	assert.Equal(t, "Marlin 1.1.0 (Github)", s.Version)
	assert.Equal(t, "https://github.com/MarlinFirmware/Marlin", s.Firmware["SOURCE_CODE_URL"])
	assert.Equal(t, "1", s.Firmware["EXTRUDER_COUNT"])

	assert.IsType(t, machine.EventStatus{}, decodeOne(t, a, "X:10.00 Y:-2.50 Z:0.30 E:1.25 Count X:800 Y:-200 Z:120"))
	assert.Equal(t, coord.Point{X: 10, Y: -2.5, Z: 0.3}, a.MachinePosition())
	assert.Equal(t, a.MachinePosition(), a.WorkPosition())
	assert.Equal(t, 1.25, a.State().Extrusion)

	ev := decodeOne(t, a, "ok T:27.0 /200.0 B:26.8 /60.0 B@:0 @:127")
	temp := ev.(machine.EventTemperature)
	assert.True(t, temp.OK)
	assert.Equal(t, machine.Temperature{
		Extruder:  machine.Heater{Current: 27, Target: 200, Power: 127},
		HeatedBed: machine.Heater{Current: 26.8, Target: 60},
	}, a.State().Temperature)

	ev = decodeOne(t, a, "T:30.0 /200.0 B:27.0 /60.0 @:127 B@:0")
	assert.False(t, ev.(machine.EventTemperature).OK)
	assert.Equal(t, 30.0, a.State().Temperature.Extruder.Current)

	assert.IsType(t, machine.EventOK{}, decodeOne(t, a, "ok"))
	assert.IsType(t, machine.EventOK{}, decodeOne(t, a, "ok N12 P15 B3"))

	assert.Equal(t, "busy: processing", decodeOne(t, a, "echo:busy: processing").(machine.EventEcho).Message)

	e := decodeOne(t, a, "Error:Printer halted. kill() called!").(machine.EventError)
	assert.Equal(t, "Printer halted. kill() called!", e.Message)
	assert.False(t, e.Ack)

	assert.IsType(t, machine.EventOther{}, decodeOne(t, a, "Unknown command: \"G999\""))
}

func TestAdapter_Overrides(t *testing.T) {
	a := NewAdapter()
	out, err := a.OverrideFeed(10)
	require.NoError(t, err)
	assert.Equal(t, []machine.Output{machine.Queue("M220S110")}, out)

	a.WriteFilter("M220S110")
	assert.Equal(t, 110.0, a.State().Overrides.Feed)

	out, _ = a.OverrideFeed(500)
	assert.Equal(t, "M220S500", out[0].Data)
	out, _ = a.OverrideFeed(0)
	assert.Equal(t, "M220S100", out[0].Data)

	a.WriteFilter("M221 S20")
	out, _ = a.OverrideSpindle(-50)
	assert.Equal(t, "M221S10", out[0].Data)

	_, err = a.OverrideRapid(100)
	assert.ErrorIs(t, err, machine.ErrUnsupported)
}

func TestAdapter_Protocol(t *testing.T) {
	a := NewAdapter()
	assert.Equal(t, machine.SendResponse, a.FlowControl().Kind)
	assert.Equal(t, machine.Handshake{WaitForStartup: true, Steps: []machine.Step{{Line: "M115"}}}, a.Handshake())
	assert.True(t, a.IsIdle())
	assert.False(t, a.IsAlarm())

	q := a.Queries()
	require.Len(t, q, 2)
	assert.Equal(t, "M114\n", q[0].Data)
	assert.False(t, q[0].Realtime)
	assert.True(t, q[0].Reply(machine.EventStatus{}))
	assert.True(t, q[1].Reply(machine.EventTemperature{}))
	assert.False(t, q[1].Reply(machine.EventOK{}))

	_, err := a.Unlock()
	assert.ErrorIs(t, err, machine.ErrUnsupported)
	assert.Empty(t, a.FeedHold())
}
