package tinyg

import (
	"strings"
	"testing"

	"github.com/mastercactapus/cncd/coord"
	"github.com/mastercactapus/cncd/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, a *Adapter, line string) []machine.Event {
	t.Helper()
	ev := a.Decode([]byte(line + "\n"))
	require.NotEmpty(t, ev)
	for _, e := range ev {
		assert.Equal(t, line, e.RawLine())
	}
	return ev
}

func TestAdapter_Decode(t *testing.T) {
	a := NewAdapter()

	ev := decode(t, a, `{"r":{"fv":0.970,"fb":440.20,"hp":1,"msg":"SYSTEM READY"},"f":[1,0,0]}`)
	require.Len(t, ev, 1)
	assert.Equal(t, "0.970", ev[0].(machine.EventStartup).Version)

	ev = decode(t, a, `{"r":{"n":3},"f":[1,0,8]}`)
	require.Len(t, ev, 1)
	assert.Equal(t, 3, ev[0].(machine.EventOK).N)

	ev = decode(t, a, `{"r":{},"n":5,"f":[1,0,8]}`)
	assert.Equal(t, 5, ev[0].(machine.EventOK).N)

	ev = decode(t, a, `{"r":{"n":4},"f":[1,133,8]}`)
	require.Len(t, ev, 1)
	e := ev[0].(machine.EventError)
	assert.Equal(t, 133, e.Code)
	assert.Equal(t, "Gcode modal group violation", e.Message)
	assert.True(t, e.Ack)
	assert.Equal(t, 4, e.N)

	ev = decode(t, a, `{"qr":12}`)
	assert.Equal(t, 12, ev[0].(machine.EventQueueReport).Depth)
	assert.Equal(t, 12, a.State().QueueDepth)

	ev = decode(t, a, `{"r":{"qr":28},"f":[1,0,9]}`)
	require.Len(t, ev, 2)
	assert.Equal(t, 28, ev[0].(machine.EventQueueReport).Depth)
	// a queue report request is not a numbered line
	assert.Equal(t, 0, ev[1].(machine.EventOK).N)

	ev = decode(t, a, `{"er":{"fb":440.20,"st":27,"msg":"Shutdown"}}`)
	assert.Equal(t, "Shutdown", ev[0].(machine.EventFeedback).Message)

	ev = decode(t, a, `tinyg [mm] ok>`)
	assert.IsType(t, machine.EventOther{}, ev[0])
	ev = decode(t, a, `{"r":`)
	assert.IsType(t, machine.EventOther{}, ev[0])
}

func TestAdapter_Status(t *testing.T) {
	a := NewAdapter()
	ev := decode(t, a, `{"sr":{"stat":5,"line":7,"vel":250,"momo":1,"coor":2,"unit":0,"dist":1,"posx":1,"posy":2,"mpox":11,"mpoy":12,"spe":1,"spd":1,"cof":1}}`)
	require.Len(t, ev, 1)
	assert.IsType(t, machine.EventStatus{}, ev[0])

	st := a.State()
	assert.Equal(t, "Run", st.Status)
	assert.Equal(t, 7, st.Line)
	assert.Equal(t, 250.0, st.Velocity)
	assert.Equal(t, "G1", st.Modal.Motion)
	assert.Equal(t, "G55", st.Modal.WCS)
	assert.Equal(t, "G20", st.Modal.Units)
	assert.Equal(t, "G91", st.Modal.Distance)
	assert.Equal(t, "M4", st.Modal.Spindle)
	assert.Equal(t, "M8", st.Modal.Coolant)
	assert.Equal(t, coord.Point{X: 1, Y: 2}, st.WPos)
	assert.Equal(t, coord.Point{X: 10, Y: 10}, st.WCO)
	assert.False(t, a.IsIdle())

	prev := a.State()
	decode(t, a, `{"sr":{"stat":5}}`)
	assert.Same(t, prev, a.State(), "unchanged report keeps the snapshot")

	decode(t, a, `{"sr":{"stat":3,"com":1}}`)
	assert.True(t, a.IsIdle())
	assert.Equal(t, "M7 M8", a.State().Modal.Coolant)

	decode(t, a, `{"r":{"sr":{"stat":2}},"f":[1,0,6]}`)
	assert.True(t, a.IsAlarm())
}

func TestAdapter_Settings(t *testing.T) {
	a := NewAdapter()
	decode(t, a, `{"r":{"sys":{"fv":0.97,"fb":440.2}},"f":[1,0,10]}`)
	decode(t, a, `{"r":{"pwr":{"1":0,"2":1}},"f":[1,0,10]}`)
	decode(t, a, `{"r":{"mfo":1.5},"f":[1,0,10]}`)

	v, ok := a.Settings().Value("fb")
	assert.True(t, ok)
	assert.Equal(t, "440.2", v)
	assert.Equal(t, "0.97", a.Settings().Version)
	v, _ = a.Settings().Value("pwr2")
	assert.Equal(t, "1", v)
	assert.Equal(t, 150.0, a.State().Overrides.Feed)
}

func TestAdapter_Handshake(t *testing.T) {
	a := NewAdapter()
	h := a.Handshake()
	assert.False(t, h.WaitForStartup)
	require.NotEmpty(t, h.Steps)
	assert.Equal(t, "{ej:1}", h.Steps[0].Text())
	assert.Equal(t, "{sr:n}", h.Steps[len(h.Steps)-1].Text())

	var build machine.Step
	for _, s := range h.Steps {
		if s.Build != nil {
			build = s
		}
	}
	require.NotNil(t, build.Build)
	assert.Contains(t, build.Text(), "spe:t")

	decode(t, a, `{"r":{"spe":null},"f":[1,0,9]}`)
	decode(t, a, `{"r":{"cof":0},"f":[1,100,9]}`)
	req := build.Text()
	assert.True(t, strings.HasPrefix(req, "{sr:{line:t,vel:t,"), req)
	assert.NotContains(t, req, "spe:t")
	assert.NotContains(t, req, "cof:t")
	assert.Contains(t, req, "spd:t")
	assert.Less(t, len(req), serialBufferLimit)
}

func TestAdapter_Vocabulary(t *testing.T) {
	a := NewAdapter()
	assert.Equal(t, "N12 G0 X1", a.NumberLine(12, "G0 X1"))
	assert.True(t, a.HandlesToolChange())
	assert.Equal(t, machine.FlowControl{Kind: machine.QueueDepth, LowWater: 4, HighWater: 20}, a.FlowControl())

	assert.Equal(t, []machine.Output{machine.WriteLine("!"), machine.WriteLine(`{"qr":""}`)}, a.FeedHold())

	_, err := a.Sleep()
	assert.ErrorIs(t, err, machine.ErrUnsupported)

	out, err := a.OverrideFeed(10)
	require.NoError(t, err)
	assert.Equal(t, []machine.Output{machine.Queue("{mfo:1.1}")}, out)

	decode(t, a, `{"r":{"mfo":1.95},"f":[1,0,10]}`)
	out, _ = a.OverrideFeed(10)
	assert.Equal(t, "{mfo:2}", out[0].Data)
	out, _ = a.OverrideFeed(0)
	assert.Equal(t, "{mfo:1}", out[0].Data)

	decode(t, a, `{"r":{"sso":0.1},"f":[1,0,10]}`)
	out, _ = a.OverrideSpindle(-10)
	assert.Equal(t, "{sso:0.05}", out[0].Data)

	out, err = a.OverrideRapid(50)
	require.NoError(t, err)
	assert.Equal(t, "{mto:0.5}", out[0].Data)
	_, err = a.OverrideRapid(75)
	assert.ErrorIs(t, err, machine.ErrUnsupportedValue)

	p := a.Stop(true)
	assert.Equal(t, []machine.Output{machine.WriteLine("!%")}, p.Now)
	assert.Equal(t, stopClearDelay, p.After)
	assert.Equal(t, []machine.Output{machine.WriteLine("{clear:null}"), machine.WriteLine(`{"qr":""}`)}, p.Later(a.State()))

	assert.Equal(t, []machine.Output{machine.Queue("M3S500")}, a.LaserTest(50, 0, 1000))
}

func TestAdapter_Motors(t *testing.T) {
	a := NewAdapter()
	assert.Equal(t, a.MotorDisable(), a.MotorEnable(0), "no timeout configured")

	decode(t, a, `{"r":{"mt":2},"f":[1,0,10]}`)
	assert.Equal(t, []machine.Output{machine.Queue("{me:2}"), machine.Queue("{pwr:n}")}, a.MotorEnable(0))
	assert.Equal(t, []machine.Output{machine.Queue("{me:30}"), machine.Queue("{pwr:n}")}, a.MotorEnable(30))

	out, err := a.MotorTimeout(60)
	require.NoError(t, err)
	assert.Equal(t, []machine.Output{machine.Queue("{mt:60}")}, out)
	_, err = a.MotorTimeout(-1)
	assert.ErrorIs(t, err, machine.ErrUnsupportedValue)
}
