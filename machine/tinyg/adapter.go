// Package tinyg implements the TinyG and g2core JSON protocol.
package tinyg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mastercactapus/cncd/coord"
	"github.com/mastercactapus/cncd/gcode"
	"github.com/mastercactapus/cncd/machine"
)

const Type = "TinyG"

type Adapter struct {
	lb       machine.LineBuffer
	state    *machine.State
	settings *machine.Settings

	unsupported map[string]bool
}

var (
	_ machine.Adapter         = &Adapter{}
	_ machine.LineNumberer    = &Adapter{}
	_ machine.ToolChanger     = &Adapter{}
	_ machine.MotorController = &Adapter{}
)

func NewAdapter() *Adapter {
	a := &Adapter{}
	a.ResetDecoder()
	return a
}

func (a *Adapter) Type() string { return Type }

func (a *Adapter) ResetDecoder() {
	a.lb.Reset()
	a.state = &machine.State{
		Modal:     machine.DefaultModal,
		Overrides: machine.Overrides{Feed: 100, Rapid: 100, Spindle: 100},
	}
	a.settings = &machine.Settings{}
	a.unsupported = make(map[string]bool)
}

func (a *Adapter) State() *machine.State       { return a.state }
func (a *Adapter) Settings() *machine.Settings { return a.settings }

func (a *Adapter) IsAlarm() bool {
	switch a.state.Status {
	case "Alarm", "Shutdown", "Panic":
		return true
	}
	return false
}

func (a *Adapter) IsIdle() bool {
	switch a.state.Status {
	case "Ready", "Stop", "End":
		return true
	}
	return false
}

func (a *Adapter) MachinePosition() coord.Point { return a.state.MPos }
func (a *Adapter) WorkPosition() coord.Point    { return a.state.WPos }
func (a *Adapter) ModalGroup() machine.Modal    { return a.state.Modal }

func (a *Adapter) setState(next machine.State) {
	if next != *a.state {
		a.state = &next
	}
}

func (a *Adapter) NumberLine(n int, line string) string {
	return "N" + strconv.Itoa(n) + " " + line
}

func (a *Adapter) HandlesToolChange() bool { return true }

// Handshake switches the firmware to JSON mode and configures the status
// reports. The optional spindle and coolant fields are probed one at a time
// so the report request only names fields the firmware knows.
func (a *Adapter) Handshake() machine.Handshake {
	steps := []machine.Step{
		{Delay: bootDelay, Line: "{ej:1}"},
		{Line: "{jv:4}"},
		{Line: "{qv:1}"},
		{Line: "{sv:1}"},
		{Line: "{si:100}"},
	}
	for _, f := range optionalFields {
		steps = append(steps, machine.Step{Delay: probeDelay, Line: "{" + f + ":n}"})
	}
	steps = append(steps,
		machine.Step{Delay: 2 * probeDelay, Build: a.statusReportRequest},
		machine.Step{Line: "{sys:n}"},
		machine.Step{Line: "{mt:n}"},
		machine.Step{Line: "{pwr:n}"},
		machine.Step{Line: "{qr:n}"},
		machine.Step{Line: "{sr:n}"},
	)
	return machine.Handshake{Steps: steps}
}

func (a *Adapter) statusReportRequest() string {
	keys := make([]string, 0, len(statusReportFields))
	for _, f := range statusReportFields {
		if !a.unsupported[f] {
			keys = append(keys, f)
		}
	}
	req := relaxedJSON("sr", keys)
	for len(req) >= serialBufferLimit && len(keys) > 0 {
		keys = keys[:len(keys)-1]
		req = relaxedJSON("sr", keys)
	}
	return req
}

func (a *Adapter) FlowControl() machine.FlowControl {
	return machine.FlowControl{Kind: machine.QueueDepth, LowWater: lowWater, HighWater: highWater}
}

// Queries is empty: status reports arrive on their own once {sv:1} is set.
func (a *Adapter) Queries() []machine.Query { return nil }

func (a *Adapter) WriteFilter(line string) string { return line }

func (a *Adapter) Decode(data []byte) []machine.Event {
	var res []machine.Event
	for _, l := range a.lb.Split(data) {
		res = append(res, a.decodeLine(l)...)
	}
	return res
}

func (a *Adapter) decodeLine(s string) []machine.Event {
	raw := machine.Line(s)
	if !strings.HasPrefix(s, "{") {
		return []machine.Event{machine.EventOther{Line: raw}}
	}
	m, err := decodeJSON(s)
	if err != nil {
		return []machine.Event{machine.EventOther{Line: raw}}
	}

	var events []machine.Event
	if sr, ok := m["sr"].(map[string]interface{}); ok {
		a.setState(applyStatus(*a.state, sr))
		events = append(events, machine.EventStatus{Line: raw})
	}
	if qr, ok := number(m["qr"]); ok {
		events = append(events, a.queueReport(raw, int(qr)))
	}
	if er, ok := m["er"].(map[string]interface{}); ok {
		events = append(events, machine.EventFeedback{Line: raw, Message: text(er["msg"])})
	}

	r, isResponse := m["r"].(map[string]interface{})
	if !isResponse {
		if len(events) == 0 {
			events = append(events, machine.EventOther{Line: raw})
		}
		return events
	}

	footer, _ := m["f"].([]interface{})
	if footer == nil {
		footer, _ = r["f"].([]interface{})
	}
	code := 0
	if len(footer) > 1 {
		if c, ok := number(footer[1]); ok {
			code = int(c)
		}
	}

	if text(r["msg"]) == "SYSTEM READY" {
		a.applyResponse(raw, r, code)
		return append(events, machine.EventStartup{Line: raw, Version: a.settings.Version})
	}

	// only replies to numbered lines echo n
	n, ok := number(r["n"])
	if !ok {
		n, _ = number(m["n"])
	}

	events = append(events, a.applyResponse(raw, r, code)...)
	if code != 0 {
		return append(events, machine.EventError{Line: raw, Code: code, Message: statusMessage(code), Ack: true, N: int(n)})
	}
	return append(events, machine.EventOK{Line: raw, N: int(n)})
}

func (a *Adapter) queueReport(raw machine.Line, qr int) machine.Event {
	st := *a.state
	st.QueueDepth = qr
	a.setState(st)
	return machine.EventQueueReport{Line: raw, Depth: qr}
}

// applyResponse records the values carried by an r object and returns the
// status and queue events embedded in it.
func (a *Adapter) applyResponse(raw machine.Line, r map[string]interface{}, code int) []machine.Event {
	var events []machine.Event
	if sr, ok := r["sr"].(map[string]interface{}); ok {
		a.setState(applyStatus(*a.state, sr))
		events = append(events, machine.EventStatus{Line: raw})
	}
	if qr, ok := number(r["qr"]); ok {
		events = append(events, a.queueReport(raw, int(qr)))
	}

	for k, v := range r {
		switch k {
		case "n", "f", "msg", "sr", "qr":
			continue
		case "sys":
			if sys, ok := v.(map[string]interface{}); ok {
				flatten("", sys, a.setValue)
			}
			continue
		}
		if v == nil || code != 0 {
			for _, f := range optionalFields {
				if f == k {
					a.unsupported[k] = true
				}
			}
			if v == nil {
				continue
			}
		}
		if sub, ok := v.(map[string]interface{}); ok {
			flatten(k, sub, a.setValue)
			continue
		}
		a.setValue(k, v)
	}
	return events
}

func (a *Adapter) setValue(key string, v interface{}) {
	val := text(v)
	a.settings = a.settings.With(machine.SettingsValues, key, val)
	if key == "fv" {
		a.settings = a.settings.WithVersion(val)
	}

	f, ok := number(v)
	if !ok {
		return
	}
	st := *a.state
	switch key {
	case "mfo":
		st.Overrides.Feed = f * 100
	case "sso":
		st.Overrides.Spindle = f * 100
	case "mto":
		st.Overrides.Rapid = f * 100
	default:
		return
	}
	a.setState(st)
}

func (a *Adapter) value(key string, def float64) float64 {
	s, ok := a.settings.Value(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

var queueRequest = machine.WriteLine(`{"qr":""}`)

func (a *Adapter) FeedHold() []machine.Output {
	return []machine.Output{machine.WriteLine("!"), queueRequest}
}

func (a *Adapter) CycleStart() []machine.Output {
	return []machine.Output{machine.WriteLine("~"), queueRequest}
}

func (a *Adapter) Pause() []machine.Output  { return a.FeedHold() }
func (a *Adapter) Resume() []machine.Output { return a.CycleStart() }

func (a *Adapter) SoftReset() []machine.Output { return []machine.Output{machine.Realtime("\x18")} }

func (a *Adapter) Homing() ([]machine.Output, error) {
	return []machine.Output{machine.WriteLine("G28.2 X0 Y0 Z0")}, nil
}

func (a *Adapter) Sleep() ([]machine.Output, error) {
	return nil, fmt.Errorf("sleep: %w", machine.ErrUnsupported)
}

func (a *Adapter) Unlock() ([]machine.Output, error) {
	return []machine.Output{machine.WriteLine("{clear:null}")}, nil
}

// Stop with force holds and flushes the planner queue, then clears the
// resulting alarm once the flush has been processed.
func (a *Adapter) Stop(force bool) machine.Plan {
	if !force {
		return machine.Plan{}
	}
	return machine.Plan{
		Now:   []machine.Output{machine.WriteLine("!%")},
		After: stopClearDelay,
		Later: func(*machine.State) []machine.Output {
			return []machine.Output{machine.WriteLine("{clear:null}"), queueRequest}
		},
	}
}

// overrideFactor applies a percentage delta to a factor, resetting to 1 for
// a zero delta and clamping to the range TinyG accepts.
func overrideFactor(cur float64, delta int) float64 {
	switch v := cur*100 + float64(delta); {
	case delta == 0:
		return 1
	case v > 200:
		return 2
	case v < 5:
		return 0.05
	default:
		return v / 100
	}
}

func (a *Adapter) OverrideFeed(delta int) ([]machine.Output, error) {
	f := overrideFactor(a.value("mfo", 1), delta)
	return []machine.Output{machine.Queue("{mfo:" + gcode.FormatFloat(f, 4) + "}")}, nil
}

func (a *Adapter) OverrideSpindle(delta int) ([]machine.Output, error) {
	f := overrideFactor(a.value("sso", 1), delta)
	return []machine.Output{machine.Queue("{sso:" + gcode.FormatFloat(f, 4) + "}")}, nil
}

func (a *Adapter) OverrideRapid(value int) ([]machine.Output, error) {
	var f string
	switch value {
	case 0, 100:
		f = "1"
	case 50:
		f = "0.5"
	case 25:
		f = "0.25"
	default:
		return nil, fmt.Errorf("rapid override %d: %w", value, machine.ErrUnsupportedValue)
	}
	return []machine.Output{machine.Queue("{mto:" + f + "}")}, nil
}

func (a *Adapter) LaserTest(power, duration, maxS float64) []machine.Output {
	return machine.LaserTest(power, duration, maxS)
}

// MotorEnable powers the motors for timeout seconds. A timeout of zero uses
// the configured motor timeout; a negative one disables the motors.
func (a *Adapter) MotorEnable(timeout float64) []machine.Output {
	if timeout == 0 {
		timeout = a.value("mt", 0)
	}
	if timeout <= 0 {
		return a.MotorDisable()
	}
	return []machine.Output{
		machine.Queue("{me:" + gcode.FormatFloat(timeout, 4) + "}"),
		machine.Queue("{pwr:n}"),
	}
}

func (a *Adapter) MotorDisable() []machine.Output {
	return []machine.Output{machine.Queue("{md:0}"), machine.Queue("{pwr:n}")}
}

func (a *Adapter) MotorTimeout(seconds float64) ([]machine.Output, error) {
	if seconds < 0 {
		return nil, fmt.Errorf("motor timeout %v: %w", seconds, machine.ErrUnsupportedValue)
	}
	return []machine.Output{machine.Queue("{mt:" + gcode.FormatFloat(seconds, 4) + "}")}, nil
}
