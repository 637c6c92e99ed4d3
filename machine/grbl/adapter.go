// Package grbl implements the Grbl 0.9/1.1 protocol.
package grbl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mastercactapus/cncd/coord"
	"github.com/mastercactapus/cncd/gcode"
	"github.com/mastercactapus/cncd/machine"
)

const Type = "Grbl"

var (
	rxStartup = regexp.MustCompile(`^Grbl\s+(\S+)`)
	rxSetting = regexp.MustCompile(`^(\$[^=\s]+)=([^\s(]*)`)
)

type Adapter struct {
	lb       machine.LineBuffer
	state    *machine.State
	settings *machine.Settings
}

var _ machine.Adapter = &Adapter{}

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
}

func (a *Adapter) State() *machine.State       { return a.state }
func (a *Adapter) Settings() *machine.Settings { return a.settings }

func (a *Adapter) IsAlarm() bool                 { return a.state.Status == stateAlarm }
func (a *Adapter) IsIdle() bool                  { return a.state.Status == stateIdle }
func (a *Adapter) MachinePosition() coord.Point { return a.state.MPos }
func (a *Adapter) WorkPosition() coord.Point    { return a.state.WPos }
func (a *Adapter) ModalGroup() machine.Modal    { return a.state.Modal }

func (a *Adapter) setState(next *machine.State) {
	if *next != *a.state {
		a.state = next
	}
}

func (a *Adapter) Handshake() machine.Handshake {
	return machine.Handshake{
		WaitForStartup: true,
		Steps:          []machine.Step{{Line: "$$"}},
	}
}

func (a *Adapter) FlowControl() machine.FlowControl {
	return machine.FlowControl{Kind: machine.CharacterCounting, BufferSize: bufferSize}
}

// BufferMargin is subtracted from a reported receive buffer before it is used.
func (a *Adapter) BufferMargin() int { return bufferMargin }

func (a *Adapter) Queries() []machine.Query {
	return []machine.Query{
		{
			Name:     "status",
			Data:     "?",
			Realtime: true,
			Timeout:  statusTimeout,
			Reply: func(e machine.Event) bool {
				_, ok := e.(machine.EventStatus)
				return ok
			},
		},
		{
			Name:          "parserstate",
			Data:          "$G\n",
			Timeout:       parserStateTimeout,
			ClearWhenIdle: true,
			MinInterval:   parserStateEvery,
			Reply: func(e machine.Event) bool {
				_, ok := e.(machine.EventParserState)
				return ok
			},
		},
	}
}

// WriteFilter records settings as they are written, since Grbl does not echo them.
func (a *Adapter) WriteFilter(line string) string {
	if m := rxSetting.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
		a.settings = a.settings.With(machine.SettingsValues, m[1], m[2])
	}
	return line
}

// UpdateState replaces the state with fn's result if it differs. It lets
// firmwares that extend the Grbl protocol record what they decode themselves.
func (a *Adapter) UpdateState(fn func(machine.State) machine.State) {
	a.setState(ptr(fn(*a.state)))
}

// UpdateSettings is the Settings counterpart of UpdateState. fn must not
// modify its argument; use the Settings With methods.
func (a *Adapter) UpdateSettings(fn func(*machine.Settings) *machine.Settings) {
	a.settings = fn(a.settings)
}

func (a *Adapter) Decode(data []byte) []machine.Event {
	lines := a.lb.Split(data)
	res := make([]machine.Event, 0, len(lines))
	for _, l := range lines {
		res = append(res, a.DecodeLine(l))
	}
	return res
}

// DecodeLine decodes a single complete line.
func (a *Adapter) DecodeLine(s string) machine.Event {
	raw := machine.Line(s)
	switch {
	case s == "ok":
		return machine.EventOK{Line: raw}

	case strings.HasPrefix(s, "error:"):
		code, msg := parseCode(s, "error:")
		if msg == "" {
			msg = lookup(errorMessages, code, "error:")
		}
		return machine.EventError{Line: raw, Code: code, Message: msg, Ack: true}

	case strings.HasPrefix(s, "ALARM:"):
		code, msg := parseCode(s, "ALARM:")
		if msg == "" {
			msg = lookup(alarmMessages, code, "ALARM:")
		}
		// Grbl only reports Alarm in the next status; reflect it now
		st := *a.state
		st.Status, st.SubState = stateAlarm, ""
		a.setState(&st)
		return machine.EventAlarm{Line: raw, Code: code, Message: msg}

	case strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">"):
		st, rx, err := ParseStatus(*a.state, s)
		if err != nil {
			return machine.EventOther{Line: raw}
		}
		a.setState(st)
		return machine.EventStatus{Line: raw, RX: rx}

	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		return a.decodePush(raw, s)

	case strings.HasPrefix(s, "$"):
		m := rxSetting.FindStringSubmatch(s)
		if m == nil {
			return machine.EventOther{Line: raw}
		}
		a.settings = a.settings.With(machine.SettingsValues, m[1], m[2])
		return machine.EventSetting{Line: raw, Name: m[1], Value: m[2]}

	case rxStartup.MatchString(s):
		version := rxStartup.FindStringSubmatch(s)[1]
		a.settings = a.settings.WithVersion(version)
		return machine.EventStartup{Line: raw, Version: version}
	}

	return machine.EventOther{Line: raw}
}

func (a *Adapter) decodePush(raw machine.Line, s string) machine.Event {
	name, value := parsePush(s)
	switch name {
	case "GC", "":
		b := gcode.ParseLine(value)
		if len(b) == 0 {
			return machine.EventFeedback{Line: raw, Message: value}
		}
		a.setState(ptr(machine.ApplyParserState(*a.state, b)))
		return machine.EventParserState{Line: raw}
	case "G54", "G55", "G56", "G57", "G58", "G59", "G28", "G30", "G92", "TLO", "PRB":
		a.settings = a.settings.With(machine.SettingsParameters, name, value)
		return machine.EventParameters{Line: raw, Name: name, Value: value}
	case "VER", "OPT":
		a.settings = a.settings.With(machine.SettingsFirmware, name, value)
		return machine.EventFirmware{Line: raw}
	case "echo":
		return machine.EventEcho{Line: raw, Message: strings.TrimSpace(value)}
	case "MSG":
		return machine.EventFeedback{Line: raw, Message: value}
	}
	return machine.EventFeedback{Line: raw, Message: strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")}
}

func ptr(st machine.State) *machine.State { return &st }

func (a *Adapter) FeedHold() []machine.Output   { return []machine.Output{machine.Realtime("!")} }
func (a *Adapter) CycleStart() []machine.Output { return []machine.Output{machine.Realtime("~")} }
func (a *Adapter) Pause() []machine.Output      { return a.FeedHold() }
func (a *Adapter) Resume() []machine.Output     { return a.CycleStart() }
func (a *Adapter) SoftReset() []machine.Output  { return []machine.Output{machine.Realtime("\x18")} }

func (a *Adapter) Homing() ([]machine.Output, error) {
	return []machine.Output{machine.WriteLine("$H")}, nil
}

func (a *Adapter) Sleep() ([]machine.Output, error) {
	return []machine.Output{machine.WriteLine("$SLP")}, nil
}

func (a *Adapter) Unlock() ([]machine.Output, error) {
	return []machine.Output{machine.WriteLine("$X")}, nil
}

// Stop with force holds a running machine and resets it once the hold has taken effect.
func (a *Adapter) Stop(force bool) machine.Plan {
	if !force {
		return machine.Plan{}
	}
	var p machine.Plan
	if a.state.Status == stateRun {
		p.Now = a.FeedHold()
	}
	p.After = forceStopDelay
	p.Later = func(st *machine.State) []machine.Output {
		if st.Status == stateHold {
			return a.SoftReset()
		}
		return nil
	}
	return p
}

func override(table map[int]string, kind string, v int) ([]machine.Output, error) {
	b, ok := table[v]
	if !ok {
		return nil, fmt.Errorf("%s override %d: %w", kind, v, machine.ErrUnsupportedValue)
	}
	return []machine.Output{machine.Realtime(b)}, nil
}

func (a *Adapter) OverrideFeed(delta int) ([]machine.Output, error) {
	return override(feedOverrides, "feed", delta)
}

func (a *Adapter) OverrideSpindle(delta int) ([]machine.Output, error) {
	return override(spindleOverrides, "spindle", delta)
}

func (a *Adapter) OverrideRapid(value int) ([]machine.Output, error) {
	return override(rapidOverrides, "rapid", value)
}

// LaserTest switches to G1 first since Grbl laser mode only fires during G1, G2 or G3.
func (a *Adapter) LaserTest(power, duration, maxS float64) []machine.Output {
	return machine.LaserTest(power, duration, maxS, "G1F1")
}
