// Package marlin implements the Marlin 3D printer protocol.
package marlin

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mastercactapus/cncd/coord"
	"github.com/mastercactapus/cncd/gcode"
	"github.com/mastercactapus/cncd/machine"
)

const Type = "Marlin"

const (
	queryTimeout     = 5 * time.Second
	temperatureEvery = time.Second

	minOverride     = 10
	maxOverride     = 500
	defaultOverride = 100

	firmwareNameKey = "FIRMWARE_NAME"
)

var (
	rxPosition    = regexp.MustCompile(`^X:(-?[\d.]+)\s*Y:(-?[\d.]+)\s*Z:(-?[\d.]+)(?:\s*E:(-?[\d.]+))?`)
	rxTemperature = regexp.MustCompile(`^(ok\s+)?T\d?:`)
	rxExtruder    = regexp.MustCompile(`(?:^|\s)T\d?:\s*(-?[\d.]+)\s*/\s*(-?[\d.]+)`)
	rxBed         = regexp.MustCompile(`(?:^|\s)B:\s*(-?[\d.]+)\s*/\s*(-?[\d.]+)`)
	rxExtruderPwr = regexp.MustCompile(`(?:^|\s)@:\s*(\d+)`)
	rxBedPwr      = regexp.MustCompile(`(?:^|\s)B@:\s*(\d+)`)
	rxKey         = regexp.MustCompile(`(?:^|\s)([A-Z][A-Z_]+):`)
	rxOverride    = regexp.MustCompile(`(?i)^M22([01])\s*S(\d+)`)
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
		Overrides: machine.Overrides{Feed: defaultOverride, Spindle: defaultOverride},
	}
	a.settings = &machine.Settings{}
}

func (a *Adapter) State() *machine.State       { return a.state }
func (a *Adapter) Settings() *machine.Settings { return a.settings }

// IsAlarm is always false; Marlin has no alarm state.
func (a *Adapter) IsAlarm() bool { return false }

// IsIdle is always true since Marlin does not report motion. Completion is
// detected by the position settling instead.
func (a *Adapter) IsIdle() bool { return true }

func (a *Adapter) MachinePosition() coord.Point { return a.state.MPos }
func (a *Adapter) WorkPosition() coord.Point    { return a.state.WPos }
func (a *Adapter) ModalGroup() machine.Modal    { return a.state.Modal }

func (a *Adapter) setState(next machine.State) {
	if next != *a.state {
		a.state = &next
	}
}

func (a *Adapter) Handshake() machine.Handshake {
	return machine.Handshake{
		WaitForStartup: true,
		Steps:          []machine.Step{{Line: "M115"}},
	}
}

func (a *Adapter) FlowControl() machine.FlowControl {
	return machine.FlowControl{Kind: machine.SendResponse}
}

func (a *Adapter) Queries() []machine.Query {
	return []machine.Query{
		{
			Name:    "position",
			Data:    "M114\n",
			Timeout: queryTimeout,
			Reply: func(e machine.Event) bool {
				_, ok := e.(machine.EventStatus)
				return ok
			},
		},
		{
			Name:        "temperature",
			Data:        "M105\n",
			Timeout:     queryTimeout,
			MinInterval: temperatureEvery,
			Reply: func(e machine.Event) bool {
				_, ok := e.(machine.EventTemperature)
				return ok
			},
		},
	}
}

// WriteFilter tracks M220/M221 since Marlin does not report overrides.
func (a *Adapter) WriteFilter(line string) string {
	m := rxOverride.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return line
	}
	v, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return line
	}
	st := *a.state
	if m[1] == "0" {
		st.Overrides.Feed = v
	} else {
		st.Overrides.Spindle = v
	}
	a.setState(st)
	return line
}

func (a *Adapter) Decode(data []byte) []machine.Event {
	lines := a.lb.Split(data)
	res := make([]machine.Event, 0, len(lines))
	for _, l := range lines {
		res = append(res, a.decodeLine(l))
	}
	return res
}

func (a *Adapter) decodeLine(s string) machine.Event {
	raw := machine.Line(s)
	switch {
	case s == "start":
		return machine.EventStartup{Line: raw, Version: a.settings.Version}

	case strings.HasPrefix(s, firmwareNameKey+":"):
		for k, v := range parseKeys(s) {
			a.settings = a.settings.With(machine.SettingsFirmware, k, v)
		}
		a.settings = a.settings.WithVersion(a.settings.Firmware[firmwareNameKey])
		return machine.EventFirmware{Line: raw}

	case rxPosition.MatchString(s):
		a.setState(applyPosition(*a.state, rxPosition.FindStringSubmatch(s)))
		return machine.EventStatus{Line: raw}

	case rxTemperature.MatchString(s):
		a.setState(applyTemperature(*a.state, s))
		return machine.EventTemperature{Line: raw, OK: strings.HasPrefix(s, "ok")}

	case s == "ok" || strings.HasPrefix(s, "ok "):
		return machine.EventOK{Line: raw}

	case strings.HasPrefix(s, "echo:"):
		return machine.EventEcho{Line: raw, Message: strings.TrimSpace(strings.TrimPrefix(s, "echo:"))}

	case strings.HasPrefix(s, "Error:"):
		// an ok still follows
		return machine.EventError{Line: raw, Message: strings.TrimSpace(strings.TrimPrefix(s, "Error:"))}
	}
	return machine.EventOther{Line: raw}
}

// parseKeys splits "KEY:value KEY2:value two" pairs. Values may contain spaces.
func parseKeys(s string) map[string]string {
	res := make(map[string]string)
	locs := rxKey.FindAllStringSubmatchIndex(s, -1)
	for i, loc := range locs {
		end := len(s)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		res[s[loc[2]:loc[3]]] = strings.TrimSpace(s[loc[1]:end])
	}
	return res
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func applyPosition(st machine.State, m []string) machine.State {
	p := st.MPos
	p.X, p.Y, p.Z = parseFloat(m[1]), parseFloat(m[2]), parseFloat(m[3])
	st.MPos, st.WPos = p, p
	if m[4] != "" {
		st.Extrusion = parseFloat(m[4])
	}
	return st
}

func applyTemperature(st machine.State, s string) machine.State {
	if m := rxExtruder.FindStringSubmatch(s); m != nil {
		st.Temperature.Extruder.Current = parseFloat(m[1])
		st.Temperature.Extruder.Target = parseFloat(m[2])
	}
	if m := rxBed.FindStringSubmatch(s); m != nil {
		st.Temperature.HeatedBed.Current = parseFloat(m[1])
		st.Temperature.HeatedBed.Target = parseFloat(m[2])
	}
	if m := rxExtruderPwr.FindStringSubmatch(s); m != nil {
		st.Temperature.Extruder.Power = parseFloat(m[1])
	}
	if m := rxBedPwr.FindStringSubmatch(s); m != nil {
		st.Temperature.HeatedBed.Power = parseFloat(m[1])
	}
	return st
}

func (a *Adapter) FeedHold() []machine.Output   { return nil }
func (a *Adapter) CycleStart() []machine.Output { return nil }
func (a *Adapter) Pause() []machine.Output      { return nil }
func (a *Adapter) Resume() []machine.Output     { return nil }
func (a *Adapter) SoftReset() []machine.Output  { return []machine.Output{machine.Realtime("\x18")} }

func (a *Adapter) Stop(bool) machine.Plan { return machine.Plan{} }

func (a *Adapter) Homing() ([]machine.Output, error) {
	return []machine.Output{machine.WriteLine("G28")}, nil
}

func (a *Adapter) Sleep() ([]machine.Output, error) {
	return nil, fmt.Errorf("sleep: %w", machine.ErrUnsupported)
}

func (a *Adapter) Unlock() ([]machine.Output, error) {
	return nil, fmt.Errorf("unlock: %w", machine.ErrUnsupported)
}

func overrideValue(cur float64, delta int) string {
	v := cur + float64(delta)
	switch {
	case delta == 0:
		v = defaultOverride
	case v > maxOverride:
		v = maxOverride
	case v < minOverride:
		v = minOverride
	}
	return gcode.FormatFloat(v, 0)
}

func (a *Adapter) OverrideFeed(delta int) ([]machine.Output, error) {
	return []machine.Output{machine.Queue("M220S" + overrideValue(a.state.Overrides.Feed, delta))}, nil
}

func (a *Adapter) OverrideSpindle(delta int) ([]machine.Output, error) {
	return []machine.Output{machine.Queue("M221S" + overrideValue(a.state.Overrides.Spindle, delta))}, nil
}

func (a *Adapter) OverrideRapid(int) ([]machine.Output, error) {
	return nil, fmt.Errorf("rapid override: %w", machine.ErrUnsupported)
}

func (a *Adapter) LaserTest(power, duration, maxS float64) []machine.Output {
	return machine.LaserTest(power, duration, maxS)
}
