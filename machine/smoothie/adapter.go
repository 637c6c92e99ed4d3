// Package smoothie implements Smoothieware's Grbl compatible protocol.
package smoothie

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mastercactapus/cncd/gcode"
	"github.com/mastercactapus/cncd/machine"
	"github.com/mastercactapus/cncd/machine/grbl"
)

const Type = "Smoothie"

const (
	minOverride     = 10
	maxOverride     = 500
	defaultOverride = 100
)

var rxOverride = regexp.MustCompile(`(?i)^M22([01])\s*S(\d+(?:\.\d*)?)`)

// Adapter reuses the Grbl decoder; Smoothie adds a version report and
// takes overrides as M-codes instead of realtime bytes.
type Adapter struct {
	*grbl.Adapter
	lb machine.LineBuffer
}

var _ machine.Adapter = &Adapter{}

func NewAdapter() *Adapter {
	return &Adapter{Adapter: grbl.NewAdapter()}
}

func (a *Adapter) Type() string { return Type }

func (a *Adapter) ResetDecoder() {
	a.lb.Reset()
	a.Adapter.ResetDecoder()
}

func (a *Adapter) Handshake() machine.Handshake {
	return machine.Handshake{Steps: []machine.Step{{Line: "version"}}}
}

func (a *Adapter) Decode(data []byte) []machine.Event {
	lines := a.lb.Split(data)
	res := make([]machine.Event, 0, len(lines))
	for _, l := range lines {
		if strings.HasPrefix(l, "Build version:") {
			res = append(res, a.decodeVersion(l))
			continue
		}
		res = append(res, a.Adapter.DecodeLine(l))
	}
	return res
}

// decodeVersion handles
// "Build version: edge-3332442, Build date: xxx, MCU: LPC1769, System Clock: 120MHz".
func (a *Adapter) decodeVersion(s string) machine.Event {
	a.UpdateSettings(func(set *machine.Settings) *machine.Settings {
		for _, part := range strings.Split(s, ",") {
			k, v, ok := strings.Cut(part, ":")
			if !ok {
				continue
			}
			k, v = strings.TrimSpace(k), strings.TrimSpace(v)
			set = set.With(machine.SettingsFirmware, k, v)
			if k == "Build version" {
				set = set.WithVersion(v)
			}
		}
		return set
	})
	return machine.EventFirmware{Line: machine.Line(s)}
}

// WriteFilter records M220/M221 overrides, then lets Grbl observe the line.
func (a *Adapter) WriteFilter(line string) string {
	if m := rxOverride.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			a.UpdateState(func(st machine.State) machine.State {
				if m[1] == "0" {
					st.Overrides.Feed = v
				} else {
					st.Overrides.Spindle = v
				}
				return st
			})
		}
	}
	return a.Adapter.WriteFilter(line)
}

func (a *Adapter) Sleep() ([]machine.Output, error) {
	return nil, fmt.Errorf("sleep: %w", machine.ErrUnsupported)
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
	return []machine.Output{machine.Queue("M220S" + overrideValue(a.State().Overrides.Feed, delta))}, nil
}

func (a *Adapter) OverrideSpindle(delta int) ([]machine.Output, error) {
	return []machine.Output{machine.Queue("M221S" + overrideValue(a.State().Overrides.Spindle, delta))}, nil
}

func (a *Adapter) OverrideRapid(int) ([]machine.Output, error) {
	return nil, fmt.Errorf("rapid override: %w", machine.ErrUnsupported)
}
