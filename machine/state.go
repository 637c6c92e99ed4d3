package machine

import (
	"maps"

	"github.com/mastercactapus/cncd/coord"
)

// Modal is the active modal group words, e.g. Motion "G0", Units "G21".
type Modal struct {
	Motion   string `json:"motion"`
	WCS      string `json:"wcs"`
	Plane    string `json:"plane"`
	Units    string `json:"units"`
	Distance string `json:"distance"`
	Feedrate string `json:"feedrate"`
	Program  string `json:"program"`
	Spindle  string `json:"spindle"`
	// Coolant is "M9" or any combination of "M7" and "M8" joined by a space.
	Coolant string `json:"coolant"`
}

type Overrides struct {
	Feed    float64 `json:"feed"`
	Rapid   float64 `json:"rapid"`
	Spindle float64 `json:"spindle"`
}

type Buffer struct {
	Planner int `json:"planner"`
	RX      int `json:"rx"`
}

type Heater struct {
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	Power   float64 `json:"power,omitempty"`
}

type Temperature struct {
	Extruder  Heater `json:"extruder"`
	HeatedBed Heater `json:"heatedBed"`
}

// State is an immutable snapshot of the machine. Adapters build a new State
// for every change and never mutate one that has been handed out, so a
// pointer comparison tells whether anything changed.
type State struct {
	Status   string `json:"status"`
	SubState string `json:"subState,omitempty"`

	MPos coord.Point `json:"mpos"`
	WPos coord.Point `json:"wpos"`
	WCO  coord.Point `json:"wco"`

	Modal Modal `json:"modal"`

	Feedrate float64 `json:"feedrate"`
	Spindle  float64 `json:"spindle"`
	Velocity float64 `json:"velocity,omitempty"`
	Tool     int     `json:"tool"`
	Line     int     `json:"line,omitempty"`
	Pins     string  `json:"pins,omitempty"`

	Overrides  Overrides `json:"ov"`
	Buffer     Buffer    `json:"buf"`
	QueueDepth int       `json:"qr,omitempty"`

	Extrusion   float64     `json:"e,omitempty"`
	Temperature Temperature `json:"temperature"`
}

// Settings is an immutable snapshot of firmware configuration.
type Settings struct {
	Version  string            `json:"version,omitempty"`
	Firmware map[string]string `json:"firmware,omitempty"`
	// Values holds numbered or named settings, e.g. "$13" or "mfo".
	Values map[string]string `json:"settings,omitempty"`
	// Parameters holds coordinate offsets keyed by name, e.g. "G54", "TLO", "PRB".
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Empty reports whether nothing has been learned about the firmware.
func (s *Settings) Empty() bool {
	return s == nil || (s.Version == "" && len(s.Firmware) == 0 && len(s.Values) == 0 && len(s.Parameters) == 0)
}

// Equal compares by value.
func (s *Settings) Equal(o *Settings) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Version == o.Version &&
		maps.Equal(s.Firmware, o.Firmware) &&
		maps.Equal(s.Values, o.Values) &&
		maps.Equal(s.Parameters, o.Parameters)
}

// Clone returns a deep copy for building the next snapshot.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return &Settings{}
	}
	return &Settings{
		Version:    s.Version,
		Firmware:   maps.Clone(s.Firmware),
		Values:     maps.Clone(s.Values),
		Parameters: maps.Clone(s.Parameters),
	}
}

// With returns a copy of s with one entry of the named map set. The receiver
// is returned unchanged when the value is already present.
func (s *Settings) With(kind SettingsKind, key, value string) *Settings {
	if cur, ok := s.get(kind, key); ok && cur == value {
		return s
	}
	n := s.Clone()
	var m *map[string]string
	switch kind {
	case SettingsFirmware:
		m = &n.Firmware
	case SettingsParameters:
		m = &n.Parameters
	default:
		m = &n.Values
	}
	if *m == nil {
		*m = make(map[string]string)
	}
	(*m)[key] = value
	return n
}

// WithVersion returns a copy of s with Version set.
func (s *Settings) WithVersion(v string) *Settings {
	if s != nil && s.Version == v {
		return s
	}
	n := s.Clone()
	n.Version = v
	return n
}

// Value returns a setting from Values.
func (s *Settings) Value(key string) (string, bool) {
	return s.get(SettingsValues, key)
}

func (s *Settings) get(kind SettingsKind, key string) (string, bool) {
	if s == nil {
		return "", false
	}
	var m map[string]string
	switch kind {
	case SettingsFirmware:
		m = s.Firmware
	case SettingsParameters:
		m = s.Parameters
	default:
		m = s.Values
	}
	v, ok := m[key]
	return v, ok
}

type SettingsKind int

const (
	SettingsValues SettingsKind = iota
	SettingsFirmware
	SettingsParameters
)

// HoldReason explains why a queue is holding.
type HoldReason struct {
	Data string `json:"data,omitempty"`
	Err  string `json:"err,omitempty"`
}
