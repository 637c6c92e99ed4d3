package machine

import (
	"errors"
	"time"

	"github.com/mastercactapus/cncd/coord"
	"github.com/mastercactapus/cncd/gcode"
)

var (
	// ErrUnsupported is returned by Vocabulary methods the firmware has no equivalent for.
	ErrUnsupported = errors.New("not supported by this firmware")
	// ErrUnsupportedValue is returned when the firmware cannot express the requested value.
	ErrUnsupportedValue = errors.New("unsupported value")
)

// An Adapter speaks one firmware's protocol. It is used from a single goroutine.
type Adapter interface {
	Vocabulary

	// Type is the firmware name, e.g. "Grbl".
	Type() string

	// ResetDecoder drops partial input and returns to the initial state for a new connection.
	ResetDecoder()

	// Decode consumes transport bytes and returns an event for each complete line.
	Decode(data []byte) []Event

	// WriteFilter may observe or rewrite a line before it is written.
	WriteFilter(line string) string

	Handshake() Handshake
	FlowControl() FlowControl
	Queries() []Query

	IsAlarm() bool
	IsIdle() bool
	MachinePosition() coord.Point
	WorkPosition() coord.Point
	ModalGroup() Modal

	// State and Settings return the current snapshots. A new pointer is
	// returned only when the content changed.
	State() *State
	Settings() *Settings
}

// Vocabulary maps the uniform command set onto firmware specific output.
type Vocabulary interface {
	FeedHold() []Output
	CycleStart() []Output
	Pause() []Output
	Resume() []Output
	Stop(force bool) Plan
	Homing() ([]Output, error)
	Sleep() ([]Output, error)
	Unlock() ([]Output, error)
	SoftReset() []Output

	OverrideFeed(delta int) ([]Output, error)
	OverrideSpindle(delta int) ([]Output, error)
	OverrideRapid(value int) ([]Output, error)

	// LaserTest fires the spindle/laser at power percent of maxS for duration milliseconds.
	LaserTest(power, duration, maxS float64) []Output
}

// LineNumberer is implemented by adapters that tag program lines with a sequence number.
type LineNumberer interface {
	NumberLine(n int, line string) string
}

// ToolChanger is implemented by adapters whose firmware accepts M6.
type ToolChanger interface {
	HandlesToolChange() bool
}

// MotorController is implemented by adapters that can power stepper motors
// on and off outside of motion.
type MotorController interface {
	MotorEnable(timeout float64) []Output
	MotorDisable() []Output
	MotorTimeout(seconds float64) ([]Output, error)
}

// Output is data produced by the vocabulary.
type Output struct {
	Data string
	// Queued lines go through the feeder instead of straight to the transport.
	Queued bool
}

// Realtime is written as-is, without a line terminator.
func Realtime(s string) Output { return Output{Data: s} }

// WriteLine is written immediately with a line terminator.
func WriteLine(s string) Output { return Output{Data: s + "\n"} }

// Queue is fed through the feeder like any interactive G-code.
func Queue(s string) Output { return Output{Data: s, Queued: true} }

// Plan is a stop sequence: Now is written immediately, Later is evaluated
// against the state After the delay.
type Plan struct {
	Now   []Output
	After time.Duration
	Later func(st *State) []Output
}

// Handshake describes how a connection becomes ready.
type Handshake struct {
	// WaitForStartup delays the steps until the first startup banner.
	WaitForStartup bool
	Steps          []Step
}

// Step writes one line after Delay. Build, if set, is called at send time
// so later steps can depend on replies to earlier ones.
type Step struct {
	Delay time.Duration
	Line  string
	Build func() string
}

func (s Step) Text() string {
	if s.Build != nil {
		return s.Build()
	}
	return s.Line
}

type FlowKind int

const (
	CharacterCounting FlowKind = iota
	SendResponse
	QueueDepth
)

func (k FlowKind) String() string {
	switch k {
	case CharacterCounting:
		return "character-counting"
	case SendResponse:
		return "send-response"
	case QueueDepth:
		return "queue-depth"
	}
	return "unknown"
}

type FlowControl struct {
	Kind FlowKind

	// BufferSize is the initial receive buffer for CharacterCounting.
	BufferSize int

	// LowWater and HighWater bound QueueDepth.
	LowWater, HighWater int
}

// Query is a periodic request for a report.
type Query struct {
	Name string
	Data string

	// Realtime queries are answered without an "ok".
	Realtime bool

	// Timeout clears an unanswered query so it can be sent again.
	Timeout time.Duration
	// ClearWhenIdle restricts the Timeout to when the machine and workflow are idle.
	ClearWhenIdle bool
	// MinInterval throttles how often the query is sent.
	MinInterval time.Duration

	// Reply matches the event that answers the query.
	Reply func(Event) bool
}

// LaserTest builds the queued lines that fire the spindle at power percent
// of maxS for duration milliseconds, then turn it off. A zero power only
// turns it off. Prelude lines are queued before the spindle is started.
func LaserTest(power, duration, maxS float64, prelude ...string) []Output {
	if power == 0 {
		return []Output{Queue("M5S0")}
	}
	var out []Output
	for _, l := range prelude {
		out = append(out, Queue(l))
	}
	out = append(out, Queue("M3S"+gcode.FormatFloat(positive(maxS*power/100), 4)))
	if duration > 0 {
		out = append(out,
			Queue("G4P"+gcode.FormatFloat(positive(duration/1000), 4)),
			Queue("M5S0"),
		)
	}
	return out
}

func positive(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
