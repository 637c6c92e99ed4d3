package machine

// Event is a decoded line from the firmware. The concrete type tells what
// kind of line it was.
type Event interface {
	RawLine() string
}

// Line is the raw text an event was decoded from.
type Line string

func (l Line) RawLine() string { return string(l) }

// EventOK acknowledges a line. N is the line number the firmware echoed
// back, or 0 when the reply carries none.
type EventOK struct {
	Line
	N int
}

// EventError is a firmware error. Ack is set when the error takes the place
// of the line's acknowledgment; otherwise an EventOK still follows.
type EventError struct {
	Line
	Code    int
	Message string
	Ack     bool
	N       int
}

type EventAlarm struct {
	Line
	Code    int
	Message string
}

// EventStatus carries a status report that has already been merged into the
// adapter's State.
type EventStatus struct {
	Line
	// RX is the available receive buffer reported by the device, or 0.
	RX int
}

type EventParserState struct{ Line }

type EventParameters struct {
	Line
	Name, Value string
}

type EventSetting struct {
	Line
	Name, Value string
}

type EventFirmware struct{ Line }

type EventEcho struct {
	Line
	Message string
}

// EventTemperature is a temperature report. OK is set when the report also
// acknowledges a line (Marlin's "ok T:...").
type EventTemperature struct {
	Line
	OK bool
}

type EventStartup struct {
	Line
	Version string
}

// EventQueueReport is a planner queue depth report.
type EventQueueReport struct {
	Line
	Depth int
}

type EventFeedback struct {
	Line
	Message string
}

// EventOther is any line the adapter did not recognize.
type EventOther struct{ Line }
