// Package sender streams a loaded G-code program to a device under a flow
// control protocol.
package sender

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mastercactapus/cncd/coord"
	"github.com/mastercactapus/cncd/expression"
	"github.com/mastercactapus/cncd/gcode"
	"github.com/mastercactapus/cncd/machine"
)

// ErrInvalidProgram is returned by Load for content that cannot be streamed.
var ErrInvalidProgram = errors.New("invalid program")

// limiter is implemented by protocols that cannot admit a line past some
// size no matter how much has been acknowledged.
type limiter interface {
	Fits(n int) bool
	BufferSize() int
}

// Filter rewrites a line before it is sent. It may return an empty string to
// drop the line.
type Filter func(line string, ctx expression.Context) string

type Options struct {
	Protocol Protocol
	Filter   Filter

	// Number, if set, tags each sent line with its 1-based position.
	Number func(n int, line string) string

	OnStart func(time.Time)
	OnEnd   func(time.Time)

	Now func() time.Time
}

type pendingLine struct {
	line string
	// pass lets the line through a hold that its own filtering raised
	pass bool
}

// Sender holds one program and tracks how much of it the device has accepted.
// It is not safe for concurrent use.
type Sender struct {
	opt Options

	name    string
	content string
	lines   []string
	baseCtx expression.Context
	ctx     expression.Context
	bounds  coord.Bounds

	sent, received int

	hold       bool
	holdReason *machine.HoldReason

	startTime, finishTime time.Time

	pending *pendingLine
}

func New(opt Options) *Sender {
	if opt.Protocol == nil {
		opt.Protocol = &SendResponse{}
	}
	if opt.Filter == nil {
		opt.Filter = func(line string, _ expression.Context) string { return line }
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Sender{opt: opt}
}

// Protocol returns the flow control protocol in use.
func (s *Sender) Protocol() Protocol { return s.opt.Protocol }

func validate(content string) ([]string, error) {
	if !utf8.ValidString(content) || strings.ContainsRune(content, 0) {
		return nil, fmt.Errorf("%w: not a text file", ErrInvalidProgram)
	}
	lines := gcode.Lines(content)
	for _, l := range lines {
		if gcode.StripComments(l) != "" {
			return lines, nil
		}
	}
	return nil, fmt.Errorf("%w: no lines to send", ErrInvalidProgram)
}

// Validate reports whether content could be loaded.
func Validate(content string) error {
	_, err := validate(content)
	return err
}

// Load replaces the program. On error the current program is left untouched.
func (s *Sender) Load(name, content string, ctx expression.Context) error {
	lines, err := validate(content)
	if err != nil {
		return err
	}

	if err := s.checkLength(lines); err != nil {
		return err
	}

	if ctx == nil {
		ctx = expression.Context{}
	}
	ctx = ctx.Clone()

	s.bounds = gcode.ProgramBounds(lines)
	if !s.bounds.Empty() {
		for k, v := range map[string]float64{
			"xmin": s.bounds.Min.X, "xmax": s.bounds.Max.X,
			"ymin": s.bounds.Min.Y, "ymax": s.bounds.Max.Y,
			"zmin": s.bounds.Min.Z, "zmax": s.bounds.Max.Z,
		} {
			if _, ok := ctx[k]; !ok {
				ctx[k] = v
			}
		}
	}

	s.name = name
	s.content = content
	s.lines = lines
	s.baseCtx = ctx
	s.Rewind()
	return nil
}

// checkLength rejects lines that could never fit the device's receive
// buffer. Statements and comments are not sent and are not counted.
func (s *Sender) checkLength(lines []string) error {
	lim, ok := s.opt.Protocol.(limiter)
	if !ok {
		return nil
	}
	for i, l := range lines {
		l = strings.TrimSpace(strings.SplitN(l, ";", 2)[0])
		if l == "" || strings.HasPrefix(l, "%") {
			continue
		}
		if !lim.Fits(len(l) + 1) {
			return fmt.Errorf("%w: line %d is %d bytes, the receive buffer holds %d", ErrInvalidProgram, i+1, len(l)+1, lim.BufferSize())
		}
	}
	return nil
}

// Unload discards the program.
func (s *Sender) Unload() {
	s.name, s.content = "", ""
	s.lines = nil
	s.baseCtx = nil
	s.bounds = coord.Bounds{}
	s.Rewind()
	s.ctx = nil
}

// Rewind moves back to the first line without discarding the program. Variables
// assigned while streaming are dropped.
func (s *Sender) Rewind() {
	s.sent, s.received = 0, 0
	s.hold, s.holdReason = false, nil
	s.startTime, s.finishTime = time.Time{}, time.Time{}
	s.pending = nil
	s.ctx = s.baseCtx.Clone()
	s.opt.Protocol.Reset()
}

func (s *Sender) Loaded() bool     { return s.lines != nil }
func (s *Sender) Name() string     { return s.name }
func (s *Sender) Content() string  { return s.content }
func (s *Sender) Total() int       { return len(s.lines) }
func (s *Sender) Sent() int        { return s.sent }
func (s *Sender) Received() int    { return s.received }
func (s *Sender) Outstanding() int { return s.sent - s.received }
func (s *Sender) IsHeld() bool     { return s.hold }

// Line returns the n-th program line (0-based) as loaded, or "" when n is
// out of range.
func (s *Sender) Line(n int) string {
	if n < 0 || n >= len(s.lines) {
		return ""
	}
	return s.lines[n]
}

// Context returns the context the program was loaded with.
func (s *Sender) Context() expression.Context { return s.baseCtx }

func (s *Sender) Hold(reason *machine.HoldReason) {
	s.hold = true
	s.holdReason = reason
}

func (s *Sender) Unhold() {
	s.hold = false
	s.holdReason = nil
}

// HoldReason returns the reason given to Hold, or nil.
func (s *Sender) HoldReason() *machine.HoldReason { return s.holdReason }

func (s *Sender) peek() *pendingLine {
	if s.pending == nil {
		wasHeld := s.hold
		line := strings.TrimSpace(s.opt.Filter(s.lines[s.sent], s.ctx))
		if line != "" && s.opt.Number != nil {
			line = s.opt.Number(s.sent+1, line)
		}
		s.pending = &pendingLine{line: line, pass: !wasHeld && s.hold}
	}
	return s.pending
}

// Next returns every line that may be written now, in order. Lines that filter
// to nothing are counted as sent and received without being returned. A line
// too long for the protocol ever to admit holds the sender with an error
// reason.
func (s *Sender) Next() []string {
	if !s.Loaded() {
		return nil
	}
	if s.startTime.IsZero() {
		s.startTime = s.opt.Now()
		if s.opt.OnStart != nil {
			s.opt.OnStart(s.startTime)
		}
	}

	var out []string
	for s.sent < len(s.lines) {
		if s.hold && (s.pending == nil || !s.pending.pass) {
			break
		}
		p := s.peek()
		if p.line != "" && !s.opt.Protocol.Admit(len(p.line)+1) {
			// expressions can grow a line past what Load checked
			if lim, ok := s.opt.Protocol.(limiter); ok && !lim.Fits(len(p.line)+1) {
				s.Hold(&machine.HoldReason{Err: fmt.Sprintf("line %d is %d bytes, the receive buffer holds %d", s.sent+1, len(p.line)+1, lim.BufferSize())})
			}
			break
		}
		s.pending = nil
		s.sent++
		if p.line == "" {
			s.received++
			s.checkEnd()
			continue
		}
		s.opt.Protocol.Sent(len(p.line) + 1)
		out = append(out, p.line)
	}
	s.assert()
	return out
}

// Ack records the device's acknowledgment of the oldest unacknowledged line.
// Calling it with nothing outstanding is a bug in the caller.
func (s *Sender) Ack() {
	if s.received >= s.sent {
		panic(fmt.Sprintf("sender: ack with received=%d sent=%d", s.received, s.sent))
	}
	s.received++
	s.opt.Protocol.Ack()
	s.assert()
	s.checkEnd()
}

func (s *Sender) checkEnd() {
	if s.received == len(s.lines) && s.received > 0 && s.finishTime.IsZero() {
		s.finishTime = s.opt.Now()
		if s.opt.OnEnd != nil {
			s.opt.OnEnd(s.finishTime)
		}
	}
}

func (s *Sender) assert() {
	if s.received < 0 || s.received > s.sent || s.sent > len(s.lines) {
		panic(fmt.Sprintf("sender: invariant violated: received=%d sent=%d total=%d", s.received, s.sent, len(s.lines)))
	}
}

type BoundingBox struct {
	Min coord.Point `json:"min"`
	Max coord.Point `json:"max"`
}

// Status is a snapshot for observers.
type Status struct {
	Name          string              `json:"name"`
	Size          int                 `json:"size"`
	Total         int                 `json:"total"`
	Sent          int                 `json:"sent"`
	Received      int                 `json:"received"`
	Hold          bool                `json:"hold"`
	HoldReason    *machine.HoldReason `json:"holdReason"`
	StartTime     int64               `json:"startTime"`
	FinishTime    int64               `json:"finishTime"`
	ElapsedTime   int64               `json:"elapsedTime"`
	RemainingTime int64               `json:"remainingTime"`
	Context       expression.Context  `json:"context,omitempty"`
	Bounds        *BoundingBox        `json:"bbox,omitempty"`
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano() / int64(time.Millisecond)
}

func (s *Sender) Peek() Status {
	st := Status{
		Name:       s.name,
		Size:       len(s.content),
		Total:      len(s.lines),
		Sent:       s.sent,
		Received:   s.received,
		Hold:       s.hold,
		HoldReason: s.holdReason,
		StartTime:  millis(s.startTime),
		FinishTime: millis(s.finishTime),
		Context:    s.baseCtx,
	}
	if !s.bounds.Empty() {
		st.Bounds = &BoundingBox{Min: s.bounds.Min, Max: s.bounds.Max}
	}
	if !s.startTime.IsZero() {
		end := s.finishTime
		if end.IsZero() {
			end = s.opt.Now()
		}
		elapsed := end.Sub(s.startTime)
		st.ElapsedTime = int64(elapsed / time.Millisecond)
		if s.received > 0 && s.received < len(s.lines) {
			perLine := elapsed / time.Duration(s.received)
			st.RemainingTime = int64(perLine * time.Duration(len(s.lines)-s.received) / time.Millisecond)
		}
	}
	return st
}
