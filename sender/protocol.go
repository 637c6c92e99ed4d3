package sender

import (
	"fmt"

	"github.com/mastercactapus/cncd/machine"
)

// A Protocol decides when the device can accept another program line.
// Lengths include the line terminator.
type Protocol interface {
	Admit(n int) bool
	Sent(n int)
	Ack()
	Reset()
}

// NewProtocol builds the protocol for an adapter's flow control.
func NewProtocol(fc machine.FlowControl) Protocol {
	switch fc.Kind {
	case machine.CharacterCounting:
		return NewCharCounting(fc.BufferSize)
	case machine.QueueDepth:
		return NewQueueDepth(fc.LowWater, fc.HighWater)
	}
	return &SendResponse{}
}

// CharCounting keeps the bytes of unacknowledged lines within the device's
// receive buffer.
type CharCounting struct {
	bufferSize int

	deviceBuf int
	lineSize  []int
}

func NewCharCounting(bufferSize int) *CharCounting {
	return &CharCounting{bufferSize: bufferSize}
}

func (c *CharCounting) BufferSize() int  { return c.bufferSize }
func (c *CharCounting) Outstanding() int { return c.deviceBuf }

// Admit reports whether n more bytes fit.
func (c *CharCounting) Admit(n int) bool {
	return c.deviceBuf+n <= c.bufferSize
}

func (c *CharCounting) Sent(n int) {
	c.deviceBuf += n
	c.lineSize = append(c.lineSize, n)
}

func (c *CharCounting) Ack() {
	if len(c.lineSize) == 0 {
		panic("sender: ack without an outstanding line")
	}
	c.deviceBuf -= c.lineSize[0]
	c.lineSize = c.lineSize[1:]
}

func (c *CharCounting) Reset() {
	c.deviceBuf = 0
	c.lineSize = nil
}

// Fits reports whether a line of n bytes can ever be admitted.
func (c *CharCounting) Fits(n int) bool { return n <= c.bufferSize }

// Grow raises the buffer size. It refuses while bytes are outstanding and
// never shrinks the buffer.
func (c *CharCounting) Grow(n int) bool {
	if c.deviceBuf != 0 || n <= c.bufferSize {
		return false
	}
	c.bufferSize = n
	return true
}

func (c *CharCounting) String() string {
	return fmt.Sprintf("character-counting %d/%d", c.deviceBuf, c.bufferSize)
}

// SendResponse allows a single unacknowledged line.
type SendResponse struct {
	inflight int
}

func (s *SendResponse) Admit(int) bool { return s.inflight == 0 }
func (s *SendResponse) Sent(int)       { s.inflight++ }
func (s *SendResponse) Reset()         { s.inflight = 0 }

func (s *SendResponse) Ack() {
	if s.inflight == 0 {
		panic("sender: ack without an outstanding line")
	}
	s.inflight--
}

// QueueDepth gates a SendResponse protocol on the planner queue depth the
// device reports. Sending blocks at or below the low water mark and resumes
// at or above the high water mark.
type QueueDepth struct {
	SendResponse

	low, high int

	blocked bool
	depth   int
	max     int
}

func NewQueueDepth(low, high int) *QueueDepth {
	return &QueueDepth{low: low, high: high}
}

func (q *QueueDepth) Admit(n int) bool {
	return !q.blocked && q.SendResponse.Admit(n)
}

// Report records a queue depth. It returns true when the report lifted a block.
func (q *QueueDepth) Report(depth int) bool {
	q.depth = depth
	if depth > q.max {
		q.max = depth
	}
	switch {
	case !q.blocked && depth <= q.low:
		q.blocked = true
	case q.blocked && depth >= q.high:
		q.blocked = false
		return true
	}
	return false
}

func (q *QueueDepth) Blocked() bool { return q.blocked }
func (q *QueueDepth) Depth() int    { return q.depth }

// Drained reports whether the planner queue is back to the largest depth seen,
// i.e. empty.
func (q *QueueDepth) Drained() bool {
	return q.max > 0 && q.depth >= q.max
}

func (q *QueueDepth) Reset() {
	q.SendResponse.Reset()
	q.blocked = false
}
