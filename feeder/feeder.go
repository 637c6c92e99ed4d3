// Package feeder queues interactive G-code and sends it one line at a time.
package feeder

import (
	"strings"

	"github.com/mastercactapus/cncd/expression"
	"github.com/mastercactapus/cncd/machine"
)

// Item is a queued line and the context its expressions evaluate against.
type Item struct {
	Line    string
	Context expression.Context
}

type Filter func(line string, ctx expression.Context) string

// Feeder is not safe for concurrent use.
type Feeder struct {
	filter Filter

	queue      []Item
	hold       bool
	holdReason *machine.HoldReason

	// set once a line is handed out, cleared when the queue runs dry
	pending bool
}

func New(filter Filter) *Feeder {
	if filter == nil {
		filter = func(line string, _ expression.Context) string { return line }
	}
	return &Feeder{filter: filter}
}

// Feed appends lines that share ctx.
func (f *Feeder) Feed(lines []string, ctx expression.Context) {
	if ctx == nil {
		ctx = expression.Context{}
	}
	for _, l := range lines {
		f.queue = append(f.queue, Item{Line: l, Context: ctx})
	}
}

// Next pops and filters the next line. Lines that filter to nothing are
// skipped since the device would never answer them.
func (f *Feeder) Next() (string, bool) {
	for {
		if len(f.queue) == 0 {
			f.pending = false
			return "", false
		}
		if f.hold {
			return "", false
		}

		item := f.queue[0]
		f.queue[0] = Item{}
		f.queue = f.queue[1:]

		line := strings.TrimSpace(f.filter(item.Line, item.Context))
		if line == "" {
			continue
		}
		f.pending = true
		return line, true
	}
}

func (f *Feeder) Hold(reason *machine.HoldReason) {
	f.hold = true
	f.holdReason = reason
}

func (f *Feeder) Unhold() {
	f.hold = false
	f.holdReason = nil
}

func (f *Feeder) Reset() {
	f.queue = nil
	f.pending = false
	f.Unhold()
}

// IsPending reports whether lines are queued or a reply to the last line
// handed out is still expected.
func (f *Feeder) IsPending() bool { return f.pending || len(f.queue) > 0 }

func (f *Feeder) IsHeld() bool                    { return f.hold }
func (f *Feeder) HoldReason() *machine.HoldReason { return f.holdReason }
func (f *Feeder) Size() int                       { return len(f.queue) }

// Status is a snapshot for observers.
type Status struct {
	Hold       bool                `json:"hold"`
	HoldReason *machine.HoldReason `json:"holdReason"`
	Queue      int                 `json:"queue"`
	Pending    bool                `json:"pending"`
}

func (f *Feeder) Peek() Status {
	return Status{
		Hold:       f.hold,
		HoldReason: f.holdReason,
		Queue:      len(f.queue),
		Pending:    f.IsPending(),
	}
}
