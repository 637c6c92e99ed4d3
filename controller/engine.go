package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mastercactapus/cncd/coord"
	"github.com/mastercactapus/cncd/eventtrigger"
	"github.com/mastercactapus/cncd/expression"
	"github.com/mastercactapus/cncd/feeder"
	"github.com/mastercactapus/cncd/machine"
	"github.com/mastercactapus/cncd/sender"
	"github.com/mastercactapus/cncd/transport"
	"github.com/mastercactapus/cncd/workflow"
	"github.com/sirupsen/logrus"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	// how long the machine must stay idle after the last ack before a
	// finished program stops the workflow
	finishTolerance     = 500 * time.Millisecond
	defaultBufferMargin = 8
)

type Options struct {
	Transport transport.Transport
	Adapter   machine.Adapter

	// ID defaults to a process-wide unique ID.
	ID  string
	Log *logrus.Entry

	Macros MacroStore
	Tasks  TaskRunner
	Files  FileSource
	Events func() []eventtrigger.Event

	// IgnoreErrors keeps a program running when the firmware reports an error.
	IgnoreErrors bool

	PollInterval time.Duration
	Now          func() time.Time

	// OnClose is called once after the engine shut down. err is the
	// transport failure that caused it, if any.
	OnClose func(e *Engine, err error)
}

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "conn_" + strconv.FormatInt(id, 36)
}

// queryMask throttles one adapter query.
type queryMask struct {
	machine.Query
	// sent and not yet answered
	pending bool
	// answered, the line's "ok" is still to come
	reply  bool
	sentAt time.Time
	// a client asked for it; forward the answer
	forward bool
}

// Engine drives one connection. All of its state is owned by a single
// goroutine; exported methods hand work to it.
type Engine struct {
	opt     Options
	id      Identity
	log     *logrus.Entry
	tr      transport.Transport
	adapter machine.Adapter
	hs      machine.Handshake

	feeder  *feeder.Feeder
	sender  *sender.Sender
	wf      *workflow.Workflow
	trigger *eventtrigger.Trigger

	ops       chan func()
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	state    atomic.Pointer[machine.State]
	settings atomic.Pointer[machine.Settings]

	// owned by the loop goroutine
	observers   []Observer
	timers      []*time.Timer
	open        bool
	ready       bool
	initialized bool
	feederBusy  bool
	queries     []*queryMask
	finishTime  time.Time
	pollWPos    coord.Point
	lastFeeder  *feeder.Status
	// data that arrived before Open returned
	early []byte
}

func New(opt Options) *Engine {
	if opt.PollInterval <= 0 {
		opt.PollInterval = defaultPollInterval
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.ID == "" {
		opt.ID = nextID()
	}
	log := opt.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	e := &Engine{
		opt:     opt,
		tr:      opt.Transport,
		adapter: opt.Adapter,
		hs:      opt.Adapter.Handshake(),
		ops:     make(chan func(), 64),
		done:    make(chan struct{}),
	}
	e.id = Identity{
		ID:         opt.ID,
		Controller: opt.Adapter.Type(),
		Type:       opt.Transport.Type(),
		Settings:   opt.Transport.Settings(),
	}
	e.log = log.WithFields(logrus.Fields{
		"controller": e.id.Controller,
		"connection": e.id.ID,
	})
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.feeder = feeder.New(e.feederFilter)
	so := sender.Options{
		Protocol: sender.NewProtocol(opt.Adapter.FlowControl()),
		Filter:   e.senderFilter,
		OnStart:  func(time.Time) { e.finishTime = time.Time{} },
		OnEnd:    func(t time.Time) { e.finishTime = t },
		Now:      opt.Now,
	}
	if n, ok := opt.Adapter.(machine.LineNumberer); ok {
		so.Number = n.NumberLine
	}
	e.sender = sender.New(so)
	e.wf = workflow.New(e.onWorkflow)
	e.trigger = eventtrigger.New(opt.Events, e.onTrigger, e.log)

	for _, q := range opt.Adapter.Queries() {
		e.queries = append(e.queries, &queryMask{Query: q})
	}

	e.state.Store(opt.Adapter.State())
	e.settings.Store(opt.Adapter.Settings())

	go e.loop()
	return e
}

func (e *Engine) Identity() Identity { return e.id }
func (e *Engine) Type() string       { return e.id.Controller }

// State returns the last published machine state. It is safe to call from
// any goroutine.
func (e *Engine) State() *machine.State { return e.state.Load() }

// Settings returns the last published firmware settings. It is safe to call
// from any goroutine.
func (e *Engine) Settings() *machine.Settings { return e.settings.Load() }

// Done is closed once the engine has shut down.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) loop() {
	t := time.NewTicker(e.opt.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-e.done:
			return
		default:
		}

		select {
		case <-e.done:
			return
		case fn := <-e.ops:
			fn()
		case <-t.C:
			e.poll()
		}
	}
}

// post queues fn on the engine goroutine without waiting for it.
func (e *Engine) post(fn func()) {
	select {
	case <-e.done:
	case e.ops <- fn:
	}
}

// exec runs fn on the engine goroutine and waits for it to finish.
func (e *Engine) exec(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case e.ops <- func() { defer close(ran); fn() }:
	}

	select {
	case <-ran:
		return nil
	case <-e.done:
		// fn may have closed the engine itself
		select {
		case <-ran:
			return nil
		default:
		}
		return ErrClosed
	}
}

// after runs fn on the engine goroutine once d has passed, unless the
// engine closes first.
func (e *Engine) after(d time.Duration, fn func()) {
	e.timers = append(e.timers, time.AfterFunc(d, func() { e.post(fn) }))
}

// Open opens the transport and starts talking to the firmware.
func (e *Engine) Open(ctx context.Context) error {
	e.tr.SetListener(transport.Listener{
		Data: func(p []byte) {
			e.post(func() { e.onData(p) })
		},
		Error: func(err error) {
			e.post(func() {
				e.log.WithError(err).Error("transport")
				e.broadcast(ConnectionError{Identity: e.id, Err: err.Error()})
			})
		},
		Close: func(err error) {
			e.post(func() { e.shutdown(err) })
		},
	})

	if err := e.tr.Open(ctx); err != nil {
		e.log.WithError(err).Error("cannot open connection")
		err = fmt.Errorf("open %s connection: %w", e.id.Type, err)
		e.post(func() {
			e.broadcast(ConnectionError{Identity: e.id, Err: err.Error()})
			e.shutdown(nil)
		})
		return err
	}

	err := ctx.Err()
	if err == nil {
		err = e.exec(ctx, e.onOpen)
	}
	if err != nil {
		// onOpen may not have run, in which case shutdown leaves the transport open
		if cerr := e.tr.Close(); cerr != nil {
			e.log.WithError(cerr).Debug("close transport")
		}
		e.Close()
		return err
	}
	return nil
}

func (e *Engine) onOpen() {
	e.open = true
	e.log.WithField("settings", e.id.Settings).Debug("connection established")
	e.broadcast(ConnectionOpen{Identity: e.id})
	e.trigger.Trigger("connection:open")

	e.wf.Stop()
	e.sender.Rewind()
	e.clearActions()
	if e.sender.Loaded() {
		e.unload()
	}

	if !e.hs.WaitForStartup {
		e.runHandshake()
	}
	if len(e.early) > 0 {
		data := e.early
		e.early = nil
		e.onData(data)
	}
}

// Close shuts the connection down. It is safe to call more than once.
func (e *Engine) Close() error {
	err := e.exec(context.Background(), func() { e.shutdown(nil) })
	if errors.Is(err, ErrClosed) {
		return nil
	}
	<-e.done
	return err
}

func (e *Engine) shutdown(cause error) {
	e.closeOnce.Do(func() {
		e.ready = false
		e.initialized = false
		e.cancel()
		for _, t := range e.timers {
			t.Stop()
		}
		e.timers = nil

		if cause != nil {
			e.log.WithError(cause).Error("connection lost")
			e.broadcast(ConnectionError{Identity: e.id, Err: cause.Error()})
		}
		e.broadcast(ConnectionClose{Identity: e.id})

		if e.open {
			e.open = false
			if err := e.tr.Close(); err != nil {
				e.log.WithError(err).Warn("close transport")
			}
		}
		e.trigger.Trigger("connection:close")
		e.tr.SetListener(transport.Listener{})
		e.observers = nil
		close(e.done)

		if e.opt.OnClose != nil {
			go e.opt.OnClose(e, cause)
		}
	})
}

// Attach adds an observer and replays the current snapshots to it.
func (e *Engine) Attach(o Observer) error {
	return e.exec(context.Background(), func() {
		e.observers = append(e.observers, o)
		e.replay(o)
	})
}

// Detach removes an observer by ID.
func (e *Engine) Detach(id string) {
	e.post(func() {
		for i, o := range e.observers {
			if o.ObserverID() == id {
				e.observers = append(e.observers[:i:i], e.observers[i+1:]...)
				return
			}
		}
	})
}

// Observers returns the number of attached observers. A closed engine has
// none.
func (e *Engine) Observers() int {
	var n int
	if err := e.exec(context.Background(), func() { n = len(e.observers) }); err != nil {
		return 0
	}
	return n
}

func (e *Engine) replay(o Observer) {
	o.Notify(ControllerType{Type: e.id.Controller})
	if e.open {
		o.Notify(ConnectionOpen{Identity: e.id})
	}
	if s := e.settings.Load(); !s.Empty() {
		o.Notify(ControllerSettings{Type: e.id.Controller, Settings: s})
	}
	o.Notify(ControllerState{Type: e.id.Controller, State: e.state.Load()})
	o.Notify(FeederStatus{Status: e.feeder.Peek()})
	o.Notify(SenderStatus{Status: e.sender.Peek()})
	if e.sender.Loaded() {
		o.Notify(SenderLoad{Name: e.sender.Name(), Content: e.programContent(), Context: e.sender.Context()})
	}
	o.Notify(WorkflowState{State: e.wf.State()})
}

func (e *Engine) broadcast(m Message) {
	for _, o := range e.observers {
		o.Notify(m)
	}
}

func (e *Engine) emitRead(data string) {
	e.broadcast(ConnectionRead{Identity: e.id, Data: data})
}

// publish broadcasts the adapter's state and settings if they changed.
func (e *Engine) publish() {
	if st := e.adapter.State(); st != e.state.Load() && *st != *e.state.Load() {
		e.state.Store(st)
		e.broadcast(ControllerState{Type: e.id.Controller, State: st})
	}
	if s := e.adapter.Settings(); s != e.settings.Load() && !s.Equal(e.settings.Load()) {
		e.settings.Store(s)
		e.broadcast(ControllerSettings{Type: e.id.Controller, Settings: s})
	}
}

func (e *Engine) clearActions() {
	for _, q := range e.queries {
		q.pending, q.reply, q.forward = false, false, false
		q.sentAt = time.Time{}
	}
	e.finishTime = time.Time{}
	e.feederBusy = false
}

// runHandshake writes the adapter's handshake lines, honoring each delay,
// then marks the connection ready.
func (e *Engine) runHandshake() {
	steps := e.hs.Steps
	waitForStartup := e.hs.WaitForStartup
	ctx := e.ctx
	go func() {
		for _, s := range steps {
			if s.Delay > 0 {
				t := time.NewTimer(s.Delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
			step := s
			if e.exec(ctx, func() { e.writeLine(step.Text()) }) != nil {
				return
			}
		}
		if !waitForStartup {
			e.post(func() { e.ready = true })
		}
	}()
}

// write sends raw data. A failed write closes the connection.
func (e *Engine) write(data string) bool {
	if !e.open {
		e.log.WithField("data", data).Error("unable to write data to the connection")
		return false
	}
	e.log.Tracef("> %q", data)
	if err := e.tr.Write([]byte(data)); err != nil {
		e.shutdown(fmt.Errorf("write: %w", err))
		return false
	}
	return true
}

// writeLine passes line through the adapter's write filter and sends it
// terminated.
func (e *Engine) writeLine(line string) bool {
	return e.write(e.adapter.WriteFilter(line) + "\n")
}

// writeOutputs sends vocabulary output. Queued lines go through the feeder
// after everything else has been written.
func (e *Engine) writeOutputs(out []machine.Output) {
	var queued []string
	for _, o := range out {
		switch {
		case o.Queued:
			queued = append(queued, o.Data)
		case strings.HasSuffix(o.Data, "\n"):
			e.writeLine(strings.TrimSuffix(o.Data, "\n"))
		default:
			e.write(o.Data)
		}
	}
	if len(queued) > 0 {
		e.feed(queued, nil)
	}
}

// Write sends data from a client as-is. A client asking for a report the
// engine also polls for gets to see the answer.
func (e *Engine) Write(data string, ctx expression.Context) error {
	return e.exec(context.Background(), func() {
		cmd := strings.TrimSpace(data)
		for _, q := range e.queries {
			if cmd != "" && cmd == strings.TrimSpace(q.Data) {
				q.forward = true
			}
		}
		e.broadcast(ConnectionWrite{Identity: e.id, Data: data, Source: SourceClient, Context: ctx})
		if strings.HasSuffix(data, "\n") {
			e.writeLine(strings.TrimRight(data, "\r\n"))
			return
		}
		e.write(data)
	})
}

func (e *Engine) onTrigger(event string, trigger eventtrigger.Kind, commands string) {
	if trigger == eventtrigger.System {
		if e.opt.Tasks == nil {
			e.log.WithField("event", event).Warn("no task runner for system trigger")
			return
		}
		e.opt.Tasks.Run(commands)
		return
	}
	e.feed(splitLines([]string{commands}), nil)
}

func (e *Engine) onWorkflow(t workflow.Transition) {
	e.log.WithFields(logrus.Fields{"from": t.From, "to": t.To}).Debug("workflow")
	e.broadcast(WorkflowState{State: t.To})

	switch t.Action {
	case workflow.ActionStart:
		if t.From == workflow.Idle {
			e.sender.Rewind()
		} else {
			e.sender.Unhold()
		}
	case workflow.ActionPause:
		e.sender.Hold(t.Reason)
	case workflow.ActionResume:
		e.feeder.Reset()
		e.feederBusy = false
		e.sender.Unhold()
		e.dispatch()
	case workflow.ActionStop:
		e.sender.Rewind()
	}
}
