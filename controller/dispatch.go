package controller

import (
	"regexp"
	"strings"

	"github.com/mastercactapus/cncd/expression"
	"github.com/mastercactapus/cncd/gcode"
	"github.com/mastercactapus/cncd/machine"
	"github.com/mastercactapus/cncd/sender"
	"github.com/sirupsen/logrus"
)

const (
	// waitToken holds a queue until the device's planner is empty.
	waitToken = "%wait"
	// waitDwell replaces a %wait line so the device still answers it.
	waitDwell = "G4 P0.5"
	// appended to every loaded program so the workflow finishes only once
	// motion has stopped
	waitSuffix = "\n" + waitToken + " ; Wait for the planner to empty"
)

var rxLineComment = regexp.MustCompile(`\s*;.*`)

// feed queues interactive lines and starts sending them.
func (e *Engine) feed(lines []string, ctx expression.Context) {
	if len(lines) == 0 {
		return
	}
	e.feeder.Feed(lines, ctx)
	e.dispatch()
}

// dispatch writes whatever may go to the device now. At most one feeder
// line is in flight, and never alongside unacknowledged program lines, so
// every "ok" can be attributed.
func (e *Engine) dispatch() {
	if !e.open {
		return
	}
	e.feederNext()
	if !e.feederBusy {
		e.senderNext()
	}
}

func (e *Engine) feederNext() {
	if e.feederBusy {
		return
	}
	if !e.wf.IsIdle() && e.sender.Outstanding() > 0 {
		return
	}
	if e.adapter.IsAlarm() && e.feeder.Size() > 0 {
		e.log.WithField("queue", e.feeder.Size()).Warn("discard queued commands while in alarm")
		e.feeder.Reset()
		return
	}

	line, ok := e.feeder.Next()
	if !ok {
		return
	}
	e.feederBusy = true
	e.broadcast(ConnectionWrite{Identity: e.id, Data: line + "\n", Source: SourceFeeder})
	e.writeLine(line)
}

func (e *Engine) senderNext() {
	if !e.wf.IsRunning() {
		return
	}
	// let queued interactive lines in between program lines
	if e.feeder.Size() > 0 && !e.feeder.IsHeld() {
		return
	}
	for _, line := range e.sender.Next() {
		if !e.writeLine(line) {
			return
		}
	}
	if r := e.sender.HoldReason(); r != nil && r.Err != "" {
		e.log.WithField("error", r.Err).Error("program line cannot be sent")
		e.emitRead(r.Err)
		e.wf.Pause(r)
	}
}

// populate refreshes the machine variables visible to expressions.
func (e *Engine) populate(ctx expression.Context) {
	for _, k := range []string{"xmin", "xmax", "ymin", "ymax", "zmin", "zmax"} {
		if _, ok := ctx[k]; !ok {
			ctx[k] = 0.0
		}
	}

	mpos := e.adapter.MachinePosition()
	wpos := e.adapter.WorkPosition()
	for _, a := range []byte("xyzabc") {
		axis := a - 'a' + 'A'
		m, _ := mpos.Axis(axis)
		w, _ := wpos.Axis(axis)
		ctx["mpos"+string(a)] = m
		ctx["pos"+string(a)] = w
	}

	modal := e.adapter.ModalGroup()
	ctx["modal"] = map[string]interface{}{
		"motion":   modal.Motion,
		"wcs":      modal.WCS,
		"plane":    modal.Plane,
		"units":    modal.Units,
		"distance": modal.Distance,
		"feedrate": modal.Feedrate,
		"program":  modal.Program,
		"spindle":  modal.Spindle,
		"coolant":  strings.ReplaceAll(modal.Coolant, " ", "\n"),
	}
	ctx["tool"] = e.adapter.State().Tool
}

// filterLine prepares one line for the device. It drops comments, runs
// `%` statements, substitutes `[expr]` values and reports program pauses
// and tool changes through pause. A %wait line calls wait and becomes a
// short dwell.
func (e *Engine) filterLine(line string, ctx expression.Context, pause, wait func(*machine.HoldReason)) string {
	line = strings.TrimSpace(rxLineComment.ReplaceAllString(line, ""))
	if line == "" {
		return ""
	}
	if ctx == nil {
		ctx = expression.Context{}
	}
	e.populate(ctx)

	if line == waitToken {
		e.log.Debug("wait for the planner to empty")
		if wait != nil {
			wait(&machine.HoldReason{Data: waitToken})
		}
		return waitDwell
	}

	if strings.HasPrefix(line, "%") {
		if err := expression.Evaluate(line[1:], ctx); err != nil {
			e.log.WithError(err).WithField("line", line).Warn("evaluate expression")
		}
		return ""
	}

	line, err := expression.Translate(line, ctx)
	if err != nil {
		e.log.WithError(err).WithField("line", line).Warn("translate expression")
	}

	b := gcode.ParseLine(line)
	if w, ok := b.ProgramPause(); ok {
		e.log.WithField("line", line).Debug("program pause")
		pause(&machine.HoldReason{Data: w.String()})
	}
	if w, ok := b.ToolChange(); ok {
		e.log.WithField("line", line).Debug("tool change")
		pause(&machine.HoldReason{Data: w.String()})
		if tc, ok := e.adapter.(machine.ToolChanger); !ok || !tc.HandlesToolChange() {
			line = "(" + gcode.StripComments(line) + ")"
		}
	}
	return line
}

func (e *Engine) senderFilter(line string, ctx expression.Context) string {
	return e.filterLine(line, ctx,
		func(r *machine.HoldReason) { e.wf.Pause(r) },
		e.sender.Hold,
	)
}

func (e *Engine) feederFilter(line string, ctx expression.Context) string {
	var wait func(*machine.HoldReason)
	if _, ok := e.sender.Protocol().(*sender.QueueDepth); ok {
		wait = e.feeder.Hold
	}
	return e.filterLine(line, ctx, e.feeder.Hold, wait)
}

// programContent is the loaded program as the client sent it.
func (e *Engine) programContent() string {
	return strings.TrimSuffix(e.sender.Content(), waitSuffix)
}

func (e *Engine) unload() {
	e.wf.Stop()
	e.sender.Unload()
	e.log.Debug("program unloaded")
	e.broadcast(SenderUnload{})
	e.trigger.Trigger("sender:unload")
}

func (e *Engine) load(name, content string, ctx expression.Context) error {
	if err := sender.Validate(content); err != nil {
		return err
	}
	if err := e.sender.Load(name, content+waitSuffix, ctx); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"name": name, "lines": e.sender.Total()}).Info("program loaded")
	e.broadcast(SenderLoad{Name: name, Content: content, Context: e.sender.Context()})
	e.trigger.Trigger("sender:load")
	e.wf.Stop()
	e.sender.Rewind()
	return nil
}
