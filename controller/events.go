package controller

import (
	"fmt"

	"github.com/mastercactapus/cncd/machine"
	"github.com/mastercactapus/cncd/sender"
	"github.com/sirupsen/logrus"
)

func (e *Engine) onData(p []byte) {
	if !e.open {
		e.early = append(e.early, p...)
		return
	}
	for _, ev := range e.adapter.Decode(p) {
		e.log.Tracef("< %s", ev.RawLine())
		e.handle(ev)
		if !e.open {
			return
		}
	}
	e.publish()
}

func (e *Engine) handle(ev machine.Event) {
	forward, matched := e.matchQuery(ev)

	switch ev := ev.(type) {
	case machine.EventOK:
		e.onOK(ev)

	case machine.EventError:
		e.onError(ev)

	case machine.EventAlarm:
		msg := ev.RawLine()
		if ev.Code > 0 && ev.Message != "" {
			msg = fmt.Sprintf("ALARM:%d (%s)", ev.Code, ev.Message)
		}
		e.log.WithField("alarm", msg).Warn("alarm")
		e.emitRead(msg)

	case machine.EventStatus:
		e.autotune(ev.RX)
		if forward || !matched {
			e.emitRead(ev.RawLine())
		}

	case machine.EventParserState:
		if forward || !matched {
			e.emitRead(ev.RawLine())
		}

	case machine.EventTemperature:
		if forward || !matched {
			e.emitRead(ev.RawLine())
		}
		// "ok T:..." also answers a line
		if ev.OK && !matched {
			e.onOK(machine.EventOK{Line: ev.Line})
		}

	case machine.EventQueueReport:
		e.onQueueReport(ev.Depth)

	case machine.EventStartup:
		e.emitRead(ev.RawLine())
		e.onStartup()

	default:
		e.emitRead(ev.RawLine())
	}
}

// matchQuery records ev as the answer to a query. forward is set when a
// client asked for it.
func (e *Engine) matchQuery(ev machine.Event) (forward, matched bool) {
	for _, q := range e.queries {
		if q.Reply == nil || !q.Reply(ev) {
			continue
		}
		if !q.pending && !q.forward {
			continue
		}
		matched = true
		forward = forward || q.forward
		q.pending, q.forward = false, false
		if q.Realtime {
			continue
		}
		if t, ok := ev.(machine.EventTemperature); ok && t.OK {
			continue
		}
		q.reply = true
	}
	return forward, matched
}

// consumeReply reports whether an ok answered one of the engine's own line
// queries.
func (e *Engine) consumeReply() bool {
	for _, q := range e.queries {
		if q.reply {
			q.reply = false
			return true
		}
	}
	return false
}

func (e *Engine) onOK(ev machine.EventOK) {
	if e.consumeReply() {
		return
	}

	if e.feederBusy {
		e.feederBusy = false
		e.emitRead(ev.RawLine())
		e.dispatch()
		return
	}

	if e.programReply(ev.N, false) {
		if e.wf.IsRunning() {
			e.releaseWait(1)
		} else if !e.sender.IsHeld() {
			e.log.Error("the sender does not hold off during the paused state")
		}
		e.sender.Ack()
		e.dispatch()
		return
	}

	e.emitRead(ev.RawLine())
	e.dispatch()
}

// programReply reports whether a reply answers the program line in flight.
// Adapters that number program lines echo the number back; a reply without
// one answers something else, such as a queue report request. Errors
// without a number are still charged to the program so it cannot stall.
func (e *Engine) programReply(n int, isErr bool) bool {
	if e.wf.IsIdle() || e.sender.Outstanding() == 0 {
		return false
	}
	if _, ok := e.adapter.(machine.LineNumberer); !ok {
		return true
	}
	if n == 0 {
		return isErr
	}
	if n != e.sender.Sent() {
		e.log.WithFields(logrus.Fields{"n": n, "sent": e.sender.Sent()}).Warn("reply for a line that is not in flight")
		return false
	}
	return true
}

// releaseWait lifts a %wait hold once every line before it has been
// answered, counting acks more lines as answered. Under queue depth flow
// control the planner must also have drained.
func (e *Engine) releaseWait(acks int) {
	reason := e.sender.HoldReason()
	if !e.sender.IsHeld() || reason == nil || reason.Data != waitToken {
		return
	}
	if e.sender.Received()+acks < e.sender.Sent() {
		return
	}
	if qd, ok := e.sender.Protocol().(*sender.QueueDepth); ok && !qd.Drained() {
		return
	}
	e.log.WithFields(logrus.Fields{
		"sent":     e.sender.Sent(),
		"received": e.sender.Received() + acks,
	}).Debug("continue sending G-code")
	e.sender.Unhold()
}

func (e *Engine) onError(ev machine.EventError) {
	msg := ev.RawLine()
	if ev.Code > 0 && ev.Message != "" {
		msg = fmt.Sprintf("error:%d (%s)", ev.Code, ev.Message)
	} else if ev.Message != "" {
		msg = "error: " + ev.Message
	}

	if e.feederBusy {
		e.log.WithField("error", msg).Warn("device error")
		e.emitRead(msg)
		if ev.Ack {
			e.feederBusy = false
			e.dispatch()
		}
		return
	}

	program := e.programReply(ev.N, true)
	if e.wf.IsRunning() && (program || !ev.Ack) {
		n := e.sender.Received()
		e.log.WithFields(logrus.Fields{"line": n + 1, "error": msg}).Warn("device error")
		e.emitRead(fmt.Sprintf("> %s (line=%d)", e.sender.Line(n), n+1))
		e.emitRead(msg)
		if !e.opt.IgnoreErrors {
			e.wf.Pause(&machine.HoldReason{Err: msg})
		}
		if ev.Ack && program {
			e.sender.Ack()
			e.dispatch()
		}
		return
	}

	e.emitRead(msg)
	if !ev.Ack {
		return
	}
	if program {
		e.sender.Ack()
	}
	e.dispatch()
}

func (e *Engine) onQueueReport(depth int) {
	qd, ok := e.sender.Protocol().(*sender.QueueDepth)
	if !ok {
		return
	}
	unblocked := qd.Report(depth)
	if unblocked {
		e.log.WithField("qr", depth).Trace("planner queue unblocked")
	}

	if qd.Drained() && e.feeder.IsHeld() {
		if r := e.feeder.HoldReason(); r != nil && r.Data == waitToken {
			e.feeder.Unhold()
			unblocked = true
		}
	}
	if e.wf.IsRunning() && e.sender.IsHeld() {
		e.releaseWait(0)
		unblocked = unblocked || !e.sender.IsHeld()
	}
	if unblocked {
		e.dispatch()
	}
}

func (e *Engine) onStartup() {
	// the firmware dropped whatever it was holding
	e.clearActions()
	if !e.hs.WaitForStartup {
		return
	}
	if !e.initialized {
		e.initialized = true
		e.runHandshake()
	}
	e.ready = true
}

// autotune raises the character counting buffer to what the firmware
// reports, less a margin. It only runs while nothing is in flight.
func (e *Engine) autotune(rx int) {
	if rx <= 0 || !e.wf.IsIdle() || e.feederBusy {
		return
	}
	cc, ok := e.sender.Protocol().(*sender.CharCounting)
	if !ok || cc.Outstanding() != 0 {
		return
	}
	margin := defaultBufferMargin
	if m, ok := e.adapter.(interface{ BufferMargin() int }); ok {
		margin = m.BufferMargin()
	}
	if cc.Grow(rx - margin) {
		e.log.WithField("bufferSize", rx-margin).Debug("receive buffer size")
	}
}
