package controller

import (
	"time"

	"github.com/mastercactapus/cncd/sender"
)

// poll runs on every tick of the engine loop.
func (e *Engine) poll() {
	if !e.open {
		return
	}

	if st := e.feeder.Peek(); e.lastFeeder == nil || *e.lastFeeder != st || st.Pending {
		e.lastFeeder = &st
		e.broadcast(FeederStatus{Status: st})
	}
	if e.sender.Loaded() {
		e.broadcast(SenderStatus{Status: e.sender.Peek()})
	}
	e.publish()

	wpos := e.adapter.WorkPosition()
	zeroOffset := e.pollWPos == wpos
	e.pollWPos = wpos

	if e.ready {
		for _, q := range e.queries {
			e.query(q)
		}
	}

	e.checkFinished(zeroOffset)
}

// query sends q unless an earlier one is still unanswered or it was sent
// too recently.
func (e *Engine) query(q *queryMask) {
	now := e.opt.Now()

	if q.pending && q.Timeout > 0 && now.Sub(q.sentAt) >= q.Timeout {
		if !q.ClearWhenIdle || (e.wf.IsIdle() && e.adapter.IsIdle()) {
			e.log.WithField("query", q.Name).Debug("query timed out")
			q.pending, q.reply = false, false
		}
	}
	if q.pending || q.reply {
		return
	}
	if q.MinInterval > 0 && !q.sentAt.IsZero() && now.Sub(q.sentAt) < q.MinInterval {
		return
	}

	if !q.Realtime {
		// a line query needs its own "ok", which must not interleave with
		// lines that only allow one in flight
		_, cc := e.sender.Protocol().(*sender.CharCounting)
		if e.feederBusy || (!cc && e.sender.Outstanding() > 0) {
			return
		}
	}

	q.pending = true
	q.sentAt = now
	e.write(q.Data)
}

// checkFinished stops the workflow once every program line was answered
// and the machine has come to rest.
func (e *Engine) checkFinished(zeroOffset bool) {
	if e.finishTime.IsZero() {
		return
	}
	now := e.opt.Now()
	if !zeroOffset || !e.adapter.IsIdle() {
		e.finishTime = now
		return
	}
	if now.Sub(e.finishTime) < finishTolerance {
		return
	}
	e.finishTime = time.Time{}
	e.log.WithField("name", e.sender.Name()).Info("program finished")
	e.stop(false)
}
