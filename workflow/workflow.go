// Package workflow gates program streaming with an idle/paused/running state machine.
package workflow

import "github.com/mastercactapus/cncd/machine"

type State string

const (
	Idle    State = "idle"
	Paused  State = "paused"
	Running State = "running"
)

type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
)

// Transition describes a state change. Reason is only set for ActionPause.
type Transition struct {
	Action   Action
	From, To State
	Reason   *machine.HoldReason
}

// Workflow only tracks state; the side effects of each transition belong to
// whoever handles OnChange. It is not safe for concurrent use.
type Workflow struct {
	state    State
	onChange func(Transition)
}

func New(onChange func(Transition)) *Workflow {
	if onChange == nil {
		onChange = func(Transition) {}
	}
	return &Workflow{state: Idle, onChange: onChange}
}

func (w *Workflow) State() State     { return w.state }
func (w *Workflow) IsIdle() bool     { return w.state == Idle }
func (w *Workflow) IsPaused() bool   { return w.state == Paused }
func (w *Workflow) IsRunning() bool  { return w.state == Running }
func (w *Workflow) String() string   { return string(w.state) }

func (w *Workflow) move(a Action, to State, reason *machine.HoldReason) bool {
	if w.state == to {
		return false
	}
	t := Transition{Action: a, From: w.state, To: to, Reason: reason}
	w.state = to
	w.onChange(t)
	return true
}

// Start moves an idle or paused workflow to running.
func (w *Workflow) Start() bool {
	return w.move(ActionStart, Running, nil)
}

// Pause is only valid while running.
func (w *Workflow) Pause(reason *machine.HoldReason) bool {
	if w.state != Running {
		return false
	}
	return w.move(ActionPause, Paused, reason)
}

// Resume is only valid while paused.
func (w *Workflow) Resume() bool {
	if w.state != Paused {
		return false
	}
	return w.move(ActionResume, Running, nil)
}

// Stop returns to idle from any state. Stopping an idle workflow does nothing
// and reports false.
func (w *Workflow) Stop() bool {
	return w.move(ActionStop, Idle, nil)
}
