package workflow

import (
	"testing"

	"github.com/mastercactapus/cncd/machine"
	"github.com/stretchr/testify/assert"
)

func TestWorkflow(t *testing.T) {
	var got []Transition
	w := New(func(tr Transition) { got = append(got, tr) })
	assert.True(t, w.IsIdle())

	assert.False(t, w.Pause(nil), "pause from idle")
	assert.False(t, w.Resume(), "resume from idle")

	assert.True(t, w.Start())
	assert.True(t, w.IsRunning())
	assert.False(t, w.Start())

	reason := &machine.HoldReason{Data: "M0"}
	assert.True(t, w.Pause(reason))
	assert.True(t, w.IsPaused())

	assert.True(t, w.Resume())
	assert.True(t, w.Pause(nil))
	assert.True(t, w.Start(), "start from paused")
	assert.True(t, w.Stop())

	assert.Equal(t, []Transition{
		{Action: ActionStart, From: Idle, To: Running},
		{Action: ActionPause, From: Running, To: Paused, Reason: reason},
		{Action: ActionResume, From: Paused, To: Running},
		{Action: ActionPause, From: Running, To: Paused},
		{Action: ActionStart, From: Paused, To: Running},
		{Action: ActionStop, From: Running, To: Idle},
	}, got)
}

func TestWorkflow_StopIdempotent(t *testing.T) {
	var n int
	w := New(func(Transition) { n++ })
	w.Start()

	assert.True(t, w.Stop())
	once := w.State()
	assert.False(t, w.Stop())
	assert.Equal(t, once, w.State())
	assert.Equal(t, 2, n)
}
