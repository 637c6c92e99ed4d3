package controller

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mastercactapus/cncd/machine"
)

// Execute runs a command on the engine goroutine. Commands that load a
// program return the new sender status; the rest return nil.
func (e *Engine) Execute(ctx context.Context, cmd Command) (interface{}, error) {
	if cmd == nil {
		return nil, ErrUnknownCommand
	}
	if reflect.ValueOf(cmd).Kind() == reflect.Ptr {
		cmd = deref(cmd)
	}

	// read outside the engine goroutine
	if c, ok := cmd.(LoadFileCmd); ok {
		if e.opt.Files == nil {
			return nil, fmt.Errorf("%s: no watch directory", c.Name())
		}
		data, err := e.opt.Files.ReadFile(c.File)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name(), err)
		}
		cmd = SenderLoadCmd{Program: c.File, Content: string(data), Context: c.Context}
	}

	var (
		res interface{}
		err error
	)
	xerr := e.exec(ctx, func() {
		if !e.open {
			err = ErrNotReady
			return
		}
		e.log.WithField("cmd", cmd.Name()).Debug("execute")
		res, err = e.execute(cmd)
	})
	if xerr != nil {
		return nil, xerr
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return res, nil
}

func (e *Engine) execute(cmd Command) (interface{}, error) {
	switch c := cmd.(type) {
	case SenderLoadCmd:
		if e.wf.IsRunning() {
			return nil, ErrSenderBusy
		}
		if err := e.load(c.Program, c.Content, c.Context); err != nil {
			return nil, err
		}
		return e.sender.Peek(), nil

	case SenderUnloadCmd:
		if e.wf.IsRunning() {
			return nil, ErrSenderBusy
		}
		e.unload()

	case SenderStartCmd:
		if !e.sender.Loaded() {
			return nil, fmt.Errorf("%w: no program loaded", ErrNotReady)
		}
		e.trigger.Trigger("sender:start")
		e.wf.Start()
		e.feeder.Reset()
		e.dispatch()

	case SenderStopCmd:
		e.trigger.Trigger("sender:stop")
		e.stop(c.Force)

	case SenderPauseCmd:
		e.trigger.Trigger("sender:pause")
		e.wf.Pause(nil)
		e.writeOutputs(e.adapter.Pause())

	case SenderResumeCmd:
		e.trigger.Trigger("sender:resume")
		e.writeOutputs(e.adapter.Resume())
		e.wf.Resume()

	case FeederStartCmd:
		if e.wf.IsRunning() {
			return nil, nil
		}
		e.writeOutputs(e.adapter.CycleStart())
		e.feeder.Unhold()
		e.dispatch()

	case FeederStopCmd:
		e.feeder.Reset()
		e.feederBusy = false

	case FeedHoldCmd:
		e.trigger.Trigger("feedhold")
		e.writeOutputs(e.adapter.FeedHold())

	case CycleStartCmd:
		e.trigger.Trigger("cyclestart")
		e.writeOutputs(e.adapter.CycleStart())

	case HomingCmd:
		e.trigger.Trigger("homing")
		return nil, e.writeVocab(e.adapter.Homing())

	case SleepCmd:
		e.trigger.Trigger("sleep")
		return nil, e.writeVocab(e.adapter.Sleep())

	case UnlockCmd:
		return nil, e.writeVocab(e.adapter.Unlock())

	case ResetCmd:
		e.wf.Stop()
		e.feeder.Reset()
		e.feederBusy = false
		e.writeOutputs(e.adapter.SoftReset())

	case OverrideFeedCmd:
		return nil, e.writeVocab(e.adapter.OverrideFeed(c.Delta))
	case OverrideSpindleCmd:
		return nil, e.writeVocab(e.adapter.OverrideSpindle(c.Delta))
	case OverrideRapidCmd:
		return nil, e.writeVocab(e.adapter.OverrideRapid(c.Value))

	case LaserTestCmd:
		e.writeOutputs(e.adapter.LaserTest(c.Power, c.Duration, c.MaxS))

	case GCodeCmd:
		e.feed(c.Lines, c.Context)

	case MacroRunCmd:
		m, err := e.macro(c.ID)
		if err != nil {
			return nil, err
		}
		e.trigger.Trigger("macro:run")
		e.feed(splitLines([]string{m.Content}), c.Context)

	case MacroLoadCmd:
		m, err := e.macro(c.ID)
		if err != nil {
			return nil, err
		}
		if e.wf.IsRunning() {
			return nil, ErrSenderBusy
		}
		e.trigger.Trigger("macro:load")
		if err := e.load(m.Name, m.Content, c.Context); err != nil {
			return nil, err
		}
		return e.sender.Peek(), nil

	case ProbeZCmd:
		if err := c.Validate(); err != nil {
			return nil, err
		}
		var lines []string
		for _, b := range c.ProbeZ(e.adapter.MachinePosition().Z) {
			lines = append(lines, b.String())
		}
		e.feed(lines, nil)

	case MotorEnableCmd:
		mc, err := e.motors()
		if err != nil {
			return nil, err
		}
		e.writeOutputs(mc.MotorEnable(c.Timeout))
	case MotorDisableCmd:
		mc, err := e.motors()
		if err != nil {
			return nil, err
		}
		e.writeOutputs(mc.MotorDisable())
	case MotorTimeoutCmd:
		mc, err := e.motors()
		if err != nil {
			return nil, err
		}
		return nil, e.writeVocab(mc.MotorTimeout(c.Seconds))

	default:
		return nil, ErrUnknownCommand
	}
	return nil, nil
}

// writeVocab writes out unless the firmware refused the command.
func (e *Engine) writeVocab(out []machine.Output, err error) error {
	if err != nil {
		return err
	}
	e.writeOutputs(out)
	return nil
}

// stop halts the program. The adapter's plan may need a second step once
// the machine has reacted to the first.
func (e *Engine) stop(force bool) {
	plan := e.adapter.Stop(force)
	e.wf.Stop()
	// a finished program is idle already but still needs rewinding
	e.sender.Rewind()
	e.writeOutputs(plan.Now)
	if plan.Later != nil {
		later := plan.Later
		e.after(plan.After, func() {
			if e.open {
				e.writeOutputs(later(e.adapter.State()))
			}
		})
	}
}

func (e *Engine) macro(id string) (Macro, error) {
	if e.opt.Macros == nil {
		return Macro{}, fmt.Errorf("%w: %s", ErrMacroNotFound, id)
	}
	m, ok := e.opt.Macros.Macro(id)
	if !ok {
		return Macro{}, fmt.Errorf("%w: %s", ErrMacroNotFound, id)
	}
	return m, nil
}

func (e *Engine) motors() (machine.MotorController, error) {
	mc, ok := e.adapter.(machine.MotorController)
	if !ok {
		return nil, fmt.Errorf("motor control: %w", machine.ErrUnsupported)
	}
	return mc, nil
}
