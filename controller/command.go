package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/mastercactapus/cncd/expression"
	"github.com/mastercactapus/cncd/gcode"
)

// Command is one of the command types in this file.
type Command interface {
	Name() string
	command()
}

type (
	SenderLoadCmd struct {
		Program string             `json:"name"`
		Content string             `json:"content"`
		Context expression.Context `json:"context"`
	}
	SenderUnloadCmd struct{}
	SenderStartCmd  struct{}
	SenderStopCmd   struct {
		Force bool `json:"force"`
	}
	SenderPauseCmd  struct{}
	SenderResumeCmd struct{}

	FeederStartCmd struct{}
	FeederStopCmd  struct{}

	FeedHoldCmd   struct{}
	CycleStartCmd struct{}
	HomingCmd     struct{}
	SleepCmd      struct{}
	UnlockCmd     struct{}
	ResetCmd      struct{}

	OverrideFeedCmd struct {
		Delta int `json:"value"`
	}
	OverrideSpindleCmd struct {
		Delta int `json:"value"`
	}
	OverrideRapidCmd struct {
		Value int `json:"value"`
	}

	// LaserTestCmd fires the laser at Power percent of MaxS for Duration milliseconds.
	LaserTestCmd struct {
		Power    float64 `json:"power"`
		Duration float64 `json:"duration"`
		MaxS     float64 `json:"maxS"`
	}

	GCodeCmd struct {
		Lines   []string
		Context expression.Context
	}

	MacroRunCmd struct {
		ID      string             `json:"id"`
		Context expression.Context `json:"context"`
	}
	MacroLoadCmd struct {
		ID      string             `json:"id"`
		Context expression.Context `json:"context"`
	}

	LoadFileCmd struct {
		File    string             `json:"file"`
		Context expression.Context `json:"context"`
	}

	ProbeZCmd struct {
		gcode.ProbeOptions
	}

	MotorEnableCmd struct {
		Timeout float64 `json:"timeout"`
	}
	MotorDisableCmd struct{}
	MotorTimeoutCmd struct {
		Seconds float64 `json:"seconds"`
	}
)

func (SenderLoadCmd) Name() string      { return "sender:load" }
func (SenderUnloadCmd) Name() string    { return "sender:unload" }
func (SenderStartCmd) Name() string     { return "sender:start" }
func (SenderStopCmd) Name() string      { return "sender:stop" }
func (SenderPauseCmd) Name() string     { return "sender:pause" }
func (SenderResumeCmd) Name() string    { return "sender:resume" }
func (FeederStartCmd) Name() string     { return "feeder:start" }
func (FeederStopCmd) Name() string      { return "feeder:stop" }
func (FeedHoldCmd) Name() string        { return "feedhold" }
func (CycleStartCmd) Name() string      { return "cyclestart" }
func (HomingCmd) Name() string          { return "homing" }
func (SleepCmd) Name() string           { return "sleep" }
func (UnlockCmd) Name() string          { return "unlock" }
func (ResetCmd) Name() string           { return "reset" }
func (OverrideFeedCmd) Name() string    { return "override:feed" }
func (OverrideSpindleCmd) Name() string { return "override:spindle" }
func (OverrideRapidCmd) Name() string   { return "override:rapid" }
func (LaserTestCmd) Name() string       { return "lasertest" }
func (GCodeCmd) Name() string           { return "gcode" }
func (MacroRunCmd) Name() string        { return "macro:run" }
func (MacroLoadCmd) Name() string       { return "macro:load" }
func (LoadFileCmd) Name() string        { return "watchdir:load" }
func (ProbeZCmd) Name() string          { return "probe:z" }
func (MotorEnableCmd) Name() string     { return "motor:enable" }
func (MotorDisableCmd) Name() string    { return "motor:disable" }
func (MotorTimeoutCmd) Name() string    { return "motor:timeout" }

func (SenderLoadCmd) command()      {}
func (SenderUnloadCmd) command()    {}
func (SenderStartCmd) command()     {}
func (SenderStopCmd) command()      {}
func (SenderPauseCmd) command()     {}
func (SenderResumeCmd) command()    {}
func (FeederStartCmd) command()     {}
func (FeederStopCmd) command()      {}
func (FeedHoldCmd) command()        {}
func (CycleStartCmd) command()      {}
func (HomingCmd) command()          {}
func (SleepCmd) command()           {}
func (UnlockCmd) command()          {}
func (ResetCmd) command()           {}
func (OverrideFeedCmd) command()    {}
func (OverrideSpindleCmd) command() {}
func (OverrideRapidCmd) command()   {}
func (LaserTestCmd) command()       {}
func (GCodeCmd) command()           {}
func (MacroRunCmd) command()        {}
func (MacroLoadCmd) command()       {}
func (LoadFileCmd) command()        {}
func (ProbeZCmd) command()          {}
func (MotorEnableCmd) command()     {}
func (MotorDisableCmd) command()    {}
func (MotorTimeoutCmd) command()    {}

// UnmarshalJSON accepts commands as a string or a list of strings. Either
// may hold several lines.
func (c *GCodeCmd) UnmarshalJSON(data []byte) error {
	var raw struct {
		Commands json.RawMessage    `json:"commands"`
		Context  expression.Context `json:"context"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Context = raw.Context

	var list []string
	switch {
	case len(raw.Commands) == 0 || bytes.Equal(raw.Commands, []byte("null")):
	case raw.Commands[0] == '[':
		if err := json.Unmarshal(raw.Commands, &list); err != nil {
			return err
		}
	default:
		var s string
		if err := json.Unmarshal(raw.Commands, &s); err != nil {
			return err
		}
		list = []string{s}
	}
	c.Lines = splitLines(list)
	return nil
}

// splitLines joins and re-splits commands into non-blank lines.
func splitLines(commands []string) []string {
	var res []string
	for _, l := range strings.Split(strings.Join(commands, "\n"), "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		res = append(res, l)
	}
	return res
}

var commandTypes = map[string]func() Command{
	"sender:load":      func() Command { return &SenderLoadCmd{} },
	"sender:unload":    func() Command { return &SenderUnloadCmd{} },
	"sender:start":     func() Command { return &SenderStartCmd{} },
	"sender:stop":      func() Command { return &SenderStopCmd{} },
	"sender:pause":     func() Command { return &SenderPauseCmd{} },
	"sender:resume":    func() Command { return &SenderResumeCmd{} },
	"feeder:start":     func() Command { return &FeederStartCmd{} },
	"feeder:stop":      func() Command { return &FeederStopCmd{} },
	"feedhold":         func() Command { return &FeedHoldCmd{} },
	"cyclestart":       func() Command { return &CycleStartCmd{} },
	"homing":           func() Command { return &HomingCmd{} },
	"sleep":            func() Command { return &SleepCmd{} },
	"unlock":           func() Command { return &UnlockCmd{} },
	"reset":            func() Command { return &ResetCmd{} },
	"override:feed":    func() Command { return &OverrideFeedCmd{} },
	"override:spindle": func() Command { return &OverrideSpindleCmd{} },
	"override:rapid":   func() Command { return &OverrideRapidCmd{} },
	"lasertest":        func() Command { return &LaserTestCmd{MaxS: 1000} },
	"gcode":            func() Command { return &GCodeCmd{} },
	"macro:run":        func() Command { return &MacroRunCmd{} },
	"macro:load":       func() Command { return &MacroLoadCmd{} },
	"watchdir:load":    func() Command { return &LoadFileCmd{} },
	"probe:z":          func() Command { return &ProbeZCmd{} },
	"motor:enable":     func() Command { return &MotorEnableCmd{} },
	"motor:disable":    func() Command { return &MotorDisableCmd{} },
	"motor:timeout":    func() Command { return &MotorTimeoutCmd{} },
}

// ParseCommand decodes a command from its wire name and JSON arguments.
// Empty arguments leave every field at its default.
func ParseCommand(name string, args []byte) (Command, error) {
	newCmd, ok := commandTypes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	ptr := newCmd()
	if len(bytes.TrimSpace(args)) > 0 {
		if err := json.Unmarshal(args, ptr); err != nil {
			return nil, fmt.Errorf("%s: decode arguments: %w", name, err)
		}
	}
	return deref(ptr), nil
}

// deref returns the command by value so type switches see one form.
func deref(c Command) Command {
	return reflect.ValueOf(c).Elem().Interface().(Command)
}
