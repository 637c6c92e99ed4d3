// Package eventtrigger runs configured G-code or shell commands when
// controller lifecycle events fire.
package eventtrigger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Kind says how an event's commands are carried out.
type Kind string

const (
	// System commands are handed to the task runner.
	System Kind = "system"
	// GCode commands are fed to the controller like the gcode command.
	GCode Kind = "gcode"
)

// Event binds a lifecycle event name, e.g. "sender:start", to commands.
type Event struct {
	ID       string `yaml:"id" json:"id"`
	Event    string `yaml:"event" json:"event"`
	Trigger  Kind   `yaml:"trigger" json:"trigger"`
	Commands string `yaml:"commands" json:"commands"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
}

// Handler carries out the commands of a matched event.
type Handler func(event string, trigger Kind, commands string)

type Trigger struct {
	events  func() []Event
	handler Handler
	log     *logrus.Entry
}

// New returns a Trigger that reads the configured events on every call, so
// configuration changes apply without rebuilding it.
func New(events func() []Event, handler Handler, log *logrus.Entry) *Trigger {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Trigger{events: events, handler: handler, log: log}
}

// Trigger runs every enabled event configured for name.
func (t *Trigger) Trigger(name string) {
	if t == nil || t.events == nil || t.handler == nil {
		return
	}
	for _, e := range t.events() {
		if !e.Enabled || e.Event != name {
			continue
		}
		commands := strings.TrimSpace(e.Commands)
		if commands == "" {
			continue
		}
		t.log.WithFields(logrus.Fields{
			"event":   name,
			"trigger": e.Trigger,
		}).Debugf("event trigger: %q", commands)
		t.handler(name, e.Trigger, commands)
	}
}
