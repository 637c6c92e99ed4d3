// Package controller binds a transport and a firmware adapter to the
// feeder, sender and workflow, and fans the result out to observers.
package controller

import (
	"errors"
	"fmt"

	"github.com/mastercactapus/cncd/machine"
	"github.com/mastercactapus/cncd/machine/grbl"
	"github.com/mastercactapus/cncd/machine/marlin"
	"github.com/mastercactapus/cncd/machine/smoothie"
	"github.com/mastercactapus/cncd/machine/tinyg"
)

var (
	ErrUnknownCommand    = errors.New("unknown command")
	ErrUnknownController = errors.New("unknown controller type")
	ErrClosed            = errors.New("connection closed")
	ErrNotReady          = errors.New("controller not ready")
	ErrMacroNotFound     = errors.New("macro not found")
	ErrSenderBusy        = errors.New("sender is running")
)

// Types lists the supported controller types.
var Types = []string{grbl.Type, marlin.Type, smoothie.Type, tinyg.Type}

// NewAdapter returns a fresh adapter for a controller type.
func NewAdapter(controllerType string) (machine.Adapter, error) {
	switch controllerType {
	case grbl.Type:
		return grbl.NewAdapter(), nil
	case marlin.Type:
		return marlin.NewAdapter(), nil
	case smoothie.Type:
		return smoothie.NewAdapter(), nil
	case tinyg.Type:
		return tinyg.NewAdapter(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownController, controllerType)
}

// Macro is a stored G-code snippet.
type Macro struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Content string `json:"content" yaml:"content"`
}

// MacroStore looks up macros by ID.
type MacroStore interface {
	Macro(id string) (Macro, bool)
}

// TaskRunner starts a shell command without waiting for it.
type TaskRunner interface {
	Run(command string) string
}

// FileSource reads programs by name, e.g. from a watched directory.
type FileSource interface {
	ReadFile(name string) ([]byte, error)
}
