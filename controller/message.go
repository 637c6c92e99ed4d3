package controller

import (
	"github.com/mastercactapus/cncd/expression"
	"github.com/mastercactapus/cncd/feeder"
	"github.com/mastercactapus/cncd/machine"
	"github.com/mastercactapus/cncd/sender"
	"github.com/mastercactapus/cncd/workflow"
)

// Identity names one live connection.
type Identity struct {
	ID         string                 `json:"id"`
	Controller string                 `json:"controllerType"`
	Type       string                 `json:"type"`
	Settings   map[string]interface{} `json:"settings"`
}

// Observer receives every message an engine broadcasts. Notify is called
// from the engine goroutine and must not block.
type Observer interface {
	ObserverID() string
	Notify(Message)
}

// Message is one of the types in this file.
type Message interface {
	Event() string
}

// Write sources.
const (
	SourceClient = "client"
	SourceFeeder = "feeder"
)

type ControllerType struct {
	Type string `json:"type"`
}

type ControllerState struct {
	Type  string         `json:"type"`
	State *machine.State `json:"state"`
}

type ControllerSettings struct {
	Type     string            `json:"type"`
	Settings *machine.Settings `json:"settings"`
}

type ConnectionOpen struct{ Identity }

type ConnectionClose struct{ Identity }

// ConnectionChange is broadcast by the Registry when a connection opens or closes.
type ConnectionChange struct {
	Identity
	Open bool `json:"open"`
}

type ConnectionError struct {
	Identity
	Err string `json:"err"`
}

type ConnectionRead struct {
	Identity
	Data string `json:"data"`
}

type ConnectionWrite struct {
	Identity
	Data    string             `json:"data"`
	Source  string             `json:"source"`
	Context expression.Context `json:"context,omitempty"`
}

type FeederStatus struct{ feeder.Status }

type SenderStatus struct{ sender.Status }

type SenderLoad struct {
	Name    string             `json:"name"`
	Content string             `json:"content"`
	Context expression.Context `json:"context"`
}

type SenderUnload struct{}

type WorkflowState struct {
	State workflow.State `json:"state"`
}

func (ControllerType) Event() string     { return "controller:type" }
func (ControllerState) Event() string    { return "controller:state" }
func (ControllerSettings) Event() string { return "controller:settings" }
func (ConnectionOpen) Event() string     { return "connection:open" }
func (ConnectionClose) Event() string    { return "connection:close" }
func (ConnectionChange) Event() string   { return "connection:change" }
func (ConnectionError) Event() string    { return "connection:error" }
func (ConnectionRead) Event() string     { return "connection:read" }
func (ConnectionWrite) Event() string    { return "connection:write" }
func (FeederStatus) Event() string       { return "feeder:status" }
func (SenderStatus) Event() string       { return "sender:status" }
func (SenderLoad) Event() string         { return "sender:load" }
func (SenderUnload) Event() string       { return "sender:unload" }
func (WorkflowState) Event() string      { return "workflow:state" }
