// Package events carries signal state changes to interested consumers: the
// websocket status stream, the optional NATS publisher, and tests. Events
// flow through an in-process bus; slow consumers lose old events rather than
// stalling the controller.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/tiagofranzen/pi-traffic-light/phase"
)

// Type discriminates event payloads
type Type string

// Event types emitted by the controller
const (
	TypeTransition Type = "signal.transition"
	TypeModeSwitch Type = "mode.switch"
)

// Transition describes one color change on one approach
type Transition struct {
	Approach phase.Approach `json:"approach"`
	From     phase.Color    `json:"from"`
	To       phase.Color    `json:"to"`
}

// ModeSwitch describes a change of the active mode
type ModeSwitch struct {
	From string `json:"from"`
	To   string `json:"to"`
	Plan string `json:"plan"`
}

// Event is one controller occurrence. Exactly one payload pointer is set.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Transition *Transition `json:"transition,omitempty"`
	ModeSwitch *ModeSwitch `json:"mode_switch,omitempty"`
}

// NewTransition creates a transition event
func NewTransition(t phase.Transition) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      TypeTransition,
		Timestamp: t.At,
		Transition: &Transition{
			Approach: t.Approach,
			From:     t.From,
			To:       t.To,
		},
	}
}

// NewModeSwitch creates a mode switch event
func NewModeSwitch(from, to, plan string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeModeSwitch,
		Timestamp:  at,
		ModeSwitch: &ModeSwitch{From: from, To: to, Plan: plan},
	}
}
