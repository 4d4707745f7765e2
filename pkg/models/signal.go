package models

import "time"

// SignalActionType enumerates what a signal pass may decide per finding.
type SignalActionType string

const (
	ActionCreateEmergent  SignalActionType = "create_signal_emergent"
	ActionTriggerExisting SignalActionType = "trigger_existing"
	ActionNone            SignalActionType = "no_action"
)

// Valid reports whether a names a known action.
func (a SignalActionType) Valid() bool {
	switch a {
	case ActionCreateEmergent, ActionTriggerExisting, ActionNone:
		return true
	}
	return false
}

// SignalAction is one decision parsed out of a signal pass response.
type SignalAction struct {
	Action          SignalActionType `json:"action"`
	DeliverableType string           `json:"deliverable_type,omitempty"`
	DeliverableID   string           `json:"deliverable_id,omitempty"`
	Title           string           `json:"title,omitempty"`
	Prompt          string           `json:"prompt,omitempty"`
	SignalRef       string           `json:"signal_ref,omitempty"`
	Confidence      float64          `json:"confidence"`
	Reasoning       string           `json:"reasoning,omitempty"`
}

// SignalRecord is a row in the signal dedup history. DeliverableType plus
// SignalRef identify a finding; repeats inside the dedup window are dropped.
type SignalRecord struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	DeliverableType string    `json:"deliverable_type"`
	SignalRef       string    `json:"signal_ref"`
	DeliverableID   string    `json:"deliverable_id,omitempty"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
