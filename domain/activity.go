package domain

import (
	"time"

	"github.com/bytedance/sonic"
)

// Action classifies what a mutation did to a task. A single mutation is
// recorded with exactly one action; a status change wins over any other
// field change.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionMoved     Action = "moved"
	ActionDeleted   Action = "deleted"
	ActionAssigned  Action = "assigned"
	ActionCompleted Action = "completed"
)

// Moved describes a column move.
type Moved struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

// FieldUpdated describes a single-field edit.
type FieldUpdated struct {
	Field    string `json:"field"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

// Assigned records the user a task was handed to at creation or
// reassignment time.
type Assigned struct {
	AssignedUser string `json:"assignedUser"`
}

// Details is the action-specific payload of an activity. At most one arm is
// set; all nil means an empty details object. The wire shape is the flat
// details object the dashboard expects, not a discriminated envelope.
type Details struct {
	Moved        *Moved
	FieldUpdated *FieldUpdated
	Assigned     *Assigned
}

// MovedDetails builds the details payload for a column move.
func MovedDetails(from, to Status) Details {
	return Details{Moved: &Moved{From: from, To: to}}
}

// FieldUpdatedDetails builds the details payload for a single-field edit.
func FieldUpdatedDetails(field, oldValue, newValue string) Details {
	return Details{FieldUpdated: &FieldUpdated{Field: field, OldValue: oldValue, NewValue: newValue}}
}

// AssignedDetails builds the details payload for an assignment.
func AssignedDetails(userID string) Details {
	return Details{Assigned: &Assigned{AssignedUser: userID}}
}

func (d Details) MarshalJSON() ([]byte, error) {
	switch {
	case d.Moved != nil:
		return sonic.Marshal(d.Moved)
	case d.FieldUpdated != nil:
		return sonic.Marshal(d.FieldUpdated)
	case d.Assigned != nil:
		return sonic.Marshal(d.Assigned)
	}
	return []byte("{}"), nil
}

func (d *Details) UnmarshalJSON(data []byte) error {
	var probe struct {
		From         *Status `json:"from"`
		To           *Status `json:"to"`
		Field        *string `json:"field"`
		OldValue     string  `json:"oldValue"`
		NewValue     string  `json:"newValue"`
		AssignedUser *string `json:"assignedUser"`
	}
	if err := sonic.Unmarshal(data, &probe); err != nil {
		return err
	}
	*d = Details{}
	switch {
	case probe.From != nil && probe.To != nil:
		d.Moved = &Moved{From: *probe.From, To: *probe.To}
	case probe.Field != nil:
		d.FieldUpdated = &FieldUpdated{Field: *probe.Field, OldValue: probe.OldValue, NewValue: probe.NewValue}
	case probe.AssignedUser != nil:
		d.Assigned = &Assigned{AssignedUser: *probe.AssignedUser}
	}
	return nil
}

// Activity is an immutable, append-only audit record of a task mutation.
// Activities are never updated or deleted once written.
type Activity struct {
	ID        string    `json:"id"`
	Actor     UserRef   `json:"user"`
	Action    Action    `json:"action"`
	TaskID    string    `json:"taskId,omitempty"`
	TaskTitle string    `json:"taskTitle"`
	Details   Details   `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}
