package domain

import "time"

// Status identifies the board column a task lives in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inProgress"
	StatusDone       Status = "done"
)

// Statuses lists every valid status in board order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

// Valid reports whether s is one of the enumerated statuses. Any-to-any
// transitions between valid statuses are permitted; there is no terminal
// state.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// ColumnTitle returns the display title of the column for s.
func (s Status) ColumnTitle() string {
	switch s {
	case StatusTodo:
		return "To Do"
	case StatusInProgress:
		return "In Progress"
	case StatusDone:
		return "Done"
	}
	return string(s)
}

// Priority is the urgency level of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the enumerated priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

const (
	TitleMaxLen       = 200
	DescriptionMaxLen = 1000
)

// UserRef carries the minimal display fields of a referenced user.
// Sensitive user fields never appear here.
type UserRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

// User is a directory entry. Only active users may be assigned tasks.
type User struct {
	UserRef
	Active bool `json:"-"`
}

// Task represents a single board item.
//
// CreatedBy is set at creation and never changes afterwards. AssignedTo is
// nil when the task is unassigned.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	CreatedBy   UserRef    `json:"createdBy"`
	AssignedTo  *UserRef   `json:"assignedTo"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// CanAccess reports whether userID may read or update the task. A task is
// accessible only to its creator and its current assignee.
func (t Task) CanAccess(userID string) bool {
	if t.CreatedBy.ID == userID {
		return true
	}
	return t.AssignedTo != nil && t.AssignedTo.ID == userID
}
