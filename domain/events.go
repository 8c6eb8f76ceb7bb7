package domain

import "time"

// Event type names carried on the broadcast stream.
const (
	EventConnected        = "connected"
	EventTaskCreated      = "taskCreated"
	EventTaskUpdated      = "taskUpdated"
	EventTaskMoved        = "taskMoved"
	EventTaskDeleted      = "taskDeleted"
	EventConflictDetected = "conflictDetected"
)

// ConnectedEvent is the first event on a stream and tells the session the
// identifier it must echo on mutation requests for self-exclusion.
type ConnectedEvent struct {
	SessionID string `json:"sessionId"`
}

// TaskCreatedEvent announces a new task to other sessions.
type TaskCreatedEvent struct {
	Task      Task      `json:"task"`
	User      string    `json:"user"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskUpdatedEvent announces a non-move edit to other sessions.
type TaskUpdatedEvent struct {
	Task      Task      `json:"task"`
	User      string    `json:"user"`
	UserID    string    `json:"userId"`
	Action    Action    `json:"action"`
	Details   Details   `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskMovedEvent announces a column move. Receivers may never have seen the
// task before and must treat the embedded task as an upsert.
type TaskMovedEvent struct {
	TaskID    string    `json:"taskId"`
	TaskTitle string    `json:"taskTitle"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	FromTitle string    `json:"fromTitle"`
	ToTitle   string    `json:"toTitle"`
	User      string    `json:"user"`
	UserID    string    `json:"userId"`
	Task      Task      `json:"task"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskDeletedEvent announces a deletion to other sessions.
type TaskDeletedEvent struct {
	TaskID    string    `json:"taskId"`
	User      string    `json:"user"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskVersion is one candidate version of a task inside a conflict signal.
type TaskVersion struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Priority     Priority  `json:"priority"`
	LastModified time.Time `json:"lastModified"`
}

// ConflictDetectedEvent surfaces two divergent versions of a task to one
// session. The signal is a coarse heuristic and may be a false positive;
// receivers must require an explicit user decision before mutating the
// named task again.
type ConflictDetectedEvent struct {
	TaskID        string      `json:"taskId"`
	Task          string      `json:"task"`
	LocalVersion  TaskVersion `json:"localVersion"`
	RemoteVersion TaskVersion `json:"remoteVersion"`
	User          string      `json:"user"`
}
