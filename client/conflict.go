package client

import (
	"time"

	"collab-board/domain"
)

// Resolution is the user's decision for an open conflict.
type Resolution int

const (
	// KeepLocal resubmits the local version of the task.
	KeepLocal Resolution = iota
	// AcceptRemote adopts the remote version and drops local edits.
	AcceptRemote
	// Merge resubmits fields the user reconciled by hand.
	Merge
)

// Conflict is an unresolved conflict warning for one task.
type Conflict struct {
	domain.ConflictDetectedEvent
	DetectedAt time.Time
}

// Resolver tracks open conflicts. A task with an open conflict refuses
// further mutations until the user records an explicit decision; the
// warning itself may be a false positive, the pause is still mandatory.
type Resolver struct {
	open map[string]Conflict
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{open: make(map[string]Conflict)}
}

// Record registers a conflict warning. A second warning for the same task
// replaces the first.
func (r *Resolver) Record(ev domain.ConflictDetectedEvent) {
	r.open[ev.TaskID] = Conflict{ConflictDetectedEvent: ev, DetectedAt: time.Now()}
}

// Blocked reports whether the task has an unresolved conflict.
func (r *Resolver) Blocked(taskID string) bool {
	_, ok := r.open[taskID]
	return ok
}

// Get returns the open conflict for the task.
func (r *Resolver) Get(taskID string) (Conflict, bool) {
	c, ok := r.open[taskID]
	return c, ok
}

// Clear removes the conflict after a decision was applied.
func (r *Resolver) Clear(taskID string) {
	delete(r.open, taskID)
}

// Open returns the task ids with unresolved conflicts.
func (r *Resolver) Open() []string {
	ids := make([]string, 0, len(r.open))
	for id := range r.open {
		ids = append(ids, id)
	}
	return ids
}
