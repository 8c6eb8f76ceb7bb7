package api

import (
	"errors"

	"collab-board/domain"
)

// Operation names a mutation kind for access checks.
type Operation int

const (
	OpCreate Operation = iota
	OpUpdate
	OpDelete
)

var (
	errAccessDenied       = errors.New("access denied")
	errDeleteAccessDenied = errors.New("only the task creator can delete a task")
)

// authorize decides whether the actor may perform op on the task. Creation
// is always allowed, updates require the actor to be the creator or the
// assignee, deletion is reserved to the creator.
func authorize(task domain.Task, actorID string, op Operation) error {
	switch op {
	case OpCreate:
		return nil
	case OpUpdate:
		if !task.CanAccess(actorID) {
			return errAccessDenied
		}
		return nil
	case OpDelete:
		if task.CreatedBy.ID != actorID {
			return errDeleteAccessDenied
		}
		return nil
	default:
		return errAccessDenied
	}
}
