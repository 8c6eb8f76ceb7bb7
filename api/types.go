package api

import (
	"context"

	"collab-board/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FindTask(ctx context.Context, id string) (domain.Task, error)
	InsertTask(ctx context.Context, task domain.Task) error
	UpdateTask(ctx context.Context, task domain.Task) error
	DeleteTask(ctx context.Context, task domain.Task) error
	ListAccessibleTasks(ctx context.Context, userID string) ([]domain.Task, error)
	AppendActivity(ctx context.Context, activity domain.Activity, task domain.Task) error
	ListActivities(ctx context.Context, userID string, limit int) ([]domain.Activity, error)
	FindUser(ctx context.Context, id string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.UserRef, error)
}

// Authenticator is implemented by types able to extract the caller identity
// from an Authorization header.
type Authenticator interface {
	IdentityFromAuthHeader(string) (domain.UserRef, error)
}

// Publisher fans a server event out to every connected stream session except
// the excluded one. Delivery is best effort and never blocks the caller.
type Publisher interface {
	Publish(event string, payload any, excludeSession string)
}

// ConflictSignaler may emit a conflict warning to the mutating session after
// a successful update.
type ConflictSignaler interface {
	MaybeSignal(ctx context.Context, actor domain.UserRef, sessionID string)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
