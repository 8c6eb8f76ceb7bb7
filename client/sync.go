package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"collab-board/domain"
)

// TaskAPI is the server surface the sync engine mutates through.
type TaskAPI interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (domain.Task, error)
	UpdateTask(ctx context.Context, taskID string, req UpdateTaskRequest) (domain.Task, domain.Activity, error)
	DeleteTask(ctx context.Context, taskID string) error
}

// SessionSetter is implemented by callers that tag mutations with the
// stream session id.
type SessionSetter interface {
	SetSessionID(id string)
}

// MutationState is the lifecycle of the most recent mutation of one task.
type MutationState int

const (
	StateIdle MutationState = iota
	StateOptimistic
	StateConfirmed
	StateRolledBack
)

var (
	// ErrConflictPending is returned when a task refuses mutations until its
	// conflict is resolved.
	ErrConflictPending = errors.New("task has an unresolved conflict")
	// ErrMutationPending is returned while a previous mutation of the same
	// task is still in flight.
	ErrMutationPending = errors.New("task mutation already in flight")
	// ErrUnknownTask is returned when the task is not on the local board.
	ErrUnknownTask = errors.New("task not on the board")
)

const feedLimit = 20

// outcomesLimit bounds the per-task mutation state map on long-lived clients.
const outcomesLimit = 256

// Notice is a user-facing message about a rollback or a conflict.
type Notice struct {
	TaskID    string
	TaskTitle string
	Message   string
}

// SyncEngine applies mutations optimistically: the board changes before the
// server answers, and a failed request restores the mutated task to its
// pre-mutation state. The rollback touches only that task, so broadcasts
// about other tasks merged while the request was in flight are kept.
// Inbound broadcasts merge into the board unless the task has a mutation in
// flight.
type SyncEngine struct {
	api    TaskAPI
	logger *log.Logger

	mu        sync.Mutex
	board     *Board
	resolver  *Resolver
	sessionID string
	pending   map[string]taskSnapshot
	outcomes  map[string]MutationState
	feed      []domain.Activity
	notices   []Notice
}

// NewSyncEngine creates a sync engine over the given API.
func NewSyncEngine(api TaskAPI, logger *log.Logger) *SyncEngine {
	return &SyncEngine{
		api:      api,
		logger:   logger,
		board:    NewBoard(),
		resolver: NewResolver(),
		pending:  make(map[string]taskSnapshot),
		outcomes: make(map[string]MutationState),
	}
}

// LoadBoard replaces the local board with a server snapshot.
func (e *SyncEngine) LoadBoard(grouped map[domain.Status][]domain.Task) {
	e.mu.Lock()
	e.board.Load(grouped)
	e.mu.Unlock()
}

// Tasks returns a copy of one column.
func (e *SyncEngine) Tasks(status domain.Status) []domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.board.Tasks(status)
}

// Activities returns a copy of the local activity feed, newest first.
func (e *SyncEngine) Activities() []domain.Activity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Activity{}, e.feed...)
}

// Notices drains the accumulated user notices.
func (e *SyncEngine) Notices() []Notice {
	e.mu.Lock()
	defer e.mu.Unlock()
	notices := e.notices
	e.notices = nil
	return notices
}

// State reports the mutation state of a task.
func (e *SyncEngine) State(taskID string) MutationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[taskID]; ok {
		return StateOptimistic
	}
	if state, ok := e.outcomes[taskID]; ok {
		return state
	}
	return StateIdle
}

// SessionID returns the stream session assigned by the server.
func (e *SyncEngine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Resolver exposes the conflict resolver for UI listing.
func (e *SyncEngine) Resolver() *Resolver {
	return e.resolver
}

// Reorder moves a task inside its column. Local only, nothing is sent.
func (e *SyncEngine) Reorder(status domain.Status, from, to int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.board.Reorder(status, from, to)
}

// CreateTask optimistically adds a provisional task to the todo column and
// swaps it for the server's canonical task on success.
func (e *SyncEngine) CreateTask(ctx context.Context, req CreateTaskRequest) error {
	title := strings.TrimSpace(req.Title)

	e.mu.Lock()
	provisional := domain.Task{
		ID:        "local-" + uuid.NewString(),
		Title:     title,
		Status:    domain.StatusTodo,
		Priority:  domain.PriorityMedium,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if req.Description != "" {
		provisional.Description = strings.TrimSpace(req.Description)
	}
	if req.Priority != "" {
		provisional.Priority = domain.Priority(req.Priority)
	}
	provisional.DueDate = req.DueDate
	snap := e.board.snapshotTask(provisional.ID)
	e.board.Upsert(provisional)
	e.pending[provisional.ID] = snap
	e.mu.Unlock()

	task, err := e.api.CreateTask(ctx, req)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, provisional.ID)
	if err != nil {
		e.board.restoreTask(provisional.ID, snap)
		e.setOutcome(provisional.ID, StateRolledBack)
		e.pushNotice(provisional.ID, title, fmt.Sprintf("Could not create %q, the change was undone", title))
		return err
	}
	e.board.Remove(provisional.ID)
	e.board.Upsert(task)
	e.setOutcome(task.ID, StateConfirmed)
	return nil
}

// MoveTask optimistically moves the task to another column.
func (e *SyncEngine) MoveTask(ctx context.Context, taskID string, to domain.Status) error {
	status := to
	return e.mutate(ctx, taskID, UpdateTaskRequest{Status: &status})
}

// UpdateTask optimistically applies a partial update.
func (e *SyncEngine) UpdateTask(ctx context.Context, taskID string, req UpdateTaskRequest) error {
	return e.mutate(ctx, taskID, req)
}

func (e *SyncEngine) mutate(ctx context.Context, taskID string, req UpdateTaskRequest) error {
	e.mu.Lock()
	if e.resolver.Blocked(taskID) {
		e.mu.Unlock()
		return ErrConflictPending
	}
	if _, inFlight := e.pending[taskID]; inFlight {
		e.mu.Unlock()
		return ErrMutationPending
	}
	task, ok := e.board.Find(taskID)
	if !ok {
		e.mu.Unlock()
		return ErrUnknownTask
	}
	snap := e.board.snapshotTask(taskID)
	local := task
	applyRequestLocally(&local, req)
	e.board.Upsert(local)
	e.pending[taskID] = snap
	delete(e.outcomes, taskID)
	e.mu.Unlock()

	canonical, activity, err := e.api.UpdateTask(ctx, taskID, req)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, taskID)
	if err != nil {
		e.board.restoreTask(taskID, snap)
		e.setOutcome(taskID, StateRolledBack)
		e.pushNotice(taskID, task.Title, fmt.Sprintf("Could not save changes to %q, your board was restored", task.Title))
		return err
	}
	e.board.Upsert(canonical)
	e.appendActivity(activity)
	e.setOutcome(taskID, StateConfirmed)
	return nil
}

// DeleteTask optimistically removes the task.
func (e *SyncEngine) DeleteTask(ctx context.Context, taskID string) error {
	e.mu.Lock()
	if e.resolver.Blocked(taskID) {
		e.mu.Unlock()
		return ErrConflictPending
	}
	if _, inFlight := e.pending[taskID]; inFlight {
		e.mu.Unlock()
		return ErrMutationPending
	}
	task, ok := e.board.Find(taskID)
	if !ok {
		e.mu.Unlock()
		return ErrUnknownTask
	}
	snap := e.board.snapshotTask(taskID)
	e.board.Remove(taskID)
	e.pending[taskID] = snap
	delete(e.outcomes, taskID)
	e.mu.Unlock()

	err := e.api.DeleteTask(ctx, taskID)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, taskID)
	if err != nil {
		e.board.restoreTask(taskID, snap)
		e.setOutcome(taskID, StateRolledBack)
		e.pushNotice(taskID, task.Title, fmt.Sprintf("Could not delete %q, your board was restored", task.Title))
		return err
	}
	e.setOutcome(taskID, StateConfirmed)
	return nil
}

// applyRequestLocally mirrors the server's partial-update semantics on a
// local task copy.
func applyRequestLocally(task *domain.Task, req UpdateTaskRequest) {
	if req.Title != nil {
		task.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		task.Description = strings.TrimSpace(*req.Description)
	}
	if req.Status != nil {
		task.Status = *req.Status
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if len(req.AssignedTo) > 0 {
		if string(req.AssignedTo) == "null" {
			task.AssignedTo = nil
		} else {
			var id string
			if sonic.Unmarshal(req.AssignedTo, &id) == nil && id != "" {
				task.AssignedTo = &domain.UserRef{ID: id}
			}
		}
	}
	if len(req.DueDate) > 0 {
		if string(req.DueDate) == "null" {
			task.DueDate = nil
		} else {
			var due time.Time
			if sonic.Unmarshal(req.DueDate, &due) == nil {
				task.DueDate = &due
			}
		}
	}
	task.UpdatedAt = time.Now().UTC()
}

// HandleEvent merges one broadcast event into local state. Events about
// tasks with a mutation in flight are skipped; the mutation response is the
// canonical outcome for those.
func (e *SyncEngine) HandleEvent(event string, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch event {
	case domain.EventConnected:
		var ev domain.ConnectedEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			e.logger.WithError(err).Warn("bad connected event")
			return
		}
		e.sessionID = ev.SessionID
		if setter, ok := e.api.(SessionSetter); ok {
			setter.SetSessionID(ev.SessionID)
		}
	case domain.EventTaskCreated:
		var ev domain.TaskCreatedEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			e.logger.WithError(err).Warn("bad taskCreated event")
			return
		}
		if _, inFlight := e.pending[ev.Task.ID]; inFlight {
			return
		}
		e.board.Upsert(ev.Task)
		e.appendActivity(domain.Activity{
			Actor:     domain.UserRef{ID: ev.UserID, Name: ev.User},
			Action:    domain.ActionCreated,
			TaskID:    ev.Task.ID,
			TaskTitle: ev.Task.Title,
			Timestamp: ev.Timestamp,
		})
	case domain.EventTaskUpdated:
		var ev domain.TaskUpdatedEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			e.logger.WithError(err).Warn("bad taskUpdated event")
			return
		}
		if _, inFlight := e.pending[ev.Task.ID]; inFlight {
			return
		}
		e.board.Upsert(ev.Task)
		e.appendActivity(domain.Activity{
			Actor:     domain.UserRef{ID: ev.UserID, Name: ev.User},
			Action:    ev.Action,
			TaskID:    ev.Task.ID,
			TaskTitle: ev.Task.Title,
			Details:   ev.Details,
			Timestamp: ev.Timestamp,
		})
	case domain.EventTaskMoved:
		var ev domain.TaskMovedEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			e.logger.WithError(err).Warn("bad taskMoved event")
			return
		}
		if _, inFlight := e.pending[ev.TaskID]; inFlight {
			return
		}
		e.board.Upsert(ev.Task)
		e.appendActivity(domain.Activity{
			Actor:     domain.UserRef{ID: ev.UserID, Name: ev.User},
			Action:    domain.ActionMoved,
			TaskID:    ev.TaskID,
			TaskTitle: ev.TaskTitle,
			Details:   domain.MovedDetails(ev.From, ev.To),
			Timestamp: ev.Timestamp,
		})
	case domain.EventTaskDeleted:
		var ev domain.TaskDeletedEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			e.logger.WithError(err).Warn("bad taskDeleted event")
			return
		}
		if _, inFlight := e.pending[ev.TaskID]; inFlight {
			return
		}
		e.board.Remove(ev.TaskID)
		delete(e.outcomes, ev.TaskID)
	case domain.EventConflictDetected:
		var ev domain.ConflictDetectedEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			e.logger.WithError(err).Warn("bad conflictDetected event")
			return
		}
		e.resolver.Record(ev)
		e.pushNotice(ev.TaskID, ev.Task, fmt.Sprintf("%s also edited %q, review before continuing", ev.User, ev.Task))
	default:
		e.logger.WithField("event", event).Debug("ignoring unknown event")
	}
}

// ResolveConflict records the user's decision for an open conflict and
// unblocks the task. KeepLocal resubmits the local version, AcceptRemote
// adopts the remote version, Merge resubmits the provided reconciliation.
func (e *SyncEngine) ResolveConflict(ctx context.Context, taskID string, resolution Resolution, merged *UpdateTaskRequest) error {
	e.mu.Lock()
	conflict, ok := e.resolver.Get(taskID)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("no open conflict for task %s", taskID)
	}

	switch resolution {
	case AcceptRemote:
		if task, found := e.board.Find(taskID); found {
			task.Title = conflict.RemoteVersion.Title
			task.Description = conflict.RemoteVersion.Description
			task.Priority = conflict.RemoteVersion.Priority
			task.UpdatedAt = conflict.RemoteVersion.LastModified
			e.board.Upsert(task)
		}
		e.resolver.Clear(taskID)
		e.mu.Unlock()
		return nil
	case KeepLocal:
		task, found := e.board.Find(taskID)
		e.resolver.Clear(taskID)
		e.mu.Unlock()
		if !found {
			return ErrUnknownTask
		}
		title := task.Title
		description := task.Description
		priority := task.Priority
		return e.mutate(ctx, taskID, UpdateTaskRequest{
			Title:       &title,
			Description: &description,
			Priority:    &priority,
		})
	case Merge:
		e.resolver.Clear(taskID)
		e.mu.Unlock()
		if merged == nil {
			return errors.New("merge resolution requires reconciled fields")
		}
		return e.mutate(ctx, taskID, *merged)
	default:
		e.mu.Unlock()
		return fmt.Errorf("unknown resolution %d", resolution)
	}
}

// setOutcome records the terminal state of a mutation. Outcomes are
// advisory UI state; past the cap the map is dropped wholesale rather than
// tracked forever. Callers hold the lock.
func (e *SyncEngine) setOutcome(taskID string, state MutationState) {
	if len(e.outcomes) >= outcomesLimit {
		e.outcomes = make(map[string]MutationState)
	}
	e.outcomes[taskID] = state
}

// appendActivity prepends to the feed and evicts the oldest past the cap.
// Callers hold the lock.
func (e *SyncEngine) appendActivity(activity domain.Activity) {
	e.feed = append([]domain.Activity{activity}, e.feed...)
	if len(e.feed) > feedLimit {
		e.feed = e.feed[:feedLimit]
	}
}

// pushNotice records a user-facing message. Callers hold the lock.
func (e *SyncEngine) pushNotice(taskID, title, message string) {
	e.notices = append(e.notices, Notice{TaskID: taskID, TaskTitle: title, Message: message})
}
