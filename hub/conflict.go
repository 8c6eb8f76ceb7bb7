package hub

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	log "github.com/sirupsen/logrus"

	"collab-board/domain"
	"collab-board/storage"
)

// TaskSampler returns an arbitrary stored task for conflict candidates.
type TaskSampler interface {
	SampleTask(ctx context.Context) (domain.Task, error)
}

const signalTimeout = 5 * time.Second

// ConflictSignaler emits a conflictDetected warning to the mutating session
// after a fraction of successful updates. The signal is a coarse heuristic:
// the conflicting task is sampled from the whole board and may have nothing
// to do with what the session just edited. False positives are acceptable;
// the receiver resolves them through an explicit user decision.
type ConflictSignaler struct {
	hub    *Hub
	store  TaskSampler
	rate   float64
	logger *log.Logger

	// roll is the probability source, replaced in tests.
	roll func() float64
}

// NewConflictSignaler creates a signaler firing at the given rate in [0,1].
func NewConflictSignaler(h *Hub, store TaskSampler, rate float64, logger *log.Logger) *ConflictSignaler {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &ConflictSignaler{hub: h, store: store, rate: rate, logger: logger, roll: rand.Float64}
}

// MaybeSignal rolls the dice and, on a hit, asynchronously sends a conflict
// warning to sessionID. It never blocks the mutation that triggered it.
func (s *ConflictSignaler) MaybeSignal(_ context.Context, actor domain.UserRef, sessionID string) {
	if sessionID == "" || s.rate == 0 {
		return
	}
	if s.roll() >= s.rate {
		return
	}
	go s.signal(actor, sessionID)
}

func (s *ConflictSignaler) signal(actor domain.UserRef, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()

	task, err := s.store.SampleTask(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrTaskNotFound) {
			s.logger.WithError(err).Warn("conflict sample failed")
		}
		return
	}

	other := task.CreatedBy.Name
	if other == "" || task.CreatedBy.ID == actor.ID {
		if task.AssignedTo != nil && task.AssignedTo.ID != actor.ID {
			other = task.AssignedTo.Name
		} else {
			other = "another user"
		}
	}

	ev := domain.ConflictDetectedEvent{
		TaskID: task.ID,
		Task:   task.Title,
		LocalVersion: domain.TaskVersion{
			Title:        task.Title,
			Description:  task.Description,
			Priority:     task.Priority,
			LastModified: task.UpdatedAt,
		},
		RemoteVersion: domain.TaskVersion{
			Title:        task.Title,
			Description:  task.Description,
			Priority:     task.Priority,
			LastModified: time.Now().UTC(),
		},
		User: other,
	}
	if !s.hub.Send(sessionID, domain.EventConflictDetected, ev) {
		s.logger.WithField("session", sessionID).Debug("conflict signal not delivered")
	}
}
