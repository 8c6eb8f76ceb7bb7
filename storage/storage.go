package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"collab-board/domain"
)

var (
	// ErrTaskNotFound is returned when a task id does not resolve to a
	// stored task.
	ErrTaskNotFound = errors.New("task not found")
	// ErrUserNotFound is returned when a user id does not resolve to a
	// directory entry.
	ErrUserNotFound = errors.New("user not found")
)

const (
	taskPartition     = "task"
	activityPartition = "activity"
	userPartition     = "user"
)

// Storage provides access to the authoritative task, activity and user
// records. Concurrent writes to the same task are serialized by the table
// service; the last write wins.
type Storage struct {
	tasks       *aztables.Client
	activities  *aztables.Client
	users       *aztables.Client
	exportQueue *azqueue.QueueClient
	logger      *log.Logger
}

// New creates a Storage instance from the given connection string. The
// export queue is optional; pass an empty name to disable activity export.
func New(connStr, tasksTable, activitiesTable, usersTable, exportQueue string, logger *log.Logger) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		tasks:      svc.NewClient(tasksTable),
		activities: svc.NewClient(activitiesTable),
		users:      svc.NewClient(usersTable),
		logger:     logger,
	}
	if exportQueue != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    3,
					TryTimeout:    time.Minute * 1,
					RetryDelay:    time.Second * 1,
					MaxRetryDelay: time.Second * 15,
					StatusCodes:   []int{408, 429, 500, 502, 503, 504},
				},
			},
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, exportQueue, &queueClientOptions)
		if err != nil {
			return nil, err
		}
		s.exportQueue = q
	}
	return s, nil
}

// FindTask returns the task with the given id or ErrTaskNotFound.
func (s *Storage) FindTask(ctx context.Context, id string) (domain.Task, error) {
	resp, err := s.tasks.GetEntity(ctx, taskPartition, id, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, ErrTaskNotFound
		}
		return domain.Task{}, err
	}
	return taskFromEntityJSON(resp.Value)
}

// InsertTask persists a new task.
func (s *Storage) InsertTask(ctx context.Context, task domain.Task) error {
	data, err := json.Marshal(taskToEntity(task))
	if err != nil {
		return err
	}
	_, err = s.tasks.AddEntity(ctx, data, nil)
	return err
}

// UpdateTask replaces the stored task unconditionally. Two concurrent
// updates to the same task race here and the second one wins.
func (s *Storage) UpdateTask(ctx context.Context, task domain.Task) error {
	data, err := json.Marshal(taskToEntity(task))
	if err != nil {
		return err
	}
	_, err = s.tasks.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	if err != nil && isNotFound(err) {
		return ErrTaskNotFound
	}
	return err
}

// DeleteTask removes the task record.
func (s *Storage) DeleteTask(ctx context.Context, task domain.Task) error {
	_, err := s.tasks.DeleteEntity(ctx, taskPartition, task.ID, nil)
	if err != nil && isNotFound(err) {
		return ErrTaskNotFound
	}
	return err
}

// ListAccessibleTasks returns every task the user created or is assigned
// to, in stable creation order.
func (s *Storage) ListAccessibleTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s' and (CreatedById eq '%s' or AssignedToId eq '%s')",
		taskPartition, escapeODataString(userID), escapeODataString(userID))
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			task, err := taskFromEntityJSON(raw)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// SampleTask returns an arbitrary stored task, or ErrTaskNotFound when the
// board is empty.
func (s *Storage) SampleTask(ctx context.Context) (domain.Task, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", taskPartition)
	top := int32(1)
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.Task{}, err
		}
		if len(resp.Entities) > 0 {
			return taskFromEntityJSON(resp.Entities[0])
		}
	}
	return domain.Task{}, ErrTaskNotFound
}

// AppendActivity writes an immutable audit record. The record is also
// pushed to the export queue for downstream consumers; export failures are
// logged and dropped, they never fail the mutation.
func (s *Storage) AppendActivity(ctx context.Context, activity domain.Activity, task domain.Task) error {
	ent, err := activityToEntity(activity, task)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.activities.AddEntity(ctx, data, nil); err != nil {
		return err
	}
	s.exportActivity(ctx, activity)
	return nil
}

func (s *Storage) exportActivity(ctx context.Context, activity domain.Activity) {
	if s.exportQueue == nil {
		return
	}
	payload, err := json.Marshal(activity)
	if err != nil {
		s.logger.WithError(err).Error("activity export marshal failed")
		return
	}
	if _, err := s.exportQueue.EnqueueMessage(ctx, string(payload), nil); err != nil {
		s.logger.WithError(err).WithField("activity", activity.ID).Warn("activity export enqueue failed")
	}
}

// ListActivities returns the most recent activities whose target task was
// accessible to the user at the time the activity was recorded, newest
// first.
func (s *Storage) ListActivities(ctx context.Context, userID string, limit int) ([]domain.Activity, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s' and (AccessCreatedBy eq '%s' or AccessAssignedTo eq '%s')",
		activityPartition, escapeODataString(userID), escapeODataString(userID))
	pager := s.activities.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	activities := []domain.Activity{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			activity, err := activityFromEntityJSON(raw)
			if err != nil {
				return nil, err
			}
			activities = append(activities, activity)
		}
	}
	sort.Slice(activities, func(i, j int) bool { return activities[i].Timestamp.After(activities[j].Timestamp) })
	if limit > 0 && len(activities) > limit {
		activities = activities[:limit]
	}
	return activities, nil
}

// FindUser returns the directory entry for id or ErrUserNotFound.
func (s *Storage) FindUser(ctx context.Context, id string) (domain.User, error) {
	resp, err := s.users.GetEntity(ctx, userPartition, id, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return userFromEntityJSON(resp.Value)
}

// ListUsers returns all active users sorted by name.
func (s *Storage) ListUsers(ctx context.Context) ([]domain.UserRef, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s' and Active eq true", userPartition)
	pager := s.users.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	users := []domain.UserRef{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			user, err := userFromEntityJSON(raw)
			if err != nil {
				return nil, err
			}
			users = append(users, user.UserRef)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

func escapeODataString(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
