package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"collab-board/domain"
	"collab-board/storage"
)

// HeaderSessionID carries the stream session of the mutating client so the
// resulting broadcast can skip it.
const HeaderSessionID = "X-Session-ID"

// HeaderIdempotencyKey guards create requests against network-level replays.
const HeaderIdempotencyKey = "Idempotency-Key"

const mutationBodyMaxSize = 1 << 20

const activityFeedLimit = 20

// Stable machine-readable error codes returned alongside the human message.
const (
	codeMissingTitle        = "MISSING_TITLE"
	codeTitleTooLong        = "TITLE_TOO_LONG"
	codeDescriptionTooLong  = "DESCRIPTION_TOO_LONG"
	codeInvalidStatus       = "INVALID_STATUS"
	codeInvalidPriority     = "INVALID_PRIORITY"
	codeInvalidAssignedUser = "INVALID_ASSIGNED_USER"
	codeTaskNotFound        = "TASK_NOT_FOUND"
	codeAccessDenied        = "ACCESS_DENIED"
	codeDeleteAccessDenied  = "DELETE_ACCESS_DENIED"
	codeDuplicateRequest    = "DUPLICATE_REQUEST"
	codeInvalidBody         = "INVALID_BODY"
	codeInternalError       = "INTERNAL_ERROR"
)

// Register wires up the board API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, pub Publisher, conflicts ConflictSignaler, logger *log.Logger) {
	e.GET("/api/tasks", getTasks(store, auth))
	e.POST("/api/tasks", createTask(store, auth, deduper, pub, logger))
	e.PUT("/api/tasks/:taskId", updateTask(store, auth, pub, conflicts, logger))
	e.DELETE("/api/tasks/:taskId", deleteTask(store, auth, pub, logger))
	e.GET("/api/activities", getActivities(store, auth))
	e.GET("/api/users", listUsers(store, auth))
	e.GET("/healthz", healthz())
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func httpError(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, errorBody{Error: msg, Code: code})
}

type groupedTasksResponse struct {
	Todo       []domain.Task `json:"todo"`
	InProgress []domain.Task `json:"inProgress"`
	Done       []domain.Task `json:"done"`
}

type createTaskResponse struct {
	Success bool        `json:"success"`
	Task    domain.Task `json:"task"`
}

type updateTaskResponse struct {
	Success      bool            `json:"success"`
	Task         domain.Task     `json:"task"`
	ActivityData domain.Activity `json:"activityData"`
}

type deleteTaskResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		tasks, err := store.ListAccessibleTasks(ctx, identity.ID)
		if err != nil {
			c.Logger().Error(err)
			return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to load tasks")
		}
		resp := groupedTasksResponse{
			Todo:       []domain.Task{},
			InProgress: []domain.Task{},
			Done:       []domain.Task{},
		}
		for _, task := range tasks {
			switch task.Status {
			case domain.StatusInProgress:
				resp.InProgress = append(resp.InProgress, task)
			case domain.StatusDone:
				resp.Done = append(resp.Done, task)
			default:
				resp.Todo = append(resp.Todo, task)
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	AssignedTo  string     `json:"assignedTo"`
	DueDate     *time.Time `json:"dueDate"`
}

func createTask(store Storage, auth Authenticator, deduper Deduper, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/api/tasks", "create")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		identity, authErr := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		var req createTaskRequest
		dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, mutationBodyMaxSize))
		dec.DisallowUnknownFields()
		if decodeErr := dec.Decode(&req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			return httpError(c, http.StatusBadRequest, codeInvalidBody, "invalid request body")
		}

		title := strings.TrimSpace(req.Title)
		if title == "" {
			metrics.SetErrorStage("validate")
			return httpError(c, http.StatusBadRequest, codeMissingTitle, "Title is required")
		}
		if len(title) > domain.TitleMaxLen {
			metrics.SetErrorStage("validate")
			return httpError(c, http.StatusBadRequest, codeTitleTooLong, "Title must be 200 characters or fewer")
		}
		description := strings.TrimSpace(req.Description)
		if len(description) > domain.DescriptionMaxLen {
			metrics.SetErrorStage("validate")
			return httpError(c, http.StatusBadRequest, codeDescriptionTooLong, "Description must be 1000 characters or fewer")
		}
		priority := domain.PriorityMedium
		if req.Priority != "" {
			priority = domain.Priority(req.Priority)
			if !priority.Valid() {
				metrics.SetErrorStage("validate")
				return httpError(c, http.StatusBadRequest, codeInvalidPriority, "Invalid priority")
			}
		}

		var assignee *domain.UserRef
		if req.AssignedTo != "" {
			ref, assignErr := resolveAssignee(ctx, store, req.AssignedTo)
			if assignErr != nil {
				if errors.Is(assignErr, errInvalidAssignee) {
					metrics.SetErrorStage("validate")
					return httpError(c, http.StatusBadRequest, codeInvalidAssignedUser, "Assigned user does not exist")
				}
				metrics.SetErrorStage("storage")
				c.Logger().Error(assignErr)
				return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to create task")
			}
			assignee = &ref
		}

		idemKey := c.Request().Header.Get(HeaderIdempotencyKey)
		if idemKey != "" && deduper != nil {
			added, dedupeErr := deduper.Add(ctx, identity.ID, idemKey)
			if dedupeErr != nil {
				logger.WithError(dedupeErr).Warn("idempotency check unavailable")
			} else if !added {
				metrics.SetErrorStage("duplicate")
				return httpError(c, http.StatusConflict, codeDuplicateRequest, "Request already processed")
			}
		}

		now := time.Now().UTC()
		task := domain.Task{
			ID:          uuid.NewString(),
			Title:       title,
			Description: description,
			Status:      domain.StatusTodo,
			Priority:    priority,
			CreatedBy:   identity,
			AssignedTo:  assignee,
			DueDate:     req.DueDate,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		metrics.SetTaskID(task.ID)

		storeStart := time.Now()
		insertErr := store.InsertTask(ctx, task)
		metrics.ObserveStore(time.Since(storeStart))
		if insertErr != nil {
			if idemKey != "" && deduper != nil {
				_ = deduper.Remove(ctx, identity.ID, idemKey)
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(insertErr)
			return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to create task")
		}

		details := domain.Details{}
		if assignee != nil {
			details = domain.AssignedDetails(assignee.ID)
		}
		activity := domain.Activity{
			ID:        uuid.NewString(),
			Actor:     identity,
			Action:    domain.ActionCreated,
			TaskID:    task.ID,
			TaskTitle: task.Title,
			Details:   details,
			Timestamp: now,
		}
		if activityErr := store.AppendActivity(ctx, activity, task); activityErr != nil {
			metrics.SetErrorStage("activity")
			c.Logger().Error(activityErr)
			return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to record activity")
		}

		err = c.JSON(http.StatusCreated, createTaskResponse{Success: true, Task: task})
		if err != nil {
			metrics.SetErrorStage("encode_response")
			return err
		}

		pub.Publish(domain.EventTaskCreated, domain.TaskCreatedEvent{
			Task:      task,
			User:      identity.Name,
			UserID:    identity.ID,
			Timestamp: now,
		}, c.Request().Header.Get(HeaderSessionID))
		return nil
	}
}

type updateTaskRequest struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Status      *string                `json:"status"`
	Priority    *string                `json:"priority"`
	AssignedTo  sonic.NoCopyRawMessage `json:"assignedTo"`
	DueDate     sonic.NoCopyRawMessage `json:"dueDate"`
}

func updateTask(store Storage, auth Authenticator, pub Publisher, conflicts ConflictSignaler, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/api/tasks/:taskId", "update")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		identity, authErr := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		taskID := c.Param("taskId")
		metrics.SetTaskID(taskID)

		var req updateTaskRequest
		dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, mutationBodyMaxSize))
		dec.DisallowUnknownFields()
		if decodeErr := dec.Decode(&req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			return httpError(c, http.StatusBadRequest, codeInvalidBody, "invalid request body")
		}

		task, findErr := store.FindTask(ctx, taskID)
		if findErr != nil {
			if errors.Is(findErr, storage.ErrTaskNotFound) {
				metrics.SetErrorStage("not_found")
				return httpError(c, http.StatusNotFound, codeTaskNotFound, "Task not found")
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(findErr)
			return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to load task")
		}
		if authzErr := authorize(task, identity.ID, OpUpdate); authzErr != nil {
			metrics.SetErrorStage("access")
			return httpError(c, http.StatusForbidden, codeAccessDenied, "You do not have access to this task")
		}

		oldStatus := task.Status
		oldTitle := task.Title

		if req.Status != nil {
			status := domain.Status(*req.Status)
			if !status.Valid() {
				metrics.SetErrorStage("validate")
				return httpError(c, http.StatusBadRequest, codeInvalidStatus, "Invalid status")
			}
			task.Status = status
		}
		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				metrics.SetErrorStage("validate")
				return httpError(c, http.StatusBadRequest, codeMissingTitle, "Title is required")
			}
			if len(title) > domain.TitleMaxLen {
				metrics.SetErrorStage("validate")
				return httpError(c, http.StatusBadRequest, codeTitleTooLong, "Title must be 200 characters or fewer")
			}
			task.Title = title
		}
		if req.Description != nil {
			description := strings.TrimSpace(*req.Description)
			if len(description) > domain.DescriptionMaxLen {
				metrics.SetErrorStage("validate")
				return httpError(c, http.StatusBadRequest, codeDescriptionTooLong, "Description must be 1000 characters or fewer")
			}
			task.Description = description
		}
		if req.Priority != nil {
			priority := domain.Priority(*req.Priority)
			if !priority.Valid() {
				metrics.SetErrorStage("validate")
				return httpError(c, http.StatusBadRequest, codeInvalidPriority, "Invalid priority")
			}
			task.Priority = priority
		}
		if len(req.AssignedTo) > 0 {
			if isJSONNull(req.AssignedTo) {
				task.AssignedTo = nil
			} else {
				var assigneeID string
				if rawErr := sonic.Unmarshal(req.AssignedTo, &assigneeID); rawErr != nil || assigneeID == "" {
					metrics.SetErrorStage("validate")
					return httpError(c, http.StatusBadRequest, codeInvalidAssignedUser, "Assigned user does not exist")
				}
				ref, assignErr := resolveAssignee(ctx, store, assigneeID)
				if assignErr != nil {
					if errors.Is(assignErr, errInvalidAssignee) {
						metrics.SetErrorStage("validate")
						return httpError(c, http.StatusBadRequest, codeInvalidAssignedUser, "Assigned user does not exist")
					}
					metrics.SetErrorStage("storage")
					c.Logger().Error(assignErr)
					return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to update task")
				}
				task.AssignedTo = &ref
			}
		}
		if len(req.DueDate) > 0 {
			if isJSONNull(req.DueDate) {
				task.DueDate = nil
			} else {
				var due time.Time
				if rawErr := sonic.Unmarshal(req.DueDate, &due); rawErr != nil {
					metrics.SetErrorStage("decode")
					return httpError(c, http.StatusBadRequest, codeInvalidBody, "invalid request body")
				}
				task.DueDate = &due
			}
		}

		now := time.Now().UTC()
		task.UpdatedAt = now

		storeStart := time.Now()
		updateErr := store.UpdateTask(ctx, task)
		metrics.ObserveStore(time.Since(storeStart))
		if updateErr != nil {
			if errors.Is(updateErr, storage.ErrTaskNotFound) {
				metrics.SetErrorStage("not_found")
				return httpError(c, http.StatusNotFound, codeTaskNotFound, "Task not found")
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(updateErr)
			return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to update task")
		}

		// One activity per mutation; a column move takes precedence over a
		// title edit, everything else is an empty update.
		activity := domain.Activity{
			ID:        uuid.NewString(),
			Actor:     identity,
			Action:    domain.ActionUpdated,
			TaskID:    task.ID,
			TaskTitle: task.Title,
			Timestamp: now,
		}
		moved := task.Status != oldStatus
		switch {
		case moved:
			activity.Action = domain.ActionMoved
			activity.Details = domain.MovedDetails(oldStatus, task.Status)
		case task.Title != oldTitle:
			activity.Details = domain.FieldUpdatedDetails("title", oldTitle, task.Title)
		}
		if activityErr := store.AppendActivity(ctx, activity, task); activityErr != nil {
			metrics.SetErrorStage("activity")
			c.Logger().Error(activityErr)
			return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to record activity")
		}

		err = c.JSON(http.StatusOK, updateTaskResponse{Success: true, Task: task, ActivityData: activity})
		if err != nil {
			metrics.SetErrorStage("encode_response")
			return err
		}

		sessionID := c.Request().Header.Get(HeaderSessionID)
		if moved {
			pub.Publish(domain.EventTaskMoved, domain.TaskMovedEvent{
				TaskID:    task.ID,
				TaskTitle: task.Title,
				From:      oldStatus,
				To:        task.Status,
				FromTitle: oldStatus.ColumnTitle(),
				ToTitle:   task.Status.ColumnTitle(),
				User:      identity.Name,
				UserID:    identity.ID,
				Task:      task,
				Timestamp: now,
			}, sessionID)
		} else {
			pub.Publish(domain.EventTaskUpdated, domain.TaskUpdatedEvent{
				Task:      task,
				User:      identity.Name,
				UserID:    identity.ID,
				Action:    activity.Action,
				Details:   activity.Details,
				Timestamp: now,
			}, sessionID)
		}
		if conflicts != nil {
			conflicts.MaybeSignal(ctx, identity, sessionID)
		}
		return nil
	}
}

func deleteTask(store Storage, auth Authenticator, pub Publisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/api/tasks/:taskId", "delete")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		identity, authErr := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		taskID := c.Param("taskId")
		metrics.SetTaskID(taskID)

		task, findErr := store.FindTask(ctx, taskID)
		if findErr != nil {
			if errors.Is(findErr, storage.ErrTaskNotFound) {
				metrics.SetErrorStage("not_found")
				return httpError(c, http.StatusNotFound, codeTaskNotFound, "Task not found")
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(findErr)
			return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to load task")
		}
		if authzErr := authorize(task, identity.ID, OpDelete); authzErr != nil {
			metrics.SetErrorStage("access")
			return httpError(c, http.StatusForbidden, codeDeleteAccessDenied, "Only the task creator can delete this task")
		}

		storeStart := time.Now()
		deleteErr := store.DeleteTask(ctx, task)
		metrics.ObserveStore(time.Since(storeStart))
		if deleteErr != nil {
			if errors.Is(deleteErr, storage.ErrTaskNotFound) {
				metrics.SetErrorStage("not_found")
				return httpError(c, http.StatusNotFound, codeTaskNotFound, "Task not found")
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(deleteErr)
			return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to delete task")
		}

		now := time.Now().UTC()
		activity := domain.Activity{
			ID:        uuid.NewString(),
			Actor:     identity,
			Action:    domain.ActionDeleted,
			TaskID:    task.ID,
			TaskTitle: task.Title,
			Timestamp: now,
		}
		if activityErr := store.AppendActivity(ctx, activity, task); activityErr != nil {
			metrics.SetErrorStage("activity")
			c.Logger().Error(activityErr)
			return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to record activity")
		}

		err = c.JSON(http.StatusOK, deleteTaskResponse{Success: true, TaskID: task.ID})
		if err != nil {
			metrics.SetErrorStage("encode_response")
			return err
		}

		pub.Publish(domain.EventTaskDeleted, domain.TaskDeletedEvent{
			TaskID:    task.ID,
			User:      identity.Name,
			UserID:    identity.ID,
			Timestamp: now,
		}, c.Request().Header.Get(HeaderSessionID))
		return nil
	}
}

func getActivities(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		limit := activityFeedLimit
		if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
			parsed, parseErr := strconv.Atoi(raw)
			if parseErr != nil || parsed <= 0 {
				return httpError(c, http.StatusBadRequest, codeInvalidBody, "invalid limit")
			}
			if parsed < limit {
				limit = parsed
			}
		}
		activities, err := store.ListActivities(ctx, identity.ID, limit)
		if err != nil {
			c.Logger().Error(err)
			return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to load activities")
		}
		if activities == nil {
			activities = []domain.Activity{}
		}
		return c.JSON(http.StatusOK, activities)
	}
}

func listUsers(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		users, err := store.ListUsers(ctx)
		if err != nil {
			c.Logger().Error(err)
			return httpError(c, http.StatusInternalServerError, codeInternalError, "failed to load users")
		}
		if users == nil {
			users = []domain.UserRef{}
		}
		return c.JSON(http.StatusOK, users)
	}
}

var errInvalidAssignee = errors.New("invalid assignee")

// resolveAssignee validates that the assignment target exists and is active.
func resolveAssignee(ctx context.Context, store Storage, id string) (domain.UserRef, error) {
	user, err := store.FindUser(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return domain.UserRef{}, errInvalidAssignee
		}
		return domain.UserRef{}, err
	}
	if !user.Active {
		return domain.UserRef{}, errInvalidAssignee
	}
	return user.UserRef, nil
}

func isJSONNull(raw []byte) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
