package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"collab-board/domain"
)

// CreateTaskRequest is the payload for creating a task.
type CreateTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// UpdateTaskRequest is the payload for a partial task update. Absent fields
// stay untouched; AssignedTo and DueDate distinguish absent from null so a
// client can clear them.
type UpdateTaskRequest struct {
	Title       *string                `json:"title,omitempty"`
	Description *string                `json:"description,omitempty"`
	Status      *domain.Status         `json:"status,omitempty"`
	Priority    *domain.Priority       `json:"priority,omitempty"`
	AssignedTo  sonic.NoCopyRawMessage `json:"assignedTo,omitempty"`
	DueDate     sonic.NoCopyRawMessage `json:"dueDate,omitempty"`
}

// AssignTo sets the assignment target.
func (r *UpdateTaskRequest) AssignTo(userID string) {
	raw, _ := sonic.Marshal(userID)
	r.AssignedTo = raw
}

// ClearAssignee requests removal of the current assignee.
func (r *UpdateTaskRequest) ClearAssignee() {
	r.AssignedTo = sonic.NoCopyRawMessage("null")
}

// APIError is a non-2xx response from the board server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// Caller talks to the board server over HTTP.
type Caller struct {
	baseURL   string
	token     string
	sessionID string
	httpc     *http.Client
}

// NewCaller creates a Caller for the given server and bearer token.
func NewCaller(baseURL, token string) *Caller {
	return &Caller{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SetSessionID records the stream session so the server can exclude this
// client from its own broadcasts.
func (c *Caller) SetSessionID(id string) {
	c.sessionID = id
}

type createResponse struct {
	Success bool        `json:"success"`
	Task    domain.Task `json:"task"`
}

type updateResponse struct {
	Success      bool            `json:"success"`
	Task         domain.Task     `json:"task"`
	ActivityData domain.Activity `json:"activityData"`
}

// CreateTask creates a task and returns the canonical stored version. Each
// call carries a fresh idempotency key so a network-level retry of the same
// logical request can be detected server-side.
func (c *Caller) CreateTask(ctx context.Context, req CreateTaskRequest) (domain.Task, error) {
	var resp createResponse
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	if err := c.do(ctx, http.MethodPost, "/api/tasks", req, headers, &resp); err != nil {
		return domain.Task{}, err
	}
	return resp.Task, nil
}

// UpdateTask applies a partial update and returns the canonical task plus
// the activity the server recorded for it.
func (c *Caller) UpdateTask(ctx context.Context, taskID string, req UpdateTaskRequest) (domain.Task, domain.Activity, error) {
	var resp updateResponse
	if err := c.do(ctx, http.MethodPut, "/api/tasks/"+taskID, req, nil, &resp); err != nil {
		return domain.Task{}, domain.Activity{}, err
	}
	return resp.Task, resp.ActivityData, nil
}

// DeleteTask removes a task.
func (c *Caller) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+taskID, nil, nil, nil)
}

// FetchBoard loads the grouped board snapshot.
func (c *Caller) FetchBoard(ctx context.Context) (map[domain.Status][]domain.Task, error) {
	var resp struct {
		Todo       []domain.Task `json:"todo"`
		InProgress []domain.Task `json:"inProgress"`
		Done       []domain.Task `json:"done"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, nil, &resp); err != nil {
		return nil, err
	}
	return map[domain.Status][]domain.Task{
		domain.StatusTodo:       resp.Todo,
		domain.StatusInProgress: resp.InProgress,
		domain.StatusDone:       resp.Done,
	}, nil
}

// FetchActivities loads the recent activity feed.
func (c *Caller) FetchActivities(ctx context.Context, limit int) ([]domain.Activity, error) {
	path := "/api/activities"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var activities []domain.Activity
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// FetchUsers loads the assignable user directory.
func (c *Caller) FetchUsers(ctx context.Context) ([]domain.UserRef, error) {
	var users []domain.UserRef
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Caller) do(ctx context.Context, method, path string, payload any, headers map[string]string, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := sonic.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sessionID != "" {
		req.Header.Set("X-Session-ID", c.sessionID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: string(data)}
		var body struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if sonic.Unmarshal(data, &body) == nil && body.Code != "" {
			apiErr.Code = body.Code
			apiErr.Message = body.Error
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return sonic.Unmarshal(data, out)
}
