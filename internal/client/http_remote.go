package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"daily-triage/internal/model"
	"daily-triage/internal/repository"
	"daily-triage/internal/service"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPRemote calls the JSON API served by internal/api.
type HTTPRemote struct {
	baseURL string
	token   func() string
	client  *http.Client
}

var _ Remote = (*HTTPRemote)(nil)

type tasksBody struct {
	Tasks []model.Task `json:"tasks"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewHTTPRemote creates a remote for baseURL. token is called before every
// request and its result is sent as a bearer token.
func NewHTTPRemote(baseURL string, token func() string, httpClient *http.Client) *HTTPRemote {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  httpClient,
	}
}

func (r *HTTPRemote) Inbox(ctx context.Context) ([]model.Task, error) {
	return r.list(ctx, "/api/tasks/inbox")
}

func (r *HTTPRemote) Today(ctx context.Context) ([]model.Task, error) {
	return r.list(ctx, "/api/tasks/today")
}

func (r *HTTPRemote) Trash(ctx context.Context) ([]model.Task, error) {
	return r.list(ctx, "/api/tasks/trash")
}

func (r *HTTPRemote) Archive(ctx context.Context, limit int, cursor string) (repository.ArchivePage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/api/tasks/archive"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page repository.ArchivePage
	err := r.do(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

func (r *HTTPRemote) Create(ctx context.Context, input service.TaskInput) (*model.Task, error) {
	var task model.Task
	if err := r.do(ctx, http.MethodPost, "/api/tasks", input, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *HTTPRemote) Update(ctx context.Context, id string, patch service.TaskPatch) (*model.Task, error) {
	var task model.Task
	if err := r.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), patch, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *HTTPRemote) Transition(ctx context.Context, id string, ev model.Event) (*model.Task, error) {
	if ev == model.EventDelete {
		return nil, r.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
	}
	var task model.Task
	path := fmt.Sprintf("/api/tasks/%s/%s", url.PathEscape(id), ev)
	if err := r.do(ctx, http.MethodPost, path, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *HTTPRemote) ToggleSubtask(ctx context.Context, taskID, subtaskID string) (*model.Subtask, error) {
	var sub model.Subtask
	path := fmt.Sprintf("/api/tasks/%s/subtasks/%s/toggle", url.PathEscape(taskID), url.PathEscape(subtaskID))
	if err := r.do(ctx, http.MethodPost, path, nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *HTTPRemote) PerformDailyReset(ctx context.Context) (service.ResetResult, error) {
	var res service.ResetResult
	err := r.do(ctx, http.MethodPost, "/api/reset", nil, &res)
	return res, err
}

func (r *HTTPRemote) list(ctx context.Context, path string) ([]model.Task, error) {
	var body tasksBody
	if err := r.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Tasks, nil
}

func (r *HTTPRemote) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		payload, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != nil {
		if tok := r.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var eb errorBody
		if sonic.Unmarshal(respBody, &eb) != nil || eb.Code == "" {
			return &RemoteError{Status: resp.StatusCode, Code: "internal", Message: strings.TrimSpace(string(respBody))}
		}
		return &RemoteError{Status: resp.StatusCode, Code: eb.Code, Message: eb.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
