package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lifeops-voice-agent/internal/models"
)

type sessionResult struct {
	Changed  bool            `json:"changed"`
	Snapshot models.Snapshot `json:"snapshot"`
}

type apiError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// client is a thin wrapper around the service's /v1 API.
type client struct {
	base string
	http *http.Client
}

func newClientWith(base string, timeout time.Duration) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *client) session(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/session", nil, &snap)
	return snap, err
}

// action posts one of start, stop, toggle or reset.
func (c *client) action(ctx context.Context, name string) (sessionResult, error) {
	var res sessionResult
	err := c.do(ctx, http.MethodPost, "/v1/session/"+name, nil, &res)
	return res, err
}

func (c *client) logs(ctx context.Context) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	err := c.do(ctx, http.MethodGet, "/v1/logs", nil, &entries)
	return entries, err
}

func (c *client) openForm(ctx context.Context, id int) (models.Task, error) {
	var task models.Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/tasks/%d/form", id), nil, &task)
	return task, err
}

func (c *client) submit(ctx context.Context, id int, input string) error {
	body := map[string]string{"user_input": input}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/tasks/%d/submit", id), body, nil)
}

// wsURL maps the base URL to the session stream endpoint.
func (c *client) wsURL() (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	return u.String(), nil
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
