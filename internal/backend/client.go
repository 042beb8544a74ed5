// Package backend is the HTTP client for the remote transcription, reasoning
// and monitoring service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"lifeops-voice-agent/internal/models"
	"lifeops-voice-agent/internal/observability/metrics"
	"lifeops-voice-agent/internal/schema"
)

// Endpoint names used for metrics and errors.
const (
	EndpointTranscribe = "transcribe"
	EndpointProcess    = "agent_process"
	EndpointMonitor    = "agent_monitor"
	EndpointState      = "agent_state"
)

var (
	// ErrRemoteCallFailed wraps every failure of a remote call: transport
	// errors, non-2xx responses and malformed payloads.
	ErrRemoteCallFailed = errors.New("remote call failed")
	// ErrMalformedPayload is set alongside ErrRemoteCallFailed when the
	// response body cannot be decoded or is missing required data.
	ErrMalformedPayload = schema.ErrMalformed
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrRemoteCallFailed }

// Client calls the remote backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	validator  *schema.Validator
	metrics    *metrics.Metrics
}

// New creates a client. A zero timeout means calls are bounded only by ctx.
func New(baseURL string, timeout time.Duration) *Client {
	return NewWithClient(baseURL, &http.Client{Timeout: timeout})
}

// NewWithClient creates a client with a custom HTTP client.
func NewWithClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		validator:  schema.New(),
		metrics:    metrics.DefaultMetrics,
	}
}

// Transcribe uploads audio as multipart field "file" and returns the text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	var out models.TranscribeResponse
	if err := c.do(ctx, EndpointTranscribe, http.MethodPost, "/transcribe", &buf, mw.FormDataContentType(), &out); err != nil {
		return "", err
	}
	return *out.Text, nil
}

// Process asks the reasoning service to extract facts and infer tasks.
func (c *Client) Process(ctx context.Context, text string) (*models.ProcessResponse, error) {
	path := "/agent/process?text=" + url.QueryEscape(text)
	var out models.ProcessResponse
	if err := c.do(ctx, EndpointProcess, http.MethodPost, path, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Monitor submits user input for a task.
func (c *Client) Monitor(ctx context.Context, req models.MonitorRequest) (*models.MonitorResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal monitor request: %w", err)
	}
	var out models.MonitorResponse
	if err := c.do(ctx, EndpointMonitor, http.MethodPost, "/agent/monitor", bytes.NewReader(body), "application/json", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// State fetches the aggregate session state.
func (c *Client) State(ctx context.Context) (*models.StateResponse, error) {
	var out models.StateResponse
	if err := c.do(ctx, EndpointState, http.MethodGet, "/agent/state", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body io.Reader, contentType string, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordRemoteCall(endpoint, err, time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: create %s request: %v", ErrRemoteCallFailed, endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s request: %v", ErrRemoteCallFailed, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(b)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w: decode %s response: %v", ErrRemoteCallFailed, ErrMalformedPayload, endpoint, err)
	}
	if err := c.validator.Validate(out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRemoteCallFailed, endpoint, err)
	}
	return nil
}
