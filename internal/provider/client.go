package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"genserver/internal/domain"
	"genserver/internal/infra"
)

// Options configures the generation provider client.
type Options struct {
	BaseURL        string
	APIKey         string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// WebhookURL is the public callback endpoint advertised to the provider
	// on dispatch. Empty disables push notifications.
	WebhookURL string
	// ForceSync rejects asynchronous task handles so every dispatch either
	// returns a final result or fails.
	ForceSync  bool
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls against the generation provider's REST API and
// normalizes its two completion modes. It never retries internally; retry
// policy belongs to the component that owns the job lifecycle.
type Client struct {
	baseURL    string
	apiKey     string
	webhookURL string
	forceSync  bool
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("provider: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		connectTimeout := opts.ConnectTimeout
		if connectTimeout <= 0 {
			connectTimeout = 5 * time.Second
		}
		readTimeout := opts.ReadTimeout
		if readTimeout <= 0 {
			readTimeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		webhookURL: opts.WebhookURL,
		forceSync:  opts.ForceSync,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// Dispatch submits a generation task. The normalized result is either a
// synchronous artifact reference or an asynchronous task handle.
func (c *Client) Dispatch(ctx context.Context, p domain.GenerationPrompt) (*DispatchResult, error) {
	family, err := FamilyFor(p.Model)
	if err != nil {
		return nil, err
	}
	taskUUID := uuid.NewString()
	webhookURL := c.webhookURL
	if c.forceSync {
		webhookURL = ""
	}
	payload := family.BuildRequest(p, taskUUID, webhookURL)

	body, err := c.do(ctx, http.MethodPost, "/v1/tasks", payload)
	if err != nil {
		return nil, err
	}
	result, err := family.ParseResponse(body)
	if err != nil {
		return nil, err
	}
	if !result.Sync && c.forceSync {
		return nil, &Error{Code: CodeUnavailable, Message: "provider returned async handle in force-sync mode"}
	}
	if c.logger != nil {
		c.logger.Debug().
			Str("model", family.Name()).
			Str("task_uuid", result.TaskID).
			Bool("sync", result.Sync).
			Msg("provider: dispatched")
	}
	return result, nil
}

// pollResponse is the provider's status shape for asynchronous tasks.
type pollResponse struct {
	Status string `json:"status"`
	Data   []struct {
		ImageURL string `json:"imageURL"`
		VideoURL string `json:"videoURL"`
	} `json:"data"`
	ErrorMessage string `json:"errorMessage"`
}

// Poll reads the current status of an asynchronous task.
func (c *Client) Poll(ctx context.Context, taskID string) (*PollResult, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/tasks/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	var resp pollResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Code: CodeUnknown, Message: "malformed status response"}
	}
	switch strings.ToLower(resp.Status) {
	case "pending", "queued", "accepted":
		return &PollResult{Status: PollPending}, nil
	case "processing", "running":
		return &PollResult{Status: PollRunning}, nil
	case "success", "succeeded":
		urls := make([]string, 0, len(resp.Data))
		for _, item := range resp.Data {
			switch {
			case item.ImageURL != "":
				urls = append(urls, item.ImageURL)
			case item.VideoURL != "":
				urls = append(urls, item.VideoURL)
			}
		}
		if len(urls) == 0 {
			return &PollResult{Status: PollFailed, Message: "success without artifacts"}, nil
		}
		return &PollResult{Status: PollDone, ResultRef: resultRef(urls)}, nil
	case "error", "failed":
		return &PollResult{Status: PollFailed, Message: resp.ErrorMessage}, nil
	default:
		return nil, &Error{Code: CodeUnknown, Message: fmt.Sprintf("unexpected task status %q", resp.Status)}
	}
}

// Cancel asks the provider to abort a task. Best effort: an unknown task is
// not an error.
func (c *Client) Cancel(ctx context.Context, taskID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/tasks/"+taskID, nil)
	var provErr *Error
	if err != nil && errors.As(err, &provErr) && provErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("provider: encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("provider: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Code: CodeUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, mapHTTPError(resp.StatusCode, body)
	}
	if readErr != nil {
		return nil, &Error{Code: CodeUnavailable, Message: "read response body: " + readErr.Error()}
	}
	return body, nil
}

func mapHTTPError(status int, body []byte) *Error {
	var parsed struct {
		ErrorMessage string `json:"errorMessage"`
		Message      string `json:"message"`
	}
	_ = json.Unmarshal(body, &parsed)
	message := parsed.ErrorMessage
	if message == "" {
		message = parsed.Message
	}

	code := CodeUnknown
	switch {
	case status == http.StatusTooManyRequests:
		code = CodeRateLimited
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		code = CodeInvalidRequest
	case status >= 500:
		code = CodeUnavailable
	}
	return &Error{Code: code, Status: status, Message: message}
}
