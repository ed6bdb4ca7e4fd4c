// Package openai is a typed transport for the Assistants API: assistants,
// threads, messages, runs, run steps and tool-output submission, in both
// discrete request/response and incremental streaming modes.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const defaultBaseURL = "https://api.openai.com/v1"

// betaHeader opts the request into the Assistants v2 API surface.
const betaHeader = "assistants=v2"

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client is an HTTP client for the Assistants API. Retry and backoff
// policy is the caller's concern; the credential must be pre-resolved.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Assistants API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", betaHeader)
}

// do issues one request and decodes the response into out (which may be
// nil). Non-2xx responses surface as *APIError; transport failures are
// wrapped and returned as-is.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if apiErr, err := ParseErrorResponse(respBody, resp.StatusCode); err == nil && apiErr != nil {
			return apiErr
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// CreateAssistantRequest is the body for assistant creation and update.
type CreateAssistantRequest struct {
	Model        string `json:"model"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Tools        []Tool `json:"tools,omitempty"`
}

// CreateAssistant creates a remote assistant.
func (c *Client) CreateAssistant(ctx context.Context, req CreateAssistantRequest) (*Assistant, error) {
	var out Assistant
	if err := c.do(ctx, http.MethodPost, "/assistants", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAssistant fetches an assistant by id.
func (c *Client) GetAssistant(ctx context.Context, id string) (*Assistant, error) {
	var out Assistant
	if err := c.do(ctx, http.MethodGet, "/assistants/"+id, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateAssistant updates an assistant in place.
func (c *Client) UpdateAssistant(ctx context.Context, id string, req CreateAssistantRequest) (*Assistant, error) {
	var out Assistant
	if err := c.do(ctx, http.MethodPost, "/assistants/"+id, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateThread creates an empty thread.
func (c *Client) CreateThread(ctx context.Context) (*Thread, error) {
	var out Thread
	if err := c.do(ctx, http.MethodPost, "/threads", nil, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteThread removes a thread and all of its messages.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodDelete, "/threads/"+threadID, nil, nil, nil)
}

// CreateThreadMessage appends a message to a thread.
func (c *Client) CreateThreadMessage(ctx context.Context, msg ThreadNewMessage) (*ThreadMessage, error) {
	var out ThreadMessage
	path := fmt.Sprintf("/threads/%s/messages", msg.ThreadID)
	if err := c.do(ctx, http.MethodPost, path, nil, msg, &out); err != nil {
		return nil, err
	}
	if err := out.CheckSupported(); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOptions select a page of a list endpoint. Zero values are omitted.
type ListOptions struct {
	Limit  int
	Order  string
	After  string
	Before string
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Order != "" {
		q.Set("order", o.Order)
	}
	if o.After != "" {
		q.Set("after", o.After)
	}
	if o.Before != "" {
		q.Set("before", o.Before)
	}
	return q
}

// ListThreadMessages returns a page of a thread's messages.
func (c *Client) ListThreadMessages(ctx context.Context, threadID string, opts ListOptions) ([]ThreadMessage, error) {
	var out struct {
		Data []ThreadMessage `json:"data"`
	}
	path := fmt.Sprintf("/threads/%s/messages", threadID)
	if err := c.do(ctx, http.MethodGet, path, opts.query(), nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Data {
		if err := out.Data[i].CheckSupported(); err != nil {
			return nil, err
		}
	}
	return out.Data, nil
}

// GetThreadMessage fetches one message.
func (c *Client) GetThreadMessage(ctx context.Context, threadID, messageID string) (*ThreadMessage, error) {
	var out ThreadMessage
	path := fmt.Sprintf("/threads/%s/messages/%s", threadID, messageID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	if err := out.CheckSupported(); err != nil {
		return nil, err
	}
	return &out, nil
}

// runRequest is the body for run creation.
type runRequest struct {
	AssistantID string `json:"assistant_id"`
	Model       string `json:"model,omitempty"`
	Tools       []Tool `json:"tools,omitempty"`
	Stream      bool   `json:"stream,omitempty"`
}

// RunThread starts a run of the thread against an assistant.
func (c *Client) RunThread(ctx context.Context, threadID, assistantID string, tools []Tool) (*ThreadRun, error) {
	var out ThreadRun
	path := fmt.Sprintf("/threads/%s/runs", threadID)
	req := runRequest{AssistantID: assistantID, Tools: tools}
	if err := c.do(ctx, http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetThreadRun fetches the current state of a run.
func (c *Client) GetThreadRun(ctx context.Context, threadID, runID string) (*ThreadRun, error) {
	var out ThreadRun
	path := fmt.Sprintf("/threads/%s/runs/%s", threadID, runID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListThreadRuns returns the runs of a thread, most recent first.
func (c *Client) ListThreadRuns(ctx context.Context, threadID string) ([]ThreadRun, error) {
	var out struct {
		Data []ThreadRun `json:"data"`
	}
	path := fmt.Sprintf("/threads/%s/runs", threadID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListThreadRunSteps returns a page of a run's steps. Polling callers pass
// Order "asc" and advance After as a watermark so completed steps are
// never re-read.
func (c *Client) ListThreadRunSteps(ctx context.Context, threadID, runID string, opts ListOptions) ([]RunStep, error) {
	var out struct {
		Data []RunStep `json:"data"`
	}
	path := fmt.Sprintf("/threads/%s/runs/%s/steps", threadID, runID)
	if err := c.do(ctx, http.MethodGet, path, opts.query(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// submitToolOutputsRequest is the body for tool-output submission.
type submitToolOutputsRequest struct {
	ToolOutputs []ToolOutput `json:"tool_outputs"`
	Stream      bool         `json:"stream,omitempty"`
}

// SubmitToolOutputs unblocks a run awaiting tool results.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*ThreadRun, error) {
	var out ThreadRun
	path := fmt.Sprintf("/threads/%s/runs/%s/submit_tool_outputs", threadID, runID)
	req := submitToolOutputsRequest{ToolOutputs: outputs}
	if err := c.do(ctx, http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunThreadStream starts a streamed run. The returned stream must be
// drained or closed by the caller.
func (c *Client) RunThreadStream(ctx context.Context, threadID, assistantID string, tools []Tool) (*RunStream, error) {
	path := fmt.Sprintf("/threads/%s/runs", threadID)
	req := runRequest{AssistantID: assistantID, Tools: tools, Stream: true}
	return c.openStream(ctx, path, req)
}

// SubmitToolOutputsStream submits tool outputs and streams the
// continuation of the run.
func (c *Client) SubmitToolOutputsStream(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*RunStream, error) {
	path := fmt.Sprintf("/threads/%s/runs/%s/submit_tool_outputs", threadID, runID)
	req := submitToolOutputsRequest{ToolOutputs: outputs, Stream: true}
	return c.openStream(ctx, path, req)
}

func (c *Client) openStream(ctx context.Context, path string, body any) (*RunStream, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		if apiErr, err := ParseErrorResponse(respBody, resp.StatusCode); err == nil && apiErr != nil {
			return nil, apiErr
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return newRunStream(resp.Body), nil
}
