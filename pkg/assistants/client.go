// Package assistants is a minimal client for a hosted agent API exposing
// the thread/run lifecycle: threads carry conversation state, runs execute
// one agent turn and may pause on requires_action until tool outputs are
// submitted.
package assistants

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/womatch-cli/internal/resilience"
)

const defaultBaseURL = "https://api.openai.com/v1"

// RunStatus is the lifecycle state of an agent run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether the run can no longer make progress.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return true
	default:
		return false
	}
}

// Thread is a conversation container.
type Thread struct {
	ID string `json:"id"`
}

// Message is a single conversational message. Content holds one or more
// typed blocks; only text blocks are consumed here.
type Message struct {
	ID      string         `json:"id"`
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one block of message content.
type ContentBlock struct {
	Type string    `json:"type"`
	Text TextValue `json:"text"`
}

// TextValue carries the text of a text content block.
type TextValue struct {
	Value string `json:"value"`
}

// Text returns the first text block's value, or "" if none.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	for _, b := range m.Content {
		if b.Type == "text" {
			return b.Text.Value
		}
	}
	return ""
}

// ToolCall is a function invocation emitted by the agent mid-run.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its string-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolOutput is the application-supplied result for one tool call.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// RunError is the agent's own failure classification for a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RequiredAction lists the tool calls that must be resolved before the run
// can resume.
type RequiredAction struct {
	Type              string `json:"type"`
	SubmitToolOutputs struct {
		ToolCalls []ToolCall `json:"tool_calls"`
	} `json:"submit_tool_outputs"`
}

// Run is one execution of an agent conversation turn.
type Run struct {
	ID             string          `json:"id"`
	ThreadID       string          `json:"thread_id"`
	Status         RunStatus       `json:"status"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
	LastError      *RunError       `json:"last_error,omitempty"`
}

// Client defines the agent API operations used by the matcher.
type Client interface {
	CreateThread(ctx context.Context) (*Thread, error)
	DeleteThread(ctx context.Context, threadID string) error
	CreateMessage(ctx context.Context, threadID, role, content string) (*Message, error)
	LatestMessage(ctx context.Context, threadID string) (*Message, error)
	CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetryConfig overrides the transport-level retry configuration.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker routes every request through the given breaker so a
// struggling API fails fast instead of burning the retry budget per call.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClient creates an agent API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// do performs one API request with rate limiting and transient-status retry.
// Transient HTTP statuses (429, 5xx) are wrapped as resilience.TransientError
// so the retry loop picks them up.
func (c *httpClient) do(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, eris.Wrap(err, "assistants: marshal request")
		}
	}

	attempt := func(ctx context.Context) ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "assistants: rate limiter")
			}
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, eris.Wrap(err, "assistants: create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("OpenAI-Beta", "assistants=v2")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, eris.Wrap(err, "assistants: send request")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "assistants: read response")
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("assistants: %s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(respBody))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		return respBody, nil
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if c.breaker != nil {
			return resilience.ExecuteVal(ctx, c.breaker, attempt)
		}
		return attempt(ctx)
	})
}

func (c *httpClient) CreateThread(ctx context.Context) (*Thread, error) {
	body, err := c.do(ctx, http.MethodPost, "/threads", struct{}{})
	if err != nil {
		return nil, err
	}
	var t Thread
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, eris.Wrap(err, "assistants: unmarshal thread")
	}
	return &t, nil
}

func (c *httpClient) DeleteThread(ctx context.Context, threadID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/threads/"+threadID, nil)
	return err
}

func (c *httpClient) CreateMessage(ctx context.Context, threadID, role, content string) (*Message, error) {
	req := map[string]string{"role": role, "content": content}
	body, err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", req)
	if err != nil {
		return nil, err
	}
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, eris.Wrap(err, "assistants: unmarshal message")
	}
	return &m, nil
}

func (c *httpClient) LatestMessage(ctx context.Context, threadID string) (*Message, error) {
	body, err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/messages?order=desc&limit=1", nil)
	if err != nil {
		return nil, err
	}
	var list struct {
		Data []Message `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, eris.Wrap(err, "assistants: unmarshal message list")
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return &list.Data[0], nil
}

func (c *httpClient) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	req := map[string]string{"assistant_id": assistantID}
	body, err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", req)
	if err != nil {
		return nil, err
	}
	return unmarshalRun(body)
}

func (c *httpClient) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/threads/%s/runs/%s", threadID, runID), nil)
	if err != nil {
		return nil, err
	}
	return unmarshalRun(body)
}

func (c *httpClient) CancelRun(ctx context.Context, threadID, runID string) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/threads/%s/runs/%s/cancel", threadID, runID), nil)
	return err
}

func (c *httpClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error) {
	req := map[string]any{"tool_outputs": outputs}
	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/threads/%s/runs/%s/submit_tool_outputs", threadID, runID), req)
	if err != nil {
		return nil, err
	}
	return unmarshalRun(body)
}

func unmarshalRun(body []byte) (*Run, error) {
	var r Run
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, eris.Wrap(err, "assistants: unmarshal run")
	}
	return &r, nil
}
