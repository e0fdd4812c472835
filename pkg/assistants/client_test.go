package assistants

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/womatch-cli/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRunStatusTerminal(t *testing.T) {
	terminal := []RunStatus{
		RunStatusCompleted, RunStatusFailed, RunStatusCancelled,
		RunStatusExpired, RunStatusIncomplete,
	}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}

	active := []RunStatus{
		RunStatusQueued, RunStatusInProgress, RunStatusRequiresAction, RunStatusCancelling,
	}
	for _, s := range active {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestMessageText(t *testing.T) {
	m := &Message{Content: []ContentBlock{
		{Type: "image_file"},
		{Type: "text", Text: TextValue{Value: "hello"}},
	}}
	assert.Equal(t, "hello", m.Text())

	var empty *Message
	assert.Equal(t, "", empty.Text())
	assert.Equal(t, "", (&Message{}).Text())
}

func TestCreateThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/threads", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))
		_ = json.NewEncoder(w).Encode(Thread{ID: "thread_abc"})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	thread, err := c.CreateThread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_abc", thread.ID)
}

func TestLatestMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/thread_abc/messages", r.URL.Path)
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"data":[{"id":"msg_1","role":"assistant","content":[{"type":"text","text":{"value":"the answer"}}]}]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	msg, err := c.LatestMessage(context.Background(), "thread_abc")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "the answer", msg.Text())
}

func TestLatestMessageEmptyThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	msg, err := c.LatestMessage(context.Background(), "thread_abc")
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestGetRunRequiresAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/thread_abc/runs/run_1", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": "run_1",
			"thread_id": "thread_abc",
			"status": "requires_action",
			"required_action": {
				"type": "submit_tool_outputs",
				"submit_tool_outputs": {
					"tool_calls": [
						{"id": "call_1", "type": "function", "function": {"name": "validate_asset_client_ids", "arguments": "{\"asset_client_ids\":[\"a\"]}"}}
					]
				}
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	run, err := c.GetRun(context.Background(), "thread_abc", "run_1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRequiresAction, run.Status)
	require.NotNil(t, run.RequiredAction)
	require.Len(t, run.RequiredAction.SubmitToolOutputs.ToolCalls, 1)
	tc := run.RequiredAction.SubmitToolOutputs.ToolCalls[0]
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, "validate_asset_client_ids", tc.Function.Name)
}

func TestGetRunFailedWithError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"run_1","thread_id":"t","status":"failed","last_error":{"code":"rate_limit_exceeded","message":"try again"}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	run, err := c.GetRun(context.Background(), "t", "run_1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	require.NotNil(t, run.LastError)
	assert.Equal(t, "rate_limit_exceeded", run.LastError.Code)
}

func TestSubmitToolOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/t/runs/run_1/submit_tool_outputs", r.URL.Path)
		var req struct {
			ToolOutputs []ToolOutput `json:"tool_outputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.ToolOutputs, 1)
		assert.Equal(t, "call_1", req.ToolOutputs[0].ToolCallID)
		_, _ = w.Write([]byte(`{"id":"run_1","thread_id":"t","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	run, err := c.SubmitToolOutputs(context.Background(), "t", "run_1", []ToolOutput{
		{ToolCallID: "call_1", Output: `{"is_valid":true}`},
	})
	require.NoError(t, err)
	assert.Equal(t, RunStatusQueued, run.Status)
}

func TestTransientStatusRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(Thread{ID: "thread_abc"})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	thread, err := c.CreateThread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_abc", thread.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	_, err := c.CreateThread(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCircuitBreakerTripsAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	})
	c := NewClient("test-key", WithBaseURL(srv.URL),
		WithRetryConfig(resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond}),
		WithCircuitBreaker(cb),
	)

	_, err := c.CreateThread(context.Background())
	require.Error(t, err)
	_, err = c.CreateThread(context.Background())
	require.Error(t, err)
	assert.Equal(t, resilience.CircuitOpen, cb.State())

	// Open circuit rejects without touching the server.
	_, err = c.CreateThread(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDeleteThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/threads/thread_abc", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"thread_abc","deleted":true}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	require.NoError(t, c.DeleteThread(context.Background(), "thread_abc"))
}
