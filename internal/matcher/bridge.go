package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/womatch-cli/internal/corpus"
	"github.com/sells-group/womatch-cli/pkg/assistants"
)

// toolValidateAssetClientIDs is the one domain function the agent may call
// mid-run.
const toolValidateAssetClientIDs = "validate_asset_client_ids"

// validationResult is the serialized output of the asset validation tool.
type validationResult struct {
	IsValid       bool     `json:"is_valid"`
	Message       string   `json:"message"`
	InvalidAssets []string `json:"invalid_assets"`
}

type bridgeRequest struct {
	args  string
	reply chan string
}

// toolBridge resolves tool calls emitted while a run is in requires_action.
// Corpus queries run on a single worker goroutine owned by the bridge, so
// every validation call is serialized onto one execution context with an
// explicit lifecycle. Close must be called when the owning Matcher is
// discarded or the worker leaks.
type toolBridge struct {
	index      corpus.Index
	tenantID   string
	scenarioID string

	requests chan bridgeRequest
	quit     chan struct{}
	once     sync.Once

	// validIDs is the worker's session cache, touched only by the worker
	// goroutine.
	validIDs map[string]bool
}

func newToolBridge(index corpus.Index, tenantID, scenarioID string) *toolBridge {
	b := &toolBridge{
		index:      index,
		tenantID:   tenantID,
		scenarioID: scenarioID,
		requests:   make(chan bridgeRequest),
		quit:       make(chan struct{}),
	}
	go b.worker()
	return b
}

// Close tears down the worker goroutine. Safe to call more than once.
func (b *toolBridge) Close() {
	b.once.Do(func() { close(b.quit) })
}

func (b *toolBridge) worker() {
	for {
		select {
		case <-b.quit:
			return
		case req := <-b.requests:
			req.reply <- b.validateAssetClientIDs(req.args)
		}
	}
}

// Resolve produces one output per tool call. Every call gets an output,
// known function or not, because the run cannot progress past
// requires_action until all of them are submitted.
func (b *toolBridge) Resolve(ctx context.Context, calls []assistants.ToolCall) []assistants.ToolOutput {
	outputs := make([]assistants.ToolOutput, 0, len(calls))
	for _, call := range calls {
		outputs = append(outputs, assistants.ToolOutput{
			ToolCallID: call.ID,
			Output:     b.dispatch(ctx, call),
		})
	}
	return outputs
}

func (b *toolBridge) dispatch(ctx context.Context, call assistants.ToolCall) string {
	name := call.Function.Name
	zap.L().Debug("matcher: tool call",
		zap.String("function", name),
		zap.String("tool_call_id", call.ID))

	if name != toolValidateAssetClientIDs {
		return errorOutput(fmt.Sprintf("Unknown function: %s", name))
	}

	select {
	case <-b.quit:
		return errorOutput("tool bridge closed")
	default:
	}

	req := bridgeRequest{args: call.Function.Arguments, reply: make(chan string, 1)}
	select {
	case b.requests <- req:
	case <-b.quit:
		return errorOutput("tool bridge closed")
	case <-ctx.Done():
		return errorOutput("cancelled before validation started")
	}

	select {
	case out := <-req.reply:
		return out
	case <-ctx.Done():
		return errorOutput("cancelled while waiting for validation")
	}
}

func errorOutput(msg string) string {
	out, _ := json.Marshal(map[string]string{"status": "error", "message": msg})
	return string(out)
}

// validateAssetClientIDs checks every asset_client_id in the agent's
// proposed matches against the corpus. Runs on the worker goroutine.
func (b *toolBridge) validateAssetClientIDs(args string) string {
	result := b.runValidation(args)
	out, err := json.Marshal(result)
	if err != nil {
		return errorOutput("failed to serialize validation result")
	}
	return string(out)
}

func (b *toolBridge) runValidation(args string) validationResult {
	var payload struct {
		Matches []struct {
			AssetClientID string `json:"asset_client_id"`
		} `json:"matches"`
	}
	if err := json.Unmarshal([]byte(args), &payload); err != nil {
		return validationResult{Message: "Invalid JSON format in message"}
	}
	if payload.Matches == nil {
		return validationResult{Message: "Message missing required 'matches' field"}
	}

	var ids []string
	for _, m := range payload.Matches {
		if m.AssetClientID != "" {
			ids = append(ids, m.AssetClientID)
		}
	}
	if len(ids) == 0 {
		return validationResult{Message: "No asset client IDs found in matches"}
	}

	if b.validIDs == nil {
		valid, err := b.index.ValidAssetClientIDs(context.Background(), b.tenantID, b.scenarioID)
		if err != nil {
			zap.L().Error("matcher: load asset ids for tool call", zap.Error(err))
			return validationResult{Message: "Validation error: could not load asset ids"}
		}
		b.validIDs = valid
	}

	var invalid []string
	for _, id := range ids {
		if !b.validIDs[id] {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return validationResult{
			Message:       "The following assets were not found: " + strings.Join(invalid, ", "),
			InvalidAssets: invalid,
		}
	}

	return validationResult{IsValid: true, Message: "All asset client IDs are valid"}
}
