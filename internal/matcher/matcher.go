// Package matcher drives one hosted-agent conversation per work order
// through the run lifecycle, mediates tool calls back into the assessment
// corpus, and gates the agent's response through extraction and validation
// before anything is persisted.
package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/womatch-cli/internal/corpus"
	"github.com/sells-group/womatch-cli/internal/model"
	"github.com/sells-group/womatch-cli/pkg/anthropic"
	"github.com/sells-group/womatch-cli/pkg/assistants"
)

// reformatPrompt is the single clarifying re-prompt sent when a completed
// run produced no parseable JSON.
const reformatPrompt = `Your previous response could not be parsed. Respond again with ONLY a JSON object in the agreed format: {"matches": [...], "work_order": {...}}. Do not include any text outside the JSON.`

// ResultSink persists one work order's accepted agent response. Satisfied
// by store.Store.
type ResultSink interface {
	SaveMatchResult(ctx context.Context, workOrderID string, resp *model.AgentResponse) error
}

// Params configures a Matcher instance. Tenant and scenario scope every
// corpus query and persisted row; nothing is read from process-wide state.
type Params struct {
	TenantID    string
	ScenarioID  string
	AssistantID string

	Agent assistants.Client
	Index corpus.Index
	Sink  ResultSink

	// Confirm enables the no-match confirmation pass when non-nil: before an
	// empty match set is persisted, a second model is asked to confirm the
	// negative.
	Confirm      anthropic.Client
	ConfirmModel string

	MaxAttempts  int
	MaxRetries   int
	RetryBase    time.Duration
	PollInterval time.Duration
}

// Matcher is the per-tenant orchestrator. One Matcher may process many work
// orders, each on its own isolated thread; callers must not process the
// same work order id concurrently. Close releases the tool bridge worker.
type Matcher struct {
	p         Params
	bridge    *toolBridge
	validator *Validator
}

// New creates a Matcher. Zero-valued pacing and attempt limits fall back to
// the reference behavior (3 attempts, 3 retries, 5s base, 1s poll).
func New(p Params) *Matcher {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.RetryBase <= 0 {
		p.RetryBase = 5 * time.Second
	}
	if p.PollInterval <= 0 {
		p.PollInterval = time.Second
	}
	return &Matcher{
		p:         p,
		bridge:    newToolBridge(p.Index, p.TenantID, p.ScenarioID),
		validator: NewValidator(p.Index),
	}
}

// Close tears down the tool bridge worker.
func (m *Matcher) Close() {
	m.bridge.Close()
}

// ProcessBatch runs every work order through Process with at most
// concurrency in flight. Individual failures become error results; they
// never abort the rest of the batch. The progress callback, if set, is
// invoked once per finished work order.
func (m *Matcher) ProcessBatch(ctx context.Context, workOrders []*model.WorkOrder, concurrency int, progress func(model.MatchResult)) []model.MatchResult {
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]model.MatchResult, len(workOrders))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, wo := range workOrders {
		g.Go(func() error {
			res := m.Process(ctx, wo)
			results[i] = res
			if progress != nil {
				mu.Lock()
				progress(res)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers only ever return nil
	return results
}

// Process matches one work order. Always returns a result; errors are
// reported in the result's Error field, shaped like success results so the
// batch driver and review surface treat every work order uniformly.
func (m *Matcher) Process(ctx context.Context, wo *model.WorkOrder) model.MatchResult {
	if len(wo.RawFields) == 0 {
		return errorResult(wo.ID, "work order has no raw fields")
	}

	for attempt := 1; attempt <= m.p.MaxAttempts; attempt++ {
		res, incomplete := m.processAttempt(ctx, wo, attempt)
		if !incomplete {
			return res
		}
		zap.L().Warn("matcher: run incomplete, starting fresh attempt",
			zap.String("work_order_id", wo.ID),
			zap.Int("attempt", attempt))
	}
	return errorResult(wo.ID, fmt.Sprintf("failed after %d attempts", m.p.MaxAttempts))
}

// processAttempt drives one full conversation on a fresh thread. The second
// return is true when the run ended incomplete and the caller should start
// another attempt.
func (m *Matcher) processAttempt(ctx context.Context, wo *model.WorkOrder, attempt int) (model.MatchResult, bool) {
	log := zap.L().With(
		zap.String("work_order_id", wo.ID),
		zap.Int("attempt", attempt))

	thread, err := m.p.Agent.CreateThread(ctx)
	if err != nil {
		return errorResult(wo.ID, eris.Wrap(err, "matcher: create thread").Error()), false
	}
	// Threads are deleted on every exit path to bound resource growth.
	// Deletion failures are logged, never treated as attempt failures.
	defer func() {
		if err := m.p.Agent.DeleteThread(context.WithoutCancel(ctx), thread.ID); err != nil {
			log.Warn("matcher: delete thread", zap.String("thread_id", thread.ID), zap.Error(err))
		}
	}()

	payload, err := workOrderPayload(wo)
	if err != nil {
		return errorResult(wo.ID, err.Error()), false
	}
	if _, err := m.p.Agent.CreateMessage(ctx, thread.ID, "user", payload); err != nil {
		return errorResult(wo.ID, eris.Wrap(err, "matcher: submit work order").Error()), false
	}

	run, err := m.p.Agent.CreateRun(ctx, thread.ID, m.p.AssistantID)
	if err != nil {
		return errorResult(wo.ID, eris.Wrap(err, "matcher: create run").Error()), false
	}

	retries := 0
	reprompted := false

	for {
		log.Debug("matcher: run status", zap.String("run_id", run.ID), zap.String("status", string(run.Status)))

		switch run.Status {
		case assistants.RunStatusCompleted:
			res, reprompt := m.handleCompleted(ctx, wo, thread.ID, reprompted)
			if !reprompt {
				return res, false
			}
			reprompted = true
			if _, err := m.p.Agent.CreateMessage(ctx, thread.ID, "user", reformatPrompt); err != nil {
				return errorResult(wo.ID, eris.Wrap(err, "matcher: send reformat prompt").Error()), false
			}
			run, err = m.p.Agent.CreateRun(ctx, thread.ID, m.p.AssistantID)
			if err != nil {
				return errorResult(wo.ID, eris.Wrap(err, "matcher: create reformat run").Error()), false
			}
			continue

		case assistants.RunStatusRequiresAction:
			var calls []assistants.ToolCall
			if run.RequiredAction != nil {
				calls = run.RequiredAction.SubmitToolOutputs.ToolCalls
			}
			outputs := m.bridge.Resolve(ctx, calls)
			run, err = m.p.Agent.SubmitToolOutputs(ctx, thread.ID, run.ID, outputs)
			if err != nil {
				return errorResult(wo.ID, eris.Wrap(err, "matcher: submit tool outputs").Error()), false
			}
			continue

		case assistants.RunStatusFailed:
			if retriableRun(run) && retries < m.p.MaxRetries {
				retries++
				log.Warn("matcher: retriable run failure",
					zap.String("code", run.LastError.Code),
					zap.Int("retry", retries))
				// Best effort; a stale run that refuses to cancel does not
				// block the retry.
				if err := m.p.Agent.CancelRun(ctx, thread.ID, run.ID); err != nil {
					log.Debug("matcher: cancel stale run", zap.Error(err))
				}
				if err := sleepCtx(ctx, runBackoff(m.p.RetryBase, retries)); err != nil {
					return errorResult(wo.ID, err.Error()), false
				}
				run, err = m.p.Agent.CreateRun(ctx, thread.ID, m.p.AssistantID)
				if err != nil {
					return errorResult(wo.ID, eris.Wrap(err, "matcher: create retry run").Error()), false
				}
				continue
			}
			return errorResult(wo.ID, "run failed: "+runErrorText(run)), false

		case assistants.RunStatusCancelled, assistants.RunStatusExpired:
			return m.handleAbandoned(ctx, wo, run), false

		case assistants.RunStatusIncomplete:
			return model.MatchResult{}, true

		default:
			// queued, in_progress, cancelling
			if err := sleepCtx(ctx, m.p.PollInterval); err != nil {
				return errorResult(wo.ID, err.Error()), false
			}
			run, err = m.p.Agent.GetRun(ctx, thread.ID, run.ID)
			if err != nil {
				return errorResult(wo.ID, eris.Wrap(err, "matcher: poll run").Error()), false
			}
		}
	}
}

// handleCompleted reads the final message, extracts and validates it, and
// persists the response. The second return requests the one allowed
// reformat re-prompt when extraction fails.
func (m *Matcher) handleCompleted(ctx context.Context, wo *model.WorkOrder, threadID string, reprompted bool) (model.MatchResult, bool) {
	msg, err := m.p.Agent.LatestMessage(ctx, threadID)
	if err != nil {
		return errorResult(wo.ID, eris.Wrap(err, "matcher: read response").Error()), false
	}
	raw := msg.Text()
	if raw == "" {
		return errorResult(wo.ID, "no response received from assistant"), false
	}

	obj, ok := extractObject(raw)
	if !ok {
		if !reprompted {
			return model.MatchResult{}, true
		}
		res := errorResult(wo.ID, "could not extract JSON from response")
		res.RawResponse = raw
		return res, false
	}

	resp, ruleErrs, err := m.validator.Validate(ctx, obj, wo.TenantID, wo.ScenarioID)
	if err != nil {
		return errorResult(wo.ID, err.Error()), false
	}
	if len(ruleErrs) > 0 {
		res := errorResult(wo.ID, "validation failed: "+JoinRuleErrors(ruleErrs))
		res.RawResponse = raw
		return res, false
	}

	if len(resp.Matches) == 0 && m.p.Confirm != nil {
		resp = m.confirmNoMatch(ctx, wo, resp)
	}

	if err := m.p.Sink.SaveMatchResult(ctx, wo.ID, resp); err != nil {
		return errorResult(wo.ID, eris.Wrap(err, "matcher: save matches").Error()), false
	}

	return model.MatchResult{
		WorkOrderID: wo.ID,
		Status:      model.MatchResultSuccess,
		Response:    resp,
		RawResponse: raw,
	}, false
}

// handleAbandoned resolves cancelled and expired runs. The work order is
// persisted as an explicit non-match whose reasoning names the terminal
// state, and the result is reported as an error so batch reporting can
// distinguish infrastructure abandonment from a genuine negative.
func (m *Matcher) handleAbandoned(ctx context.Context, wo *model.WorkOrder, run *assistants.Run) model.MatchResult {
	resp := &model.AgentResponse{
		WorkOrder: model.WorkOrderFields{
			Summary: fmt.Sprintf("Run %s before completion; no match determination was made.", run.Status),
		},
	}
	if err := m.p.Sink.SaveMatchResult(ctx, wo.ID, resp); err != nil {
		return errorResult(wo.ID, eris.Wrap(err, "matcher: save abandoned result").Error())
	}
	res := errorResult(wo.ID, "run "+string(run.Status))
	res.Response = resp
	return res
}

// confirmNoMatch asks a second model to confirm an empty match set before
// it is persisted. Confirmation is advisory: any failure keeps the original
// empty response, and any matches the second model proposes must still pass
// validation.
func (m *Matcher) confirmNoMatch(ctx context.Context, wo *model.WorkOrder, resp *model.AgentResponse) *model.AgentResponse {
	temp := 0.0
	out, err := m.p.Confirm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       m.p.ConfirmModel,
		MaxTokens:   1024,
		Messages:    []anthropic.Message{{Role: "user", Content: confirmPrompt(wo)}},
		Temperature: &temp,
	})
	if err != nil {
		zap.L().Warn("matcher: no-match confirmation failed",
			zap.String("work_order_id", wo.ID), zap.Error(err))
		return resp
	}
	out.Usage.LogCost(m.p.ConfirmModel, "confirm_no_match")

	obj, ok := extractObject(out.Text())
	if !ok {
		return resp
	}
	confirmed, ruleErrs, err := m.validator.Validate(ctx, obj, wo.TenantID, wo.ScenarioID)
	if err != nil || len(ruleErrs) > 0 || confirmed == nil || len(confirmed.Matches) == 0 {
		if summary := decodeWorkOrderFields(obj).Summary; summary != "" && resp.WorkOrder.Summary == "" {
			resp.WorkOrder.Summary = summary
		}
		return resp
	}

	zap.L().Info("matcher: confirmation pass recovered matches",
		zap.String("work_order_id", wo.ID),
		zap.Int("matches", len(confirmed.Matches)))
	return confirmed
}

func confirmPrompt(wo *model.WorkOrder) string {
	fields, _ := json.MarshalIndent(wo.RawFields, "", "  ")
	return fmt.Sprintf(`Please review this work order one more time and provide:
1. Confirm if there are truly no matching assessments
2. Classify whether this is a repair work order by checking:
   - Does it fix something broken?
   - Does it replace failed components?
   - Is it corrective maintenance?
   - Does it address a breakdown?

Work Order ID: %s
Fields:
%s

If you find any matches, return them in the standard JSON format.
If confirming no matches, explain why and include repair classification with reasoning.`, wo.ID, fields)
}

// workOrderPayload renders the work order as the first user message of the
// thread: the raw fields serialized under a stable envelope.
func workOrderPayload(wo *model.WorkOrder) (string, error) {
	fields, err := json.MarshalIndent(wo.RawFields, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "matcher: marshal raw fields")
	}
	payload, err := json.MarshalIndent(map[string]any{
		"work_order": map[string]string{
			"id":      wo.ID,
			"summary": string(fields),
		},
	}, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "matcher: marshal payload")
	}
	return string(payload), nil
}

func errorResult(workOrderID, msg string) model.MatchResult {
	return model.MatchResult{
		WorkOrderID: workOrderID,
		Status:      model.MatchResultError,
		Error:       msg,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
