package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/womatch-cli/internal/corpus"
	"github.com/sells-group/womatch-cli/internal/model"
)

// Validation rule names. Each failed check produces a RuleError carrying
// exactly one of these.
const (
	RuleShape         = "shape"
	RuleIdentifier    = "identifier"
	RuleSelfReference = "self_reference"
	RuleMembership    = "membership"
	RuleScoreRange    = "score_range"
	RuleReasoning     = "reasoning"
	RuleDuplicate     = "duplicate"
	RuleAssetMismatch = "asset_mismatch"
)

// unknownID is the sentinel the agent uses when it cannot name an
// identifier. It skips existence and consistency checks but is retained in
// the candidate for visibility.
const unknownID = "unknown"

// minReasoningLen is the minimum trimmed length of a match's reasoning.
const minReasoningLen = 10

// RuleError is one named validation failure with the offending value(s).
type RuleError struct {
	Rule    string
	Message string
}

func (e RuleError) Error() string {
	return e.Rule + ": " + e.Message
}

// JoinRuleErrors renders a rule error list as a single message for error
// results and logs.
func JoinRuleErrors(errs []RuleError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Validator checks extracted response objects against the assessment corpus
// and the internal consistency rules before anything reaches storage.
type Validator struct {
	index corpus.Index
}

// NewValidator creates a Validator backed by the given corpus index.
func NewValidator(index corpus.Index) *Validator {
	return &Validator{index: index}
}

// Validate checks obj structurally and referentially and returns the typed
// response on success. Rule violations come back as []RuleError; the error
// return is reserved for corpus query failures. Validation stops at the
// first failing match and returns every rule error accumulated up to that
// point, so a response that fails any rule is never partially persisted.
func (v *Validator) Validate(ctx context.Context, obj map[string]any, tenantID, scenarioID string) (*model.AgentResponse, []RuleError, error) {
	raw, shapeErr := coerceMatches(obj)
	if shapeErr != nil {
		return nil, []RuleError{*shapeErr}, nil
	}

	var validIDs map[string]bool
	if len(raw) > 0 {
		var err error
		validIDs, err = v.index.ValidAssetClientIDs(ctx, tenantID, scenarioID)
		if err != nil {
			return nil, nil, eris.Wrap(err, "matcher: load valid asset ids")
		}
	}

	var all []RuleError
	seen := make(map[string]bool)
	candidates := make([]model.MatchCandidate, 0, len(raw))

	for i, m := range raw {
		cand, errs, err := v.validateMatch(ctx, i, m, tenantID, scenarioID, validIDs, seen)
		if err != nil {
			return nil, nil, err
		}
		if len(errs) > 0 {
			all = append(all, errs...)
			return nil, all, nil
		}
		candidates = append(candidates, cand)
	}

	resp := &model.AgentResponse{
		Matches:   candidates,
		WorkOrder: decodeWorkOrderFields(obj),
	}
	return resp, nil, nil
}

// coerceMatches applies the top-level shape rule: the matches field must be
// a list of objects, with a single object coerced into a one-element list.
func coerceMatches(obj map[string]any) ([]map[string]any, *RuleError) {
	val, present := obj["matches"]
	if !present {
		return nil, &RuleError{Rule: RuleShape, Message: "response missing required 'matches' field"}
	}

	switch t := val.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]map[string]any, 0, len(t))
		for i, el := range t {
			m, ok := el.(map[string]any)
			if !ok {
				return nil, &RuleError{Rule: RuleShape, Message: fmt.Sprintf("match %d is not an object", i)}
			}
			out = append(out, m)
		}
		return out, nil
	case map[string]any:
		return []map[string]any{t}, nil
	default:
		return nil, &RuleError{Rule: RuleShape, Message: "'matches' must be a list of match objects"}
	}
}

func (v *Validator) validateMatch(ctx context.Context, i int, m map[string]any, tenantID, scenarioID string, validIDs map[string]bool, seen map[string]bool) (model.MatchCandidate, []RuleError, error) {
	var errs []RuleError

	assessmentID := strings.ToLower(strings.TrimSpace(stringField(m, "assessment_id")))
	assetID := strings.TrimSpace(stringField(m, "asset_client_id"))
	reasoning := stringField(m, "matching_reasoning", "reasoning")
	score, scoreOK := numberField(m, "matching_confidence_score", "confidence_score")

	if assessmentID != "" && assessmentID != unknownID && assessmentID == strings.ToLower(assetID) {
		errs = append(errs, RuleError{
			Rule:    RuleSelfReference,
			Message: fmt.Sprintf("match %d: assessment_id cannot equal asset_client_id: %s", i, assessmentID),
		})
	}

	if assessmentID != "" && assessmentID != unknownID {
		if _, err := uuid.Parse(assessmentID); err != nil {
			errs = append(errs, RuleError{
				Rule:    RuleIdentifier,
				Message: fmt.Sprintf("match %d: invalid UUID for assessment_id: %s", i, assessmentID),
			})
		} else {
			a, err := v.index.LookupAssessment(ctx, assessmentID)
			if err != nil {
				return model.MatchCandidate{}, nil, eris.Wrapf(err, "matcher: lookup assessment %s", assessmentID)
			}
			// An assessment from another tenant or scenario is treated
			// exactly like a missing one; corpus membership never crosses
			// the validation scope.
			switch {
			case a == nil || a.TenantID != tenantID || a.ScenarioID != scenarioID:
				errs = append(errs, RuleError{
					Rule:    RuleMembership,
					Message: fmt.Sprintf("match %d: assessment %s not found in corpus", i, assessmentID),
				})
			case a.AssetClientID != assetID:
				errs = append(errs, RuleError{
					Rule:    RuleAssetMismatch,
					Message: fmt.Sprintf("match %d: asset_client_id mismatch for assessment %s: got %s, expected %s", i, assessmentID, assetID, a.AssetClientID),
				})
			}
		}
	}

	if assetID == "" {
		errs = append(errs, RuleError{
			Rule:    RuleIdentifier,
			Message: fmt.Sprintf("match %d: missing asset_client_id", i),
		})
	} else if !strings.EqualFold(assetID, unknownID) {
		if !validIDs[assetID] {
			errs = append(errs, RuleError{
				Rule:    RuleMembership,
				Message: fmt.Sprintf("match %d: asset %s not found in corpus", i, assetID),
			})
		}
		if seen[assetID] {
			errs = append(errs, RuleError{
				Rule:    RuleDuplicate,
				Message: fmt.Sprintf("match %d: duplicate asset_client_id: %s", i, assetID),
			})
		}
		seen[assetID] = true
	}

	if !scoreOK || score < 0 || score > 1 {
		errs = append(errs, RuleError{
			Rule:    RuleScoreRange,
			Message: fmt.Sprintf("match %d: confidence score must be a number in [0,1], got %v", i, m["matching_confidence_score"]),
		})
	}

	if len(strings.TrimSpace(reasoning)) < minReasoningLen {
		errs = append(errs, RuleError{
			Rule:    RuleReasoning,
			Message: fmt.Sprintf("match %d: reasoning must be at least %d characters", i, minReasoningLen),
		})
	}

	if len(errs) > 0 {
		return model.MatchCandidate{}, errs, nil
	}

	return model.MatchCandidate{
		AssessmentID:    assessmentID,
		AssetClientID:   assetID,
		ConfidenceScore: score,
		Reasoning:       reasoning,
	}, nil, nil
}

// decodeWorkOrderFields pulls the derived work-order fields out of the
// response object. Missing or mistyped fields decode to zero values; the
// matches are the gated payload, not these.
func decodeWorkOrderFields(obj map[string]any) model.WorkOrderFields {
	wo, _ := obj["work_order"].(map[string]any)
	if wo == nil {
		return model.WorkOrderFields{}
	}

	fields := model.WorkOrderFields{
		Summary:  stringField(wo, "summary"),
		TaskType: stringField(wo, "task_type"),
	}
	fields.DowntimeHours, _ = numberField(wo, "downtime_hours")
	fields.Cost, _ = numberField(wo, "cost")

	if actions, ok := wo["corrective_actions"].([]any); ok {
		for _, a := range actions {
			if s, ok := a.(string); ok && strings.TrimSpace(s) != "" {
				fields.CorrectiveActions = append(fields.CorrectiveActions, s)
			}
		}
	}
	return fields
}

// stringField returns the first present string-valued key.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s
		}
	}
	return ""
}

// numberField returns the first present numeric key. JSON numbers decode as
// float64; integers that arrive as such are accepted too.
func numberField(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch n := m[k].(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		}
	}
	return 0, false
}
