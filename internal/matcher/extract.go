package matcher

import (
	"encoding/json"
	"regexp"
	"strings"
)

// defaultNarrativeConfidence is assigned to matches recovered by the
// narrative miner, which has no confidence signal of its own.
const defaultNarrativeConfidence = 0.7

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?(.*?)```")

	isRepairRe  = regexp.MustCompile(`(?i)is.?repair:?\s*(true|false)`)
	reasoningRe = regexp.MustCompile(`(?i)reasoning:?\s*([^.]*\.)`)
	tripleRe    = regexp.MustCompile(`(?is)assessment.*?id:?\s*([a-f0-9-]+).*?asset.*?id:?\s*([^\s,]+).*?name:?\s*([^,\n]+)`)
)

// extractObject recovers a JSON object from raw agent text. Attempts in
// order, first success wins: the whole trimmed text, the interior of a
// fenced code block, the first balanced brace span, and finally a narrative
// miner for responses that talk about assessments without emitting JSON.
// The second return is false when nothing parseable was found.
func extractObject(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}

	if obj, ok := tryParseObject(text); ok {
		return obj, true
	}

	for _, m := range fencedBlockRe.FindAllStringSubmatch(text, -1) {
		if obj, ok := tryParseObject(strings.TrimSpace(m[1])); ok {
			return obj, true
		}
	}

	for _, span := range balancedSpans(text) {
		if obj, ok := tryParseObject(span); ok {
			return obj, true
		}
	}

	// The miner only runs on text that plausibly talks about the domain:
	// assessments, matches, or a repair classification.
	lower := strings.ToLower(text)
	if strings.Contains(lower, "assessment") || strings.Contains(lower, "match") || strings.Contains(lower, "repair") {
		if obj, ok := mineNarrative(text); ok {
			return obj, true
		}
	}

	return nil, false
}

func tryParseObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// balancedSpans returns every top-level {...} span in the text, in order of
// appearance. Nested braces inside string literals are not tracked; a span
// that fails to parse is simply skipped by the caller.
func balancedSpans(text string) []string {
	var spans []string
	depth := 0
	start := -1
	for i, r := range text {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}

// mineNarrative assembles a best-effort response object from prose. It
// recovers a repair classification, a reasoning sentence, and any
// assessment/asset/name triples the text mentions.
func mineNarrative(text string) (map[string]any, bool) {
	isRepair := false
	if m := isRepairRe.FindStringSubmatch(text); m != nil {
		isRepair = strings.EqualFold(m[1], "true")
	}

	reasoning := "Unable to determine from narrative"
	if m := reasoningRe.FindStringSubmatch(text); m != nil {
		if r := strings.TrimSpace(m[1]); r != "" {
			reasoning = r
		}
	}

	var matches []any
	for _, m := range tripleRe.FindAllStringSubmatch(text, -1) {
		matches = append(matches, map[string]any{
			"assessment_id":             m[1],
			"asset_client_id":           m[2],
			"asset_name":                strings.TrimSpace(m[3]),
			"matching_confidence_score": defaultNarrativeConfidence,
			"matching_reasoning":        "Extracted from narrative",
		})
	}

	taskType := ""
	if isRepair {
		taskType = "repair"
	}

	return map[string]any{
		"matches": matches,
		"work_order": map[string]any{
			"summary":   reasoning,
			"task_type": taskType,
		},
		"repair_classification": map[string]any{
			"is_repair": isRepair,
			"reasoning": reasoning,
		},
	}, true
}
