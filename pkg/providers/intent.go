package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veslabs/maestro/pkg/module"
)

// IntentResult is the classification of an input against the known modules.
type IntentResult struct {
	ShouldRoute  bool    `json:"should_route"`
	TargetModule string  `json:"target_module"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

const intentSystemPrompt = `You classify a user's request against a catalog of capability modules.
Respond with a single JSON object and nothing else:
{"should_route": bool, "target_module": "<module id or empty>", "confidence": 0.0-1.0, "reasoning": "<one sentence>"}
Set should_route=true only when the request clearly belongs to one listed module.`

// AnalyzeIntent asks the provider whether the input should be routed to a
// specific module. Any failure (transport, refusal, malformed output)
// degrades to a zero-confidence result; this function never surfaces an
// error to the dispatch path.
func AnalyzeIntent(ctx context.Context, p LLMProvider, input string, peers []module.Descriptor) IntentResult {
	if p == nil || len(peers) == 0 {
		return IntentResult{}
	}

	var catalog strings.Builder
	for _, d := range peers {
		fmt.Fprintf(&catalog, "- %s: %s (commands: %s)\n", d.ID, d.Description, strings.Join(d.SupportedCommands, "; "))
	}

	resp, err := p.Chat(ctx, []Message{
		{Role: RoleSystem, Content: intentSystemPrompt},
		{Role: RoleUser, Content: fmt.Sprintf("Modules:\n%s\nRequest: %s", catalog.String(), input)},
	}, "")
	if err != nil {
		return IntentResult{Reasoning: "intent analysis unavailable"}
	}

	var result IntentResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); err != nil {
		return IntentResult{Reasoning: "intent analysis produced no usable classification"}
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result
}

// extractJSON pulls the first {...} object out of a model reply that may be
// wrapped in code fences or prose.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
