package orchestrator

import (
	"regexp"
	"strings"

	"milo/internal/jsonx"
	"milo/internal/observer"
)

// parseResponse turns the raw model output into a ModelResponse using the
// fallback chain: tolerant JSON parse of the full text, then of the stream
// buffer, then an action-envelope scan, then a loose key-value parse. When
// everything fails the raw text becomes the response field.
func parseResponse(text, streamBuffer string) *ModelResponse {
	if data, err := jsonx.Parse(text); err == nil {
		return fromMap(data)
	}
	if streamBuffer != "" && streamBuffer != text {
		if data, err := jsonx.Parse(streamBuffer); err == nil {
			return fromMap(data)
		}
	}
	if data, ok := parseActionEnvelope(text); ok {
		return fromMap(data)
	}
	if data, ok := parseLooseKeyValues(text); ok {
		return fromMap(data)
	}
	return &ModelResponse{Response: strings.TrimSpace(text), Raw: map[string]any{}}
}

var actionEnvelopePattern = regexp.MustCompile(`(?s)\{[^{}]*"action"\s*:\s*"[^"]+".*?\}`)

// parseActionEnvelope finds a free-form {"action":…,"parameters":…} object
// embedded in prose.
func parseActionEnvelope(text string) (map[string]any, bool) {
	span := actionEnvelopePattern.FindString(text)
	if span == "" {
		return nil, false
	}
	data, err := jsonx.Parse(span)
	if err != nil {
		return nil, false
	}
	if _, ok := data["action"]; !ok {
		return nil, false
	}
	return data, true
}

var looseKVPattern = regexp.MustCompile(`(?m)^\s*"?(\w+)"?\s*:\s*"?(.+?)"?\s*,?\s*$`)

// parseLooseKeyValues salvages line-oriented key: value text that never
// formed valid JSON. Only known schema keys are accepted, which keeps prose
// with stray colons from producing garbage.
func parseLooseKeyValues(text string) (map[string]any, bool) {
	known := map[string]struct{}{
		"response": {}, "thought": {}, "plan": {}, "self_critique": {},
		"message": {}, "reply": {}, "answer": {}, "reasoning": {},
	}
	data := make(map[string]any)
	for _, m := range looseKVPattern.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(m[1])
		if _, ok := known[key]; !ok {
			continue
		}
		if _, dup := data[key]; dup {
			continue
		}
		data[key] = m[2]
	}
	if len(data) == 0 {
		return nil, false
	}
	return data, true
}

// fillFromSnapshot patches fields the final parse missed using the streaming
// observer's best-effort view, and infers tool intent from signals whose
// payloads never completed.
func fillFromSnapshot(r *ModelResponse, snap observer.Snapshot) {
	if r.Response == "" {
		r.Response = snap.Fields["response"]
	}
	if r.Thought == "" {
		r.Thought = snap.Fields["thought"]
	}
	if r.Plan == "" {
		r.Plan = snap.Fields["plan"]
	}
	if r.SelfCritique == "" {
		r.SelfCritique = snap.Fields["self_critique"]
	}
	if len(r.AskUserQuestions) == 0 {
		if q := snap.Fields["ask_user"]; q != "" {
			r.AskUserQuestions = []string{q}
		}
	}
	if r.WebSearch == nil && containsKey(snap.SeenToolKeys, "web_search") {
		// Signal arrived but the payload never completed; surface intent so
		// the orchestrator can report it rather than silently dropping it.
		r.WebSearch = &WebSearchRequest{Queries: []string{firstNonEmptyLine(snap.Fields["response"])}, Type: "text"}
	}
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return text
}
