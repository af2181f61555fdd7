package skills

import (
	"encoding/json"
	"strings"
)

// llmRefusalPatterns mark a reply as a model refusal wherever they appear.
// Matched case-insensitively on word boundaries.
var llmRefusalPatterns = []string{
	"i cannot assist",
	"i can't assist",
	"i'm sorry, but i",
	"as an ai language model",
}

// llmTransportPatterns mark a reply as an upstream error surfaced as text.
// Only matched near the start of the reply: content that merely mentions a
// rate limit or quota is not an error.
var llmTransportPatterns = []string{
	"rate limit",
	"rate_limit",
	"quota exceeded",
	"insufficient_quota",
	"model is overloaded",
	"context length exceeded",
}

// transportErrorWindow bounds how far into a reply a transport pattern may
// appear and still count as an error message.
const transportErrorWindow = 64

// looksLikeLLMError reports whether the reply reads as an upstream error or
// refusal rather than usable content.
func looksLikeLLMError(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range llmRefusalPatterns {
		if containsWord(lower, p) {
			return true
		}
	}
	head := lower
	if len(head) > transportErrorWindow {
		head = head[:transportErrorWindow]
	}
	for _, p := range llmTransportPatterns {
		if containsWord(head, p) {
			return true
		}
	}
	return false
}

// containsWord reports whether pattern occurs in s with no letter or digit
// adjacent on either side, so "rate limit" does not match "rate limiter".
func containsWord(s, pattern string) bool {
	for from := 0; ; {
		idx := strings.Index(s[from:], pattern)
		if idx < 0 {
			return false
		}
		idx += from
		end := idx + len(pattern)
		beforeOK := idx == 0 || !isWordByte(s[idx-1])
		afterOK := end == len(s) || !isWordByte(s[end])
		if beforeOK && afterOK {
			return true
		}
		from = idx + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// stripFences removes a surrounding markdown code fence (``` or ```json)
// when present, returning the inner body.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag on the opening fence line.
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}[]") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeLenient parses a model reply as JSON after stripping fences. When the
// body is not valid JSON it falls back to a single-field object mapping
// primaryField to the whole body, so free-text replies still yield a usable
// result.
func decodeLenient(raw, primaryField string) map[string]any {
	body := stripFences(raw)
	var out map[string]any
	if err := json.Unmarshal([]byte(body), &out); err == nil && out != nil {
		return out
	}
	return map[string]any{primaryField: body}
}

// fieldString extracts a string field, tolerating absence.
func fieldString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// fieldStrings extracts a []string field from a JSON array, skipping
// non-string elements.
func fieldStrings(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// fieldFloat extracts a numeric field, returning fallback when absent.
func fieldFloat(m map[string]any, key string, fallback float64) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return fallback
}
