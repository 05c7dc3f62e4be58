// Package llmjson pulls structured payloads out of language-model output,
// tolerating code fences and surrounding prose.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"citygen/internal/domain"
)

// ErrEmptyPayload is returned when no JSON fragment could be located.
var ErrEmptyPayload = errors.New("llmjson: empty payload")

// Decode unmarshals the first JSON object or array embedded in raw.
func Decode[T any](raw string) (T, error) {
	var zero T
	cleaned := ExtractFragment(raw)
	if cleaned == "" {
		return zero, ErrEmptyPayload
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, fmt.Errorf("llmjson: %w", err)
	}
	return decoded, nil
}

// ExtractFragment strips code fences and trims raw down to the outermost
// {...} or [...] span.
func ExtractFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = TrimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

// TrimCodeFence removes a surrounding markdown code fence, if any.
func TrimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

type verdictPayload struct {
	Pass           *bool             `json:"pass"`
	FailedCriteria []domain.Freeform `json:"failed_criteria"`
	Reason         string            `json:"reason"`
}

// ParseVerdict decodes {"pass": bool, "failed_criteria": [...], "reason": str}.
// Anything without an explicit boolean pass is malformed, never accepted.
func ParseVerdict(raw string) (domain.Verdict, error) {
	payload, err := Decode[verdictPayload](raw)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %v", domain.ErrMalformedVerdict, err)
	}
	if payload.Pass == nil {
		return domain.Verdict{}, fmt.Errorf("%w: missing pass field", domain.ErrMalformedVerdict)
	}
	verdict := domain.Verdict{
		Accepted: *payload.Pass,
		Reason:   strings.TrimSpace(payload.Reason),
	}
	for _, c := range payload.FailedCriteria {
		if s := strings.TrimSpace(c.String()); s != "" {
			verdict.FailedCriteria = append(verdict.FailedCriteria, s)
		}
	}
	return verdict, nil
}

var dimensionPattern = regexp.MustCompile(`(?i)(length|width|height)\s*[:=：]\s*([0-9]+(?:\.[0-9]+)?)`)

// ParseDimensions reads "Length: Xm, Width: Ym, Height: Zm". ok is false
// unless all three extents were found and positive.
func ParseDimensions(raw string) (domain.Dimensions, bool) {
	var d domain.Dimensions
	for _, m := range dimensionPattern.FindAllStringSubmatch(raw, -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(m[1]) {
		case "length":
			d.Length = v
		case "width":
			d.Width = v
		case "height":
			d.Height = v
		}
	}
	return d, d.Valid()
}

// Coalesce returns the first non-blank value, trimmed.
func Coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
