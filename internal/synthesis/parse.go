package synthesis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// rawReport mirrors Report but tolerates missing fields: pointers distinguish
// "absent" from zero so required-field checks work.
type rawReport struct {
	Title         *string  `json:"title"`
	Summary       *string  `json:"summary"`
	Theme         *string  `json:"theme"`
	Emotions      []string `json:"emotions"`
	HookPresent   *bool    `json:"hook_present"`
	HookRationale *string  `json:"hook_rationale"`
	Keywords      []string `json:"keywords"`
	Sentiment     *float64 `json:"sentiment"`
	OverallScore  *float64 `json:"overall_score"`
}

// ParseReply extracts a Report from a model reply in the given structured
// format. JSON replies may be wrapped in prose or code fences; the first
// balanced JSON object is taken. KV replies are labeled key: value lines.
func ParseReply(reply, format string) (*Report, error) {
	var raw rawReport
	var err error

	switch format {
	case FormatJSON:
		raw, err = parseJSONReply(reply)
	case FormatKV:
		raw, err = parseKVReply(reply)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return nil, err
	}

	if raw.Summary == nil || strings.TrimSpace(*raw.Summary) == "" {
		return nil, fmt.Errorf("%w: missing required field summary", ErrMalformed)
	}
	if raw.Theme == nil || strings.TrimSpace(*raw.Theme) == "" {
		return nil, fmt.Errorf("%w: missing required field theme", ErrMalformed)
	}
	if raw.OverallScore == nil {
		return nil, fmt.Errorf("%w: missing required field overall_score", ErrMalformed)
	}

	report := &Report{
		Summary:      *raw.Summary,
		Theme:        *raw.Theme,
		OverallScore: *raw.OverallScore,
		Emotions:     raw.Emotions,
		Keywords:     raw.Keywords,
	}
	if raw.Title != nil {
		report.Title = *raw.Title
	}
	if raw.HookPresent != nil {
		report.HookPresent = *raw.HookPresent
	}
	if raw.HookRationale != nil {
		report.HookRationale = *raw.HookRationale
	}
	if raw.Sentiment != nil {
		report.Sentiment = *raw.Sentiment
	}

	report.Normalize()
	return report, nil
}

func parseJSONReply(reply string) (rawReport, error) {
	var raw rawReport

	obj := extractJSONObject(reply)
	if obj == "" {
		return raw, fmt.Errorf("%w: no JSON object in reply", ErrMalformed)
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return raw, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return raw, nil
}

// extractJSONObject returns the first balanced top-level JSON object in s,
// ignoring braces inside string literals. Code fences around the object are
// irrelevant since scanning starts at the first '{'.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func parseKVReply(reply string) (rawReport, error) {
	var raw rawReport
	found := false

	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		key = strings.Trim(key, "*-# ")
		value := strings.TrimSpace(line[idx+1:])

		switch key {
		case "title", "titolo":
			raw.Title = &value
		case "summary", "riassunto":
			raw.Summary = &value
		case "theme", "tema":
			raw.Theme = &value
		case "emotions", "emozioni":
			raw.Emotions = splitList(value)
		case "hook_present", "hook":
			b := parseBool(value)
			raw.HookPresent = &b
		case "hook_rationale":
			raw.HookRationale = &value
		case "keywords", "parole_chiave":
			raw.Keywords = splitList(value)
		case "sentiment":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				raw.Sentiment = &f
			}
		case "overall_score", "punteggio":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				raw.OverallScore = &f
			}
		default:
			continue
		}
		found = true
	}

	if !found {
		return raw, fmt.Errorf("%w: no labeled fields in reply", ErrMalformed)
	}
	return raw, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "si", "sì", "1":
		return true
	}
	return false
}
