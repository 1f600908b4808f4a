package synthesis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Report is the typed analysis output. Emotions are kept sorted so two
// reports with the same content compare equal.
type Report struct {
	Title         string   `json:"title"`
	Summary       string   `json:"summary"`
	Theme         string   `json:"theme"`
	Emotions      []string `json:"emotions"`
	HookPresent   bool     `json:"hook_present"`
	HookRationale string   `json:"hook_rationale"`
	Keywords      []string `json:"keywords"`
	Sentiment     float64  `json:"sentiment"`
	OverallScore  float64  `json:"overall_score"`
}

const maxKeywords = 10

// Normalize clamps range fields, truncates keywords and sorts emotions.
func (r *Report) Normalize() {
	r.Sentiment = clamp(r.Sentiment, -1, 1)
	r.OverallScore = clamp(r.OverallScore, 0, 10)
	if len(r.Keywords) > maxKeywords {
		r.Keywords = r.Keywords[:maxKeywords]
	}
	if r.Emotions == nil {
		r.Emotions = []string{}
	}
	if r.Keywords == nil {
		r.Keywords = []string{}
	}
	sort.Strings(r.Emotions)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FormatReport renders a report in the given structured format. Primarily a
// test aid: parse(format(report)) must round-trip for both formats.
func FormatReport(r *Report, format string) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case FormatKV:
		var b strings.Builder
		fmt.Fprintf(&b, "title: %s\n", r.Title)
		fmt.Fprintf(&b, "summary: %s\n", r.Summary)
		fmt.Fprintf(&b, "theme: %s\n", r.Theme)
		fmt.Fprintf(&b, "emotions: %s\n", strings.Join(r.Emotions, ", "))
		fmt.Fprintf(&b, "hook_present: %t\n", r.HookPresent)
		fmt.Fprintf(&b, "hook_rationale: %s\n", r.HookRationale)
		fmt.Fprintf(&b, "keywords: %s\n", strings.Join(r.Keywords, ", "))
		fmt.Fprintf(&b, "sentiment: %s\n", strconv.FormatFloat(r.Sentiment, 'f', -1, 64))
		fmt.Fprintf(&b, "overall_score: %s\n", strconv.FormatFloat(r.OverallScore, 'f', -1, 64))
		return b.String(), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}
