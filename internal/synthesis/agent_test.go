package synthesis

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/tokintel/tokintel/internal/llm"
)

type mockRouter struct {
	replies []string
	errs    []error
	calls   int
	lastReq llm.Request
}

func (m *mockRouter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	idx := m.calls
	m.calls++
	m.lastReq = req
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	return &llm.Response{Content: m.replies[idx]}, nil
}

const validJSON = `{"title":"Benvenuti","summary":"Video di benvenuto","theme":"Introduzione",` +
	`"emotions":["entusiasmo"],"hook_present":true,"hook_rationale":"Saluto diretto",` +
	`"keywords":["tokintel","benvenuto"],"sentiment":0.6,"overall_score":7.5}`

func TestAnalyzeHappyPath(t *testing.T) {
	router := &mockRouter{replies: []string{validJSON}}
	agent := NewAgent(router, Config{StructuredFormat: FormatJSON})

	report, err := agent.Analyze(context.Background(), "Benvenuti su TokIntel!", "TokIntel", "Benvenuti")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Summary != "Video di benvenuto" {
		t.Errorf("unexpected summary: %q", report.Summary)
	}
	if report.Theme != "Introduzione" {
		t.Errorf("unexpected theme: %q", report.Theme)
	}
	if !report.HookPresent || report.HookRationale != "Saluto diretto" {
		t.Errorf("unexpected hook fields: %v %q", report.HookPresent, report.HookRationale)
	}
	if report.OverallScore != 7.5 || report.Sentiment != 0.6 {
		t.Errorf("unexpected scores: %f %f", report.OverallScore, report.Sentiment)
	}
	if router.calls != 1 {
		t.Errorf("expected 1 router call, got %d", router.calls)
	}
}

func TestAnalyzeFencedJSON(t *testing.T) {
	fenced := "Ecco l'analisi richiesta:\n```json\n" + validJSON + "\n```\nSpero sia utile."
	router := &mockRouter{replies: []string{fenced}}
	agent := NewAgent(router, Config{StructuredFormat: FormatJSON})

	report, err := agent.Analyze(context.Background(), "t", "o", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary != "Video di benvenuto" {
		t.Errorf("unexpected summary: %q", report.Summary)
	}
	if router.calls != 1 {
		t.Errorf("expected no clarifying retry, got %d calls", router.calls)
	}
}

func TestAnalyzeClarifyingRetryRecovers(t *testing.T) {
	router := &mockRouter{replies: []string{"certo, ecco cosa penso del video...", validJSON}}
	agent := NewAgent(router, Config{StructuredFormat: FormatJSON})

	report, err := agent.Analyze(context.Background(), "t", "o", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Theme != "Introduzione" {
		t.Errorf("unexpected theme: %q", report.Theme)
	}
	if router.calls != 2 {
		t.Fatalf("expected 2 router calls, got %d", router.calls)
	}
	// The follow-up must carry the conversation so far.
	if len(router.lastReq.Messages) != 3 {
		t.Errorf("expected 3 messages in clarifying request, got %d", len(router.lastReq.Messages))
	}
}

func TestAnalyzeMalformedTwiceFails(t *testing.T) {
	router := &mockRouter{replies: []string{"not json at all", "not json at all"}}
	agent := NewAgent(router, Config{StructuredFormat: FormatJSON})

	_, err := agent.Analyze(context.Background(), "t", "o", "")
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if router.calls != 2 {
		t.Errorf("expected exactly 2 router calls, got %d", router.calls)
	}
}

func TestAnalyzeRouterErrorPropagates(t *testing.T) {
	router := &mockRouter{errs: []error{llm.ErrUnavailable}, replies: []string{""}}
	agent := NewAgent(router, Config{StructuredFormat: FormatJSON})

	_, err := agent.Analyze(context.Background(), "t", "o", "")
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("expected router error to propagate, got %v", err)
	}
}

func TestParseReplyClampsRanges(t *testing.T) {
	reply := `{"summary":"s","theme":"t","sentiment":3.2,"overall_score":15}`
	report, err := ParseReply(reply, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Sentiment != 1 {
		t.Errorf("expected sentiment clamped to 1, got %f", report.Sentiment)
	}
	if report.OverallScore != 10 {
		t.Errorf("expected score clamped to 10, got %f", report.OverallScore)
	}
	if report.Emotions == nil || len(report.Emotions) != 0 {
		t.Errorf("expected empty emotions default, got %v", report.Emotions)
	}
	if report.HookPresent {
		t.Error("expected hook_present default false")
	}
}

func TestParseReplyMissingRequiredField(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"missing summary", `{"theme":"t","overall_score":5}`},
		{"missing theme", `{"summary":"s","overall_score":5}`},
		{"missing overall_score", `{"summary":"s","theme":"t"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseReply(tt.reply, FormatJSON); !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestParseReplyTruncatesKeywords(t *testing.T) {
	reply := `{"summary":"s","theme":"t","overall_score":5,` +
		`"keywords":["a","b","c","d","e","f","g","h","i","j","k","l"]}`
	report, err := ParseReply(reply, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Keywords) != 10 {
		t.Errorf("expected 10 keywords, got %d", len(report.Keywords))
	}
}

func TestParseKVReply(t *testing.T) {
	reply := `title: Benvenuti
summary: Video di benvenuto
theme: Introduzione
emotions: entusiasmo, curiosità
hook_present: true
hook_rationale: Saluto diretto
keywords: tokintel, benvenuto
sentiment: 0.6
overall_score: 7.5`

	report, err := ParseReply(reply, FormatKV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary != "Video di benvenuto" || report.Theme != "Introduzione" {
		t.Errorf("unexpected fields: %+v", report)
	}
	if len(report.Emotions) != 2 {
		t.Errorf("expected 2 emotions, got %v", report.Emotions)
	}
	if !report.HookPresent {
		t.Error("expected hook_present true")
	}
	if report.OverallScore != 7.5 {
		t.Errorf("unexpected score: %f", report.OverallScore)
	}
}

func TestRoundTripBothFormats(t *testing.T) {
	original := &Report{
		Title:         "Benvenuti",
		Summary:       "Video di benvenuto",
		Theme:         "Introduzione",
		Emotions:      []string{"curiosità", "entusiasmo"},
		HookPresent:   true,
		HookRationale: "Saluto diretto",
		Keywords:      []string{"tokintel", "benvenuto"},
		Sentiment:     0.6,
		OverallScore:  7.5,
	}
	original.Normalize()

	for _, format := range []string{FormatJSON, FormatKV} {
		t.Run(format, func(t *testing.T) {
			formatted, err := FormatReport(original, format)
			if err != nil {
				t.Fatalf("format failed: %v", err)
			}
			parsed, err := ParseReply(formatted, format)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if !reflect.DeepEqual(original, parsed) {
				t.Errorf("round trip mismatch:\noriginal: %+v\nparsed:   %+v", original, parsed)
			}
		})
	}
}

func TestExtractJSONObjectIgnoresBracesInStrings(t *testing.T) {
	s := `prefix {"summary":"uso {strano} di parentesi","theme":"t","overall_score":5} suffix`
	obj := extractJSONObject(s)
	if obj != `{"summary":"uso {strano} di parentesi","theme":"t","overall_score":5}` {
		t.Errorf("unexpected extraction: %q", obj)
	}
}

func TestBuildPromptMentionsBothSources(t *testing.T) {
	agent := NewAgent(&mockRouter{replies: []string{validJSON}}, Config{StructuredFormat: FormatJSON})
	prompt := agent.buildPrompt("parlato qui", "testo ocr qui")

	for _, want := range []string{"parlato qui", "testo ocr qui", "overall_score", "sentiment"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
