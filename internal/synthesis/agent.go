package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tokintel/tokintel/internal/llm"
)

const (
	FormatJSON = "json"
	FormatKV   = "kv"
)

var ErrMalformed = errors.New("synthesis reply malformed")

// Agent composes the analysis prompt from extracted text and parses the model
// reply into a typed report.
type Agent struct {
	router llm.Router
	cfg    Config
}

type Config struct {
	ModelName        string
	Temperature      float64
	MaxTokens        int
	Timeout          time.Duration
	OutputLanguage   string
	StructuredFormat string
}

func NewAgent(router llm.Router, cfg Config) *Agent {
	if cfg.OutputLanguage == "" {
		cfg.OutputLanguage = "it"
	}
	if cfg.StructuredFormat == "" {
		cfg.StructuredFormat = FormatJSON
	}
	return &Agent{router: router, cfg: cfg}
}

// Analyze sends the composed prompt to the router and parses the reply. A
// parse failure triggers one clarifying follow-up; a second failure surfaces
// ErrMalformed.
func (a *Agent) Analyze(ctx context.Context, transcript, ocrText, title string) (*Report, error) {
	messages := []llm.Message{
		{Role: "user", Content: a.buildPrompt(transcript, ocrText)},
	}

	resp, err := a.complete(ctx, messages)
	if err != nil {
		return nil, err
	}

	report, parseErr := ParseReply(resp.Content, a.cfg.StructuredFormat)
	if parseErr != nil {
		log.Printf("[SYNTH] Failed to parse reply, sending clarifying follow-up: %v", parseErr)

		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "user", Content: a.clarifyingPrompt()},
		)
		resp, err = a.complete(ctx, messages)
		if err != nil {
			return nil, err
		}
		report, parseErr = ParseReply(resp.Content, a.cfg.StructuredFormat)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: after clarifying retry: %v", ErrMalformed, parseErr)
		}
	}

	if report.Title == "" {
		report.Title = title
	}
	return report, nil
}

func (a *Agent) complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	return a.router.Complete(ctx, llm.Request{
		ModelName:   a.cfg.ModelName,
		Messages:    messages,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		Timeout:     a.cfg.Timeout,
	})
}

func (a *Agent) buildPrompt(transcript, ocrText string) string {
	var b strings.Builder

	b.WriteString("Analizza il contenuto di un breve video.\n\n")

	b.WriteString("Trascrizione del parlato:\n")
	if strings.TrimSpace(transcript) == "" {
		b.WriteString("(nessun parlato rilevato)\n")
	} else {
		b.WriteString(transcript)
		b.WriteString("\n")
	}

	b.WriteString("\nTesto visibile nei fotogrammi (in ordine temporale):\n")
	if strings.TrimSpace(ocrText) == "" {
		b.WriteString("(nessun testo rilevato)\n")
	} else {
		b.WriteString(ocrText)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nFornisci, in lingua %q:\n", a.cfg.OutputLanguage)
	b.WriteString("1. un riassunto conciso (summary)\n")
	b.WriteString("2. il tema centrale (theme)\n")
	b.WriteString("3. le emozioni trasmesse (emotions)\n")
	b.WriteString("4. se nei primi secondi è presente un hook efficace (hook_present) e perché (hook_rationale)\n")
	b.WriteString("5. fino a dieci parole chiave (keywords)\n")
	b.WriteString("6. un punteggio di sentiment tra -1 e 1 (sentiment)\n")
	b.WriteString("7. un punteggio complessivo di engagement tra 0 e 10 (overall_score)\n\n")

	switch a.cfg.StructuredFormat {
	case FormatKV:
		b.WriteString("Rispondi solo con righe etichettate nel formato chiave: valore, ")
		b.WriteString("usando le chiavi: title, summary, theme, emotions, hook_present, hook_rationale, keywords, sentiment, overall_score. ")
		b.WriteString("Liste separate da virgola.")
	default:
		b.WriteString("Rispondi solo con un oggetto JSON con i campi: ")
		b.WriteString("title, summary, theme, emotions, hook_present, hook_rationale, keywords, sentiment, overall_score.")
	}

	return b.String()
}

func (a *Agent) clarifyingPrompt() string {
	if a.cfg.StructuredFormat == FormatKV {
		return "Rispondi solo con righe chiave: valore per i campi title, summary, theme, emotions, hook_present, hook_rationale, keywords, sentiment, overall_score. Nessun altro testo."
	}
	return "Rispondi solo con un oggetto JSON con i campi title, summary, theme, emotions, hook_present, hook_rationale, keywords, sentiment, overall_score. Nessun altro testo."
}
