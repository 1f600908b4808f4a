package llm

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnavailable    = errors.New("llm backend unavailable")
	ErrTimeout        = errors.New("llm request timed out")
	ErrMalformedReply = errors.New("llm reply malformed")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the backend-agnostic chat-completion envelope. Temperature,
// model and max-tokens are caller-supplied and never overridden by the
// router.
type Request struct {
	ModelName   string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content string
	Usage   *Usage
}

type Router interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
