package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/tokintel/tokintel/internal/config"
)

const (
	openAIBaseURL  = "https://api.openai.com/v1"
	defaultTimeout = 30 * time.Second
	initialBackoff = 500 * time.Millisecond
	backoffFactor  = 2
	jitterFraction = 0.2
)

// Client speaks the OpenAI chat-completions wire shape against either the
// hosted endpoint or a local-compatible inference server; only the base URL
// and auth differ between providers.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	httpClient *http.Client
}

func NewClient(cfg *config.Config) (*Client, error) {
	baseURL := openAIBaseURL
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if cfg.APIBaseURL != "" {
			baseURL = cfg.APIBaseURL
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api_key is required for provider %s", config.ProviderOpenAI)
		}
	case config.ProviderLocal:
		baseURL = cfg.APIBaseURL
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{},
	}, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete blocks until a full reply is available. Connection errors and 5xx
// replies are retried with exponential backoff; 4xx is surfaced immediately.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       req.ModelName,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := jittered(backoff)
			backoff *= backoffFactor
			log.Printf("[LLM] Retrying in %v (attempt %d/%d)", delay, attempt+1, c.maxRetries+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
		}

		resp, retriable, err := c.doOnce(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retriable {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, body []byte) (*Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, false, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	if httpResp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, httpResp.StatusCode, truncate(respBody))
	}
	if httpResp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, httpResp.StatusCode, truncate(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if parsed.Error != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrUnavailable, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, false, fmt.Errorf("%w: no non-empty choice in reply", ErrMalformedReply)
	}

	return &Response{
		Content: parsed.Choices[0].Message.Content,
		Usage:   parsed.Usage,
	}, false, nil
}

func jittered(d time.Duration) time.Duration {
	spread := float64(d) * jitterFraction
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

func truncate(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
