package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/tokintel/tokintel/internal/config"
	"github.com/tokintel/tokintel/internal/llm"
)

// Connectivity probe for the configured LLM backend: sends a trivial prompt
// and prints the reply plus usage counters.
func main() {
	configPath := flag.String("config", "", "Path to config file (default config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	client, err := llm.NewClient(cfg)
	if err != nil {
		log.Fatal("Failed to create LLM client: ", err)
	}

	fmt.Printf("Checking %s backend (model %s)...\n", cfg.Provider, cfg.ModelName)

	start := time.Now()
	resp, err := client.Complete(context.Background(), llm.Request{
		ModelName:   cfg.ModelName,
		Messages:    []llm.Message{{Role: "user", Content: "Rispondi con una sola parola: ok"}},
		Temperature: 0,
		MaxTokens:   8,
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatal("Backend check failed: ", err)
	}

	fmt.Printf("Reply in %v: %q\n", time.Since(start).Round(time.Millisecond), resp.Content)
	if resp.Usage != nil {
		fmt.Printf("Usage: %d prompt + %d completion = %d tokens\n",
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	}
}
