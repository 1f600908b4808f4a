package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tokintel/tokintel/internal/analytics"
	"github.com/tokintel/tokintel/internal/asr"
	"github.com/tokintel/tokintel/internal/config"
	"github.com/tokintel/tokintel/internal/llm"
	"github.com/tokintel/tokintel/internal/media"
	"github.com/tokintel/tokintel/internal/ocr"
	"github.com/tokintel/tokintel/internal/pipeline"
	"github.com/tokintel/tokintel/internal/storage"
	"github.com/tokintel/tokintel/internal/synthesis"
)

// One-shot pipeline run against a local file; prints the report as JSON.
func main() {
	var (
		configPath    = flag.String("config", "", "Path to config file (default config.yaml)")
		title         = flag.String("title", "", "Video title for the report")
		whisperModels = flag.String("whisper-models", "./models", "Directory holding whisper ggml models")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <video-file>\n", os.Args[0])
		os.Exit(2)
	}
	videoPath := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	scratchBase, err := os.MkdirTemp("", "tokintel-analyze-")
	if err != nil {
		log.Fatal("Failed to create scratch directory: ", err)
	}
	defer os.RemoveAll(scratchBase)

	scratch, err := storage.NewLocalScratch(scratchBase, cfg.Server.MaxUploadBytes)
	if err != nil {
		log.Fatal("Failed to initialize scratch storage: ", err)
	}

	store, err := analytics.Open(cfg.Analytics.DBPath)
	if err != nil {
		log.Fatal("Failed to open analytics store: ", err)
	}
	defer store.Close()

	decoder, err := media.NewDecoder(cfg.Media.MaxDurationSeconds)
	if err != nil {
		log.Fatal("Failed to initialize media decoder: ", err)
	}

	var ocrEngine ocr.Engine
	if engine, err := ocr.NewTesseract(cfg.OCR.Languages); err != nil {
		log.Printf("Warning: OCR unavailable: %v", err)
	} else {
		ocrEngine = engine
	}

	transcriber, err := asr.NewWhisper(*whisperModels)
	if err != nil {
		log.Fatal("Failed to initialize transcriber: ", err)
	}

	client, err := llm.NewClient(cfg)
	if err != nil {
		log.Fatal("Failed to initialize LLM client: ", err)
	}

	agent := synthesis.NewAgent(client, synthesis.Config{
		ModelName:        cfg.ModelName,
		Temperature:      cfg.Temperature,
		MaxTokens:        cfg.MaxTokens,
		Timeout:          time.Duration(cfg.TimeoutSeconds) * time.Second,
		OutputLanguage:   cfg.Output.Language,
		StructuredFormat: cfg.Output.StructuredFormat,
	})

	coordinator := pipeline.NewCoordinator(
		pipeline.FFmpegOpener{Decoder: decoder},
		ocrEngine,
		transcriber,
		agent,
		store,
		scratch,
		nil,
		pipeline.Config{
			MaxConcurrentJobs: 1,
			DedupWindow:       time.Duration(cfg.Pipeline.DedupWindowSeconds) * time.Second,
			KeepScratch:       true, // the input file is the user's, not ours
			Sampling: media.Sampling{
				EveryNSeconds: cfg.Sampling.EveryNSeconds,
				MaxFrames:     cfg.Sampling.MaxFrames,
				Strategy:      cfg.Sampling.Strategy,
			},
			OCRConfig: ocr.Config{
				Languages:         cfg.OCR.Languages,
				MinConfidence:     cfg.OCR.MinConfidence,
				MaxTokensPerFrame: cfg.OCR.MaxTokensPerFrame,
			},
			OCRParallelism: cfg.OCR.Parallelism,
			ASRConfig: asr.Config{
				ModelSize:      cfg.ASR.ModelSize,
				Language:       cfg.ASR.Language,
				TimeoutSeconds: cfg.ASR.TimeoutSeconds,
			},
		},
	)
	coordinator.Start()
	defer coordinator.Stop()

	jobID, err := coordinator.Submit(videoPath, *title)
	if err != nil {
		log.Fatal("Failed to submit job: ", err)
	}

	report, jobErr := coordinator.Await(context.Background(), jobID)
	if jobErr != nil {
		log.Fatalf("Analysis failed: %s: %s", jobErr.Kind, jobErr.Message)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatal("Failed to encode report: ", err)
	}
	fmt.Println(string(out))
}
