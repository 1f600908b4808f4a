package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tokintel/tokintel/internal/analytics"
	"github.com/tokintel/tokintel/internal/api"
	"github.com/tokintel/tokintel/internal/asr"
	"github.com/tokintel/tokintel/internal/config"
	"github.com/tokintel/tokintel/internal/llm"
	"github.com/tokintel/tokintel/internal/media"
	"github.com/tokintel/tokintel/internal/notify"
	"github.com/tokintel/tokintel/internal/ocr"
	"github.com/tokintel/tokintel/internal/pipeline"
	"github.com/tokintel/tokintel/internal/storage"
	"github.com/tokintel/tokintel/internal/synthesis"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default config.yaml)")
	whisperModels := flag.String("whisper-models", "./models", "Directory holding whisper ggml models")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	scratch, err := storage.NewLocalScratch(cfg.Server.UploadDir, cfg.Server.MaxUploadBytes)
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

	// OCR init failure degrades the pipeline rather than aborting startup.
	var ocrEngine ocr.Engine
	if engine, err := ocr.NewTesseract(cfg.OCR.Languages); err != nil {
		log.Printf("Warning: OCR unavailable, jobs will run without frame text: %v", err)
	} else {
		ocrEngine = engine
	}

	transcriber, err := asr.NewWhisper(*whisperModels)
	if err != nil {
		log.Fatal("Failed to initialize transcriber: ", err)
	}

	router, err := llm.NewClient(cfg)
	if err != nil {
		log.Fatal("Failed to initialize LLM client: ", err)
	}

	agent := synthesis.NewAgent(router, synthesis.Config{
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
		notify.Log{},
		pipeline.Config{
			MaxConcurrentJobs: cfg.Pipeline.MaxConcurrentJobs,
			DedupWindow:       time.Duration(cfg.Pipeline.DedupWindowSeconds) * time.Second,
			KeepScratch:       cfg.Pipeline.KeepScratch,
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
			ASRFallbackModelSize: "tiny",
			SynthesisTimeout:     time.Duration(cfg.TimeoutSeconds) * time.Second * 3,
		},
	)
	coordinator.Start()
	defer coordinator.Stop()

	// Sweep scratch directories orphaned by crashed jobs.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@hourly", func() {
		if removed, err := scratch.SweepOlderThan(24 * time.Hour); err != nil {
			log.Printf("Scratch sweep failed: %v", err)
		} else if removed > 0 {
			log.Printf("Scratch sweep removed %d stale job directories", removed)
		}
	}); err != nil {
		log.Fatal("Failed to schedule scratch sweep: ", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	app := &api.App{
		Scratch:       scratch,
		Coordinator:   coordinator,
		Analytics:     store,
		MaxUploadSize: cfg.Server.MaxUploadBytes,
	}

	handler := api.NewRouter(app)

	log.Printf("Server starting on port %d", cfg.Server.Port)
	log.Printf("Provider: %s (model %s)", cfg.Provider, cfg.ModelName)
	log.Printf("Upload directory: %s", cfg.Server.UploadDir)
	log.Printf("Analytics database: %s", cfg.Analytics.DBPath)

	if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port), handler); err != nil {
		log.Fatal(err)
	}
}
