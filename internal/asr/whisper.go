package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/tokintel/tokintel/internal/media"
)

// Whisper shells out to a whisper.cpp command-line binary. Model files are
// expected under modelDir named ggml-<size>.bin.
type Whisper struct {
	binPath  string
	modelDir string
}

func NewWhisper(modelDir string) (*Whisper, error) {
	binPath, err := exec.LookPath("whisper-cli")
	if err != nil {
		// Older whisper.cpp installs ship the binary as "main"; prefer the
		// renamed one when both exist.
		binPath, err = exec.LookPath("whisper")
		if err != nil {
			return nil, fmt.Errorf("whisper binary not found in PATH: %w", err)
		}
	}
	log.Printf("[ASR] Found whisper at: %s", binPath)

	return &Whisper{binPath: binPath, modelDir: modelDir}, nil
}

func (w *Whisper) Transcribe(ctx context.Context, track *media.AudioTrack, cfg Config) (Transcript, error) {
	if cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	modelPath := filepath.Join(w.modelDir, fmt.Sprintf("ggml-%s.bin", cfg.ModelSize))
	if _, err := os.Stat(modelPath); err != nil {
		return Transcript{}, fmt.Errorf("%w: model %s not available: %v", ErrTranscriptionFailed, cfg.ModelSize, err)
	}

	outBase := track.Path + ".whisper"
	args := []string{
		"-m", modelPath,
		"-f", track.Path,
		"-oj",
		"-of", outBase,
	}
	if cfg.Language != "" && cfg.Language != "auto" {
		args = append(args, "-l", cfg.Language)
	}

	cmd := exec.CommandContext(ctx, w.binPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Transcript{}, fmt.Errorf("%w: timed out after %ds", ErrTranscriptionFailed, cfg.TimeoutSeconds)
		}
		log.Printf("[ASR] whisper stderr output: %s", stderr.String())
		return Transcript{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	jsonPath := outBase + ".json"
	defer os.Remove(jsonPath)

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: failed to read whisper output: %v", ErrTranscriptionFailed, err)
	}

	transcript, err := parseWhisperJSON(data)
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	return transcript, nil
}

// whisper.cpp JSON output: transcription[].{timestamps, offsets, text}.
// Offsets are milliseconds from stream start.
type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperJSON(data []byte) (Transcript, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Transcript{}, fmt.Errorf("failed to parse whisper JSON: %w", err)
	}

	t := Transcript{}
	for _, seg := range out.Transcription {
		t.Segments = append(t.Segments, Segment{
			Start:      float64(seg.Offsets.From) / 1000.0,
			End:        float64(seg.Offsets.To) / 1000.0,
			Text:       seg.Text,
			Confidence: 1.0,
		})
	}
	return t, nil
}
