package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tokintel/tokintel/internal/media"
)

type Tesseract struct {
	binPath string
}

func NewTesseract(languages []string) (*Tesseract, error) {
	binPath, err := exec.LookPath("tesseract")
	if err != nil {
		return nil, fmt.Errorf("%w: tesseract not found in PATH: %v", ErrUnavailable, err)
	}

	installed, err := listLanguages(binPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list languages: %v", ErrUnavailable, err)
	}
	for _, lang := range languages {
		if !installed[lang] {
			return nil, fmt.Errorf("%w: language %q not installed", ErrUnavailable, lang)
		}
	}

	log.Printf("[OCR] Found tesseract at: %s", binPath)
	return &Tesseract{binPath: binPath}, nil
}

// Read runs tesseract over a single frame in TSV mode. A per-frame failure
// returns an empty slice, never an error that would abort the job.
func (t *Tesseract) Read(ctx context.Context, frame media.FrameSample, cfg Config) ([]Reading, error) {
	args := []string{"stdin", "stdout"}
	if len(cfg.Languages) > 0 {
		args = append(args, "-l", strings.Join(cfg.Languages, "+"))
	}
	args = append(args, "--psm", "6", "tsv")

	cmd := exec.CommandContext(ctx, t.binPath, args...)
	cmd.Stdin = bytes.NewReader(frame.Data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.Printf("[OCR] tesseract failed on frame at %.2fs: %v (%s)", frame.Timestamp, err, strings.TrimSpace(stderr.String()))
		return nil, nil
	}

	readings := parseTSV(stdout.String(), frame.Timestamp, cfg)
	return readings, nil
}

// parseTSV converts tesseract TSV word rows into readings, dropping rows
// below the confidence floor. Tesseract reports confidence 0-100; -1 marks
// non-word rows.
func parseTSV(output string, timestamp float64, cfg Config) []Reading {
	var readings []Reading

	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 12 {
			continue
		}

		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(fields[11])
		if text == "" {
			continue
		}

		confidence := conf / 100.0
		if confidence < cfg.MinConfidence {
			continue
		}

		reading := Reading{
			Text:       text,
			Confidence: confidence,
			Timestamp:  timestamp,
		}

		left, err1 := strconv.Atoi(fields[6])
		top, err2 := strconv.Atoi(fields[7])
		width, err3 := strconv.Atoi(fields[8])
		height, err4 := strconv.Atoi(fields[9])
		if err1 == nil && err2 == nil && err3 == nil && err4 == nil {
			reading.Box = &Box{X: left, Y: top, Width: width, Height: height}
		}

		readings = append(readings, reading)
		if cfg.MaxTokensPerFrame > 0 && len(readings) >= cfg.MaxTokensPerFrame {
			break
		}
	}

	return readings
}

func listLanguages(binPath string) (map[string]bool, error) {
	cmd := exec.Command(binPath, "--list-langs")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}

	langs := make(map[string]bool)
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, " ") {
			continue
		}
		langs[line] = true
	}
	return langs, nil
}
