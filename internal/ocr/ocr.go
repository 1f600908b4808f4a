package ocr

import (
	"context"
	"errors"

	"github.com/tokintel/tokintel/internal/media"
)

// ErrUnavailable means the engine could not be initialized at all (missing
// binary, unsupported language). The pipeline degrades to empty OCR text.
var ErrUnavailable = errors.New("ocr engine unavailable")

type Engine interface {
	Read(ctx context.Context, frame media.FrameSample, cfg Config) ([]Reading, error)
}

type Config struct {
	Languages         []string
	MinConfidence     float64
	MaxTokensPerFrame int
}

// Reading is a single text detection from one frame.
type Reading struct {
	Text       string
	Box        *Box
	Confidence float64
	Timestamp  float64
}

type Box struct {
	X      int
	Y      int
	Width  int
	Height int
}
