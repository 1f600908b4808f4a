package asr

import (
	"context"
	"errors"
	"strings"

	"github.com/tokintel/tokintel/internal/media"
)

var ErrTranscriptionFailed = errors.New("transcription failed")

type Transcriber interface {
	Transcribe(ctx context.Context, track *media.AudioTrack, cfg Config) (Transcript, error)
}

type Config struct {
	ModelSize      string
	Language       string
	TimeoutSeconds int
}

type Segment struct {
	Start      float64
	End        float64
	Text       string
	Confidence float64
}

// Transcript is an ordered sequence of speech segments.
type Transcript struct {
	Segments []Segment
}

// Text flattens the transcript into a single string.
func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		text := strings.TrimSpace(s.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func (t Transcript) Empty() bool {
	return strings.TrimSpace(t.Text()) == ""
}
