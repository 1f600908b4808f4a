package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	ErrUnreadable = errors.New("unreadable media")
	ErrNoAudio    = errors.New("no audio stream")
)

type Decoder struct {
	ffmpegPath  string
	ffprobePath string
	maxDuration float64
}

type Sampling struct {
	EveryNSeconds float64
	MaxFrames     int
	Strategy      string
}

func DefaultSampling() Sampling {
	return Sampling{EveryNSeconds: 1.0, MaxFrames: 120, Strategy: "uniform"}
}

// FrameSample is a single decoded still plus its presentation timestamp in
// seconds relative to stream start.
type FrameSample struct {
	Data      []byte
	Timestamp float64
}

type AudioTrack struct {
	Path       string
	SampleRate int
}

type DecodedMedia struct {
	dec        *Decoder
	path       string
	scratchDir string
	duration   float64
	hasAudio   bool
	framesDone bool
	audioDone  bool
}

func NewDecoder(maxDurationSeconds int) (*Decoder, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	// ffprobe is optional; duration falls back to ffmpeg stderr parsing.
	ffprobePath, _ := exec.LookPath("ffprobe")

	return &Decoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		maxDuration: float64(maxDurationSeconds),
	}, nil
}

// Open probes the container and returns a handle whose frame and audio
// producers are each consumable exactly once. scratchDir receives the
// intermediate frame and audio files. The probes are killed when ctx expires.
func (d *Decoder) Open(ctx context.Context, path, scratchDir string) (*DecodedMedia, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: zero-length file", ErrUnreadable)
	}

	duration, err := d.probeDuration(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("%w: invalid duration %f", ErrUnreadable, duration)
	}
	if d.maxDuration > 0 && duration > d.maxDuration {
		return nil, fmt.Errorf("%w: duration %.1fs exceeds maximum %.0fs", ErrUnreadable, duration, d.maxDuration)
	}

	return &DecodedMedia{
		dec:        d,
		path:       path,
		scratchDir: scratchDir,
		duration:   duration,
		hasAudio:   d.probeHasAudio(ctx, path),
	}, nil
}

func (m *DecodedMedia) Duration() float64 { return m.duration }

// Frames extracts stills according to the sampling configuration and sends
// them on the returned channel in timestamp order. The producer is finite and
// non-restartable; a per-frame extraction failure is logged and skipped.
func (m *DecodedMedia) Frames(ctx context.Context, sampling Sampling) (<-chan FrameSample, error) {
	if m.framesDone {
		return nil, fmt.Errorf("frame producer already consumed")
	}
	m.framesDone = true

	var timestamps []float64
	if sampling.Strategy == "scene-change" {
		ts, err := m.dec.sceneChangeTimestamps(ctx, m.path, sampling.MaxFrames)
		if err != nil {
			log.Printf("[MEDIA] Scene detection failed, falling back to uniform sampling: %v", err)
		} else {
			timestamps = ts
		}
	}
	if len(timestamps) == 0 {
		timestamps = sampleTimestamps(m.duration, sampling)
	}
	out := make(chan FrameSample)

	go func() {
		defer close(out)
		for i, ts := range timestamps {
			if ctx.Err() != nil {
				return
			}
			data, err := m.dec.extractFrame(ctx, m.path, m.scratchDir, ts)
			if err != nil {
				log.Printf("[MEDIA] Failed to extract frame %d at %.2fs: %v", i, ts, err)
				continue
			}
			select {
			case out <- FrameSample{Data: data, Timestamp: ts}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Audio extracts the audio stream resampled to 16 kHz mono WAV, the rate the
// transcriber expects.
func (m *DecodedMedia) Audio(ctx context.Context) (*AudioTrack, error) {
	if m.audioDone {
		return nil, fmt.Errorf("audio producer already consumed")
	}
	m.audioDone = true

	if !m.hasAudio {
		return nil, ErrNoAudio
	}

	outPath := filepath.Join(m.scratchDir, "audio.wav")
	cmd := exec.CommandContext(ctx, m.dec.ffmpegPath,
		"-i", m.path,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		"-y",
		outPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.Printf("[MEDIA] ffmpeg audio extraction failed: %s", stderr.String())
		return nil, fmt.Errorf("failed to extract audio: %w", err)
	}

	return &AudioTrack{Path: outPath, SampleRate: 16000}, nil
}

// sampleTimestamps returns the frame extraction points for a uniform sampling
// pass: one every EveryNSeconds, capped at MaxFrames, never past the stream
// end. Timestamps are monotonically increasing.
func sampleTimestamps(duration float64, s Sampling) []float64 {
	step := s.EveryNSeconds
	if step <= 0 {
		step = 1.0
	}
	max := s.MaxFrames
	if max <= 0 {
		max = 120
	}

	var out []float64
	for ts := 0.0; ts < duration && len(out) < max; ts += step {
		out = append(out, ts)
	}
	if len(out) == 0 {
		out = append(out, 0)
	}
	return out
}

func (d *Decoder) probeDuration(ctx context.Context, path string) (float64, error) {
	if d.ffprobePath != "" {
		cmd := exec.CommandContext(ctx, d.ffprobePath,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path)

		var stdout bytes.Buffer
		cmd.Stdout = &stdout

		if err := cmd.Run(); err == nil {
			durationStr := strings.TrimSpace(stdout.String())
			if duration, err := strconv.ParseFloat(durationStr, 64); err == nil && duration > 0 {
				return duration, nil
			}
		}
	}

	// Fallback to parsing ffmpeg output
	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-i", path, "-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()

	return parseFFmpegDuration(stderr.String())
}

func parseFFmpegDuration(output string) (float64, error) {
	durationPrefix := "Duration: "
	startIndex := strings.Index(output, durationPrefix)
	if startIndex == -1 {
		return 0, fmt.Errorf("duration not found in ffmpeg output")
	}

	startIndex += len(durationPrefix)
	endIndex := strings.Index(output[startIndex:], ",")
	if endIndex == -1 {
		return 0, fmt.Errorf("invalid duration format")
	}

	durationStr := output[startIndex : startIndex+endIndex]
	parts := strings.Split(durationStr, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration format: %s", durationStr)
	}

	hours, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, err
	}

	return hours*3600 + minutes*60 + seconds, nil
}

// sceneChangeTimestamps runs an ffmpeg scene-detection pass and returns the
// pts of frames that score above the cut threshold, capped at max.
func (d *Decoder) sceneChangeTimestamps(ctx context.Context, path string, max int) ([]float64, error) {
	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-i", path,
		"-vf", "select='gt(scene,0.3)',showinfo",
		"-f", "null",
		"-")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()

	timestamps := parseShowinfoTimestamps(stderr.String())
	if len(timestamps) == 0 {
		return nil, fmt.Errorf("no scene changes detected")
	}
	if max > 0 && len(timestamps) > max {
		timestamps = timestamps[:max]
	}
	return timestamps, nil
}

func parseShowinfoTimestamps(output string) []float64 {
	var out []float64
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, "pts_time:")
		if idx == -1 {
			continue
		}
		rest := line[idx+len("pts_time:"):]
		end := strings.IndexAny(rest, " \t")
		if end == -1 {
			end = len(rest)
		}
		if ts, err := strconv.ParseFloat(rest[:end], 64); err == nil {
			out = append(out, ts)
		}
	}
	return out
}

func (d *Decoder) probeHasAudio(ctx context.Context, path string) bool {
	if d.ffprobePath != "" {
		cmd := exec.CommandContext(ctx, d.ffprobePath,
			"-v", "error",
			"-select_streams", "a",
			"-show_entries", "stream=codec_type",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path)

		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		if err := cmd.Run(); err == nil {
			return strings.Contains(stdout.String(), "audio")
		}
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-i", path, "-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()
	return strings.Contains(stderr.String(), "Audio:")
}

func (d *Decoder) extractFrame(ctx context.Context, videoPath, scratchDir string, timestamp float64) ([]byte, error) {
	tempFile := filepath.Join(scratchDir, fmt.Sprintf("frame_%.3f.jpg", timestamp))
	defer os.Remove(tempFile)

	args := []string{
		"-ss", fmt.Sprintf("%.2f", timestamp),
		"-i", videoPath,
		"-vframes", "1",
		"-q:v", "2",
		"-f", "mjpeg",
		"-y",
		tempFile,
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.Printf("[MEDIA] FFmpeg stderr output: %s", stderr.String())
		return nil, fmt.Errorf("failed to extract frame at %f: %w", timestamp, err)
	}

	data, err := os.ReadFile(tempFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted frame: %w", err)
	}

	return data, nil
}
