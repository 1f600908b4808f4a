package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/tokintel/tokintel/internal/asr"
	"github.com/tokintel/tokintel/internal/llm"
	"github.com/tokintel/tokintel/internal/media"
	"github.com/tokintel/tokintel/internal/ocr"
	"github.com/tokintel/tokintel/internal/synthesis"
)

// Media is the consumable view of one opened container.
type Media interface {
	Duration() float64
	Frames(ctx context.Context, sampling media.Sampling) (<-chan media.FrameSample, error)
	Audio(ctx context.Context) (*media.AudioTrack, error)
}

type MediaOpener interface {
	Open(ctx context.Context, path, scratchDir string) (Media, error)
}

// Analyzer is the synthesis surface the coordinator needs.
type Analyzer interface {
	Analyze(ctx context.Context, transcript, ocrText, title string) (*synthesis.Report, error)
}

// ReportStore is the analytics surface the coordinator needs.
type ReportStore interface {
	Record(report *synthesis.Report, fingerprint string) (int64, error)
	FindRecentByFingerprint(fingerprint string, window time.Duration) (*synthesis.Report, error)
}

// ScratchDirs is the slice of storage the coordinator touches directly.
type ScratchDirs interface {
	JobDir(jobID string) (string, error)
	RemoveJob(jobID string) error
}

// Notifier is invoked on terminal job states. The Telegram wrapper and other
// consumers implement it outside this package.
type Notifier interface {
	JobDone(jobID string, report *synthesis.Report)
	JobFailed(jobID string, jobErr *Error)
}

type NopNotifier struct{}

func (NopNotifier) JobDone(string, *synthesis.Report) {}
func (NopNotifier) JobFailed(string, *Error)          {}

type Config struct {
	MaxConcurrentJobs int
	QueueSize         int
	DedupWindow       time.Duration
	KeepScratch       bool

	Sampling       media.Sampling
	OCRConfig      ocr.Config
	OCRParallelism int
	ASRConfig      asr.Config
	// ASRFallbackModelSize, when set, is tried once after a transcription
	// failure before degrading to an empty transcript.
	ASRFallbackModelSize string

	// Per-stage timeouts. The per-job deadline is their sum plus 10% slack.
	DecodeTimeout    time.Duration
	ExtractTimeout   time.Duration
	SynthesisTimeout time.Duration
	PersistTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = time.Hour
	}
	if c.Sampling.EveryNSeconds == 0 {
		c.Sampling = media.DefaultSampling()
	}
	if c.OCRParallelism <= 0 {
		c.OCRParallelism = 2
	}
	if c.DecodeTimeout <= 0 {
		c.DecodeTimeout = 60 * time.Second
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 5 * time.Minute
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 2 * time.Minute
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 10 * time.Second
	}
}

func (c *Config) jobDeadline() time.Duration {
	total := c.DecodeTimeout + c.ExtractTimeout + c.SynthesisTimeout + c.PersistTimeout
	return total + total/10
}

// Coordinator orchestrates upload jobs end to end: decode, parallel
// extraction, synthesis, persistence. Jobs flow through a bounded in-memory
// queue; a process restart drops pending jobs.
type Coordinator struct {
	cfg      Config
	opener   MediaOpener
	ocr      ocr.Engine // nil when the engine failed to initialize
	asr      asr.Transcriber
	agent    Analyzer
	store    ReportStore
	scratch  ScratchDirs
	notifier Notifier

	jobs   map[string]*Job
	jobsMu sync.RWMutex
	queue  chan *Job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCoordinator(
	opener MediaOpener,
	ocrEngine ocr.Engine,
	transcriber asr.Transcriber,
	agent Analyzer,
	store ReportStore,
	scratch ScratchDirs,
	notifier Notifier,
	cfg Config,
) *Coordinator {
	cfg.applyDefaults()
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &Coordinator{
		cfg:      cfg,
		opener:   opener,
		ocr:      ocrEngine,
		asr:      transcriber,
		agent:    agent,
		store:    store,
		scratch:  scratch,
		notifier: notifier,
		jobs:     make(map[string]*Job),
		queue:    make(chan *Job, cfg.QueueSize),
	}
}

// Start launches the worker pool. Stop cancels in-flight jobs and waits.
func (c *Coordinator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for i := 0; i < c.cfg.MaxConcurrentJobs; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	log.Printf("[PIPE] Started %d workers (queue size %d)", c.cfg.MaxConcurrentJobs, c.cfg.QueueSize)
}

func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Submit fingerprints the uploaded file and enqueues a job for it. A
// byte-identical upload inside the dedup window short-circuits to the
// recorded report without entering the queue.
func (c *Coordinator) Submit(path, title string) (string, error) {
	fingerprint, err := fingerprintFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint upload: %w", err)
	}

	job := newJob(path, title, fingerprint)

	if existing, err := c.store.FindRecentByFingerprint(fingerprint, c.cfg.DedupWindow); err != nil {
		log.Printf("[PIPE] Dedup lookup failed for job %s: %v", job.ID, err)
	} else if existing != nil {
		log.Printf("[PIPE] Job %s deduplicated against fingerprint %s", job.ID, fingerprint[:12])
		c.registerJob(job)
		c.cleanupScratch(job)
		job.complete(existing)
		return job.ID, nil
	}

	c.registerJob(job)

	select {
	case c.queue <- job:
		return job.ID, nil
	default:
		c.unregisterJob(job.ID)
		return "", fmt.Errorf("job queue full")
	}
}

// Await blocks until the job terminates or ctx expires.
func (c *Coordinator) Await(ctx context.Context, jobID string) (*synthesis.Report, *Error) {
	job, ok := c.GetJob(jobID)
	if !ok {
		return nil, newError(KindUnknownJob, StagePipeline, false, "unknown job id %s", jobID)
	}

	select {
	case <-job.done:
		return job.Result()
	case <-ctx.Done():
		return nil, newError(KindTimeout, StagePipeline, true, "await cancelled: %v", ctx.Err())
	}
}

func (c *Coordinator) GetJob(jobID string) (*Job, bool) {
	c.jobsMu.RLock()
	defer c.jobsMu.RUnlock()
	job, ok := c.jobs[jobID]
	return job, ok
}

func (c *Coordinator) registerJob(job *Job) {
	c.jobsMu.Lock()
	c.jobs[job.ID] = job
	c.jobsMu.Unlock()
}

func (c *Coordinator) unregisterJob(id string) {
	c.jobsMu.Lock()
	delete(c.jobs, id)
	c.jobsMu.Unlock()
}

func (c *Coordinator) worker(ctx context.Context, n int) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.queue:
			log.Printf("[PIPE] Worker %d picked up job %s", n, job.ID)
			c.run(ctx, job)
		}
	}
}

func (c *Coordinator) run(ctx context.Context, job *Job) {
	jobCtx, cancel := context.WithTimeout(ctx, c.cfg.jobDeadline())
	defer cancel()

	report, jobErr := c.runStages(jobCtx, job)

	// Scratch must be gone before the job reads as terminated.
	c.cleanupScratch(job)

	if jobErr != nil {
		// A parent cancellation wins over whatever stage error it provoked.
		if ctx.Err() != nil {
			jobErr = newError(KindCancelled, StagePipeline, false, "job cancelled: %v", ctx.Err())
		} else if jobCtx.Err() == context.DeadlineExceeded {
			jobErr = newError(KindTimeout, StagePipeline, true, "job deadline exceeded")
		}
		log.Printf("[PIPE] Job %s failed: %v", job.ID, jobErr)
		job.fail(jobErr)
		c.notifier.JobFailed(job.ID, jobErr)
		return
	}

	log.Printf("[PIPE] Job %s done (score %.1f)", job.ID, report.OverallScore)
	job.complete(report)
	c.notifier.JobDone(job.ID, report)
}

func (c *Coordinator) runStages(ctx context.Context, job *Job) (*synthesis.Report, *Error) {
	// Decoding
	if err := job.advance(StateDecoding); err != nil {
		return nil, newError(KindUnreadableMedia, StagePipeline, false, "%v", err)
	}

	scratchDir, err := c.scratch.JobDir(job.ID)
	if err != nil {
		return nil, newError(KindUnreadableMedia, StageDecode, false, "scratch unavailable: %v", err)
	}

	decodeCtx, cancelDecode := context.WithTimeout(ctx, c.cfg.DecodeTimeout)
	md, err := c.opener.Open(decodeCtx, job.Path, scratchDir)
	cancelDecode()
	if err != nil {
		if decodeCtx.Err() == context.DeadlineExceeded {
			return nil, newError(KindTimeout, StageDecode, true, "decode timed out: %v", err)
		}
		return nil, newError(KindUnreadableMedia, StageDecode, false, "%v", err)
	}

	// Extracting: frame OCR and transcription are independent branches.
	if err := job.advance(StateExtracting); err != nil {
		return nil, newError(KindUnreadableMedia, StagePipeline, false, "%v", err)
	}

	extractCtx, cancelExtract := context.WithTimeout(ctx, c.cfg.ExtractTimeout)
	defer cancelExtract()

	var (
		readings   []ocr.Reading
		ocrErr     *Error
		transcript asr.Transcript
		asrErr     *Error
		wg         sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		readings, ocrErr = c.runOCR(extractCtx, job, md)
	}()
	go func() {
		defer wg.Done()
		transcript, asrErr = c.runTranscription(extractCtx, job, md)
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return nil, newError(KindTimeout, StagePipeline, true, "extraction interrupted: %v", ctx.Err())
	}
	if ocrErr != nil {
		return nil, ocrErr
	}
	if asrErr != nil {
		return nil, asrErr
	}

	ocrText := ocr.JoinText(ocr.Aggregate(readings))
	transcriptText := transcript.Text()

	if ocrText == "" && transcriptText == "" {
		return nil, newError(KindNoExtractableContent, StagePipeline, false,
			"neither OCR nor transcription produced any text")
	}

	// Synthesizing
	if err := job.advance(StateSynthesizing); err != nil {
		return nil, newError(KindUnreadableMedia, StagePipeline, false, "%v", err)
	}

	synthCtx, cancelSynth := context.WithTimeout(ctx, c.cfg.SynthesisTimeout)
	defer cancelSynth()

	report, err := c.agent.Analyze(synthCtx, transcriptText, ocrText, job.Title)
	if err != nil {
		return nil, mapSynthesisError(err)
	}

	// Persisting
	if err := job.advance(StatePersisting); err != nil {
		return nil, newError(KindUnreadableMedia, StagePipeline, false, "%v", err)
	}

	if jobErr := c.persist(ctx, report, job.Fingerprint); jobErr != nil {
		return nil, jobErr
	}

	return report, nil
}

// runOCR fans frames out to a bounded worker pool. Whether an unavailable
// engine or a failed frame extraction aborts the job is decided by the stage
// policy table; per-frame failures are always skipped.
func (c *Coordinator) runOCR(ctx context.Context, job *Job, md Media) ([]ocr.Reading, *Error) {
	if c.ocr == nil {
		if policyFor(StageOCR) != PolicyDegrade {
			return nil, newError(KindOCRUnavailable, StageOCR, false, "OCR engine unavailable")
		}
		job.addWarning("OCR engine unavailable, proceeding with empty OCR text")
		log.Printf("[PIPE] Job %s: OCR unavailable, degrading", job.ID)
		return nil, nil
	}

	frames, err := md.Frames(ctx, c.cfg.Sampling)
	if err != nil {
		if policyFor(StageOCR) != PolicyDegrade {
			return nil, newError(KindOCRUnavailable, StageOCR, false, "frame extraction failed: %v", err)
		}
		job.addWarning("frame extraction failed: %v", err)
		return nil, nil
	}

	var (
		mu       sync.Mutex
		readings []ocr.Reading
		wg       sync.WaitGroup
	)

	for i := 0; i < c.cfg.OCRParallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for frame := range frames {
				rs, err := c.ocr.Read(ctx, frame, c.cfg.OCRConfig)
				if err != nil {
					log.Printf("[PIPE] Job %s: OCR failed on frame at %.2fs: %v", job.ID, frame.Timestamp, err)
					continue
				}
				mu.Lock()
				readings = append(readings, rs...)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return readings, nil
}

// runTranscription degrades in order: no audio stream -> empty transcript;
// failure -> one retry with the fallback model size when configured -> empty
// transcript. Each degradation requires a PolicyDegrade entry for the stage.
func (c *Coordinator) runTranscription(ctx context.Context, job *Job, md Media) (asr.Transcript, *Error) {
	track, err := md.Audio(ctx)
	if err != nil {
		if policyFor(StageTranscribe) != PolicyDegrade {
			return asr.Transcript{}, newError(KindNoAudio, StageTranscribe, false, "audio extraction failed: %v", err)
		}
		if errors.Is(err, media.ErrNoAudio) {
			job.addWarning("no audio stream, proceeding with empty transcript")
		} else {
			job.addWarning("audio extraction failed: %v", err)
		}
		return asr.Transcript{}, nil
	}

	transcript, err := c.asr.Transcribe(ctx, track, c.cfg.ASRConfig)
	if err == nil {
		return transcript, nil
	}
	log.Printf("[PIPE] Job %s: transcription failed: %v", job.ID, err)

	if c.cfg.ASRFallbackModelSize != "" && c.cfg.ASRFallbackModelSize != c.cfg.ASRConfig.ModelSize {
		fallbackCfg := c.cfg.ASRConfig
		fallbackCfg.ModelSize = c.cfg.ASRFallbackModelSize
		log.Printf("[PIPE] Job %s: retrying transcription with model %s", job.ID, fallbackCfg.ModelSize)

		transcript, err = c.asr.Transcribe(ctx, track, fallbackCfg)
		if err == nil {
			job.addWarning("transcription degraded to model %s", fallbackCfg.ModelSize)
			return transcript, nil
		}
		log.Printf("[PIPE] Job %s: fallback transcription failed: %v", job.ID, err)
	}

	if policyFor(StageTranscribe) != PolicyDegrade {
		return asr.Transcript{}, newError(KindTranscriptionFailed, StageTranscribe, true, "%v", err)
	}
	job.addWarning("transcription failed, proceeding with empty transcript")
	return asr.Transcript{}, nil
}

const (
	persistAttempts = 3
	persistBackoff  = 200 * time.Millisecond
)

func (c *Coordinator) persist(ctx context.Context, report *synthesis.Report, fingerprint string) *Error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PersistTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(persistBackoff):
			case <-ctx.Done():
				return newError(KindPersistenceFailed, StagePersist, true, "persist interrupted: %v", ctx.Err())
			}
		}
		if _, err := c.store.Record(report, fingerprint); err == nil {
			return nil
		} else {
			lastErr = err
			log.Printf("[PIPE] Analytics write failed (attempt %d/%d): %v", attempt+1, persistAttempts, err)
		}
	}
	return newError(KindPersistenceFailed, StagePersist, true, "%v", lastErr)
}

func (c *Coordinator) cleanupScratch(job *Job) {
	if c.cfg.KeepScratch {
		return
	}
	if err := c.scratch.RemoveJob(job.ID); err != nil {
		log.Printf("[PIPE] Failed to remove scratch for job %s: %v", job.ID, err)
	}
	// The uploaded file itself may live outside the job dir.
	if err := os.Remove(job.Path); err != nil && !os.IsNotExist(err) {
		log.Printf("[PIPE] Failed to remove upload for job %s: %v", job.ID, err)
	}
}

func mapSynthesisError(err error) *Error {
	switch {
	case errors.Is(err, synthesis.ErrMalformed):
		return newError(KindSynthesisMalformed, StageSynthesis, false, "%v", err)
	case errors.Is(err, llm.ErrTimeout):
		return newError(KindLLMTimeout, StageSynthesis, true, "%v", err)
	case errors.Is(err, llm.ErrMalformedReply):
		return newError(KindLLMMalformedReply, StageSynthesis, false, "%v", err)
	case errors.Is(err, llm.ErrUnavailable):
		return newError(KindLLMUnavailable, StageSynthesis, true, "%v", err)
	default:
		return newError(KindLLMUnavailable, StageSynthesis, true, "%v", err)
	}
}

func fingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FFmpegOpener adapts the concrete decoder to the coordinator's Media
// interfaces.
type FFmpegOpener struct {
	Decoder *media.Decoder
}

func (o FFmpegOpener) Open(ctx context.Context, path, scratchDir string) (Media, error) {
	md, err := o.Decoder.Open(ctx, path, scratchDir)
	if err != nil {
		return nil, err
	}
	return md, nil
}
