package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tokintel/tokintel/internal/synthesis"
)

type State string

const (
	StateReceived     State = "Received"
	StateDecoding     State = "Decoding"
	StateExtracting   State = "Extracting"
	StateSynthesizing State = "Synthesizing"
	StatePersisting   State = "Persisting"
	StateDone         State = "Done"
	StateFailed       State = "Failed"
)

// stateOrder enforces forward-only transitions.
var stateOrder = map[State]int{
	StateReceived:     0,
	StateDecoding:     1,
	StateExtracting:   2,
	StateSynthesizing: 3,
	StatePersisting:   4,
	StateDone:         5,
	StateFailed:       5,
}

// Stage names the pipeline step an error originated from.
type Stage string

const (
	StageDecode     Stage = "decode"
	StageOCR        Stage = "ocr"
	StageTranscribe Stage = "transcribe"
	StageSynthesis  Stage = "synthesis"
	StagePersist    Stage = "persist"
	StagePipeline   Stage = "pipeline"
)

// Job is an upload owned by the coordinator from submission until it
// terminates. The upload attributes are immutable after creation; state,
// warnings and the outcome are guarded by mu.
type Job struct {
	ID          string
	Path        string
	Title       string
	Fingerprint string
	CreatedAt   time.Time

	mu       sync.RWMutex
	state    State
	warnings []string
	report   *synthesis.Report
	jobErr   *Error
	done     chan struct{}
}

func newJob(path, title, fingerprint string) *Job {
	return &Job{
		ID:          uuid.New().String(),
		Path:        path,
		Title:       title,
		Fingerprint: fingerprint,
		CreatedAt:   time.Now(),
		state:       StateReceived,
		done:        make(chan struct{}),
	}
}

func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Warnings reports the degradations the job survived (OCR unavailable,
// empty transcript, ...).
func (j *Job) Warnings() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]string, len(j.warnings))
	copy(out, j.warnings)
	return out
}

func (j *Job) addWarning(format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.warnings = append(j.warnings, fmt.Sprintf(format, args...))
}

func (j *Job) advance(next State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if stateOrder[next] < stateOrder[j.state] {
		return fmt.Errorf("invalid transition %s -> %s", j.state, next)
	}
	j.state = next
	return nil
}

func (j *Job) complete(report *synthesis.Report) {
	j.mu.Lock()
	j.state = StateDone
	j.report = report
	j.mu.Unlock()
	close(j.done)
}

func (j *Job) fail(err *Error) {
	j.mu.Lock()
	j.state = StateFailed
	j.jobErr = err
	j.mu.Unlock()
	close(j.done)
}

// Result returns the terminal outcome; valid only after the done channel is
// closed.
func (j *Job) Result() (*synthesis.Report, *Error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.report, j.jobErr
}
