package notify

import (
	"log"

	"github.com/tokintel/tokintel/internal/pipeline"
	"github.com/tokintel/tokintel/internal/synthesis"
)

// Log writes terminal job states to the process log. External notifiers
// (the Telegram wrapper among them) implement pipeline.Notifier on top of the
// same hook.
type Log struct{}

func (Log) JobDone(jobID string, report *synthesis.Report) {
	log.Printf("[NOTIFY] Job %s done: %q score %.1f sentiment %.2f", jobID, report.Title, report.OverallScore, report.Sentiment)
}

func (Log) JobFailed(jobID string, jobErr *pipeline.Error) {
	log.Printf("[NOTIFY] Job %s failed: %s (%s)", jobID, jobErr.Kind, jobErr.Message)
}
