package storage

import (
	"errors"
	"io"
	"time"
)

var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
)

type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// Scratch owns the per-job scratch directories: every upload lives in its own
// namespace until the job terminates.
type Scratch interface {
	SaveUpload(jobID string, src io.Reader, info FileInfo) (string, error)
	JobDir(jobID string) (string, error)
	RemoveJob(jobID string) error
	SweepOlderThan(age time.Duration) (int, error)
}
