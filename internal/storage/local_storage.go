package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var allowedExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

type LocalScratch struct {
	basePath string
	maxBytes int64
}

func NewLocalScratch(basePath string, maxBytes int64) (*LocalScratch, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &LocalScratch{basePath: basePath, maxBytes: maxBytes}, nil
}

// SaveUpload streams an upload into the job's scratch directory. The size cap
// is enforced on the bytes actually written, not the declared size.
func (ls *LocalScratch) SaveUpload(jobID string, src io.Reader, info FileInfo) (string, error) {
	ext := strings.ToLower(filepath.Ext(info.Filename))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	if ls.maxBytes > 0 && info.Size > ls.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds limit %d", ErrFileTooLarge, info.Size, ls.maxBytes)
	}

	dir, err := ls.JobDir(jobID)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(dir, "upload"+ext)
	dst, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	reader := src
	if ls.maxBytes > 0 {
		reader = io.LimitReader(src, ls.maxBytes+1)
	}

	written, err := io.Copy(dst, reader)
	if err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to save file: %w", err)
	}
	if ls.maxBytes > 0 && written > ls.maxBytes {
		os.Remove(fullPath)
		return "", fmt.Errorf("%w: upload exceeds limit %d", ErrFileTooLarge, ls.maxBytes)
	}

	return fullPath, nil
}

// JobDir returns (creating if needed) the scratch directory for a job.
func (ls *LocalScratch) JobDir(jobID string) (string, error) {
	clean := filepath.Clean(jobID)
	if clean == "." || strings.Contains(clean, "..") || strings.ContainsRune(clean, os.PathSeparator) {
		return "", fmt.Errorf("invalid job id")
	}

	dir := filepath.Join(ls.basePath, clean)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	return dir, nil
}

func (ls *LocalScratch) RemoveJob(jobID string) error {
	clean := filepath.Clean(jobID)
	if clean == "." || strings.Contains(clean, "..") || strings.ContainsRune(clean, os.PathSeparator) {
		return fmt.Errorf("invalid job id")
	}
	return os.RemoveAll(filepath.Join(ls.basePath, clean))
}

// SweepOlderThan removes job directories whose last modification is older
// than age. It covers directories orphaned by a crash; normally jobs clean up
// after themselves.
func (ls *LocalScratch) SweepOlderThan(age time.Duration) (int, error) {
	entries, err := os.ReadDir(ls.basePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read scratch directory: %w", err)
	}

	cutoff := time.Now().Add(-age)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(ls.basePath, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
