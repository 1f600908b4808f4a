package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tokintel/tokintel/internal/analytics"
	"github.com/tokintel/tokintel/internal/pipeline"
	"github.com/tokintel/tokintel/internal/storage"
	"github.com/tokintel/tokintel/internal/synthesis"

	"github.com/go-chi/chi/v5"
)

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// Submitter is the coordinator surface the handlers use; the UI, export
// service and notifier go through the same three operations.
type Submitter interface {
	Submit(path, title string) (string, error)
	GetJob(jobID string) (*pipeline.Job, bool)
	Await(ctx context.Context, jobID string) (*synthesis.Report, *pipeline.Error)
}

type AnalyticsReader interface {
	TopVideos(limit int) ([]analytics.TopVideo, error)
	SentimentTrend(window time.Duration) ([]analytics.TrendPoint, error)
	KeywordsCloud() (map[string]int, error)
}

type App struct {
	Scratch       storage.Scratch
	Coordinator   Submitter
	Analytics     AnalyticsReader
	MaxUploadSize int64
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

type jobPayload struct {
	JobID    string            `json:"job_id"`
	State    string            `json:"state"`
	Warnings []string          `json:"warnings,omitempty"`
	Report   *synthesis.Report `json:"report,omitempty"`
	Error    *errorPayload     `json:"error,omitempty"`
}

func (app *App) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, string(pipeline.KindFileTooLarge), "upload exceeds size limit")
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "missing video file field")
		return
	}
	defer file.Close()

	title := r.FormValue("title")

	uploadID := uuid.New().String()
	path, err := app.Scratch.SaveUpload(uploadID, file, storage.FileInfo{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrFileTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, string(pipeline.KindFileTooLarge), err.Error())
		case errors.Is(err, storage.ErrUnsupportedType):
			writeError(w, http.StatusUnsupportedMediaType, "UnsupportedType", err.Error())
		default:
			log.Printf("[API] Failed to save upload: %v", err)
			writeError(w, http.StatusInternalServerError, "StorageFailed", "failed to save upload")
		}
		return
	}

	jobID, err := app.Coordinator.Submit(path, title)
	if err != nil {
		log.Printf("[API] Submit failed: %v", err)
		// A rejected upload would otherwise sit on disk until the sweep.
		if rmErr := app.Scratch.RemoveJob(uploadID); rmErr != nil {
			log.Printf("[API] Failed to remove rejected upload %s: %v", uploadID, rmErr)
		}
		writeError(w, http.StatusServiceUnavailable, "QueueFull", "analysis queue is full, retry later")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (app *App) JobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := app.Coordinator.GetJob(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "unknown job id")
		return
	}

	payload := jobPayload{
		JobID:    job.ID,
		State:    string(job.State()),
		Warnings: job.Warnings(),
	}

	if payload.State == string(pipeline.StateDone) || payload.State == string(pipeline.StateFailed) {
		report, jobErr := job.Result()
		payload.Report = report
		if jobErr != nil {
			payload.Error = &errorPayload{
				Kind:    string(jobErr.Kind),
				Message: jobErr.Message,
				Stage:   string(jobErr.Stage),
			}
		}
	}

	writeJSON(w, http.StatusOK, payload)
}

func (app *App) TopVideosHandler(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	top, err := app.Analytics.TopVideos(limit)
	if err != nil {
		log.Printf("[API] Top videos query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "QueryFailed", "analytics query failed")
		return
	}

	type item struct {
		Title string  `json:"title"`
		Score float64 `json:"score"`
	}
	out := make([]item, 0, len(top))
	for _, tv := range top {
		out = append(out, item{Title: tv.Title, Score: tv.Score})
	}
	writeJSON(w, http.StatusOK, out)
}

func (app *App) SentimentTrendHandler(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if v := r.URL.Query().Get("window_seconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			window = time.Duration(n) * time.Second
		}
	}

	trend, err := app.Analytics.SentimentTrend(window)
	if err != nil {
		log.Printf("[API] Sentiment trend query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "QueryFailed", "analytics query failed")
		return
	}

	type point struct {
		CreatedAt time.Time `json:"created_at"`
		Sentiment float64   `json:"sentiment"`
	}
	out := make([]point, 0, len(trend))
	for _, tp := range trend {
		out = append(out, point{CreatedAt: tp.CreatedAt, Sentiment: tp.Sentiment})
	}
	writeJSON(w, http.StatusOK, out)
}

func (app *App) KeywordsCloudHandler(w http.ResponseWriter, r *http.Request) {
	cloud, err := app.Analytics.KeywordsCloud()
	if err != nil {
		log.Printf("[API] Keywords cloud query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "QueryFailed", "analytics query failed")
		return
	}
	writeJSON(w, http.StatusOK, cloud)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]errorPayload{
		"error": {Kind: kind, Message: message},
	})
}
