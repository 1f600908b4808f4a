package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/tokintel/tokintel/internal/analytics"
	"github.com/tokintel/tokintel/internal/pipeline"
	"github.com/tokintel/tokintel/internal/storage"
	"github.com/tokintel/tokintel/internal/synthesis"
)

type stubCoordinator struct {
	submitID  string
	submitErr error
	jobs      map[string]*pipeline.Job
}

func (s *stubCoordinator) Submit(path, title string) (string, error) {
	return s.submitID, s.submitErr
}

func (s *stubCoordinator) GetJob(jobID string) (*pipeline.Job, bool) {
	job, ok := s.jobs[jobID]
	return job, ok
}

func (s *stubCoordinator) Await(ctx context.Context, jobID string) (*synthesis.Report, *pipeline.Error) {
	return nil, nil
}

type stubAnalytics struct {
	top   []analytics.TopVideo
	trend []analytics.TrendPoint
	cloud map[string]int
	err   error
}

func (s *stubAnalytics) TopVideos(limit int) ([]analytics.TopVideo, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.top) {
		return s.top[:limit], nil
	}
	return s.top, nil
}

func (s *stubAnalytics) SentimentTrend(window time.Duration) ([]analytics.TrendPoint, error) {
	return s.trend, s.err
}

func (s *stubAnalytics) KeywordsCloud() (map[string]int, error) {
	return s.cloud, s.err
}

func newTestApp(t *testing.T, coord *stubCoordinator, an *stubAnalytics) *App {
	t.Helper()
	scratch, err := storage.NewLocalScratch(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	if coord == nil {
		coord = &stubCoordinator{submitID: "job-1"}
	}
	if an == nil {
		an = &stubAnalytics{}
	}
	return &App{
		Scratch:       scratch,
		Coordinator:   coord,
		Analytics:     an,
		MaxUploadSize: 1 << 20,
	}
}

func multipartUpload(t *testing.T, filename, title, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("video", filename)
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(part, content)
	if title != "" {
		writer.WriteField("title", title)
	}
	writer.Close()
	return &body, writer.FormDataContentType()
}

func TestUploadHandlerAccepted(t *testing.T) {
	app := newTestApp(t, &stubCoordinator{submitID: "job-42"}, nil)
	router := NewRouter(app)

	body, contentType := multipartUpload(t, "clip.mp4", "Benvenuti", "fake video")
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["job_id"] != "job-42" {
		t.Errorf("unexpected job id: %q", resp["job_id"])
	}
}

func TestUploadHandlerRejectsUnsupportedType(t *testing.T) {
	app := newTestApp(t, nil, nil)
	router := NewRouter(app)

	body, contentType := multipartUpload(t, "doc.pdf", "t", "not a video")
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", rec.Code)
	}
}

func TestUploadHandlerQueueFull(t *testing.T) {
	scratchDir := t.TempDir()
	scratch, err := storage.NewLocalScratch(scratchDir, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	app := &App{
		Scratch:       scratch,
		Coordinator:   &stubCoordinator{submitErr: fmt.Errorf("job queue full")},
		Analytics:     &stubAnalytics{},
		MaxUploadSize: 1 << 20,
	}
	router := NewRouter(app)

	body, contentType := multipartUpload(t, "clip.mp4", "t", "video")
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	// The rejected upload must not linger on disk.
	entries, err := os.ReadDir(scratchDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected scratch cleared after rejected submit, found %d entries", len(entries))
	}
}

func TestJobHandlerNotFound(t *testing.T) {
	app := newTestApp(t, &stubCoordinator{jobs: map[string]*pipeline.Job{}}, nil)
	router := NewRouter(app)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestTopVideosHandler(t *testing.T) {
	an := &stubAnalytics{top: []analytics.TopVideo{
		{Title: "Benvenuti", Score: 7.5},
		{Title: "Secondo", Score: 6.0},
	}}
	app := newTestApp(t, nil, an)
	router := NewRouter(app)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/top?limit=1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp []struct {
		Title string  `json:"title"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp) != 1 || resp[0].Title != "Benvenuti" || resp[0].Score != 7.5 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestKeywordsCloudHandler(t *testing.T) {
	an := &stubAnalytics{cloud: map[string]int{"tokintel": 2, "hook": 1}}
	app := newTestApp(t, nil, an)
	router := NewRouter(app)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/keywords", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var cloud map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &cloud); err != nil {
		t.Fatal(err)
	}
	if cloud["tokintel"] != 2 {
		t.Errorf("unexpected cloud: %v", cloud)
	}
}

func TestPing(t *testing.T) {
	app := newTestApp(t, nil, nil)
	router := NewRouter(app)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("unexpected ping response: %d %q", rec.Code, rec.Body.String())
	}
}
