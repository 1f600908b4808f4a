package analytics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tokintel/tokintel/internal/synthesis"
)

// Store is the embedded analytics database: one row per successfully analyzed
// video. Single-writer, multi-reader; writes are serialized behind mu.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

type Row struct {
	ID           int64
	VideoTitle   string
	OverallScore float64
	Sentiment    float64
	Keywords     string
	Summary      string
	CreatedAt    time.Time
}

type TopVideo struct {
	Title string
	Score float64
}

type TrendPoint struct {
	CreatedAt time.Time
	Sentiment float64
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One writer connection keeps sqlite lock contention out of the picture.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record atomically inserts one analytics row for a successful job and
// returns its id. Keywords are stored comma-joined; the full report is kept
// as JSON so duplicate submissions can be answered without re-synthesis.
func (s *Store) Record(report *synthesis.Report, fingerprint string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal report: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO videos (video_title, overall_score, sentiment, keywords, summary, created_at, fingerprint, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.Title,
		report.OverallScore,
		report.Sentiment,
		strings.Join(report.Keywords, ","),
		report.Summary,
		time.Now().UTC(),
		fingerprint,
		string(reportJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert analytics row: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert id: %w", err)
	}
	return id, nil
}

// TopVideos returns up to limit titles ordered by score descending, ties
// broken by most recent first.
func (s *Store) TopVideos(limit int) ([]TopVideo, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(`
		SELECT video_title, overall_score
		FROM videos
		ORDER BY overall_score DESC, created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top videos: %w", err)
	}
	defer rows.Close()

	var out []TopVideo
	for rows.Next() {
		var tv TopVideo
		if err := rows.Scan(&tv.Title, &tv.Score); err != nil {
			return nil, fmt.Errorf("failed to scan top video: %w", err)
		}
		out = append(out, tv)
	}
	return out, rows.Err()
}

// SentimentTrend returns (created_at, sentiment) points in chronological
// order, optionally restricted to rows newer than window.
func (s *Store) SentimentTrend(window time.Duration) ([]TrendPoint, error) {
	query := `SELECT created_at, sentiment FROM videos`
	var args []interface{}
	if window > 0 {
		query += ` WHERE created_at >= ?`
		args = append(args, time.Now().UTC().Add(-window))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment trend: %w", err)
	}
	defer rows.Close()

	var out []TrendPoint
	for rows.Next() {
		var tp TrendPoint
		if err := rows.Scan(&tp.CreatedAt, &tp.Sentiment); err != nil {
			return nil, fmt.Errorf("failed to scan trend point: %w", err)
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

var stopwords = map[string]bool{
	"il": true, "lo": true, "la": true, "i": true, "gli": true, "le": true,
	"un": true, "una": true, "di": true, "e": true, "che": true, "per": true,
	"the": true, "a": true, "an": true, "of": true, "and": true, "to": true,
}

// KeywordsCloud counts keyword occurrences across all rows, case-insensitive,
// with stopwords dropped at query time.
func (s *Store) KeywordsCloud() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT keywords FROM videos`)
	if err != nil {
		return nil, fmt.Errorf("failed to query keywords: %w", err)
	}
	defer rows.Close()

	cloud := make(map[string]int)
	for rows.Next() {
		var joined string
		if err := rows.Scan(&joined); err != nil {
			return nil, fmt.Errorf("failed to scan keywords: %w", err)
		}
		for _, kw := range strings.Split(joined, ",") {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || stopwords[kw] {
				continue
			}
			cloud[kw]++
		}
	}
	return cloud, rows.Err()
}

// FindRecentByFingerprint returns the stored report for a byte-identical
// earlier upload within the dedup window, or nil when none exists.
func (s *Store) FindRecentByFingerprint(fingerprint string, window time.Duration) (*synthesis.Report, error) {
	var reportJSON string
	err := s.db.QueryRow(`
		SELECT report_json
		FROM videos
		WHERE fingerprint = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1`,
		fingerprint, time.Now().UTC().Add(-window),
	).Scan(&reportJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprint: %w", err)
	}
	if reportJSON == "" {
		return nil, nil
	}

	var report synthesis.Report
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		log.Printf("[STORE] Failed to decode stored report for fingerprint %s: %v", fingerprint, err)
		return nil, nil
	}
	return &report, nil
}

// Rows returns every analytics row, newest first. Used by the report export
// surfaces.
func (s *Store) Rows() ([]Row, error) {
	rows, err := s.db.Query(`
		SELECT id, video_title, overall_score, sentiment, keywords, summary, created_at
		FROM videos
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.VideoTitle, &r.OverallScore, &r.Sentiment, &r.Keywords, &r.Summary, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
