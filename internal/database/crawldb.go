package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/marketcrawler/internal/budget"
	"github.com/nao1215/marketcrawler/internal/model"
)

// FileName is the database file name inside the database directory.
const FileName = "marketcrawler.db"

const (
	// DefaultPendingLimit bounds how many pending pages one call returns.
	DefaultPendingLimit = 50

	// DefaultMaxAttempts is how many failed fetches retire a placeholder.
	DefaultMaxAttempts = 3
)

// CrawlDB provides SQLite-based storage for pages and request outcomes.
// It implements the storage the strategies crawl into and the outcome log
// of the rate budget.
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string

	pendingLimit int
	maxAttempts  int
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool

	// PendingLimit bounds the pages returned by Pending.
	PendingLimit int

	// MaxAttempts is how many failed fetches a placeholder survives.
	MaxAttempts int
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
		PendingLimit:      DefaultPendingLimit,
		MaxAttempts:       DefaultMaxAttempts,
	}
}

// Open opens or creates a CrawlDB in dbDir.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file, mode=rwc creates it.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:           db,
		dbPath:       dbPath,
		pendingLimit: opts.PendingLimit,
		maxAttempts:  opts.MaxAttempts,
	}
	if cdb.pendingLimit <= 0 {
		cdb.pendingLimit = DefaultPendingLimit
	}
	if cdb.maxAttempts <= 0 {
		cdb.maxAttempts = DefaultMaxAttempts
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// createTables creates the database schema if it doesn't exist.
func (cdb *CrawlDB) createTables() error {
	schema := `
	-- Pages are fetched pages or placeholders (placeholder = 1) for known urls
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		market TEXT NOT NULL,
		model TEXT NOT NULL,
		url TEXT NOT NULL,
		content_key TEXT NOT NULL,
		meta TEXT,
		status_code INTEGER NOT NULL DEFAULT 0,
		content BLOB,
		content_hash TEXT,
		placeholder INTEGER NOT NULL DEFAULT 1,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(market, model, url)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_pending ON pages(market, model, placeholder, attempts);
	CREATE INDEX IF NOT EXISTS idx_pages_key ON pages(content_key);

	-- Outcomes are the append-only log of every request
	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		requester_id TEXT NOT NULL,
		url TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		budget TEXT NOT NULL,
		delay_ms INTEGER NOT NULL,
		respond_time_ms INTEGER NOT NULL,
		recommendation_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_requester ON outcomes(requester_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_timestamp ON outcomes(timestamp);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// Store persists pages of market and modelName in one transaction. Fetched
// pages are upserted with their body and stop being placeholders. Pages
// that were not fetched are kept as placeholders with one more failed
// attempt. It reports whether the transaction committed.
func (cdb *CrawlDB) Store(ctx context.Context, market, modelName string, pages []*model.Page) (bool, error) {
	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	fetched := `
	INSERT INTO pages (market, model, url, content_key, meta, status_code, content, content_hash, placeholder, attempts)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 1)
	ON CONFLICT(market, model, url) DO UPDATE SET
		meta = excluded.meta,
		status_code = excluded.status_code,
		content = excluded.content,
		content_hash = excluded.content_hash,
		placeholder = 0,
		attempts = pages.attempts + 1,
		updated_at = CURRENT_TIMESTAMP
	`
	failed := `
	INSERT INTO pages (market, model, url, content_key, meta, placeholder, attempts)
	VALUES (?, ?, ?, ?, ?, 1, 1)
	ON CONFLICT(market, model, url) DO UPDATE SET
		attempts = pages.attempts + 1,
		updated_at = CURRENT_TIMESTAMP
	WHERE pages.placeholder = 1
	`

	for _, p := range pages {
		meta, err := encodeMeta(p.Meta)
		if err != nil {
			return false, err
		}

		if p.Crawled() {
			_, err = tx.ExecContext(ctx, fetched,
				market, modelName, p.URL, p.ContentKey(), meta,
				p.StatusCode, p.Content(), p.Hash,
			)
		} else {
			_, err = tx.ExecContext(ctx, failed, market, modelName, p.URL, p.ContentKey(), meta)
		}
		if err != nil {
			return false, fmt.Errorf("failed to store page %s: %w", p.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit pages: %w", err)
	}
	return true, nil
}

// Pending returns up to the pending limit of placeholders of market and
// modelName that have attempts left, oldest first.
func (cdb *CrawlDB) Pending(ctx context.Context, market, modelName string) ([]*model.Page, error) {
	query := `
	SELECT url, meta FROM pages
	WHERE market = ? AND model = ? AND placeholder = 1 AND attempts < ?
	ORDER BY id
	LIMIT ?
	`

	rows, err := cdb.db.QueryContext(ctx, query, market, modelName, cdb.maxAttempts, cdb.pendingLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending pages: %w", err)
	}
	defer rows.Close()

	var pages []*model.Page
	for rows.Next() {
		var url string
		var metaJSON sql.NullString
		if err := rows.Scan(&url, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan pending page: %w", err)
		}
		meta, err := decodeMeta(metaJSON)
		if err != nil {
			return nil, err
		}
		pages = append(pages, model.NewPage(url, meta))
	}
	return pages, rows.Err()
}

// Check returns the urls that already exist for market and modelName and
// records every other url as a placeholder, in one transaction.
func (cdb *CrawlDB) Check(ctx context.Context, market, modelName string, urls []string) ([]string, error) {
	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exists := `SELECT 1 FROM pages WHERE market = ? AND model = ? AND url = ?`

	var existing []string
	known := make(map[string]bool, len(urls))
	for _, u := range urls {
		if _, seen := known[u]; seen {
			if known[u] {
				existing = append(existing, u)
			}
			continue
		}

		var one int
		err := tx.QueryRowContext(ctx, exists, market, modelName, u).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			known[u] = false
		case err != nil:
			return nil, fmt.Errorf("failed to check page %s: %w", u, err)
		default:
			known[u] = true
			existing = append(existing, u)
		}
	}

	insert := `
	INSERT INTO pages (market, model, url, content_key, placeholder, attempts)
	VALUES (?, ?, ?, ?, 1, 0)
	ON CONFLICT(market, model, url) DO NOTHING
	`
	for _, u := range urls {
		if known[u] {
			continue
		}
		known[u] = true
		if _, err := tx.ExecContext(ctx, insert, market, modelName, u, model.ContentKey(u)); err != nil {
			return nil, fmt.Errorf("failed to insert placeholder %s: %w", u, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit check: %w", err)
	}
	return existing, nil
}

// StoredPage is a page row read back from the database.
type StoredPage struct {
	URL         string
	ContentKey  string
	Meta        map[string]any
	StatusCode  int
	Content     []byte
	ContentHash string
	Placeholder bool
	Attempts    int
	UpdatedAt   time.Time
}

// GetPage retrieves a page by market, model and url. It returns nil when
// the page is unknown.
func (cdb *CrawlDB) GetPage(ctx context.Context, market, modelName, url string) (*StoredPage, error) {
	query := `
	SELECT url, content_key, meta, status_code, content, content_hash, placeholder, attempts, updated_at
	FROM pages
	WHERE market = ? AND model = ? AND url = ?
	`

	var page StoredPage
	var metaJSON, hash sql.NullString
	var placeholder int
	var updated string

	err := cdb.db.QueryRowContext(ctx, query, market, modelName, url).Scan(
		&page.URL,
		&page.ContentKey,
		&metaJSON,
		&page.StatusCode,
		&page.Content,
		&hash,
		&placeholder,
		&page.Attempts,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}

	page.Meta, err = decodeMeta(metaJSON)
	if err != nil {
		return nil, err
	}
	page.ContentHash = hash.String
	page.Placeholder = placeholder == 1
	page.UpdatedAt = parseTimestamp(updated)
	return &page, nil
}

// ModelCount summarizes the pages of one model.
type ModelCount struct {
	Model string `json:"model"`
	// Fetched pages have a stored body.
	Fetched int `json:"fetched"`
	// Pending placeholders still have attempts left.
	Pending int `json:"pending"`
	// Exhausted placeholders ran out of attempts.
	Exhausted int `json:"exhausted"`
}

// Counts returns page counts per model of market, ordered by model.
func (cdb *CrawlDB) Counts(ctx context.Context, market string) ([]ModelCount, error) {
	query := `
	SELECT model,
		SUM(CASE WHEN placeholder = 0 THEN 1 ELSE 0 END),
		SUM(CASE WHEN placeholder = 1 AND attempts < ? THEN 1 ELSE 0 END),
		SUM(CASE WHEN placeholder = 1 AND attempts >= ? THEN 1 ELSE 0 END)
	FROM pages
	WHERE market = ?
	GROUP BY model
	ORDER BY model
	`

	rows, err := cdb.db.QueryContext(ctx, query, cdb.maxAttempts, cdb.maxAttempts, market)
	if err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}
	defer rows.Close()

	var counts []ModelCount
	for rows.Next() {
		var c ModelCount
		if err := rows.Scan(&c.Model, &c.Fetched, &c.Pending, &c.Exhausted); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// AppendOutcome appends o to the outcome log.
func (cdb *CrawlDB) AppendOutcome(ctx context.Context, o budget.Outcome) error {
	query := `
	INSERT INTO outcomes (requester_id, url, status_code, budget, delay_ms, respond_time_ms, recommendation_id, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := cdb.db.ExecContext(ctx, query,
		o.RequesterID,
		o.URL,
		o.StatusCode,
		o.Budget,
		o.Delay.Milliseconds(),
		o.RespondTime.Milliseconds(),
		o.RecommendationID.String(),
		o.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append outcome: %w", err)
	}
	return nil
}

// Outcomes returns up to limit outcomes, newest first.
func (cdb *CrawlDB) Outcomes(ctx context.Context, limit int) ([]budget.Outcome, error) {
	query := `
	SELECT requester_id, url, status_code, budget, delay_ms, respond_time_ms, recommendation_id, timestamp
	FROM outcomes
	ORDER BY id DESC
	LIMIT ?
	`

	rows, err := cdb.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []budget.Outcome
	for rows.Next() {
		var o budget.Outcome
		var delayMS, respondMS int64
		var recID, timestamp string

		if err := rows.Scan(&o.RequesterID, &o.URL, &o.StatusCode, &o.Budget, &delayMS, &respondMS, &recID, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Delay = time.Duration(delayMS) * time.Millisecond
		o.RespondTime = time.Duration(respondMS) * time.Millisecond
		o.Timestamp = parseTimestamp(timestamp)
		if id, err := uuid.Parse(recID); err == nil {
			o.RecommendationID = id
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func encodeMeta(meta map[string]any) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize meta: %w", err)
	}
	return string(data), nil
}

func decodeMeta(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(s.String), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse meta: %w", err)
	}
	return meta, nil
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,          // outcomes are written in RFC3339 with nanoseconds
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
