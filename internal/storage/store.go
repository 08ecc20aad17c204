// Package storage persists level samples, the automation audit trail, and
// the searchable document corpus in a local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	agenticrag "github.com/changxeokSong/agentic-rag"
)

// Store wraps the SQLite database. Samples and decisions are append-only;
// nothing ever updates or deletes a recorded row.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS samples (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	site       TEXT    NOT NULL,
	ts         INTEGER NOT NULL,
	level      REAL    NOT NULL,
	source     TEXT    NOT NULL,
	stale      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_samples_site_ts ON samples(site, ts);

CREATE TABLE IF NOT EXISTS decisions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         INTEGER NOT NULL,
	site       TEXT    NOT NULL,
	pump       TEXT    NOT NULL,
	action     TEXT    NOT NULL,
	level      REAL    NOT NULL,
	source     TEXT    NOT NULL,
	rationale  TEXT    NOT NULL,
	armed      INTEGER NOT NULL,
	executed   INTEGER NOT NULL,
	error      TEXT    NOT NULL DEFAULT '',
	repeats    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_decisions_site_ts ON decisions(site, ts);

CREATE TABLE IF NOT EXISTS documents (
	name       TEXT PRIMARY KEY,
	content    TEXT    NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, agenticrag.NewUnavailableError("storage", "database", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, agenticrag.NewUnavailableError("storage", "database", fmt.Errorf("applying schema: %w", err))
	}

	log.Debug().Str("path", path).Msg("storage opened")
	return &Store{db: db, log: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendSample records one level reading.
func (s *Store) AppendSample(ctx context.Context, sample agenticrag.WaterLevelSample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO samples (site, ts, level, source, stale) VALUES (?, ?, ?, ?, ?)`,
		sample.Site, sample.Timestamp.UnixNano(), sample.Level, string(sample.Source), boolInt(sample.Stale))
	if err != nil {
		return agenticrag.NewUnavailableError("storage", "database", err)
	}
	return nil
}

// LatestSamples returns up to limit most recent samples for a site, oldest
// first.
func (s *Store) LatestSamples(ctx context.Context, site string, limit int) ([]agenticrag.WaterLevelSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT site, ts, level, source, stale FROM samples
		 WHERE site = ? ORDER BY ts DESC LIMIT ?`, site, limit)
	if err != nil {
		return nil, agenticrag.NewUnavailableError("storage", "database", err)
	}
	defer rows.Close()

	samples, err := scanSamples(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// SamplesRange returns the samples for a site between from and to,
// inclusive, oldest first.
func (s *Store) SamplesRange(ctx context.Context, site string, from, to time.Time) ([]agenticrag.WaterLevelSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT site, ts, level, source, stale FROM samples
		 WHERE site = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`,
		site, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, agenticrag.NewUnavailableError("storage", "database", err)
	}
	defer rows.Close()
	return scanSamples(rows)
}

// AppendDecision records one audit entry. repeats counts additional
// identical no-ops aggregated into this entry.
func (s *Store) AppendDecision(ctx context.Context, d agenticrag.AutomationDecision, repeats int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (ts, site, pump, action, level, source, rationale, armed, executed, error, repeats)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Timestamp.UnixNano(), d.Sample.Site, d.Pump.Pump, string(d.Action.Kind),
		d.Sample.Level, string(d.Sample.Source), d.Rationale,
		boolInt(d.Armed), boolInt(d.Executed), d.ErrorMsg, repeats)
	if err != nil {
		return agenticrag.NewUnavailableError("storage", "database", err)
	}
	return nil
}

// DecisionsRange returns the audit entries for a site between from and to,
// oldest first.
func (s *Store) DecisionsRange(ctx context.Context, site string, from, to time.Time) ([]agenticrag.AutomationDecision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, site, pump, action, level, source, rationale, armed, executed, error FROM decisions
		 WHERE site = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`,
		site, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, agenticrag.NewUnavailableError("storage", "database", err)
	}
	defer rows.Close()

	var decisions []agenticrag.AutomationDecision
	for rows.Next() {
		var (
			ts              int64
			site, pump      string
			action          string
			level           float64
			source          string
			rationale, emsg string
			armed, executed int
		)
		if err := rows.Scan(&ts, &site, &pump, &action, &level, &source, &rationale, &armed, &executed, &emsg); err != nil {
			return nil, agenticrag.NewUnavailableError("storage", "database", err)
		}
		decisions = append(decisions, agenticrag.AutomationDecision{
			Timestamp: time.Unix(0, ts),
			Sample: agenticrag.WaterLevelSample{
				Site:      site,
				Timestamp: time.Unix(0, ts),
				Level:     level,
				Source:    agenticrag.SampleSource(source),
			},
			Pump:      agenticrag.PumpState{Site: site, Pump: pump},
			Action:    agenticrag.Action{Kind: agenticrag.ActionKind(action), Site: site, Pump: pump},
			Rationale: rationale,
			Armed:     armed != 0,
			Executed:  executed != 0,
			ErrorMsg:  emsg,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, agenticrag.NewUnavailableError("storage", "database", err)
	}
	return decisions, nil
}

// SaveDocument inserts or replaces a named document.
func (s *Store) SaveDocument(ctx context.Context, name, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (name, content, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		name, content, time.Now().UnixNano())
	if err != nil {
		return agenticrag.NewUnavailableError("storage", "database", err)
	}
	return nil
}

// Document is one stored document with a search snippet.
type Document struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// SearchDocuments returns documents whose name or content matches the query.
func (s *Store) SearchDocuments(ctx context.Context, query string, limit int) ([]Document, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, content FROM documents
		 WHERE name LIKE ? OR content LIKE ? ORDER BY updated_at DESC LIMIT ?`,
		pattern, pattern, limit)
	if err != nil {
		return nil, agenticrag.NewUnavailableError("storage", "database", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// ListDocuments returns all stored documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, content FROM documents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, agenticrag.NewUnavailableError("storage", "database", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func scanSamples(rows *sql.Rows) ([]agenticrag.WaterLevelSample, error) {
	var samples []agenticrag.WaterLevelSample
	for rows.Next() {
		var (
			site   string
			ts     int64
			level  float64
			source string
			stale  int
		)
		if err := rows.Scan(&site, &ts, &level, &source, &stale); err != nil {
			return nil, agenticrag.NewUnavailableError("storage", "database", err)
		}
		samples = append(samples, agenticrag.WaterLevelSample{
			Site:      site,
			Timestamp: time.Unix(0, ts),
			Level:     level,
			Source:    agenticrag.SampleSource(source),
			Stale:     stale != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, agenticrag.NewUnavailableError("storage", "database", err)
	}
	return samples, nil
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.Name, &doc.Content); err != nil {
			return nil, agenticrag.NewUnavailableError("storage", "database", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, agenticrag.NewUnavailableError("storage", "database", err)
	}
	return docs, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
