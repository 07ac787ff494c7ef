// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog persists collected papers in a SQLite database. The
// catalog is the durable record behind the session's paper counts: the
// recovery engine checks it when estimating how much work an interruption
// actually lost.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/paper-census/pkg/types"
)

// Store manages the paper catalog SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog database at dbPath and creates the
// schema if it does not exist.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS papers (
			id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			venue TEXT NOT NULL,
			year INTEGER NOT NULL,
			title TEXT,
			authors TEXT,
			abstract TEXT,
			source TEXT,
			source_url TEXT,
			collected_at TEXT,
			PRIMARY KEY (session_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_session_venue ON papers(session_id, venue, year)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_source ON papers(source)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// StorePapers upserts one collected venue/year batch in a single
// transaction. Re-storing a batch after a retry or resume overwrites the
// prior rows instead of duplicating them. Papers arriving without an id
// get a deterministic one derived from the pair and title, so repeated
// ingests stay idempotent.
func (s *Store) StorePapers(ctx context.Context, sessionID string, key types.VenueKey, papers []types.Paper) error {
	if sessionID == "" {
		return fmt.Errorf("store papers: empty session id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO papers (id, session_id, venue, year, title, authors, abstract, source, source_url, collected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, id) DO UPDATE SET
			venue=excluded.venue, year=excluded.year, title=excluded.title,
			authors=excluded.authors, abstract=excluded.abstract,
			source=excluded.source, source_url=excluded.source_url,
			collected_at=excluded.collected_at`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range papers {
		id := p.ID
		if id == "" {
			id = fallbackID(key, p.Title)
		}
		collectedAt := p.CollectedAt
		if collectedAt.IsZero() {
			collectedAt = time.Now().UTC()
		}
		authorsJSON, _ := json.Marshal(p.Authors)
		_, err := stmt.ExecContext(ctx,
			id, sessionID, key.Venue, key.Year, p.Title, string(authorsJSON),
			p.Abstract, p.Source, p.SourceURL, collectedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("inserting paper %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func fallbackID(key types.VenueKey, title string) string {
	return fmt.Sprintf("gen-%016x", xxhash.Sum64String(key.String()+"|"+title))
}

// CountPapers returns how many papers the catalog holds for a session.
func (s *Store) CountPapers(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM papers WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting papers: %w", err)
	}
	return n, nil
}

// CountByVenue returns the per venue/year paper counts for a session.
func (s *Store) CountByVenue(ctx context.Context, sessionID string) (types.PaperCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT venue, year, COUNT(*) FROM papers WHERE session_id = ? GROUP BY venue, year`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("counting by venue: %w", err)
	}
	defer rows.Close()

	counts := make(types.PaperCounts)
	for rows.Next() {
		var (
			venue   string
			year, n int
		)
		if err := rows.Scan(&venue, &year, &n); err != nil {
			return nil, fmt.Errorf("scanning venue count: %w", err)
		}
		counts.Set(types.VenueKey{Venue: venue, Year: year}, n)
	}
	return counts, rows.Err()
}

// ExportVenue writes a session's papers for one venue/year pair as indented
// JSON and reports how many were exported.
func (s *Store) ExportVenue(ctx context.Context, sessionID string, key types.VenueKey, w io.Writer) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, authors, abstract, source, source_url, collected_at
		 FROM papers WHERE session_id = ? AND venue = ? AND year = ?
		 ORDER BY id`,
		sessionID, key.Venue, key.Year)
	if err != nil {
		return 0, fmt.Errorf("querying venue papers: %w", err)
	}
	defer rows.Close()

	papers := make([]types.Paper, 0)
	for rows.Next() {
		var (
			p           types.Paper
			authorsJSON string
			collectedAt string
		)
		if err := rows.Scan(&p.ID, &p.Title, &authorsJSON, &p.Abstract,
			&p.Source, &p.SourceURL, &collectedAt); err != nil {
			return 0, fmt.Errorf("scanning paper row: %w", err)
		}
		if authorsJSON != "" {
			if err := json.Unmarshal([]byte(authorsJSON), &p.Authors); err != nil {
				return 0, fmt.Errorf("decoding authors for %s: %w", p.ID, err)
			}
		}
		if collectedAt != "" {
			if ts, perr := time.Parse(time.RFC3339Nano, collectedAt); perr == nil {
				p.CollectedAt = ts
			}
		}
		p.Venue = key.Venue
		p.Year = key.Year
		papers = append(papers, p)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reading venue papers: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(papers); err != nil {
		return 0, fmt.Errorf("encoding export: %w", err)
	}
	return len(papers), nil
}

// Stats summarizes one session's catalog contents.
type Stats struct {
	TotalPapers      int            `json:"total_papers"`
	VenuePairs       int            `json:"venue_pairs"`
	BySource         map[string]int `json:"by_source"`
	FirstCollectedAt time.Time      `json:"first_collected_at"`
	LastCollectedAt  time.Time      `json:"last_collected_at"`
}

// SessionStats aggregates a session's totals, distinct venue/year pairs and
// per-source counts.
func (s *Store) SessionStats(ctx context.Context, sessionID string) (*Stats, error) {
	st := &Stats{BySource: make(map[string]int)}

	var first, last string
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(DISTINCT venue || ':' || year),
		        COALESCE(MIN(collected_at), ''),
		        COALESCE(MAX(collected_at), '')
		 FROM papers WHERE session_id = ?`,
		sessionID).Scan(&st.TotalPapers, &st.VenuePairs, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("aggregating session stats: %w", err)
	}
	if first != "" {
		if ts, perr := time.Parse(time.RFC3339Nano, first); perr == nil {
			st.FirstCollectedAt = ts
		}
	}
	if last != "" {
		if ts, perr := time.Parse(time.RFC3339Nano, last); perr == nil {
			st.LastCollectedAt = ts
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM papers WHERE session_id = ? GROUP BY source`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("aggregating source stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			source string
			n      int
		)
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("scanning source count: %w", err)
		}
		st.BySource[source] = n
	}
	return st, rows.Err()
}
