// Package storage persists assessment summaries in SQLite. Only the
// distribution statistics and threshold crossings are stored, never the
// individual runs.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/iwvelando/unwind-risk/internal/montecarlo"
	"github.com/iwvelando/unwind-risk/internal/risk"
	"github.com/iwvelando/unwind-risk/internal/sensitivity"
	"github.com/iwvelando/unwind-risk/internal/sim"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no assessment has the requested ID.
var ErrNotFound = errors.New("assessment not found")

const schema = `
CREATE TABLE IF NOT EXISTS assessments (
    id                  TEXT PRIMARY KEY,
    created_at          TEXT    NOT NULL,
    duration_ms         INTEGER NOT NULL DEFAULT 0,
    seed                TEXT    NOT NULL,
    initial_positions   INTEGER NOT NULL,
    initial_price       REAL    NOT NULL,
    max_unwinds_per_tx  INTEGER NOT NULL,
    block_duration_sec  REAL    NOT NULL,
    volatility_annual   REAL    NOT NULL,
    drift_annual        REAL    NOT NULL,
    congestion_fail     REAL    NOT NULL,
    network_fail        REAL    NOT NULL,
    base_slippage       REAL    NOT NULL,
    runs                INTEGER NOT NULL,
    mean_loss           REAL    NOT NULL,
    max_loss            REAL    NOT NULL,
    mean_pct_loss       REAL    NOT NULL,
    min_pct_loss        REAL    NOT NULL,
    p95_pct_loss        REAL    NOT NULL,
    p99_pct_loss        REAL    NOT NULL,
    max_pct_loss        REAL    NOT NULL,
    mean_blocks         REAL    NOT NULL,
    p99_blocks          INTEGER NOT NULL,
    max_blocks          INTEGER NOT NULL,
    worst_exec_price    REAL    NOT NULL,
    max_slippage        REAL    NOT NULL
);

CREATE TABLE IF NOT EXISTS crossings (
    assessment_id TEXT    NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
    threshold     REAL    NOT NULL,
    decay_rate    REAL    NOT NULL DEFAULT 0,
    found         INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (assessment_id, threshold)
);

CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments(created_at DESC);
`

// Summary is the persisted view of an assessment.
type Summary struct {
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"createdAt"`
	Duration  time.Duration          `json:"duration"`
	Params    sim.Params             `json:"params"`
	Stats     montecarlo.Stats       `json:"stats"`
	Crossings []sensitivity.Crossing `json:"crossings,omitempty"`
}

// SQLiteStorage stores assessment summaries using SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path and applies the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer; also keeps ":memory:" on one connection
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveAssessment stores the summary statistics and threshold crossings of a.
func (s *SQLiteStorage) SaveAssessment(ctx context.Context, a *risk.Assessment) error {
	if a == nil {
		return errors.New("storage.SaveAssessment: nil assessment")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveAssessment: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, st := a.Params, a.Stats
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO assessments
			(id, created_at, duration_ms, seed,
			 initial_positions, initial_price, max_unwinds_per_tx, block_duration_sec,
			 volatility_annual, drift_annual, congestion_fail, network_fail, base_slippage,
			 runs, mean_loss, max_loss, mean_pct_loss, min_pct_loss, p95_pct_loss,
			 p99_pct_loss, max_pct_loss, mean_blocks, p99_blocks, max_blocks,
			 worst_exec_price, max_slippage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CreatedAt.UTC().Format(time.RFC3339Nano), a.Duration.Milliseconds(),
		strconv.FormatUint(st.Seed, 10),
		p.InitialPositions, p.InitialPrice, p.MaxUnwindsPerTx, p.BlockDurationSec,
		p.VolatilityAnnual, p.DriftAnnual, p.CongestionFailRate, p.NetworkFailRate, p.BaseSlippage,
		st.Runs, st.MeanLoss, st.MaxLoss, st.MeanPercentageLoss, st.MinPercentageLoss, st.P95PercentageLoss,
		st.P99PercentageLoss, st.MaxPercentageLoss, st.MeanBlocks, st.P99Blocks, st.MaxBlocks,
		st.WorstExecutionPrice, st.MaxSlippage,
	); err != nil {
		return fmt.Errorf("storage.SaveAssessment: insert assessment: %w", err)
	}

	if a.Sensitivity != nil {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO crossings (assessment_id, threshold, decay_rate, found) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("storage.SaveAssessment: prepare: %w", err)
		}
		defer stmt.Close()

		for _, c := range a.Sensitivity.Crossings {
			found := 0
			if c.Found {
				found = 1
			}
			if _, err := stmt.ExecContext(ctx, a.ID, c.Threshold, c.DecayRate, found); err != nil {
				return fmt.Errorf("storage.SaveAssessment: insert crossing %v: %w", c.Threshold, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveAssessment: commit: %w", err)
	}
	return nil
}

const selectSummary = `
	SELECT id, created_at, duration_ms, seed,
	       initial_positions, initial_price, max_unwinds_per_tx, block_duration_sec,
	       volatility_annual, drift_annual, congestion_fail, network_fail, base_slippage,
	       runs, mean_loss, max_loss, mean_pct_loss, min_pct_loss, p95_pct_loss,
	       p99_pct_loss, max_pct_loss, mean_blocks, p99_blocks, max_blocks,
	       worst_exec_price, max_slippage
	FROM assessments`

// GetAssessment returns the stored summary for id.
func (s *SQLiteStorage) GetAssessment(ctx context.Context, id string) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, selectSummary+` WHERE id = ?`, id)
	summary, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage.GetAssessment: %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetAssessment: %w", err)
	}
	if summary.Crossings, err = s.crossings(ctx, id); err != nil {
		return nil, err
	}
	return summary, nil
}

// History returns up to limit summaries, newest first.
func (s *SQLiteStorage) History(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectSummary+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.History: query: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.History: %w", err)
		}
		summaries = append(summaries, *summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.History: %w", err)
	}

	for i := range summaries {
		if summaries[i].Crossings, err = s.crossings(ctx, summaries[i].ID); err != nil {
			return nil, err
		}
	}
	return summaries, nil
}

func (s *SQLiteStorage) crossings(ctx context.Context, id string) ([]sensitivity.Crossing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT threshold, decay_rate, found FROM crossings WHERE assessment_id = ? ORDER BY threshold`, id)
	if err != nil {
		return nil, fmt.Errorf("storage.crossings: query: %w", err)
	}
	defer rows.Close()

	var out []sensitivity.Crossing
	for rows.Next() {
		var c sensitivity.Crossing
		var found int
		if err := rows.Scan(&c.Threshold, &c.DecayRate, &found); err != nil {
			return nil, fmt.Errorf("storage.crossings: scan row: %w", err)
		}
		c.Found = found == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (*Summary, error) {
	var (
		s         Summary
		createdAt string
		seed      string
		duration  int64
	)
	p, st := &s.Params, &s.Stats
	if err := row.Scan(
		&s.ID, &createdAt, &duration, &seed,
		&p.InitialPositions, &p.InitialPrice, &p.MaxUnwindsPerTx, &p.BlockDurationSec,
		&p.VolatilityAnnual, &p.DriftAnnual, &p.CongestionFailRate, &p.NetworkFailRate, &p.BaseSlippage,
		&st.Runs, &st.MeanLoss, &st.MaxLoss, &st.MeanPercentageLoss, &st.MinPercentageLoss, &st.P95PercentageLoss,
		&st.P99PercentageLoss, &st.MaxPercentageLoss, &st.MeanBlocks, &st.P99Blocks, &st.MaxBlocks,
		&st.WorstExecutionPrice, &st.MaxSlippage,
	); err != nil {
		return nil, err
	}

	var err error
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if st.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return nil, fmt.Errorf("parse seed %q: %w", seed, err)
	}
	s.Duration = time.Duration(duration) * time.Millisecond
	st.InitialValue = p.InitialValue()
	return &s, nil
}
