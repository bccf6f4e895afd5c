// Package store persists an optimization session: a YAML manifest describing
// the search configuration and an SQLite database holding the round history,
// both inside the session's output folder. Actions and scores are stored as
// physical values, never grid indices, so histories survive re-discretization
// across sessions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/adaptive-imaging/optim-core/internal/space"
)

const dbFile = "optim.db"

// Round is one persisted optimization round.
type Round struct {
	Round      int
	Action     space.Action
	Scores     map[string]float64
	Elapsed    time.Duration
	Reward     float64
	NoiseBound float64
	Degraded   bool
	Thrashed   bool
	RecordedAt time.Time
}

// Store is the per-session persistence handle.
type Store struct {
	dir string
	db  *sql.DB
}

// Open creates the session directory if needed and opens its database.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	// WAL keeps the daemon's status reads from blocking round appends.
	dsn := filepath.Join(dir, dbFile) + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{dir: dir, db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS rounds (
		round INTEGER PRIMARY KEY,
		action_json TEXT NOT NULL,
		scores_json TEXT NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		reward REAL NOT NULL,
		noise_bound REAL NOT NULL,
		degraded INTEGER NOT NULL DEFAULT 0,
		thrashed INTEGER NOT NULL DEFAULT 0,
		recorded_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Dir returns the session directory.
func (s *Store) Dir() string {
	return s.dir
}

// AppendRound persists one completed round.
func (s *Store) AppendRound(ctx context.Context, r Round) error {
	actionJSON, err := json.Marshal(r.Action)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	scoresJSON, err := json.Marshal(r.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}

	query := `
	INSERT INTO rounds (round, action_json, scores_json, elapsed_ms, reward,
		noise_bound, degraded, thrashed, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		r.Round, string(actionJSON), string(scoresJSON), r.Elapsed.Milliseconds(),
		r.Reward, r.NoiseBound, boolInt(r.Degraded), boolInt(r.Thrashed),
		r.RecordedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append round %d: %w", r.Round, err)
	}
	return nil
}

// Rounds loads the full round history in round order.
func (s *Store) Rounds(ctx context.Context) ([]Round, error) {
	query := `
	SELECT round, action_json, scores_json, elapsed_ms, reward,
		noise_bound, degraded, thrashed, recorded_at
	FROM rounds ORDER BY round`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		var (
			r          Round
			actionJSON string
			scoresJSON string
			elapsedMs  int64
			degraded   int
			thrashed   int
			recordedAt int64
		)
		if err := rows.Scan(&r.Round, &actionJSON, &scoresJSON, &elapsedMs,
			&r.Reward, &r.NoiseBound, &degraded, &thrashed, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan round row: %w", err)
		}
		if err := json.Unmarshal([]byte(actionJSON), &r.Action); err != nil {
			return nil, fmt.Errorf("decode action: %w", err)
		}
		if err := json.Unmarshal([]byte(scoresJSON), &r.Scores); err != nil {
			return nil, fmt.Errorf("decode scores: %w", err)
		}
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		r.Degraded = degraded != 0
		r.Thrashed = thrashed != 0
		r.RecordedAt = time.Unix(recordedAt, 0)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return out, nil
}

// WriteArtifact stores a round's raw acquisition bytes. Sessions running with
// thrash_data skip this call entirely.
func (s *Store) WriteArtifact(round int, data []byte) error {
	dir := filepath.Join(s.dir, "artifacts")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create artifacts directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("round-%04d.bin", round))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write artifact for round %d: %w", round, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
