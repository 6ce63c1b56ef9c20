// Package journal keeps an append-only DuckDB log of file status transitions
// and answers aggregate questions about tracked files.
package journal

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/tracker"
)

// Transition is one recorded change of a file.
type Transition struct {
	FileID  string            `json:"fileId"`
	PrevID  string            `json:"prevId,omitempty"`
	Kind    tracker.EventKind `json:"kind"`
	From    models.FileStatus `json:"from,omitempty"`
	To      models.FileStatus `json:"to"`
	Message string            `json:"message,omitempty"`
	At      time.Time         `json:"at"`
}

// Journal records tracker events in DuckDB.
type Journal struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens or creates a journal at path. An empty path keeps it in memory.
func Open(path string, log zerolog.Logger) (*Journal, error) {
	return OpenTuned(path, 2, "256MB", log)
}

// OpenTuned is Open with explicit DuckDB thread and memory limits.
func OpenTuned(path string, threads int, memoryLimit string, log zerolog.Logger) (*Journal, error) {
	if threads <= 0 {
		threads = 2
	}
	if memoryLimit == "" {
		memoryLimit = "256MB"
	}
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", strings.ReplaceAll(memoryLimit, "'", "")),
			fmt.Sprintf("PRAGMA threads=%d", threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Errorf("creating DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	// Serialize writers; DuckDB transactions conflict on concurrent upserts.
	db.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS transitions (
			file_id     VARCHAR NOT NULL,
			prev_id     VARCHAR,
			kind        VARCHAR NOT NULL,
			from_status VARCHAR,
			to_status   VARCHAR NOT NULL,
			message     VARCHAR,
			at          TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			file_id    VARCHAR NOT NULL,
			name       VARCHAR NOT NULL,
			file_type  VARCHAR NOT NULL,
			status     VARCHAR NOT NULL,
			deleted    BOOLEAN NOT NULL DEFAULT false,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Errorf("creating journal schema: %w", err)
		}
	}

	log = log.With().Str("component", "journal").Logger()
	log.Info().Str("path", displayPath(path)).Msg("journal opened")
	return &Journal{db: db, log: log}, nil
}

// Record stores one tracker event.
func (j *Journal) Record(ctx context.Context, ev tracker.Event) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Errorf("beginning journal transaction: %w", err)
	}
	defer tx.Rollback()

	e := ev.Entry
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	if ev.Kind == tracker.EventRekeyed && ev.PrevID != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE transitions SET file_id = ? WHERE file_id = ?`, e.ID, ev.PrevID); err != nil {
			return errors.Errorf("rekeying transitions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE file_id = ?`, ev.PrevID); err != nil {
			return errors.Errorf("rekeying file: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transitions (file_id, prev_id, kind, from_status, to_status, message, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullable(ev.PrevID), string(ev.Kind), nullable(string(ev.From)), string(e.Status), nullable(e.ErrorMessage()), at,
	)
	if err != nil {
		return errors.Errorf("inserting transition: %w", err)
	}

	if ev.Kind == tracker.EventRemoved {
		if _, err := tx.ExecContext(ctx, `UPDATE files SET deleted = true, updated_at = ? WHERE file_id = ?`, at, e.ID); err != nil {
			return errors.Errorf("marking file deleted: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE file_id = ?`, e.ID); err != nil {
			return errors.Errorf("replacing file: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO files (file_id, name, file_type, status, deleted, updated_at) VALUES (?, ?, ?, ?, false, ?)`,
			e.ID, e.Name, e.Type(), string(e.Status), at,
		)
		if err != nil {
			return errors.Errorf("inserting file: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Errorf("committing journal transaction: %w", err)
	}
	return nil
}

// Follow records events until ctx is done or the stream closes.
func (j *Journal) Follow(ctx context.Context, events <-chan tracker.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := j.Record(ctx, ev); err != nil {
				j.log.Warn().Err(err).Str("file", ev.Entry.ID).Msg("recording event failed")
			}
		}
	}
}

// TypeBreakdown counts files that have not been deleted, per type.
func (j *Journal) TypeBreakdown(ctx context.Context) ([]models.TypeCount, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT file_type, COUNT(*) AS n
		FROM files
		WHERE NOT deleted
		GROUP BY file_type
		ORDER BY n DESC, file_type ASC`)
	if err != nil {
		return nil, errors.Errorf("querying type breakdown: %w", err)
	}
	defer rows.Close()

	out := []models.TypeCount{}
	for rows.Next() {
		var tc models.TypeCount
		var n int64
		if err := rows.Scan(&tc.Type, &n); err != nil {
			return nil, errors.Errorf("scanning type breakdown: %w", err)
		}
		tc.Count = int(n)
		out = append(out, tc)
	}
	return out, rows.Err()
}

// StatusCounts counts files that have not been deleted, per status.
func (j *Journal) StatusCounts(ctx context.Context) (map[models.FileStatus]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM files WHERE NOT deleted GROUP BY status`)
	if err != nil {
		return nil, errors.Errorf("querying status counts: %w", err)
	}
	defer rows.Close()

	out := make(map[models.FileStatus]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Errorf("scanning status counts: %w", err)
		}
		out[models.FileStatus(status)] = int(n)
	}
	return out, rows.Err()
}

// History returns the recorded transitions of one file, oldest first.
func (j *Journal) History(ctx context.Context, fileID string) ([]Transition, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT file_id, prev_id, kind, from_status, to_status, message, at
		FROM transitions
		WHERE file_id = ?
		ORDER BY at ASC, rowid ASC`, fileID)
	if err != nil {
		return nil, errors.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var prev, from, msg sql.NullString
		var kind, to string
		if err := rows.Scan(&t.FileID, &prev, &kind, &from, &to, &msg, &t.At); err != nil {
			return nil, errors.Errorf("scanning history: %w", err)
		}
		t.PrevID = prev.String
		t.Kind = tracker.EventKind(kind)
		t.From = models.FileStatus(from.String)
		t.To = models.FileStatus(to)
		t.Message = msg.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func displayPath(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}
