package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const historySchema = `
CREATE TABLE IF NOT EXISTS submission_history (
	id          UUID PRIMARY KEY,
	session_id  TEXT NOT NULL,
	slot        TEXT NOT NULL,
	file_count  INTEGER NOT NULL,
	total_bytes BIGINT NOT NULL,
	outcome     TEXT NOT NULL,
	error_code  TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL,
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS submission_history_created_at_idx ON submission_history (created_at DESC);
`

// PgHistory stores submission history in Postgres.
type PgHistory struct {
	db DBTX
}

// NewPgHistory returns a store backed by db. Call EnsureSchema once at startup.
func NewPgHistory(db DBTX) *PgHistory {
	return &PgHistory{db: db}
}

// EnsureSchema creates the history table if it does not exist.
func (h *PgHistory) EnsureSchema(ctx context.Context) error {
	if _, err := h.db.Exec(ctx, historySchema); err != nil {
		return fmt.Errorf("create submission_history: %w", err)
	}
	return nil
}

func (h *PgHistory) Record(ctx context.Context, sub Submission) error {
	_, err := h.db.Exec(ctx, `INSERT INTO submission_history
		(id, session_id, slot, file_count, total_bytes, outcome, error_code, duration_ms, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.ID, sub.SessionID, sub.Slot, sub.FileCount, sub.TotalBytes, string(sub.Outcome),
		sub.ErrorCode, sub.Duration.Milliseconds(), sub.IPAddress, sub.UserAgent, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission %s: %w", sub.ID, err)
	}
	return nil
}

func (h *PgHistory) Recent(ctx context.Context, f HistoryFilter) ([]Submission, error) {
	limit := f.limit()

	wb := newWhereBuilder()
	wb.add("session_id", f.SessionID)
	wb.add("slot", f.Slot)
	wb.add("outcome", string(f.Outcome))
	where, args := wb.build()

	query := `SELECT id, session_id, slot, file_count, total_bytes, outcome, error_code,
		duration_ms, ip_address, user_agent, created_at
		FROM submission_history` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", wb.nextArg())
	args = append(args, limit)

	rows, err := h.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Submission, 0)
	for rows.Next() {
		var (
			s          Submission
			outcome    string
			durationMs int64
		)
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Slot, &s.FileCount, &s.TotalBytes, &outcome,
			&s.ErrorCode, &durationMs, &s.IPAddress, &s.UserAgent, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Outcome = Outcome(outcome)
		s.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *PgHistory) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := h.db.Exec(ctx, "DELETE FROM submission_history WHERE created_at < $1", before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// whereBuilder assembles an AND-ed WHERE clause with numbered placeholders.
// Empty values are skipped.
type whereBuilder struct {
	conds []string
	args  []any
}

func newWhereBuilder() *whereBuilder { return &whereBuilder{} }

func (w *whereBuilder) add(column, value string) {
	if value == "" {
		return
	}
	w.args = append(w.args, value)
	w.conds = append(w.conds, fmt.Sprintf("%s = $%d", column, len(w.args)))
}

func (w *whereBuilder) nextArg() int { return len(w.args) + 1 }

func (w *whereBuilder) build() (string, []any) {
	if len(w.conds) == 0 {
		return "", w.args
	}
	return " WHERE " + strings.Join(w.conds, " AND "), w.args
}
