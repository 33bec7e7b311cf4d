package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

const sqliteWriteTimeout = 5 * time.Second

// SQLiteHistory persists every request it hears about. Attach it with
// Queue.Subscribe; writes run in the listener path, outside the queue lock.
type SQLiteHistory struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLiteHistory opens (and migrates) the database at dsn.
func OpenSQLiteHistory(dsn string, logger *slog.Logger) (*SQLiteHistory, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing sqlite dsn")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open approval history: %w", err)
	}
	// One writer avoids SQLITE_BUSY between concurrent resolutions.
	db.SetMaxOpenConns(1)

	h := &SQLiteHistory{db: db, logger: logger.With("component", "approval.sqlite")}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate approval history: %w", err)
	}
	return h, nil
}

// Close releases the database handle.
func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

func (h *SQLiteHistory) migrate() error {
	_, err := h.db.Exec(`
CREATE TABLE IF NOT EXISTS warden_approvals (
  id TEXT PRIMARY KEY,
  created_at_ms INTEGER NOT NULL,
  resolved_at_ms INTEGER,
  status TEXT NOT NULL,
  operation TEXT NOT NULL,
  description TEXT,
  risk_level TEXT NOT NULL,
  decision_json TEXT,
  context_json TEXT,
  resolved_by TEXT
);
CREATE INDEX IF NOT EXISTS idx_warden_approvals_status ON warden_approvals(status);
CREATE INDEX IF NOT EXISTS idx_warden_approvals_resolved ON warden_approvals(resolved_at_ms);
`)
	return err
}

// OnRequestCreated implements Listener. A row already written by an earlier
// resolution is left alone.
func (h *SQLiteHistory) OnRequestCreated(r Request) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteWriteTimeout)
	defer cancel()

	decisionJSON, contextJSON := encodeRequest(r)
	_, err := h.db.ExecContext(ctx, `
INSERT INTO warden_approvals (
  id, created_at_ms, resolved_at_ms, status, operation, description,
  risk_level, decision_json, context_json, resolved_by
) VALUES (?, ?, NULL, ?, ?, ?, ?, ?, ?, '')
ON CONFLICT(id) DO NOTHING
`, r.ID, r.Timestamp.UnixMilli(), string(StatusPending), string(r.Operation), r.Description,
		r.Risk.String(), decisionJSON, contextJSON)
	if err != nil {
		h.logger.Error("persist created request", "id", r.ID, "error", err)
	}
}

// OnRequestResolved implements Listener.
func (h *SQLiteHistory) OnRequestResolved(r Request) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteWriteTimeout)
	defer cancel()

	var resolvedAt any
	if r.ResolvedAt != nil {
		resolvedAt = r.ResolvedAt.UnixMilli()
	}
	decisionJSON, contextJSON := encodeRequest(r)
	_, err := h.db.ExecContext(ctx, `
INSERT INTO warden_approvals (
  id, created_at_ms, resolved_at_ms, status, operation, description,
  risk_level, decision_json, context_json, resolved_by
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  resolved_at_ms = excluded.resolved_at_ms,
  resolved_by = excluded.resolved_by
WHERE warden_approvals.status = 'pending'
`, r.ID, r.Timestamp.UnixMilli(), resolvedAt, string(r.Status), string(r.Operation), r.Description,
		r.Risk.String(), decisionJSON, contextJSON, r.ResolvedBy)
	if err != nil {
		h.logger.Error("persist resolved request", "id", r.ID, "error", err)
	}
}

// Recent returns up to limit resolved requests, most recent first.
func (h *SQLiteHistory) Recent(ctx context.Context, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := h.db.QueryContext(ctx, `
SELECT id, created_at_ms, resolved_at_ms, status, operation, description,
       risk_level, decision_json, context_json, resolved_by
FROM warden_approvals
WHERE status != 'pending'
ORDER BY resolved_at_ms DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var (
			r            Request
			createdAt    int64
			resolvedAt   sql.NullInt64
			status       string
			operation    string
			risk         string
			decisionJSON sql.NullString
			contextJSON  sql.NullString
			resolvedBy   sql.NullString
			description  sql.NullString
		)
		if err := rows.Scan(&r.ID, &createdAt, &resolvedAt, &status, &operation, &description,
			&risk, &decisionJSON, &contextJSON, &resolvedBy); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(createdAt).UTC()
		if resolvedAt.Valid {
			t := time.UnixMilli(resolvedAt.Int64).UTC()
			r.ResolvedAt = &t
		}
		r.Status = Status(status)
		r.Operation = model.Operation(operation)
		r.Description = description.String
		r.ResolvedBy = resolvedBy.String
		// A damaged row is still returned; unknown risk reads as critical.
		var err error
		if r.Risk, err = model.ParseRiskLevel(risk); err != nil {
			h.logger.Warn("stored request has bad risk level", "id", r.ID, "error", err)
		}
		if decisionJSON.Valid && decisionJSON.String != "" {
			if err := json.Unmarshal([]byte(decisionJSON.String), &r.Decision); err != nil {
				h.logger.Warn("stored request has bad decision", "id", r.ID, "error", err)
			}
		}
		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &r.Context); err != nil {
				h.logger.Warn("stored request has bad context", "id", r.ID, "error", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeRequest(r Request) (decisionJSON, contextJSON string) {
	d, _ := json.Marshal(r.Decision)
	c, _ := json.Marshal(r.Context)
	return string(d), string(c)
}
