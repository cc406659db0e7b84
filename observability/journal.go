package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/feedveil/dbopen"
	"github.com/hazyhaar/feedveil/idgen"
	"github.com/hazyhaar/feedveil/observe"
)

// Journal writes one verdict_journal row per node outcome. Suppressed
// outcomes are not journaled. It implements observe.Recorder.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	newID  idgen.Generator
}

// NewJournal returns a Journal writing to db.
func NewJournal(db *sql.DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger, newID: idgen.Prefixed("jrn_", idgen.Default)}
}

// Entry is a journaled verdict.
type Entry struct {
	ID          string          `json:"id"`
	At          time.Time       `json:"at"`
	Session     string          `json:"session"`
	Site        string          `json:"site"`
	ItemID      string          `json:"item_id,omitempty"`
	Outcome     observe.Outcome `json:"outcome"`
	Action      string          `json:"action"`
	Probability *float64        `json:"probability,omitempty"`
	FailureKind string          `json:"failure_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	LatencyMs   int64           `json:"latency_ms"`
	Batch       bool            `json:"batch"`
}

// Record inserts e. Errors are logged, never returned.
func (j *Journal) Record(e observe.Event) {
	if e.Outcome == observe.OutcomeSuppressed {
		return
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	var prob sql.NullFloat64
	if e.Outcome == observe.OutcomeScored {
		prob = sql.NullFloat64{Float64: e.Probability, Valid: true}
	}
	batch := 0
	if e.Batch {
		batch = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := dbopen.Exec(ctx, j.db, `
		INSERT INTO verdict_journal (entry_id, timestamp, session_id, site, item_id,
			outcome, action, probability, failure_kind, error, latency_ms, batch)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.newID(), at.UnixMilli(), e.Session, e.Site, e.ItemID,
		string(e.Outcome), e.Action.String(), prob,
		nullString(e.FailureKind), nullString(e.Error), e.Latency.Milliseconds(), batch)
	if err != nil {
		j.logger.Warn("observability: journal insert failed", "error", err, "site", e.Site)
	}
}

// Recent returns the newest entries, optionally for one site.
func (j *Journal) Recent(ctx context.Context, site string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT entry_id, timestamp, session_id, site, item_id, outcome, action,
		probability, failure_kind, error, latency_ms, batch FROM verdict_journal`
	args := []any{}
	if site != "" {
		q += " WHERE site = ?"
		args = append(args, site)
	}
	q += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			ts      int64
			outcome string
			prob    sql.NullFloat64
			kind    sql.NullString
			msg     sql.NullString
			latency sql.NullInt64
			batch   int
		)
		if err := rows.Scan(&e.ID, &ts, &e.Session, &e.Site, &e.ItemID, &outcome, &e.Action,
			&prob, &kind, &msg, &latency, &batch); err != nil {
			return nil, fmt.Errorf("observability: scan journal: %w", err)
		}
		e.At = time.UnixMilli(ts)
		e.Outcome = observe.Outcome(outcome)
		if prob.Valid {
			p := prob.Float64
			e.Probability = &p
		}
		e.FailureKind = kind.String
		e.Error = msg.String
		e.LatencyMs = latency.Int64
		e.Batch = batch == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than retention.
func (j *Journal) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := dbopen.Exec(ctx, j.db, "DELETE FROM verdict_journal WHERE timestamp < ?",
		time.Now().Add(-retention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup journal: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
