package observability

import "database/sql"

// Schema is the DDL of the diagnostics database. It is kept apart from the
// settings database so flushes never contend with settings writes.
const Schema = `
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id   TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp   INTEGER NOT NULL, -- unix milliseconds
    value       REAL NOT NULL,
    labels      TEXT,
    unit        TEXT
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_metrics_timestamp
    ON metrics_timeseries(timestamp DESC);

CREATE TABLE IF NOT EXISTS verdict_journal (
    entry_id     TEXT PRIMARY KEY,
    timestamp    INTEGER NOT NULL, -- unix milliseconds
    session_id   TEXT NOT NULL,
    site         TEXT NOT NULL,
    item_id      TEXT NOT NULL DEFAULT '',
    outcome      TEXT NOT NULL,
    action       TEXT NOT NULL,
    probability  REAL,
    failure_kind TEXT,
    error        TEXT,
    latency_ms   INTEGER,
    batch        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_journal_time ON verdict_journal(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_journal_site ON verdict_journal(site, timestamp DESC);
`

// Init applies Schema.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
