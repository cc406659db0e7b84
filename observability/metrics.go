// Package observability keeps feedveil's diagnostics in SQLite: counters and
// latencies as a timeseries, and a journal of per-node verdicts. Both are
// write-mostly trails for status pages and post-mortems; nothing in the
// pipeline reads them back.
//
// Persistence is asynchronous for metrics: a full buffer is flushed in one
// transaction and a failing store only produces log lines.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/feedveil/dbopen"
	"github.com/hazyhaar/feedveil/observe"
)

// Metric names.
const (
	MetricVerdicts      = "feedveil_verdicts"
	MetricFailures      = "feedveil_failures"
	MetricOracleLatency = "feedveil_oracle_latency_ms"
	MetricSuppressed    = "feedveil_suppressed"
)

// Metric is a single datapoint.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Unit      string            `json:"unit,omitempty"`
}

// Metrics buffers datapoints and flushes them in batches. It implements
// observe.Recorder.
type Metrics struct {
	db            *sql.DB
	logger        *slog.Logger
	bufferSize    int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []Metric
	stop   chan struct{}
	done   chan struct{}
}

// NewMetrics starts a flusher. Zero values pick 100 datapoints and 5s.
func NewMetrics(db *sql.DB, bufferSize int, flushInterval time.Duration, logger *slog.Logger) *Metrics {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Metrics{
		db:            db,
		logger:        logger,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go m.flushLoop()
	return m
}

// Add queues a datapoint.
func (m *Metrics) Add(p Metric) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = append(m.buffer, p)
	if len(m.buffer) >= m.bufferSize {
		m.flushLocked()
	}
}

// Record turns a pipeline event into datapoints.
func (m *Metrics) Record(e observe.Event) {
	labels := map[string]string{"site": e.Site}
	switch e.Outcome {
	case observe.OutcomeSuppressed:
		m.Add(Metric{Name: MetricSuppressed, Timestamp: e.At, Value: 1, Labels: labels, Unit: "count"})
		return
	case observe.OutcomeFailed:
		m.Add(Metric{Name: MetricFailures, Timestamp: e.At, Value: 1, Unit: "count",
			Labels: map[string]string{"site": e.Site, "kind": e.FailureKind}})
	}
	m.Add(Metric{Name: MetricVerdicts, Timestamp: e.At, Value: 1, Unit: "count",
		Labels: map[string]string{"site": e.Site, "outcome": string(e.Outcome), "action": e.Action.String()}})
	if e.Latency > 0 {
		mode := "single"
		if e.Batch {
			mode = "batch"
		}
		m.Add(Metric{Name: MetricOracleLatency, Timestamp: e.At, Unit: "milliseconds",
			Value:  float64(e.Latency.Microseconds()) / 1000,
			Labels: map[string]string{"site": e.Site, "mode": mode}})
	}
}

// Flush writes the buffer now.
func (m *Metrics) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushLocked()
}

// Query returns datapoints, newest first. An empty name matches all;
// limit <= 0 means no limit.
func (m *Metrics) Query(ctx context.Context, name string, since time.Time, limit int) ([]Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE 1=1"
	var args []any
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	if !since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, since.UnixMilli())
	}
	q += " ORDER BY timestamp DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var (
			p      Metric
			ts     int64
			labels sql.NullString
			unit   sql.NullString
		)
		if err := rows.Scan(&p.Name, &ts, &p.Value, &labels, &unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		p.Timestamp = time.UnixMilli(ts)
		p.Unit = unit.String
		if labels.Valid {
			json.Unmarshal([]byte(labels.String), &p.Labels)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Cleanup deletes datapoints older than retention.
func (m *Metrics) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := dbopen.Exec(ctx, m.db, "DELETE FROM metrics_timeseries WHERE timestamp < ?",
		time.Now().Add(-retention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup metrics: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes what is left and stops the flusher.
func (m *Metrics) Close() error {
	close(m.stop)
	<-m.done
	return nil
}

func (m *Metrics) flushLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			m.Flush()
			return
		case <-ticker.C:
			m.Flush()
		}
	}
}

func (m *Metrics) flushLocked() {
	if len(m.buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := dbopen.RunTx(ctx, m.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range m.buffer {
			var labels sql.NullString
			if len(p.Labels) > 0 {
				if b, err := json.Marshal(p.Labels); err == nil {
					labels = sql.NullString{String: string(b), Valid: true}
				}
			}
			if _, err := stmt.ExecContext(ctx, p.Name, p.Timestamp.UnixMilli(), p.Value, labels, p.Unit); err != nil {
				return fmt.Errorf("insert %s: %w", p.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("observability: metrics flush failed", "error", err, "dropped", len(m.buffer))
	}
	m.buffer = m.buffer[:0]
}
