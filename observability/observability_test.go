package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hazyhaar/feedveil/dbopen"
	"github.com/hazyhaar/feedveil/observe"
	"github.com/hazyhaar/feedveil/policy"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestInitCreatesTables(t *testing.T) {
	db := setupObsDB(t)
	if err := Init(db); err != nil {
		t.Fatalf("Init must be idempotent: %v", err)
	}
	for _, table := range []string{"metrics_timeseries", "verdict_journal"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

func TestMetricsAddAndQuery(t *testing.T) {
	db := setupObsDB(t)
	m := NewMetrics(db, 100, time.Hour, nil)
	defer m.Close()

	m.Add(Metric{Name: "sessions", Value: 2, Unit: "count", Labels: map[string]string{"site": "youtube"}})
	m.Add(Metric{Name: "other", Value: 1})
	m.Flush()

	got, err := m.Query(context.Background(), "sessions", time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 2 || got[0].Labels["site"] != "youtube" {
		t.Fatalf("got %+v", got)
	}
	all, err := m.Query(context.Background(), "", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %d", len(all))
	}
}

func TestMetricsFlushWhenFull(t *testing.T) {
	db := setupObsDB(t)
	m := NewMetrics(db, 2, time.Hour, nil)
	defer m.Close()

	m.Add(Metric{Name: "x", Value: 1})
	m.Add(Metric{Name: "x", Value: 2})

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
	if n != 2 {
		t.Fatalf("full buffer should flush, rows = %d", n)
	}
}

func TestMetricsCloseFlushes(t *testing.T) {
	db := setupObsDB(t)
	m := NewMetrics(db, 100, time.Hour, nil)
	m.Add(Metric{Name: "x", Value: 1})
	m.Close()

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
	if n != 1 {
		t.Fatalf("rows = %d", n)
	}
}

func TestMetricsQuerySince(t *testing.T) {
	db := setupObsDB(t)
	m := NewMetrics(db, 100, time.Hour, nil)
	defer m.Close()

	now := time.Now()
	m.Add(Metric{Name: "m", Timestamp: now.Add(-2 * time.Hour), Value: 1})
	m.Add(Metric{Name: "m", Timestamp: now, Value: 2})
	m.Flush()

	got, err := m.Query(context.Background(), "m", now.Add(-time.Hour), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestMetricsCleanup(t *testing.T) {
	db := setupObsDB(t)
	m := NewMetrics(db, 100, time.Hour, nil)
	defer m.Close()

	m.Add(Metric{Name: "old", Timestamp: time.Now().Add(-40 * 24 * time.Hour), Value: 1})
	m.Add(Metric{Name: "new", Value: 2})
	m.Flush()

	deleted, err := m.Cleanup(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d", deleted)
	}
}

func TestMetricsRecord(t *testing.T) {
	db := setupObsDB(t)
	m := NewMetrics(db, 100, time.Hour, nil)
	defer m.Close()

	now := time.Now()
	m.Record(observe.Event{Site: "youtube", Outcome: observe.OutcomeScored, Action: policy.Obscure,
		Probability: 20, Latency: 150 * time.Millisecond, At: now})
	m.Record(observe.Event{Site: "youtube", Outcome: observe.OutcomeFailed, Action: policy.ShowWithLabel,
		FailureKind: "transport", At: now})
	m.Record(observe.Event{Site: "youtube", Outcome: observe.OutcomeSuppressed, At: now})
	m.Flush()

	ctx := context.Background()
	verdicts, _ := m.Query(ctx, MetricVerdicts, time.Time{}, 0)
	if len(verdicts) != 2 {
		t.Fatalf("verdicts = %d", len(verdicts))
	}
	failures, _ := m.Query(ctx, MetricFailures, time.Time{}, 0)
	if len(failures) != 1 || failures[0].Labels["kind"] != "transport" {
		t.Fatalf("failures = %+v", failures)
	}
	latency, _ := m.Query(ctx, MetricOracleLatency, time.Time{}, 0)
	if len(latency) != 1 || latency[0].Value != 150 || latency[0].Labels["mode"] != "single" {
		t.Fatalf("latency = %+v", latency)
	}
	suppressed, _ := m.Query(ctx, MetricSuppressed, time.Time{}, 0)
	if len(suppressed) != 1 {
		t.Fatalf("suppressed = %d", len(suppressed))
	}
}

func TestJournal(t *testing.T) {
	db := setupObsDB(t)
	j := NewJournal(db, nil)

	base := time.Now().Add(-time.Minute)
	j.Record(observe.Event{Session: "ses_1", Site: "youtube", ItemID: "v1",
		Outcome: observe.OutcomeScored, Action: policy.Reveal, Probability: 88,
		Latency: 40 * time.Millisecond, At: base})
	j.Record(observe.Event{Session: "ses_1", Site: "youtube", ItemID: "v2",
		Outcome: observe.OutcomeFailed, Action: policy.ShowWithLabel,
		FailureKind: "schema", Error: "bad json", Batch: true, At: base.Add(time.Second)})
	j.Record(observe.Event{Session: "ses_2", Site: "reddit", Outcome: observe.OutcomeSuppressed, At: base})
	j.Record(observe.Event{Session: "ses_2", Site: "reddit", Outcome: observe.OutcomeUnclassifiable,
		Action: policy.Reveal, At: base.Add(2 * time.Second)})

	ctx := context.Background()
	yt, err := j.Recent(ctx, "youtube", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(yt) != 2 {
		t.Fatalf("youtube entries = %d", len(yt))
	}
	if yt[0].ItemID != "v2" || yt[0].Probability != nil || yt[0].FailureKind != "schema" || !yt[0].Batch {
		t.Fatalf("newest = %+v", yt[0])
	}
	if yt[1].Probability == nil || *yt[1].Probability != 88 || yt[1].Action != "reveal" || yt[1].LatencyMs != 40 {
		t.Fatalf("oldest = %+v", yt[1])
	}

	all, err := j.Recent(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("suppressed outcomes must not be journaled, got %d entries", len(all))
	}
}

func TestJournalCleanup(t *testing.T) {
	db := setupObsDB(t)
	j := NewJournal(db, nil)
	j.Record(observe.Event{Session: "s", Site: "x", Outcome: observe.OutcomeScored,
		At: time.Now().Add(-48 * time.Hour)})
	j.Record(observe.Event{Session: "s", Site: "x", Outcome: observe.OutcomeScored})

	deleted, err := j.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d", deleted)
	}
}
