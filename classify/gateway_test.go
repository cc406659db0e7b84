package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hazyhaar/feedveil/idgen"
	"github.com/hazyhaar/feedveil/item"
)

// stubOracle returns canned completions and records what it was asked.
type stubOracle struct {
	one      string
	batch    string
	err      error
	panicMsg string

	gotSubject Subject
	gotRecs    []Record
	calls      int
}

func (s *stubOracle) AnalyzeOne(_ context.Context, _ string, subj Subject, rec Record) (string, error) {
	s.calls++
	s.gotSubject = subj
	s.gotRecs = []Record{rec}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.one, s.err
}

func (s *stubOracle) AnalyzeBatch(_ context.Context, _ string, subj Subject, recs []Record) (string, error) {
	s.calls++
	s.gotSubject = subj
	s.gotRecs = recs
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.batch == "" && s.err == nil {
		// Echo a probability per record, keyed by id.
		var parts []string
		for i, r := range recs {
			parts = append(parts, fmt.Sprintf(`{"id":%q,"probability":%d}`, r.ID, 10*(i+1)))
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	}
	return s.batch, s.err
}

var pointers = item.ContentItem{ID: "v1", Title: "Intro to Pointers", Author: "CS Channel"}

func TestScoreOne(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want float64
		kind FailureKind
	}{
		{"plain", `{"probability":85}`, 85, 0},
		{"fenced", "```json\n{\"probability\": 42}\n```", 42, 0},
		{"bare fence", "```\n{\"probability\": 7.5}```", 7.5, 0},
		{"concatenated", `{"probability":85}{"probability":20}`, 85, 0},
		{"bounds low", `{"probability":0}`, 0, 0},
		{"bounds high", `{"probability":100}`, 100, 0},
		{"not json", "not json", 0, SchemaFailure},
		{"empty", "", 0, SchemaFailure},
		{"above range", `{"probability":101}`, 0, SchemaFailure},
		{"below range", `{"probability":-1}`, 0, SchemaFailure},
		{"string number", `{"probability":"85"}`, 0, SchemaFailure},
		{"null", `{"probability":null}`, 0, SchemaFailure},
		{"missing", `{"score":85}`, 0, SchemaFailure},
		{"array", `[85]`, 0, SchemaFailure},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			g := NewGateway(&stubOracle{one: c.raw})
			s := g.ScoreOne(context.Background(), "learn CS", pointers)
			if s.ID != "v1" {
				t.Errorf("ID = %q", s.ID)
			}
			if c.kind == 0 {
				if !s.OK() || s.Probability != c.want {
					t.Fatalf("got %+v, want probability %v", s, c.want)
				}
				return
			}
			if s.OK() || s.Failure.Kind != c.kind {
				t.Fatalf("got %+v, want %s failure", s, c.kind)
			}
		})
	}
}

func TestScoreOneTransport(t *testing.T) {
	g := NewGateway(&stubOracle{err: context.DeadlineExceeded})
	s := g.ScoreOne(context.Background(), "goals", pointers)
	if s.OK() || s.Failure.Kind != TransportFailure {
		t.Fatalf("got %+v", s)
	}
	if !IsTimeout(s.Failure) {
		t.Fatal("deadline should be reported as timeout")
	}
	if !errors.Is(s.Failure, context.DeadlineExceeded) {
		t.Fatal("Failure must unwrap to its cause")
	}
}

func TestScoreOnePanic(t *testing.T) {
	g := NewGateway(&stubOracle{panicMsg: "boom"})
	s := g.ScoreOne(context.Background(), "goals", pointers)
	if s.OK() || s.Failure.Kind != TransportFailure {
		t.Fatalf("got %+v", s)
	}
}

func TestSubject(t *testing.T) {
	o := &stubOracle{one: `{"probability":50}`}
	g := NewGateway(o).For(Subject{Noun: "tweet", TitleLabel: "Content", AuthorLabel: "Username"})
	g.ScoreOne(context.Background(), "goals", pointers)
	if o.gotSubject.Noun != "tweet" {
		t.Fatalf("subject = %+v", o.gotSubject)
	}
	NewGateway(o).For(Subject{}).ScoreOne(context.Background(), "goals", pointers)
	if o.gotSubject != DefaultSubject {
		t.Fatalf("empty subject should keep default, got %+v", o.gotSubject)
	}
}

func batchItems(ids ...string) []item.ContentItem {
	out := make([]item.ContentItem, len(ids))
	for i, id := range ids {
		out[i] = item.ContentItem{ID: id, Title: "t" + id, Author: "a"}
	}
	return out
}

func TestScoreBatchCorrelatesByID(t *testing.T) {
	o := &stubOracle{batch: `[{"id":"b","probability":30},{"id":"a","probability":80},{"id":"zzz","probability":1}]`}
	got := NewGateway(o).ScoreBatch(context.Background(), "goals", batchItems("a", "b"))
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].ID != "a" || got[0].Probability != 80 || got[1].ID != "b" || got[1].Probability != 30 {
		t.Fatalf("got %+v", got)
	}
}

func TestScoreBatchTruncated(t *testing.T) {
	o := &stubOracle{batch: `[{"id":"a","probability":80}]`}
	got := NewGateway(o).ScoreBatch(context.Background(), "goals", batchItems("a", "b", "c"))
	if len(got) != 3 {
		t.Fatalf("cardinality %d, want 3", len(got))
	}
	if !got[0].OK() {
		t.Fatalf("a should be scored: %+v", got[0])
	}
	for _, s := range got[1:] {
		if s.OK() || !errors.Is(s.Failure, ErrNoResult) {
			t.Fatalf("missing entry should synthesize a failure: %+v", s)
		}
	}
}

func TestScoreBatchFlagged(t *testing.T) {
	o := &stubOracle{batch: `[{"id":"a","error":true},{"id":"b"},{"id":"c","probability":12,"error":false}]`}
	got := NewGateway(o).ScoreBatch(context.Background(), "goals", batchItems("a", "b", "c"))
	if got[0].OK() || got[1].OK() {
		t.Fatalf("flagged entries must fail: %+v", got)
	}
	if !errors.Is(got[0].Failure, ErrFlagged) {
		t.Fatalf("cause = %v", got[0].Failure.Err)
	}
	if !got[2].OK() || got[2].Probability != 12 {
		t.Fatalf("c = %+v", got[2])
	}
}

func TestScoreBatchDuplicateEntriesFirstWins(t *testing.T) {
	o := &stubOracle{batch: `[{"id":"a","probability":90},{"id":"a","probability":5}]`}
	got := NewGateway(o).ScoreBatch(context.Background(), "goals", batchItems("a"))
	if got[0].Probability != 90 {
		t.Fatalf("got %+v", got[0])
	}
}

func TestScoreBatchWholeFailure(t *testing.T) {
	cases := map[string]*stubOracle{
		"transport":      {err: errors.New("connection refused")},
		"not json":       {batch: "not json"},
		"object":         {batch: `{"id":"a","probability":10}`},
		"bad element":    {batch: `[{"id":"a","probability":10},{"id":"b","probability":"high"}]`},
		"out of range":   {batch: `[{"id":"a","probability":10},{"id":"b","probability":140}]`},
		"numeric id":     {batch: `[{"id":1,"probability":10}]`},
		"missing id":     {batch: `[{"probability":10}]`},
		"error not bool": {batch: `[{"id":"a","error":"yes"}]`},
		"panic":          {panicMsg: "boom"},
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			got := NewGateway(o).ScoreBatch(context.Background(), "goals", batchItems("a", "b"))
			if len(got) != 2 {
				t.Fatalf("cardinality %d", len(got))
			}
			for i, s := range got {
				if s.OK() {
					t.Fatalf("item %d scored despite whole-call failure: %+v", i, s)
				}
			}
		})
	}
}

func TestScoreBatchGeneratesMissingIDs(t *testing.T) {
	o := &stubOracle{}
	items := []item.ContentItem{{Title: "x"}, {Title: "y"}, {ID: "k", Title: "z"}}
	g := NewGateway(o, WithIDGenerator(idgen.Prefixed("gen_", idgen.Sequential())))
	got := g.ScoreBatch(context.Background(), "goals", items)

	if len(o.gotRecs) != 3 {
		t.Fatalf("records = %+v", o.gotRecs)
	}
	if o.gotRecs[0].ID != "gen_1" || o.gotRecs[1].ID != "gen_2" || o.gotRecs[2].ID != "k" {
		t.Fatalf("record ids = %s %s %s", o.gotRecs[0].ID, o.gotRecs[1].ID, o.gotRecs[2].ID)
	}
	want := []float64{10, 20, 30}
	for i, s := range got {
		if !s.OK() || s.Probability != want[i] {
			t.Fatalf("item %d = %+v", i, s)
		}
	}
	if got[0].ID != "" {
		t.Fatal("generated ids must not leak into scores")
	}
}

func TestScoreBatchSharedID(t *testing.T) {
	o := &stubOracle{}
	got := NewGateway(o).ScoreBatch(context.Background(), "goals", batchItems("a", "a"))
	if len(o.gotRecs) != 1 {
		t.Fatalf("duplicate ids should be sent once, sent %d", len(o.gotRecs))
	}
	if !got[0].OK() || !got[1].OK() || got[0].Probability != got[1].Probability {
		t.Fatalf("got %+v", got)
	}
}

func TestScoreBatchEmpty(t *testing.T) {
	o := &stubOracle{}
	if got := NewGateway(o).ScoreBatch(context.Background(), "goals", nil); len(got) != 0 {
		t.Fatalf("got %+v", got)
	}
	if o.calls != 0 {
		t.Fatal("empty batch must not call the oracle")
	}
}

func TestClean(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```JSON{\"a\":1}```":     `{"a":1}`,
		"\n\n  {\"a\":1}  ":       `{"a":1}`,
	}
	for in, want := range cases {
		if got := Clean(in); got != want {
			t.Errorf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}
