package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/feedveil/classify"
	"github.com/hazyhaar/feedveil/dbopen"
	"github.com/hazyhaar/feedveil/dom/htmldom"
	"github.com/hazyhaar/feedveil/item"
	"github.com/hazyhaar/feedveil/observability"
	"github.com/hazyhaar/feedveil/observe"
	"github.com/hazyhaar/feedveil/oracle"
	"github.com/hazyhaar/feedveil/settings"
	"github.com/hazyhaar/feedveil/site"
)

const feed = `<html><body><main id="feed">
<article class="post" data-id="v1"><h3 class="title">Intro to Pointers</h3><span class="by">CS Channel</span></article>
<article class="post" data-id="v2"><h3 class="title">Funny Cat Compilation</h3><span class="by">MemesDaily</span></article>
</main></body></html>`

type titleOracle struct {
	mu    sync.Mutex
	calls int
	goals []string
}

func (o *titleOracle) AnalyzeOne(_ context.Context, goals string, _ classify.Subject, r classify.Record) (string, error) {
	o.mu.Lock()
	o.calls++
	o.goals = append(o.goals, goals)
	o.mu.Unlock()
	if strings.Contains(r.Title, "Pointers") {
		return `{"probability": 85}`, nil
	}
	return `{"probability": 20}`, nil
}

func (o *titleOracle) AnalyzeBatch(context.Context, string, classify.Subject, []classify.Record) (string, error) {
	return "", fmt.Errorf("batch not expected")
}

func (o *titleOracle) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type oracleInfo struct{ b *oracle.Breaker }

func (oracleInfo) Model() string               { return "test/model" }
func (i oracleInfo) Breaker() *oracle.Breaker { return i.b }

type fixture struct {
	svc     *Service
	oracle  *titleOracle
	loop    *observe.Loop
	session *observe.Session
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	adapter := &site.Adapter{
		ID:         "test",
		Domains:    []string{"test.example"},
		Containers: []string{"article.post"},
		Roots:      []string{"#feed"},
		Fields: item.FieldSpec{
			ID:     []item.Locator{{Attr: "data-id"}},
			Title:  item.Selectors(".title"),
			Author: item.Selectors(".by"),
		},
	}
	reg := site.NewRegistry(adapter)
	store := settings.Static{Goals: "learn CS", Sites: map[string]settings.Site{
		"test": {ID: "test", Enabled: true, Cutoff: 60},
	}}

	db := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema))
	metrics := observability.NewMetrics(db, 100, time.Hour, nil)
	t.Cleanup(func() { metrics.Close() })
	journal := observability.NewJournal(db, nil)

	o := &titleOracle{}
	gw := classify.NewGateway(o)
	loop := observe.New(gw, store, observe.Config{Recorder: observe.Recorders(metrics, journal)})

	doc, err := htmldom.ParseString(feed)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := loop.Activate(context.Background(), doc, adapter)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	svc := New(Options{
		Loop:     loop,
		Gateway:  gw,
		Store:    store,
		Registry: reg,
		Oracle:   oracleInfo{b: oracle.NewBreaker(0, 0, 0)},
		Metrics:  metrics,
		Journal:  journal,
	})
	return &fixture{svc: svc, oracle: o, loop: loop, session: sess, metrics: metrics}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.svc.Router(false), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if rec.Header().Get("X-Trace-ID") == "" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("headers = %v", rec.Header())
	}
	if rec := do(t, f.svc.Router(false), http.MethodHead, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("HEAD status %d", rec.Code)
	}
}

func TestSessions(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.svc.Router(false), http.MethodGet, "/sessions", "")
	st := decode[Status](t, rec)
	if len(st.Sessions) != 1 {
		t.Fatalf("sessions = %+v", st.Sessions)
	}
	s := st.Sessions[0]
	if s.Site != "test" || s.State != "observing" || s.Scored != 2 || s.Revealed != 1 || s.Obscured != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	if st.Oracle == nil || st.Oracle.Model != "test/model" || st.Oracle.Breaker != "closed" {
		t.Fatalf("oracle = %+v", st.Oracle)
	}
}

func TestRescan(t *testing.T) {
	f := newFixture(t)
	before := f.oracle.count()
	rec := do(t, f.svc.Router(false), http.MethodPost, "/sessions/test/rescan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	res := decode[RescanResult](t, rec)
	if res.Sessions != 1 || res.Nodes != 2 {
		t.Fatalf("result = %+v", res)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.session.Wait(ctx)
	if got := f.oracle.count() - before; got != 2 {
		t.Fatalf("forced rescan made %d oracle calls, want 2", got)
	}

	if rec := do(t, f.svc.Router(false), http.MethodPost, "/sessions/other/rescan", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown site status %d", rec.Code)
	}
	f.session.Stop()
	if rec := do(t, f.svc.Router(false), http.MethodPost, "/sessions/test/rescan", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("stopped session status %d", rec.Code)
	}
}

func TestClassify(t *testing.T) {
	f := newFixture(t)
	h := f.svc.Router(false)

	rec := do(t, h, http.MethodPost, "/classify", `{"site":"test","title":"Intro to Pointers","author":"CS"}`)
	res := decode[ClassifyResult](t, rec)
	if res.Action != "reveal" || res.Probability == nil || *res.Probability != 85 || res.Cutoff != 60 {
		t.Fatalf("result = %+v", res)
	}

	rec = do(t, h, http.MethodPost, "/classify", `{"site":"test","title":"Intro to Pointers","cutoff":90}`)
	if res := decode[ClassifyResult](t, rec); res.Action != "obscure" {
		t.Fatalf("cutoff override: %+v", res)
	}

	before := f.oracle.count()
	rec = do(t, h, http.MethodPost, "/classify", `{"site":"test"}`)
	if res := decode[ClassifyResult](t, rec); res.Action != "reveal" || res.Probability != nil {
		t.Fatalf("empty item: %+v", res)
	}
	if f.oracle.count() != before {
		t.Fatal("empty item must not reach the oracle")
	}

	if rec := do(t, h, http.MethodPost, "/classify", `{"site":"nope","title":"x"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown site status %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/classify", `{"site":"test","title":"x","cutoff":120}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cutoff status %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/classify", `{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body status %d", rec.Code)
	}
}

func TestMetricsAndJournal(t *testing.T) {
	f := newFixture(t)
	h := f.svc.Router(false)

	rec := do(t, h, http.MethodGet, "/metrics?name="+observability.MetricVerdicts+"&limit=10", "")
	points := decode[[]observability.Metric](t, rec)
	if len(points) != 2 {
		t.Fatalf("verdict datapoints = %d", len(points))
	}

	rec = do(t, h, http.MethodGet, "/journal?site=test", "")
	entries := decode[[]observability.Entry](t, rec)
	if len(entries) != 2 {
		t.Fatalf("journal entries = %d", len(entries))
	}

	bare := New(Options{Loop: f.loop})
	if rec := do(t, bare.Router(false), http.MethodGet, "/metrics", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("metrics without store: %d", rec.Code)
	}
}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	srv := svc.MCPServer()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(Implementation, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func TestMCPTools(t *testing.T) {
	f := newFixture(t)
	session := mcpSession(t, f.svc)

	text, isErr := mcpCallTool(t, session, "feedveil_status", map[string]any{})
	if isErr {
		t.Fatalf("status error: %s", text)
	}
	var st Status
	if err := json.Unmarshal([]byte(text), &st); err != nil || len(st.Sessions) != 1 {
		t.Fatalf("status = %s", text)
	}

	text, isErr = mcpCallTool(t, session, "feedveil_classify", map[string]any{
		"site": "test", "title": "Funny Cat Compilation", "author": "MemesDaily",
	})
	var res ClassifyResult
	if isErr || json.Unmarshal([]byte(text), &res) != nil || res.Action != "obscure" {
		t.Fatalf("classify = %s", text)
	}

	text, isErr = mcpCallTool(t, session, "feedveil_rescan", map[string]any{"site": "test"})
	var rr RescanResult
	if isErr || json.Unmarshal([]byte(text), &rr) != nil || rr.Nodes != 2 {
		t.Fatalf("rescan = %s", text)
	}

	if _, isErr := mcpCallTool(t, session, "feedveil_rescan", map[string]any{"site": "none"}); !isErr {
		t.Fatal("rescan of an unknown site should be a tool error")
	}
}
