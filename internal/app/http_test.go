package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/prometheus/client_golang/prometheus"

	"docsync/api/internal/collab"
	"docsync/api/internal/metrics"
	"docsync/api/internal/search"
)

const docName = "task:T1:description"

type nopPeer struct{}

func (nopPeer) Send([]byte) error { return nil }
func (nopPeer) Close() error      { return nil }

type fakeMentions struct {
	queries []search.Query
}

func (f *fakeMentions) Search(_ context.Context, q search.Query) search.Response {
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Suggestion{}, Query: q.Text, Backend: "fake"}
}

type harness struct {
	loader   fakeLoader
	collab   *collab.Server
	mentions *fakeMentions
	handler  http.Handler
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		loader:   fakeLoader{docName: "<p>Original</p>"},
		mentions: &fakeMentions{},
		metrics:  metrics.NewWithRegistry(prometheus.NewRegistry()),
	}
	h.collab = collab.NewServer(collab.Config{}, h.loader, collab.WithMetrics(h.metrics))
	t.Cleanup(func() { _ = h.collab.Shutdown(context.Background()) })
	svc := New(&fakeStoreForHealth{}, h.collab, h.mentions)
	h.handler = NewHTTPServer(svc, "*", h.metrics.Handler(), nil).Handler()
	return h
}

// open joins docName so the document is live.
func (h *harness) open(t *testing.T) {
	t.Helper()
	conn, err := h.collab.Connect(nopPeer{}, collab.ClientMeta{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := conn.Receive(context.Background(), []byte(`{"type":"join","document":"`+docName+`"}`)); err != nil {
		t.Fatalf("join: %v", err)
	}
}

func (h *harness) do(method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestDocumentEndpoint(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodGet, "/api/documents/"+docName)
	if rr.Code != http.StatusNotFound || decode(t, rr)["code"] != "NOT_LOADED" {
		t.Fatalf("unloaded document: %d %s", rr.Code, rr.Body.String())
	}

	h.open(t)
	rr = h.do(http.MethodGet, "/api/documents/"+docName)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decode(t, rr)
	if body["state"] != "active" || body["html"] != "<p>Original</p>\n" || body["connections"] != float64(1) {
		t.Fatalf("unexpected document view: %v", body)
	}
	identity, _ := body["identity"].(map[string]any)
	if identity["type"] != "task" || identity["id"] != "T1" {
		t.Fatalf("unexpected identity: %v", body["identity"])
	}

	rr = h.do(http.MethodGet, "/api/documents")
	if stats := decode(t, rr); stats["documents"] != float64(1) {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestReloadEndpoint(t *testing.T) {
	h := newHarness(t)

	if rr := h.do(http.MethodPost, "/api/documents/"+docName+"/reload"); rr.Code != http.StatusNotFound {
		t.Fatalf("reload of unloaded document: expected 404, got %d", rr.Code)
	}

	h.open(t)
	h.loader[docName] = "<h2>Replaced</h2>"
	rr := h.do(http.MethodPost, "/api/documents/"+docName+"/reload")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decode(t, rr); body["mode"] != "structured" || body["cleared"] != float64(1) {
		t.Fatalf("unexpected reload result: %v", body)
	}

	info, err := h.collab.Inspect(docName)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.HTML != "<h2>Replaced</h2>\n" {
		t.Fatalf("html after reload = %q", info.HTML)
	}

	if rr := h.do(http.MethodDelete, "/api/documents/"+docName); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestMentionsEndpoint(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodGet, "/api/mentions?q=fix&type=epic&limit=5")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(h.mentions.queries) != 1 || h.mentions.queries[0] != (search.Query{Text: "fix", Kind: search.KindEpic, Limit: 5}) {
		t.Fatalf("queries = %+v", h.mentions.queries)
	}

	for _, path := range []string{"/api/mentions?type=widget", "/api/mentions?limit=ten"} {
		if rr := h.do(http.MethodGet, path); rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d", path, rr.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	rr := h.do(http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "docsync_documents_loaded 1") {
		t.Fatalf("metrics output missing loaded gauge:\n%s", rr.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)
	if rr := h.do(http.MethodGet, "/api/nope"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCollabRouteUpgrades(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	conn, br, _, err := ws.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/collab")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reader := wsutil.NewReader(conn, ws.StateClientSide)
	if br != nil {
		reader = wsutil.NewReader(br, ws.StateClientSide)
	}
	if _, err := reader.NextFrame(); err != nil {
		t.Fatalf("read welcome frame: %v", err)
	}
	var msg collab.Message
	if err := json.NewDecoder(reader).Decode(&msg); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	if msg.Type != collab.MsgWelcome {
		t.Fatalf("first message = %+v", msg)
	}
}
