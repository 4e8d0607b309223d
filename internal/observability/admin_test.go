package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/tagctl/internal/testutil/testlog"
	"github.com/gorilla/websocket"
)

func TestAdminHealthAndReadiness(t *testing.T) {
	testlog.Start(t)
	a := NewAdmin("coordinator-test", "127.0.0.1:0", nil)

	w := httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", w.Code)
	}
	var health map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["phase"] != "collecting" {
		t.Fatalf("expected collecting phase, got %v", health["phase"])
	}

	w = httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before active, got %d", w.Code)
	}

	if err := a.Update("active", true, map[string]string{"phase": "active"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	w = httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 once active, got %d", w.Code)
	}
}

func TestAdminUpdateRejectsUnencodableState(t *testing.T) {
	testlog.Start(t)
	a := NewAdmin("coordinator-test", "127.0.0.1:0", nil)
	if err := a.Update("active", true, make(chan int)); err == nil {
		t.Fatalf("expected encode error for channel state")
	}
	if a.Feed().Latest() != nil {
		t.Fatalf("expected feed untouched after failed update")
	}
	w := httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected readiness unchanged after failed update, got %d", w.Code)
	}
}

func TestAdminStateEndpoint(t *testing.T) {
	testlog.Start(t)
	a := NewAdmin("coordinator-test", "127.0.0.1:0", nil)

	w := httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/state", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any state, got %d", w.Code)
	}

	_ = a.Update("active", true, map[string]int{"actors": 2})
	w = httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/state", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"actors":2}` {
		t.Fatalf("unexpected state body %q", w.Body.String())
	}
}

func TestAdminMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	a := NewAdmin("coordinator-test", "127.0.0.1:0", nil)
	RecordFreeze()
	w := httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "tagctl_coordinator_freezes_total") {
		t.Fatalf("expected freeze counter in metrics output")
	}
}

func TestAdminStateStreamSendsLatestThenUpdates(t *testing.T) {
	testlog.Start(t)
	a := NewAdmin("coordinator-test", "127.0.0.1:0", nil)
	_ = a.Update("collecting", false, map[string]int{"n": 1})

	srv := httptest.NewServer(a.HTTPRouter())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/state/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, first, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if string(first) != `{"n":1}` {
		t.Fatalf("expected latest frame first, got %q", first)
	}

	// The watcher registers before the first frame is sent, so this update
	// always reaches it.
	_ = a.Update("active", true, map[string]int{"n": 2})
	_, second, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if string(second) != `{"n":2}` {
		t.Fatalf("expected update frame, got %q", second)
	}
}
