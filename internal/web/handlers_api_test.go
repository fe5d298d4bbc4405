package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"bandlink/internal/events"
	"bandlink/internal/store"
)

func setupTestServer(t *testing.T, opts ...ServerOption) (*Server, *store.BoltStore, *events.Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus(logger)
	srv := NewServer(db, bus, logger, opts...)
	t.Cleanup(srv.Stop)
	return srv, db, bus
}

func seedTransfers(t *testing.T, db *store.BoltStore) {
	t.Helper()
	base := time.Now()
	for i, tr := range []*store.Transfer{
		{ID: "d1", Kind: events.KindDFU, State: "activated"},
		{ID: "s1", Kind: events.KindSync, State: "complete"},
		{ID: "d2", Kind: events.KindDFU, State: "failed"},
	} {
		tr.StartedAt = base.Add(time.Duration(i) * time.Second)
		if err := db.SaveTransfer(tr); err != nil {
			t.Fatal(err)
		}
	}
}

func doRequest(srv *Server, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeTransfers(t *testing.T, rec *httptest.ResponseRecorder) []store.Transfer {
	t.Helper()
	var out []store.Transfer
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAPIListTransfers(t *testing.T) {
	srv, db, _ := setupTestServer(t)
	seedTransfers(t, db)

	tests := []struct {
		path string
		want []string
	}{
		{"/api/transfers", []string{"d2", "s1", "d1"}},
		{"/api/transfers?limit=1", []string{"d2"}},
		{"/api/transfers?kind=dfu", []string{"d2", "d1"}},
		{"/api/transfers?kind=sync&limit=5", []string{"s1"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := doRequest(srv, http.MethodGet, tt.path, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			got := decodeTransfers(t, rec)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d transfers, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestAPIListTransfersBadLimit(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	if rec := doRequest(srv, http.MethodGet, "/api/transfers?limit=x", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAPIGetAndDeleteTransfer(t *testing.T) {
	srv, db, _ := setupTestServer(t)
	seedTransfers(t, db)

	rec := doRequest(srv, http.MethodGet, "/api/transfers/s1", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"state":"complete"`) {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}

	if rec := doRequest(srv, http.MethodDelete, "/api/transfers/s1", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := doRequest(srv, http.MethodGet, "/api/transfers/s1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}
	if rec := doRequest(srv, http.MethodDelete, "/api/transfers/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete missing = %d, want 404", rec.Code)
	}
}

func TestAPIGetDownload(t *testing.T) {
	srv, db, _ := setupTestServer(t)
	seedTransfers(t, db)
	if err := db.SaveDownload("s1", []byte{0xDE, 0xAD}); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(srv, http.MethodGet, "/api/transfers/s1/download", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content-type = %q", ct)
	}
	if got := rec.Body.Bytes(); len(got) != 2 || got[0] != 0xDE || got[1] != 0xAD {
		t.Errorf("body = %X", got)
	}

	if rec := doRequest(srv, http.MethodGet, "/api/transfers/d1/download", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing download = %d, want 404", rec.Code)
	}
}

func TestAPIKey(t *testing.T) {
	srv, _, _ := setupTestServer(t, WithAPIKey("secret"), WithVersion("1.0.0"))

	if rec := doRequest(srv, http.MethodGet, "/api/version", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("without key = %d, want 401", rec.Code)
	}
	rec := doRequest(srv, http.MethodGet, "/api/version", map[string]string{"X-API-Key": "secret"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "1.0.0") {
		t.Errorf("with key = %d %s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := setupTestServer(t, WithAllowedOrigins([]string{"http://ok.example"}))

	rec := doRequest(srv, http.MethodOptions, "/api/transfers", map[string]string{"Origin": "http://ok.example"})
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://ok.example" {
		t.Errorf("allowed preflight = %d", rec.Code)
	}
	rec = doRequest(srv, http.MethodOptions, "/api/transfers", map[string]string{"Origin": "http://evil.example"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("denied preflight = %d, want 403", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "bandlink_up 1\n")
	})
	srv, _, _ := setupTestServer(t, WithMetrics(h))
	rec := doRequest(srv, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "bandlink_up 1\n" {
		t.Errorf("metrics = %d %q", rec.Code, rec.Body.String())
	}

	bare, _, _ := setupTestServer(t)
	if rec := doRequest(bare, http.MethodGet, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Errorf("metrics without handler = %d, want 404", rec.Code)
	}
}

func TestWebSocketLiveEvents(t *testing.T) {
	srv, _, bus := setupTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?transfer=x1", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Registration happens asynchronously after the handshake.
	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.wsHub.mu.RLock()
		n := len(srv.wsHub.clients)
		srv.wsHub.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Emit(progressEvent("other", events.KindDFU))
	bus.Emit(events.Event{Type: events.TransferComplete, Data: events.Finished{ID: "x1", Kind: events.KindDFU, State: "activated"}})

	_, msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got events.Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != events.TransferComplete {
		t.Errorf("type = %q, want %q", got.Type, events.TransferComplete)
	}
}

func TestAPIDeleteLastTransferRemovesDevice(t *testing.T) {
	srv, db, bus := setupTestServer(t)
	for i, tr := range []*store.Transfer{
		{ID: "b1", Kind: events.KindDFU, Device: "Band"},
		{ID: "b2", Kind: events.KindSync, Device: "Band"},
		{ID: "p1", Kind: events.KindDFU, Device: "Pill"},
	} {
		tr.StartedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := db.SaveTransfer(tr); err != nil {
			t.Fatal(err)
		}
	}

	var removed []string
	bus.On(events.DeviceRemoved, func(e events.Event) {
		removed = append(removed, e.Data.(events.Removed).Device)
	})

	steps := []struct {
		id   string
		want []string
	}{
		{"b1", nil},
		{"p1", []string{"Pill"}},
		{"b2", []string{"Pill", "Band"}},
	}
	for _, step := range steps {
		if rec := doRequest(srv, http.MethodDelete, "/api/transfers/"+step.id, nil); rec.Code != http.StatusOK {
			t.Fatalf("delete %s = %d", step.id, rec.Code)
		}
		if strings.Join(removed, ",") != strings.Join(step.want, ",") {
			t.Errorf("after %s removed = %v, want %v", step.id, removed, step.want)
		}
	}
}
