package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sushiclicker.com/internal/host"
	"sushiclicker.com/internal/protocol"
)

func newTestMux(t *testing.T, kind string) (*host.Manager, *httptest.Server) {
	t.Helper()
	dataDir := t.TempDir()
	be, err := openBackend(dataDir, kind, false)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	quiet := log.New(io.Discard, "", 0)
	cfg := host.Config{Store: be.store, Locker: be.locker, Index: be.index, DataDir: dataDir, Logger: quiet}
	mgr, err := host.NewManager(cfg)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	srv := httptest.NewServer(newMux(mgr, be, serverOptions{EnableAdmin: true, DataDir: dataDir}, quiet))
	t.Cleanup(func() {
		srv.Close()
		mgr.CloseAll()
		_ = be.Close()
	})
	return mgr, srv
}

func get(t *testing.T, url string) string {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get %s: status %d: %s", url, res.StatusCode, b)
	}
	return string(b)
}

func TestHealthAndMetrics(t *testing.T) {
	mgr, srv := newTestMux(t, "file")
	if got := get(t, srv.URL+"/healthz"); got != "ok" {
		t.Fatalf("healthz=%q", got)
	}

	if _, _, err := mgr.Open(context.Background(), protocol.HelloMsg{Slot: "main"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	body := get(t, srv.URL+"/metrics")
	for _, want := range []string{
		"sushiclicker_sessions 1",
		"# TYPE sushiclicker_saves_total counter",
		"sushiclicker_index_dropped_history_total 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestAdminState(t *testing.T) {
	mgr, srv := newTestMux(t, "sqlite")
	sess, _, err := mgr.Open(context.Background(), protocol.HelloMsg{Slot: "main", ClientName: "c"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var state struct {
		Sessions []host.LiveSession `json:"sessions"`
	}
	if err := json.Unmarshal([]byte(get(t, srv.URL+"/admin/v1/state")), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(state.Sessions) != 1 || state.Sessions[0].ID != sess.ID {
		t.Fatalf("sessions=%+v", state.Sessions)
	}

	var q struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal([]byte(get(t, srv.URL+"/admin/v1/quarantine")), &q); err != nil || !q.OK {
		t.Fatalf("quarantine: ok=%v err=%v", q.OK, err)
	}
	get(t, srv.URL+"/admin/v1/history?slot=main")
}

func TestOpenBackendRejectsUnknownKind(t *testing.T) {
	if _, err := openBackend(t.TempDir(), "redis", false); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := openBackend(t.TempDir(), "sqlite", true); err == nil {
		t.Fatalf("sqlite store without index should fail")
	}
	be, err := openBackend(t.TempDir(), "file", true)
	if err != nil || be.index != nil {
		t.Fatalf("file store with db disabled: index=%v err=%v", be.index, err)
	}
}

func TestOpenMirrorFromEnv(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	t.Setenv("SC_BACKUP_ENDPOINT", "")
	m, err := openMirror(quiet)
	if err != nil || m != nil {
		t.Fatalf("no endpoint: mirror=%v err=%v", m, err)
	}

	t.Setenv("SC_BACKUP_ENDPOINT", "http://127.0.0.1:9")
	if _, err := openMirror(quiet); err == nil {
		t.Fatalf("expected error without bucket and keys")
	}

	t.Setenv("SC_BACKUP_BUCKET", "saves")
	t.Setenv("SC_BACKUP_ACCESS_KEY_ID", "a")
	t.Setenv("SC_BACKUP_SECRET_ACCESS_KEY", "s")
	m, err = openMirror(quiet)
	if err != nil || m == nil {
		t.Fatalf("mirror=%v err=%v", m, err)
	}
	m.Close()
}
