package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"sushiclicker.com/internal/host"
	"sushiclicker.com/internal/persistence/archive"
	"sushiclicker.com/internal/transport/observer"
	"sushiclicker.com/internal/transport/ws"
)

type serverOptions struct {
	EnableAdmin bool
	EnablePprof bool
	DataDir     string
}

func newMux(mgr *host.Manager, be backend, opts serverOptions, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, mgr.Metrics(), be)
	})

	if opts.EnableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !observer.IsLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				Sessions []host.LiveSession `json:"sessions"`
				Metrics  host.Metrics       `json:"metrics"`
			}{
				Sessions: mgr.Live(),
				Metrics:  mgr.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/history", func(rw http.ResponseWriter, r *http.Request) {
			if !observer.IsLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			if be.index == nil {
				http.Error(rw, "index disabled", http.StatusServiceUnavailable)
				return
			}
			slot := r.URL.Query().Get("slot")
			if slot == "" {
				slot = host.DefaultSlot
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			rows, err := be.index.History(ctx, slot, limit)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "slot": slot, "history": rows})
		})
		mux.HandleFunc("/admin/v1/quarantine", func(rw http.ResponseWriter, r *http.Request) {
			if !observer.IsLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			metas, err := archive.List(opts.DataDir)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "quarantined": metas})
		})

		obsSrv := observer.NewServer(mgr, logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (SC_ENABLE_ADMIN_HTTP=false)")
	}
	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (SC_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(mgr, logger).Handler())
	return mux
}

// writeMetrics emits the minimal Prometheus exposition format.
func writeMetrics(rw http.ResponseWriter, m host.Metrics, be backend) {
	gauge := func(name, help string, v any) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
		fmt.Fprintf(rw, "%s %v\n", name, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s counter\n", name)
		fmt.Fprintf(rw, "%s %d\n", name, v)
	}

	gauge("sushiclicker_sessions", "Current number of live sessions.", m.Sessions)
	counter("sushiclicker_commands_total", "Client commands received.", m.Commands)
	counter("sushiclicker_commands_rejected_total", "Client commands refused.", m.Rejected)
	counter("sushiclicker_commands_rate_limited_total", "Client commands refused by rate limits.", m.RateLimited)
	counter("sushiclicker_saves_total", "Saves written.", m.Saves)
	counter("sushiclicker_save_errors_total", "Saves that failed.", m.SaveErrors)
	counter("sushiclicker_recoveries_total", "Unreadable saves replaced by a fresh game.", m.Recoveries)

	if be.index != nil {
		s := be.index.Stats()
		counter("sushiclicker_index_dropped_history_total", "History rows dropped because the index queue was full.", s.DropHistoryTotal)
		counter("sushiclicker_index_dropped_session_total", "Session rows dropped because the index queue was full.", s.DropSessionTotal)
	}
	if be.mirror != nil {
		s := be.mirror.Stats()
		gauge("sushiclicker_backup_queue_depth", "Saves waiting to be mirrored.", s.QueueDepth)
		counter("sushiclicker_backup_uploaded_total", "Saves mirrored off-site.", s.Uploaded)
		counter("sushiclicker_backup_failed_total", "Saves that failed to mirror after retries.", s.Failed)
		counter("sushiclicker_backup_dropped_total", "Saves not mirrored because the queue was full.", s.Dropped)
	}
}
