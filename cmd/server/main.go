package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"sushiclicker.com/internal/host"
	"sushiclicker.com/internal/sim/catalogs"
	"sushiclicker.com/internal/sim/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", envString("SC_ADDR", ":8080"), "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory (catalog json files)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		storeKind  = flag.String("store", envString("SC_STORE_BACKEND", "file"), "save store backend: file|sqlite")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (save history + session rows)")
		noJournal  = flag.Bool("disable_journal", envBool("SC_DISABLE_JOURNAL", false), "do not journal commands")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	be, err := openBackend(*dataDir, *storeKind, *disableDB)
	if err != nil {
		logger.Fatalf("open store backend: %v", err)
	}
	be.mirror, err = openMirror(log.New(os.Stdout, "[backup] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer be.Close()

	if be.index != nil {
		if err := be.index.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	hcfg := host.Config{
		Catalogs:  cats,
		Tuning:    tune,
		Store:     be.store,
		Locker:    be.locker,
		DataDir:   *dataDir,
		NoJournal: *noJournal,
		OutQueue:  envInt("SC_OUT_QUEUE", 64),
		Logger:    log.New(os.Stdout, "[host] ", log.LstdFlags|log.Lmicroseconds),
	}
	if be.index != nil {
		hcfg.Index = be.index
	}
	if be.mirror != nil {
		hcfg.Backup = be.mirror
	}
	mgr, err := host.NewManager(hcfg)
	if err != nil {
		logger.Fatalf("host: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	mux := newMux(mgr, be, serverOptions{
		EnableAdmin: envBool("SC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		EnablePprof: envBool("SC_ENABLE_PPROF_HTTP", false),
		DataDir:     *dataDir,
	}, logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s store=%s catalogs=%s", *addr, *storeKind, cats.Digest())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Save every live session before the index closes.
	mgr.CloseAll()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
