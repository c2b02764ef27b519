package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"oceandepths/internal/persistence/backup"
	persistlog "oceandepths/internal/persistence/log"
	"oceandepths/internal/persistence/store"
	"oceandepths/internal/sim/catalogs"
	"oceandepths/internal/sim/city"
	"oceandepths/internal/sim/tuning"
	"oceandepths/internal/transport/httpapi"
	"oceandepths/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dbPath     = flag.String("db", "", "sqlite database path (default: <data>/cities.db)")
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
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)
	db := strings.TrimSpace(*dbPath)
	if db == "" {
		db = filepath.Join(*dataDir, "cities.db")
	}
	st, err := store.Open(db)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	mirror := auditMirrorFromEnv(*dataDir, logger)
	defer mirror.Close()

	audit := persistlog.NewAuditLogger(*dataDir, mirror.Enqueue)
	defer audit.Close()

	mgr := city.NewManager(cats, tune, st)
	mgr.SetAudit(audit)
	mgr.SetLogger(logger)

	hub := ws.NewServer(logger)
	mgr.SetNotifier(hub)

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP oceandepths_loaded_cities Cities resident in memory.\n")
		fmt.Fprintf(rw, "# TYPE oceandepths_loaded_cities gauge\n")
		fmt.Fprintf(rw, "oceandepths_loaded_cities %d\n", mgr.LoadedCities())

		fmt.Fprintf(rw, "# HELP oceandepths_ws_subscribers Connected push subscribers.\n")
		fmt.Fprintf(rw, "# TYPE oceandepths_ws_subscribers gauge\n")
		fmt.Fprintf(rw, "oceandepths_ws_subscribers %d\n", hub.Subscribers())

		if s := mirror.Stats(); s.QueueCapacity > 0 {
			fmt.Fprintf(rw, "# HELP oceandepths_backup_queue_depth Audit segments awaiting upload.\n")
			fmt.Fprintf(rw, "# TYPE oceandepths_backup_queue_depth gauge\n")
			fmt.Fprintf(rw, "oceandepths_backup_queue_depth %d\n", s.QueueDepth)

			fmt.Fprintf(rw, "# HELP oceandepths_backup_uploads_total Audit segment uploads by result.\n")
			fmt.Fprintf(rw, "# TYPE oceandepths_backup_uploads_total counter\n")
			fmt.Fprintf(rw, "oceandepths_backup_uploads_total{result=\"ok\"} %d\n", s.UploadSuccessTotal)
			fmt.Fprintf(rw, "oceandepths_backup_uploads_total{result=\"fail\"} %d\n", s.UploadFailTotal)
		}
	})

	if envBool("OD_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (OD_ENABLE_PPROF_HTTP=false)")
	}

	httpapi.NewServer(mgr, logger).Register(mux)
	mux.HandleFunc("/v1/ws", hub.Handler())

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

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// auditMirrorFromEnv returns nil (a no-op mirror) unless OD_BACKUP_ENDPOINT
// is set. With an endpoint configured the remaining credentials are required.
func auditMirrorFromEnv(dataDir string, logger *log.Logger) *backup.Mirror {
	endpoint := strings.TrimSpace(os.Getenv("OD_BACKUP_ENDPOINT"))
	if endpoint == "" {
		return nil
	}
	bucket := os.Getenv("OD_BACKUP_BUCKET")
	client, err := backup.NewClient(endpoint, bucket,
		os.Getenv("OD_BACKUP_ACCESS_KEY_ID"), os.Getenv("OD_BACKUP_SECRET_ACCESS_KEY"))
	if err != nil {
		logger.Fatalf("audit backup config: %v", err)
	}
	logger.Printf("audit backup enabled bucket=%s", bucket)
	return backup.NewMirror(client, dataDir, os.Getenv("OD_BACKUP_PREFIX"), 2, logger)
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

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
