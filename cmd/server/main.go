package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"visual-rig-hub/internal/control"
	"visual-rig-hub/internal/hub"
	"visual-rig-hub/internal/ingest"
	"visual-rig-hub/internal/mirror"
	"visual-rig-hub/internal/platform/config"
	"visual-rig-hub/internal/platform/logger"
	"visual-rig-hub/internal/platform/metrics"
	"visual-rig-hub/internal/preset"
	"visual-rig-hub/internal/timeline"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	oscPort := config.GetEnvInt("OSC_PORT", 9000)
	dbPath := config.GetEnv("DB_PATH", "")
	mapFile := config.GetEnv("OSC_MAP_FILE", "")
	validateTimeout := config.GetEnvDuration("VALIDATE_TIMEOUT", 3*time.Second)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	var shaders preset.ShaderStore
	var timelines preset.TimelineStore
	if dbPath != "" {
		db, err := preset.Open(dbPath)
		if err != nil {
			log.Error("open preset database", "path", dbPath, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		shaders = preset.NewSQLiteShaders(db)
		timelines = preset.NewSQLiteTimelines(db)
	} else {
		shaders = preset.NewMemoryShaders()
		timelines = preset.NewMemoryTimelines()
	}

	met := metrics.New()
	mir := mirror.New()
	h := hub.New(mir, log, met, validateTimeout)
	sched := timeline.New(h, mir, preset.Resolver(shaders), log, met)

	osc := ingest.New(mir, h, log, met)
	if mapFile != "" {
		if err := osc.LoadMappings(mapFile); err != nil {
			log.Error("load osc mappings", "file", mapFile, "error", err)
			os.Exit(1)
		}
	}
	if err := osc.Bind(oscPort); err != nil {
		log.Error("bind osc listener", "port", oscPort, "error", err)
		os.Exit(1)
	}
	defer osc.Close()

	ctrl := control.NewHandler(mir, h, sched, shaders, timelines, osc, log)

	r := chi.NewRouter()
	// The websocket and scrape endpoints stay outside the request middleware;
	// the logging wrapper cannot follow a hijacked connection.
	r.Get("/ws", h.ServeWS)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetConnectedRenderers(h.SessionCount()) }).ServeHTTP(w, req)
	})
	r.Group(func(r chi.Router) {
		r.Use(logger.RequestLogger(log))
		r.Use(metrics.RequestMiddleware(met))
		ctrl.Routes(r)
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"osc_port", oscPort,
		"db_path", dbPath,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	sched.Stop()
	osc.Close()
	h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
