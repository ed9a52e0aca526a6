package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/craigst/cb-plug-in/internal/discovery"
	"github.com/craigst/cb-plug-in/internal/entities"
	"github.com/craigst/cb-plug-in/internal/platform/config"
	"github.com/craigst/cb-plug-in/internal/platform/logger"
	"github.com/craigst/cb-plug-in/internal/platform/metrics"
	"github.com/craigst/cb-plug-in/internal/recorder"
	"github.com/craigst/cb-plug-in/internal/relay"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	cfg, err := config.FromEnv()
	log := logger.New(config.GetEnv("LOG_LEVEL", "info"), config.GetEnv("LOG_FORMAT", "json"))
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	mode, err := relay.ParseMode(cfg.Mode)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if len(cfg.Rooms) == 0 {
		log.Warn("no rooms configured, set ROOMS")
	}

	met := metrics.New()

	// One client for every upstream and relay request; timeouts are per call.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	client := &http.Client{Transport: transport}

	poller := discovery.NewPoller(client, discovery.PollerOptions{
		StatusURL:    cfg.StatusURL,
		RoomPageBase: cfg.RoomPageBase,
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.RequestTimeout,
	}, log, met)

	relayClient := relay.NewClient(client, relay.Options{
		BaseURL:    cfg.RelayURL,
		Timeout:    cfg.RequestTimeout,
		MaxRetries: cfg.RelayMaxRetries,
		Breaker:    true,
	}, log, met)

	coord := discovery.NewCoordinator(discovery.Options{
		Rooms:          cfg.Rooms,
		ExposeVariants: cfg.ExposeVariants,
		Preference:     discovery.ParsePreference(cfg.Quality),
		Mode:           mode,
		RoomPageBase:   cfg.RoomPageBase,
		Concurrency:    cfg.PollConcurrency,
	}, poller, relayClient, log, met)

	cameras := entities.NewCameraSet(entities.CameraOptions{
		Rooms:           cfg.Rooms,
		ExposeVariants:  cfg.ExposeVariants,
		Preference:      discovery.ParsePreference(cfg.Quality),
		PublicRelayBase: cfg.PublicRelayBase,
		RTSPPort:        cfg.RTSPPort,
	}, log, met)

	recorders := recorder.NewManager(recorder.ManagerOptions{
		Rooms:           cfg.Rooms,
		PublicRelayBase: cfg.PublicRelayBase,
		RTSPPort:        cfg.RTSPPort,
		BaseDir:         cfg.RecordBase,
	}, log, met)

	// Dependents follow every published snapshot.
	runCtx, stopRun := context.WithCancel(context.Background())
	updates, unsubscribe := coord.Subscribe()
	dependentsDone := make(chan struct{})
	go func() {
		defer close(dependentsDone)
		for snap := range updates {
			cameras.Sync(snap)
			recorders.Apply(context.Background(), snap)
		}
	}()

	sched := discovery.NewScheduler(coord, cfg.ScanInterval, log)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = sched.Run(runCtx)
	}()

	dh := discovery.NewHandler(coord, log)
	eh := entities.NewHandler(cameras, client, log)
	rh := recorder.NewHandler(recorders, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetCameras(cameras.Len())
			met.SetRecordings(recorders.Recording())
		}).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/rooms", dh.ListRooms)
	r.Route("/rooms/{room}", func(r chi.Router) {
		r.Get("/", dh.GetRoom)
		r.Get("/master.m3u8", dh.GetMasterPlaylist)
		r.Get("/record", rh.GetRecord)
		r.Post("/record", rh.SetRecord)
	})
	r.Get("/recordings", rh.ListRecordings)
	r.Get("/cameras", eh.ListCameras)
	r.Get("/cameras/{alias}/frame.jpeg", eh.GetFrame)
	r.Post("/refresh", dh.Refresh)
	r.Get("/ws", dh.Stream)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"rooms", cfg.Rooms,
		"scan_interval", cfg.ScanInterval.String(),
		"relay", cfg.RelayURL,
		"mode", string(mode),
		"quality", cfg.Quality,
		"expose_variants", cfg.ExposeVariants,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping discovery")

	stopRun()
	<-schedDone
	coord.Close()
	unsubscribe()
	<-dependentsDone

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	recorders.StopAll(ctx)
	cameras.Teardown()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
