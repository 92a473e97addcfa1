package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/mcbrumagin/soundclone-sub000/config"
	"github.com/mcbrumagin/soundclone-sub000/core/audio"
	"github.com/mcbrumagin/soundclone-sub000/core/mirror"
	"github.com/mcbrumagin/soundclone-sub000/core/pipeline"
	"github.com/mcbrumagin/soundclone-sub000/db"
	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/logger"
	"github.com/mcbrumagin/soundclone-sub000/repository"
	"github.com/mcbrumagin/soundclone-sub000/storage"
)

// Start initializes every component and runs the HTTP server until a
// termination signal arrives.
func Start() {
	cfg := config.Load()

	logger.Init(logger.Config{Level: logger.LogLevel(cfg.LogLevel), OutputPath: cfg.LogPath})
	defer logger.Sync()

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		ReadTimeout:  5 * time.Minute, // uploads can be large
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	redisClient, err := db.NewRedisClient(cfg)
	if err != nil {
		logger.Fatal("failed to connect to Redis", logger.ErrorField(err))
	}
	defer redisClient.Close()
	logger.Info("connected to Redis", logger.String("host", cfg.RedisHost))

	// The event bus carries both pipeline and mirror traffic.
	var bus event.Bus
	if cfg.BusBackend == "redis" {
		bus = event.NewRedisBus(redisClient, "soundclone", 64)
	} else {
		bus = event.NewMemoryBus(64)
	}
	defer bus.Close()

	store := repository.NewRedisTrackStore(redisClient, bus)
	paths := pipeline.NewPaths(cfg)
	layout := mirror.NewLayout(cfg)

	for _, dir := range []string{cfg.RawAudioDir, cfg.OptimizedDir, cfg.WaveformDir} {
		ensureDirExists(dir)
	}

	// The durable store is optional at startup: when it is unreachable the
	// pipeline still runs, only replication is lost.
	var remote storage.ObjectStore
	if minioStore, err := storage.NewMinioStore(cfg); err != nil {
		logger.Warn("durable store unavailable, running without mirror",
			logger.ErrorField(err))
	} else {
		remote = minioStore
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if remote != nil {
		// Restore before any worker or watcher runs, so local state is
		// complete when processing resumes.
		summary := mirror.NewInitializer(remote, store, layout).Run(ctx)
		logger.Info("durable store restore finished",
			logger.Int("recordsLoaded", summary.RecordsLoaded),
			logger.Int("filesRestored", summary.FilesRestored),
			logger.Int("filesUpToDate", summary.FilesUpToDate),
			logger.Int("failures", summary.Failures))

		go mirror.NewContinuousMirror(bus, remote, layout).Run(ctx)

		watcher := mirror.NewWatcher(bus, layout)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("file watcher stopped", logger.ErrorField(err))
			}
		}()
	}

	transcoder := audio.NewFFmpegTranscoder(cfg.FFmpegPath, cfg.AudioBitrate)
	renderer := audio.NewFFmpegWaveformRenderer(cfg.FFmpegPath, cfg.WaveformWidth, cfg.WaveformHeight, cfg.WaveformColor)
	prober := audio.NewFFprobeProber(cfg.FFprobePath)

	retry := pipeline.RetryPolicy{
		Attempts: cfg.TranscodeRetryAttempts,
		Delay:    cfg.TranscodeRetryDelay,
		Factor:   cfg.TranscodeRetryFactor,
	}
	go pipeline.NewTranscodeWorker(bus, store, transcoder, paths, retry).Run(ctx)
	go pipeline.NewWaveformWorker(bus, store, renderer, paths).Run(ctx)
	go pipeline.NewMetadataWorker(bus, store, prober, paths).Run(ctx)
	if analyzer := audio.NewCommandAnalyzer(cfg.AnalyzerCommand); analyzer != nil {
		go pipeline.NewAnalyzerWorker(bus, store, analyzer, paths).Run(ctx)
	}
	go pipeline.NewWatchdog(bus, store, paths, pipeline.WatchdogConfig{
		PollInterval: cfg.WatchdogPollInterval,
		Timeout:      cfg.WatchdogTimeout,
		KeepRaw:      cfg.KeepRawOnFinish,
	}).Run(ctx)

	ingestor := pipeline.NewIngestor(store, bus, paths)
	apiHandler := NewAPIHandler(store, ingestor, bus, paths)

	router := mux.NewRouter()

	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// API endpoints
	router.HandleFunc("/api/upload", apiHandler.UploadTrackHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks", apiHandler.GetTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{track_id}", apiHandler.GetTrackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{track_id}", apiHandler.DeleteTrackHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/tracks/{track_id}/status", apiHandler.TrackStatusHandler).Methods(http.MethodGet)

	// Artifacts are served straight off the local working copy.
	router.PathPrefix(cfg.RawAudioBase).Handler(
		http.StripPrefix(cfg.RawAudioBase, http.FileServer(http.Dir(cfg.RawAudioDir))))
	router.PathPrefix(cfg.OptimizedBase).Handler(
		http.StripPrefix(cfg.OptimizedBase, http.FileServer(http.Dir(cfg.OptimizedDir))))
	router.PathPrefix(cfg.WaveformBase).Handler(
		http.StripPrefix(cfg.WaveformBase, http.FileServer(http.Dir(cfg.WaveformDir))))

	server.Handler = router

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	// Stop workers and the mirror before closing the listener drain window.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("server stopped")
}

func ensureDirExists(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("creating directory", logger.String("path", path))
		if err := os.MkdirAll(path, 0755); err != nil {
			logger.Fatal("failed to create directory",
				logger.String("path", path), logger.ErrorField(err))
		}
	} else if err != nil {
		logger.Fatal("failed to check directory",
			logger.String("path", path), logger.ErrorField(err))
	}
}
