package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tubescribe/api"
	"tubescribe/config"
	"tubescribe/media"
	"tubescribe/notify"
	"tubescribe/pipeline"
	"tubescribe/summarize"
	"tubescribe/task"
	"tubescribe/transcribe"
)

func main() {
	// 1. Load configuration and logging
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, closeLogger := config.SetupLogger(cfg.LogFile, config.ParseLogLevel(cfg.LogLevel))
	defer closeLogger()

	// 2. Prepare the data directories
	for _, dir := range []string{cfg.DataDir, cfg.TaskDir(), cfg.DownloadDir(), cfg.SubtitleDir(), cfg.SummaryDir(), cfg.UploadDir()} {
		if err := os.MkdirAll(filepath.Clean(dir), 0o755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	// 3. Build the durable queue
	store, err := task.NewStore(cfg.TaskDir(), logger)
	if err != nil {
		log.Fatalf("Failed to initialize task store: %v", err)
	}
	queue, err := task.NewQueue(store, logger)
	if err != nil {
		log.Fatalf("Failed to initialize task queue: %v", err)
	}

	// 4. Build the processing dependencies
	fetcher, err := media.NewFetcher(cfg.YTDLPBin, cfg.DownloadRetries, logger)
	if err != nil {
		log.Fatalf("Failed to initialize media fetcher: %v", err)
	}
	engine, err := transcribe.NewWhisper(cfg.WhisperBin, cfg.WhisperModel, cfg.Language, logger)
	if err != nil {
		log.Fatalf("Failed to initialize transcription engine: %v", err)
	}
	summarizer := summarize.NewService(cfg, logger)

	var notifier notify.Notifier = notify.Noop{}
	if tg := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, logger); tg.Enabled() {
		notifier = tg
	}

	obs := pipeline.NewQueueObserver(queue, logger)
	exec := pipeline.NewExecutor(cfg, queue, obs, fetcher, engine, summarizer, notifier, logger)

	// 5. Resolve tasks orphaned by a previous crash before accepting work
	completed, failed := queue.Reconcile(exec.ProbeArtifacts)
	if completed+failed > 0 {
		logger.Info("recovered orphaned tasks", "completed", completed, "failed", failed)
	}

	// 6. Set up router and server
	router := api.SetupRouter(queue, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 7. Start the worker and HTTP server
	worker := pipeline.NewWorker(cfg, queue, exec, logger)
	go worker.Run(ctx)

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 8. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()
	stop()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("server exiting")
}
