package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cryptoingest/config"
	"cryptoingest/internal/ingest"
	"cryptoingest/internal/metrics"
	"cryptoingest/internal/reader/coingecko"
	"cryptoingest/internal/scheduler"
	"cryptoingest/internal/status"
	"cryptoingest/internal/storage"
	"cryptoingest/internal/writer"
	"cryptoingest/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	once := flag.Bool("once", false, "Run a single ingest invocation and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		MaxAge: cfg.Logging.MaxAge,
	}); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Ingest.Name,
		"version": cfg.Ingest.Version,
		"backend": cfg.Storage.Backend,
	}).Info("starting cryptoingest")

	if !cfg.Storage.HasCredential() {
		log.WithComponent("main").WithFields(logger.Fields{"backend": cfg.Storage.Backend}).
			Warn("storage credential not set; uploads and dead-letter writes will fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Register()
	metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch)

	opener := storage.NewOpener(cfg.Storage)
	handler := ingest.NewHandler(
		ingest.SettingsFromConfig(cfg),
		coingecko.NewFetcher(cfg.Upstream),
		writer.NewRawWriter(opener, cfg.Ingest.Version),
		writer.NewDeadLetterWriter(opener, cfg.Storage.DeadLetterContainer),
	)

	if *once {
		res := handler.Run(ctx)
		log.WithFields(logger.Fields{
			"invocation_id": res.InvocationID,
			"state":         res.State,
			"path":          res.Path,
		}).Info("single invocation finished")
		if code := onceExitCode(res); code != 0 {
			os.Exit(code)
		}
		return
	}

	statusServer := status.NewServer(cfg.Metrics, log)
	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		if err := statusServer.Run(ctx); err != nil {
			log.WithComponent("status").WithError(err).Error("status server failed")
		}
	}()

	sched, err := scheduler.New(cfg.Schedule, func(ctx context.Context) {
		statusServer.RecordRun(handler.Run(ctx))
	})
	if err != nil {
		log.WithError(err).Error("failed to create scheduler")
		os.Exit(1)
	}
	if err := sched.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start scheduler")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	// Let in-flight runs finish before their context goes away.
	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}
	cancel()

	<-statusDone
	log.Info("cryptoingest stopped")
}

// onceExitCode maps a single run to the process exit status. A dead-lettered
// run is a handled outcome; only a lost failure record is reported.
func onceExitCode(res ingest.Result) int {
	if res.DeadLetter != nil && !res.DeadLetter.Written {
		return 2
	}
	return 0
}
