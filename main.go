package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"binancefeed/config"
	"binancefeed/internal/channel"
	"binancefeed/internal/stream"
	"binancefeed/logger"
	"binancefeed/models"
	"binancefeed/processor"
	"binancefeed/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Binancefeed.Name,
		"version": cfg.Binancefeed.Version,
	}).Info("starting binancefeed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.DashboardName != "" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, "", cfg.Logging.DashboardName)
	}
	logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.BatchBuffer)

	subs, err := cfg.Stream.ResolveSubscriptions()
	if err != nil {
		log.WithError(err).Error("failed to resolve stream subscriptions")
		os.Exit(1)
	}

	supervisor := stream.NewSupervisor(stream.SupervisorConfig{
		URL:                  cfg.Stream.URL,
		Subscriptions:        subs,
		SubscribeID:          cfg.Stream.SubscribeID,
		ReconnectDelay:       cfg.Stream.Reconnect.Delay,
		MaxReconnectAttempts: cfg.Stream.Reconnect.MaxAttempts,
		RefreshInterval:      cfg.Stream.RefreshInterval,
	})

	flattener := processor.NewFlattener(cfg, channels)

	var batchWriter *writer.BatchWriter
	if cfg.Storage.S3.Enabled {
		batchWriter, err = writer.NewBatchWriter(cfg, channels)
		if err != nil {
			log.WithError(err).Error("failed to create S3 writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping writer")
	}

	var wg sync.WaitGroup

	// The supervisor owns this channel; the forwarder applies the
	// drop-on-full policy before the processor.
	envelopes := make(chan models.Envelope, cfg.Channels.RawBuffer)
	streamErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(envelopes)
		if err := supervisor.Run(ctx, envelopes); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("stream supervisor failed")
			streamErr <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for env := range envelopes {
			channels.SendEnvelope(ctx, env)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := flattener.Start(ctx); err != nil {
			log.WithError(err).Warn("flattener failed to start")
		}
	}()

	if batchWriter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := batchWriter.Start(ctx); err != nil {
				log.WithError(err).Warn("s3 writer failed to start")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-streamErr:
		log.WithError(err).Error("stream lost; shutting down")
	}

	log.Info("starting graceful shutdown")
	cancel()

	if batchWriter != nil {
		log.Info("stopping S3 writer")
		batchWriter.Stop()
	}

	log.Info("stopping flattener")
	flattener.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("binancefeed stopped")
}
