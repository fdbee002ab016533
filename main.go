package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"bookflow/config"
	"bookflow/internal/channel"
	"bookflow/logger"
	"bookflow/models"
	"bookflow/processor"
	"bookflow/reader/binance"
	"bookflow/reader/bitfinex"
	"bookflow/reader/bybit"
	"bookflow/reader/okx"
	"bookflow/writer"
)

type component interface {
	Start(ctx context.Context) error
	Stop()
}

type bookReader interface {
	component
	processor.Resyncer
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	path := config.ResolveConfigPath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Bookflow.Name,
		"version":     cfg.Bookflow.Version,
		"environment": config.AppEnvironment(),
		"config":      path,
	}).Info("starting bookflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cw := cfg.Logging.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(cw.Region, cw.Namespace, cw.Dashboard)
		logger.CreateDefaultDashboard(ctx)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Logging.CloudWatch.Enabled {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.BookBuffer)
	channels.StartMetricsReporting(ctx, cfg.Logging.ReportInterval)

	keeper := processor.NewBookKeeper(cfg, channels)

	var readers []bookReader
	if cfg.Source.Binance.Enabled {
		readers = append(readers, binance.NewReader(cfg, channels))
		keeper.RegisterResyncer("binance", readers[len(readers)-1])
	}
	if cfg.Source.Bybit.Enabled {
		readers = append(readers, bybit.NewReader(cfg, channels))
		keeper.RegisterResyncer("bybit", readers[len(readers)-1])
	}
	if cfg.Source.Okx.Enabled {
		readers = append(readers, okx.NewReader(cfg, channels))
		keeper.RegisterResyncer("okx", readers[len(readers)-1])
	}
	if cfg.Source.Bitfinex.Enabled {
		readers = append(readers, bitfinex.NewReader(cfg, channels))
		keeper.RegisterResyncer("bitfinex", readers[len(readers)-1])
	}
	if len(readers) == 0 {
		log.Error("no order book source enabled")
		os.Exit(1)
	}

	var sinks []component
	var books []<-chan models.BookBatch
	nSinks := 0
	if cfg.Storage.S3.Enabled {
		nSinks++
	}
	if cfg.Storage.Redis.Enabled {
		nSinks++
	}
	if nSinks > 1 {
		books = channel.Fanout(ctx, channels.Book, nSinks, cfg.Channels.BookBuffer)
	} else {
		books = []<-chan models.BookBatch{channels.Book}
	}

	if cfg.Storage.S3.Enabled {
		w, err := writer.NewSnapshotWriter(cfg, books[len(sinks)])
		if err != nil {
			log.WithError(err).Error("failed to create S3 writer")
			os.Exit(1)
		}
		sinks = append(sinks, w)
	}
	if cfg.Storage.Redis.Enabled {
		c, err := writer.NewBookCache(ctx, cfg, books[len(sinks)])
		if err != nil {
			log.WithError(err).Error("failed to create book cache")
			os.Exit(1)
		}
		sinks = append(sinks, c)
	}
	if len(sinks) == 0 {
		log.WithComponent("main").Info("no book storage enabled; logging top of book")
		sinks = append(sinks, writer.NewTopOfBookLogger(channels.Book))
	}

	// downstream first so nothing produced is dropped at startup
	for _, sink := range sinks {
		if err := sink.Start(ctx); err != nil {
			log.WithError(err).Error("book sink failed to start")
			os.Exit(1)
		}
	}
	if err := keeper.Start(ctx); err != nil {
		log.WithError(err).Error("book keeper failed to start")
		os.Exit(1)
	}
	for _, r := range readers {
		if err := r.Start(ctx); err != nil {
			log.WithError(err).Warn("reader failed to start")
		}
	}
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		var g errgroup.Group
		for _, r := range readers {
			r := r
			g.Go(func() error {
				r.Stop()
				return nil
			})
		}
		g.Wait()
		keeper.Stop()
		for _, sink := range sinks {
			sink := sink
			g.Go(func() error {
				sink.Stop()
				return nil
			})
		}
		g.Wait()
		channels.Close()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("bookflow stopped")
}
