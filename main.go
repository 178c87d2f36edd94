package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/HuzaifaIlyas02/FootPrintChart/api"
	"github.com/HuzaifaIlyas02/FootPrintChart/config"
	"github.com/HuzaifaIlyas02/FootPrintChart/export"
	promclient "github.com/HuzaifaIlyas02/FootPrintChart/infrastructure/prometheus"
	"github.com/HuzaifaIlyas02/FootPrintChart/provider/binance"
	"github.com/HuzaifaIlyas02/FootPrintChart/usecase"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.NewEntry(logger)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown requested, closing streams")
		cancel()
	}()

	client := binance.NewStreamClient(cfg.StreamEndpoint, log)
	if err := client.Connect(); err != nil {
		log.WithError(err).Fatal("connecting to stream endpoint")
	}
	defer client.Close()

	streamAPI := binance.NewStreamAPI(client, log)
	syncAPI := binance.NewSyncAPI(cfg.RestEndpoint, log)

	engine := usecase.NewEngine(
		cfg.Symbol, cfg.Timeframes,
		streamAPI, streamAPI, syncAPI,
		cfg.SnapshotDepth, log,
	)

	// A redialed stream has no continuity guarantee; force a fresh bootstrap.
	client.OnReconnect(engine.Synchronizer().NotifyReconnect)

	promclient.RegisterSynchronizer(func() promclient.SynchronizerStats {
		stats := engine.Synchronizer().Stats()
		return promclient.SynchronizerStats{
			Applied:     stats.Applied,
			Stale:       stats.Stale,
			Gaps:        stats.Gaps,
			Resnapshots: stats.Resnapshots,
		}
	})
	go func() {
		if err := promclient.StartServer(cfg.MetricsAddr, log); err != nil {
			log.WithError(err).Error("prometheus server stopped")
		}
	}()
	go bookLevelGauges(ctx, engine)

	if err := engine.Start(ctx); err != nil {
		log.WithError(err).Fatal("starting engine")
	}

	exporter := export.NewExporter(engine.Footprint(), cfg.DataDir, cfg.ExportInterval, log)
	go func() {
		if err := exporter.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("exporter stopped")
		}
	}()

	server := api.NewServer(exporter, engine.Book(), log)
	go func() {
		if err := server.Run(cfg.HTTPAddr); err != nil {
			log.WithError(err).Error("api server stopped")
			cancel()
		}
	}()

	<-ctx.Done()
	engine.Wait()
	log.Info("engine stopped")
}

func bookLevelGauges(ctx context.Context, engine *usecase.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bids, asks := engine.Book().Depth()
			promclient.BookLevels.WithLabelValues("bids").Set(float64(bids))
			promclient.BookLevels.WithLabelValues("asks").Set(float64(asks))
		}
	}
}
