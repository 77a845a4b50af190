// netsentinel-aggregator runs the Aggregator pipeline: a stream consumer
// (A1) feeding the in-memory model (A2), a periodic persister (A3), and a
// domain-event publisher (A4) (§4.4-§4.7).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/internal/config"
	"github.com/netsentinel/netsentinel/internal/consumer"
	"github.com/netsentinel/netsentinel/internal/errs"
	"github.com/netsentinel/netsentinel/internal/events"
	"github.com/netsentinel/netsentinel/internal/logging"
	"github.com/netsentinel/netsentinel/internal/metrics"
	"github.com/netsentinel/netsentinel/internal/model"
	"github.com/netsentinel/netsentinel/internal/persist"
	"github.com/netsentinel/netsentinel/internal/streaming"
)

func main() {
	os.Exit(run())
}

func run() int {
	confPath := flag.String("config", "", "Path to aggregator config file")
	metricsAddr := flag.String("metrics-addr", ":9472", "Address to serve /metrics on")
	flag.Parse()

	path := config.ResolvePath(*confPath, "NETSENTINEL_AGGREGATOR_CONFIG", "")
	if path == "" {
		fmt.Println("failed to load config: -config (or NETSENTINEL_AGGREGATOR_CONFIG) is required")
		return errs.ExitConfigError
	}

	cfg, err := config.LoadAggregator(path)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		return errs.ExitConfigError
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Path: cfg.LogFile})
	if err != nil {
		fmt.Printf("failed to build logger: %v\n", err)
		return errs.ExitConfigError
	}
	defer logger.Sync()

	logger.Info("netsentinel-aggregator starting", zap.String("config", path))

	reg := prometheus.NewRegistry()
	m := metrics.NewAggregator(reg)

	stream, err := streaming.NewFrameStream(cfg.StreamURL, cfg.StreamName, 0)
	if err != nil {
		logger.Error("failed to construct frame stream", zap.Error(err))
		return errs.ExitStreamFatal
	}
	defer stream.Close()

	notifyChan, err := streaming.NewNotificationChannel(cfg.StreamURL, cfg.EventsName)
	if err != nil {
		logger.Error("failed to construct notification channel", zap.Error(err))
		return errs.ExitStreamFatal
	}
	defer notifyChan.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCtx, cancelDB := context.WithTimeout(ctx, 10*time.Second)
	pool, err := persist.Connect(dbCtx, cfg.DatabaseURL)
	cancelDB()
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		return errs.ExitDatabaseFatal
	}
	defer pool.Close()

	publisher := events.NewPublisher(notifyChan, 0, logger, m)
	sink := events.NewModelSink(publisher)

	mdl := model.New(model.Config{
		FlowCap:            cfg.FlowCap,
		BucketSizeSecs:     int64(cfg.BucketSizeSecs),
		ActivityWindowSecs: int64(cfg.ActivityWindowSecs),
	}, sink, nil, m) // eviction sink wired in below, once the persister exists

	cons := consumer.New(consumer.Config{
		Group:     cfg.ConsumerGroup,
		Consumer:  "aggregator-1",
		ReadBatch: int64(cfg.ReadBatch),
		BlockFor:  time.Duration(cfg.BlockMs) * time.Millisecond,
	}, stream, mdl, logger, m)

	pers := persist.New(persist.Config{
		Interval:          time.Duration(cfg.PersistIntervalSecs) * time.Second,
		MaxBucketLookback: time.Duration(cfg.MaxBucketLookbackSecs) * time.Second,
	}, pool, mdl, cons, logger, m)

	// model.New needed the eviction sink before the persister existed to
	// receive it; wire it now via the setter rather than reordering
	// construction (both sides need a reference to the other).
	mdl.SetEvictionSink(pers)

	httpSrv := serveMetrics(*metricsAddr, reg, logger)
	defer shutdownHTTP(httpSrv, logger)

	// A1 and A3 run under their own cancellation so shutdown can stop them
	// one after the other.
	consCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	persCtx, stopPersister := context.WithCancel(context.Background())
	defer stopPersister()
	consDone := make(chan struct{})
	persDone := make(chan struct{})

	go publisher.Run(ctx)
	go func() { defer close(persDone); pers.Run(persCtx) }()
	go func() { defer close(consDone); cons.Run(consCtx) }()

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping consumer before final persist cycle")
	// A1 stops reading first so no further frames enter A2 after A3's
	// last drain begins (§5's shutdown ordering); pers.Run performs one
	// final synchronous cycle on ctx cancellation before returning.
	stopConsumer()
	<-consDone
	stopPersister()
	waitForQuiescence(persDone, 15*time.Second)

	logger.Info("netsentinel-aggregator stopped")
	return errs.ExitOK
}

// waitForQuiescence gives the persister's final cycle, started after the
// consumer has returned, a bounded window to commit and acknowledge before
// the process exits.
func waitForQuiescence(persDone <-chan struct{}, deadline time.Duration) {
	select {
	case <-persDone:
	case <-time.After(deadline):
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}
}
