// netsentinel-capture runs the Capture pipeline: one bound interface per
// configured entry, each decoding frames and handing them to a shared
// batcher that publishes to the frame stream (§4.1-§4.3).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/internal/batch"
	"github.com/netsentinel/netsentinel/internal/capture"
	"github.com/netsentinel/netsentinel/internal/config"
	"github.com/netsentinel/netsentinel/internal/decode"
	"github.com/netsentinel/netsentinel/internal/errs"
	"github.com/netsentinel/netsentinel/internal/logging"
	"github.com/netsentinel/netsentinel/internal/metrics"
	"github.com/netsentinel/netsentinel/internal/streaming"
)

func main() {
	os.Exit(run())
}

func run() int {
	confPath := flag.String("config", "", "Path to capture config file")
	listIfaces := flag.Bool("list-interfaces", false, "List candidate interfaces and exit")
	metricsAddr := flag.String("metrics-addr", ":9471", "Address to serve /metrics on")
	flag.Parse()

	if *listIfaces {
		return listInterfaces()
	}

	path := config.ResolvePath(*confPath, "NETSENTINEL_CAPTURE_CONFIG", "")
	if path == "" {
		fmt.Println("failed to load config: -config (or NETSENTINEL_CAPTURE_CONFIG) is required")
		return errs.ExitConfigError
	}

	cfg, err := config.LoadCapture(path)
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

	logger.Info("netsentinel-capture starting", zap.String("config", path), zap.Int("interfaces", len(cfg.Interfaces)))

	reg := prometheus.NewRegistry()
	m := metrics.NewCapture(reg)

	stream, err := streaming.NewFrameStream(cfg.StreamURL, cfg.StreamName, cfg.MaxStreamLength)
	if err != nil {
		logger.Error("failed to construct frame stream", zap.Error(err))
		return errs.ExitStreamFatal
	}
	defer stream.Close()

	batcher := batch.New(batch.Config{
		BatchSize:         cfg.BatchSize,
		FlushInterval:     time.Duration(cfg.FlushIntervalMs) * time.Millisecond,
		PublishQueueDepth: cfg.PublishQueueDepth,
	}, stream, logger, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := serveMetrics(*metricsAddr, reg, logger)
	defer shutdownHTTP(httpSrv, logger)

	// The batcher runs under its own cancellation, separate from the
	// workers: on shutdown, workers stop first, then Flush() force-closes
	// whatever is still open, and the batcher keeps draining its publish
	// queue for a bounded grace period before it too is stopped (§5's
	// final-flush-before-exit ordering).
	batcherCtx, cancelBatcher := context.WithCancel(context.Background())
	defer cancelBatcher()
	go batcher.Run(batcherCtx)

	var wg sync.WaitGroup
	bound := 0
	for _, ic := range cfg.Interfaces {
		binding, err := capture.Bind(capture.Options{
			Interface:   ic.Name,
			Promiscuous: ic.Promiscuous,
			SnapLength:  cfg.SnapLength,
			RingFrames:  cfg.RingBufferSize,
			PollTimeout: 100 * time.Millisecond,
		})
		if err != nil {
			m.BindFailures.WithLabelValues(ic.Name).Inc()
			logger.Error("failed to bind interface", zap.String("interface", ic.Name), zap.Error(err))
			continue
		}
		bound++
		m.InterfacesBound.Set(float64(bound))

		wg.Add(1)
		go runWorker(ctx, &wg, binding, ic.Name, batcher, logger, m)
	}

	if bound == 0 {
		logger.Error("no interfaces bound; exiting")
		return errs.ExitBindFailure
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, draining batches")
	wg.Wait()
	batcher.Flush()
	waitForDrain(batcher, 5*time.Second)
	cancelBatcher()

	logger.Info("netsentinel-capture stopped")
	return errs.ExitOK
}

// waitForDrain polls the batcher's publish queue until it empties or
// deadline elapses, giving the final flush a chance to actually reach the
// frame stream before the batcher's context is canceled.
func waitForDrain(b *batch.Batcher, deadline time.Duration) {
	start := time.Now()
	for b.Len() > 0 && time.Since(start) < deadline {
		time.Sleep(20 * time.Millisecond)
	}
}

// runWorker busy-polls one bound interface for the process lifetime,
// decoding each frame and handing it to the shared batcher (§4.1, §4.2).
func runWorker(ctx context.Context, wg *sync.WaitGroup, binding *capture.Binding, ifaceName string, batcher *batch.Batcher, logger *zap.Logger, m *metrics.Capture) {
	defer wg.Done()
	defer binding.Close()

	err := binding.Run(ctx, func(raw []byte, ts time.Time) {
		f, err := decode.Decode(raw, ifaceName, ts)
		if err != nil {
			var derr *decode.Error
			layer := "unknown"
			if ok := asDecodeError(err, &derr); ok {
				layer = string(derr.Reason)
			}
			m.FramesMalformed.WithLabelValues(ifaceName, layer).Inc()
			return
		}
		m.FramesDecoded.WithLabelValues(ifaceName).Inc()
		batcher.Add(f)
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("capture worker exited unexpectedly", zap.String("interface", ifaceName), zap.Error(err))
	}
}

func asDecodeError(err error, target **decode.Error) bool {
	de, ok := err.(*decode.Error)
	if !ok {
		return false
	}
	*target = de
	return true
}

func listInterfaces() int {
	candidates, err := capture.ListCandidates()
	if err != nil {
		fmt.Printf("failed to list interfaces: %v\n", err)
		return errs.ExitUnexpectedFatal
	}
	for _, c := range candidates {
		state := "down"
		if c.Up {
			state = "up"
		}
		fmt.Printf("%-16s mtu=%-6d %s\n", c.Name, c.MTU, state)
	}
	return errs.ExitOK
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
