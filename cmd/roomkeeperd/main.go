// Command roomkeeperd is the game-session server binary: it wires
// config, logging, metrics, the datagram transport, the room worker and
// the admin HTTP surface together and runs until signaled to stop. The
// wiring shape (load config, build logger, build the runtime, register
// signal handling, block on a done channel) follows the teacher's own
// plugin entrypoint idiom in plugin/main.go.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/adminhttp"
	"github.com/harborlight/roomkeeper/internal/config"
	"github.com/harborlight/roomkeeper/internal/logging"
	"github.com/harborlight/roomkeeper/internal/metrics"
	"github.com/harborlight/roomkeeper/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file (uses defaults if unset)")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("roomkeeperd: %w", err)
		}
		cfg = loaded
	}

	logger, err := logging.New(logging.Options{
		Path:      cfg.LogPath,
		MaxSizeMB: cfg.LogMaxSize,
		Debug:     *debug,
	})
	if err != nil {
		return fmt.Errorf("roomkeeperd: build logger: %w", err)
	}
	defer logger.Sync()

	collector := metrics.New()

	w := worker.New(logger, cfg, collector)
	transport, err := w.Listen()
	if err != nil {
		return fmt.Errorf("roomkeeperd: listen on %s: %w", cfg.ListenAddr, err)
	}
	w.StartSweep()

	admin := adminhttp.New(logger, w, promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: admin.Handler()}

	errc := make(chan error, 2)
	go func() {
		logger.Info("listening for game traffic", zap.String("addr", cfg.ListenAddr))
		errc <- transport.Serve()
	}()
	go func() {
		logger.Info("listening for admin traffic", zap.String("addr", cfg.AdminAddr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errc:
		if err != nil {
			logger.Error("server error, shutting down", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.Shutdown(ctx); err != nil {
		logger.Warn("worker shutdown did not complete cleanly", zap.Error(err))
	}
	if err := transport.Shutdown(ctx); err != nil {
		logger.Warn("transport shutdown did not complete cleanly", zap.Error(err))
	}
	if err := adminSrv.Shutdown(ctx); err != nil {
		logger.Warn("admin server shutdown did not complete cleanly", zap.Error(err))
	}
	return nil
}
