package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/web3-frozen/defi-lending-api/internal/config"
	internalhttp "github.com/web3-frozen/defi-lending-api/internal/http"
	"github.com/web3-frozen/defi-lending-api/internal/logging"
	"github.com/web3-frozen/defi-lending-api/internal/services"
)

func main() {
	_ = godotenv.Load(".env", ".env.local")

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logrus.NewEntry(logging.New(cfg.LogLevel)).WithField("service", "defi-lending-api")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := services.NewMetrics(reg)

	cache := services.NewCache(cfg, log)
	llama, err := services.NewLlamaClient(cfg, metrics, log)
	if err != nil {
		log.WithError(err).Fatal("provider client")
	}
	snaps := services.NewSnapshotCache(llama, services.SnapshotOptions{
		TTL:            cfg.CacheTTL,
		RefreshTimeout: cfg.RefreshTimeout,
		Policy:         services.ParseReadPolicy(cfg.ReadPolicy),
		Log:            log,
		Metrics:        metrics,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	snaps.StartBackgroundRefresh(ctx)
	defer snaps.Stop()

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: internalhttp.NewRouter(cfg, internalhttp.Deps{
			Snapshots: snaps,
			Cache:     cache,
			Metrics:   metrics,
			Gatherer:  reg,
			Log:       log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":        srv.Addr,
			"shape":       llama.Shape(),
			"cache":       cache.Backend(),
			"read_policy": snaps.Policy(),
			"ttl":         snaps.TTL().String(),
		}).Info("lending api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}
