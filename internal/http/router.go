package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/web3-frozen/defi-lending-api/internal/config"
	"github.com/web3-frozen/defi-lending-api/internal/handlers"
	"github.com/web3-frozen/defi-lending-api/internal/services"
)

var routes = map[string]struct{}{
	"/healthz":       {},
	"/readyz":        {},
	"/metrics":       {},
	"/api/health":    {},
	"/api/pools":     {},
	"/api/chains":    {},
	"/api/protocols": {},
}

type Deps struct {
	Snapshots handlers.Snapshots
	Cache     services.Cache
	Metrics   *services.Metrics
	Gatherer  prometheus.Gatherer
	Log       *logrus.Entry
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	api := handlers.New(cfg, d.Snapshots, d.Cache, d.Metrics, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", api.Healthz)
	mux.HandleFunc("/readyz", api.Readyz)
	mux.HandleFunc("/api/health", api.Health)
	mux.HandleFunc("/api/pools", api.Pools)
	mux.HandleFunc("/api/chains", api.Chains)
	mux.HandleFunc("/api/protocols", api.Protocols)
	if d.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	h := http.Handler(mux)
	h = withRecovery(log)(h)
	h = withMetrics(d.Metrics)(h)
	h = withLogging(log.WithField("component", "http"))(h)
	h = withCORS(h)
	return h
}
