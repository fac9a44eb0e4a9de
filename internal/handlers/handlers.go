package handlers

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/web3-frozen/defi-lending-api/internal/config"
	"github.com/web3-frozen/defi-lending-api/internal/models"
	"github.com/web3-frozen/defi-lending-api/internal/services"
)

// Snapshots is the read side of services.SnapshotCache.
type Snapshots interface {
	Get(ctx context.Context) (*models.Snapshot, services.SnapshotMeta, error)
	Current() *models.Snapshot
	Ready() bool
	TTL() time.Duration
	Policy() services.ReadPolicy
}

type API struct {
	cfg     config.Config
	snaps   Snapshots
	cache   services.Cache
	metrics *services.Metrics
	log     *logrus.Entry
}

func New(cfg config.Config, snaps Snapshots, cache services.Cache, metrics *services.Metrics, log *logrus.Entry) *API {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &API{
		cfg:     cfg,
		snaps:   snaps,
		cache:   cache,
		metrics: metrics,
		log:     log.WithField("component", "api"),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD, OPTIONS")
	writeJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{Error: "method not allowed"})
	return false
}

// cachedPayload returns a rendered body from the response cache, or
// renders it with build and stores it.
func (a *API) cachedPayload(ctx context.Context, endpoint, key string, build func() any) ([]byte, error) {
	if a.cache != nil {
		if b, ok := a.cache.Get(ctx, key); ok {
			a.metrics.ObserveResponseCache(endpoint, true)
			return b, nil
		}
		a.metrics.ObserveResponseCache(endpoint, false)
	}
	b, err := services.MarshalCache(build())
	if err != nil {
		return nil, err
	}
	b = append(b, '\n')
	if a.cache != nil {
		if err := a.cache.Set(ctx, key, b, a.cfg.ResponseCacheTTL); err != nil {
			a.log.WithError(err).WithField("key", key).Debug("response cache set failed")
		}
	}
	return b, nil
}

// writePayload writes a pre-rendered JSON body with snapshot headers and
// answers If-None-Match with 304.
func writePayload(w http.ResponseWriter, r *http.Request, meta services.SnapshotMeta, payload []byte) {
	sum := sha1.Sum(payload)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`

	h := w.Header()
	h.Set("ETag", etag)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Snapshot-Source", meta.Source)
	h.Set("X-Snapshot-Stale", strconv.FormatBool(meta.Stale))
	if meta.FetchedAt != "" {
		h.Set("X-Snapshot-Fetched-At", meta.FetchedAt)
		if ts, err := time.Parse(time.RFC3339, meta.FetchedAt); err == nil {
			h.Set("Last-Modified", ts.UTC().Format(http.TimeFormat))
		}
	}
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(payload)
	}
}

func contextTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
