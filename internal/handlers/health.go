package handlers

import (
	"net/http"
	"time"

	"github.com/web3-frozen/defi-lending-api/internal/models"
)

// Healthz is the liveness probe: the process is up.
func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

// Readyz turns 200 once the first snapshot has been fetched.
func (a *API) Readyz(w http.ResponseWriter, r *http.Request) {
	if !a.snaps.Ready() {
		writeText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeText(w, http.StatusOK, "ok")
}

// Health reports snapshot state without triggering a refresh.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	resp := models.HealthResponse{
		Ok:          true,
		Ready:       a.snaps.Ready(),
		TsISO:       nowISO(),
		Service:     "defi-lending-api",
		Version:     a.cfg.Version,
		ReadPolicy:  string(a.snaps.Policy()),
		CacheTTLSec: a.snaps.TTL().Seconds(),
	}
	if snap := a.snaps.Current(); snap != nil {
		age := time.Since(snap.FetchedAt)
		resp.PoolCount = len(snap.Pools)
		resp.FetchedAt = snap.FetchedAt.UTC().Format(time.RFC3339)
		resp.AgeSeconds = age.Seconds()
		resp.Stale = age > a.snaps.TTL()
	}
	writeJSON(w, http.StatusOK, resp)
}
