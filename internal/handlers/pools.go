package handlers

import (
	"fmt"
	"net/http"

	"github.com/web3-frozen/defi-lending-api/internal/models"
	"github.com/web3-frozen/defi-lending-api/internal/query"
)

func (a *API) Pools(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	ctx, cancel := contextTimeout(r.Context(), a.cfg.RequestTimeout)
	defer cancel()

	snap, meta, err := a.snaps.Get(ctx)
	if err != nil {
		a.log.WithError(err).Warn("pools: no snapshot to serve")
		writeSnapshotError(w, err, "Failed to fetch pool data")
		return
	}
	if meta.Err != "" {
		a.log.WithField("err", meta.Err).Warn("pools: serving stale snapshot")
	}

	params := query.ParseParams(r.URL.Query())
	params.Chain = a.cfg.Chains.Normalize(params.Chain)
	key := fmt.Sprintf("pools:v1:%s:%s", snap.Version(), params.CacheKey())
	payload, err := a.cachedPayload(ctx, "pools", key, func() any {
		data := query.Run(snap.Pools, params)
		return models.PoolsResponse{Data: data, TotalCount: len(data)}
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "internal"})
		return
	}
	writePayload(w, r, meta, payload)
}

func (a *API) Chains(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	ctx, cancel := contextTimeout(r.Context(), a.cfg.RequestTimeout)
	defer cancel()

	snap, meta, err := a.snaps.Get(ctx)
	if err != nil {
		a.log.WithError(err).Warn("chains: no snapshot to serve")
		writeSnapshotError(w, err, "Failed to fetch data")
		return
	}

	key := fmt.Sprintf("chains:v1:%s", snap.Version())
	payload, err := a.cachedPayload(ctx, "chains", key, func() any {
		return models.ChainsResponse{Data: query.ByChain(snap.Pools)}
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "internal"})
		return
	}
	writePayload(w, r, meta, payload)
}

func (a *API) Protocols(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	ctx, cancel := contextTimeout(r.Context(), a.cfg.RequestTimeout)
	defer cancel()

	snap, meta, err := a.snaps.Get(ctx)
	if err != nil {
		a.log.WithError(err).Warn("protocols: no snapshot to serve")
		writeSnapshotError(w, err, "Failed to fetch data")
		return
	}

	key := fmt.Sprintf("protocols:v1:%s", snap.Version())
	payload, err := a.cachedPayload(ctx, "protocols", key, func() any {
		return models.ProtocolsResponse{Data: query.ByProject(snap.Pools)}
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "internal"})
		return
	}
	writePayload(w, r, meta, payload)
}
