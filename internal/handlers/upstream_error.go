package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/web3-frozen/defi-lending-api/internal/models"
	"github.com/web3-frozen/defi-lending-api/internal/services"
)

// writeSnapshotError answers a request that found no snapshot to serve.
// The status is always 503; the body says why the refresh failed.
func writeSnapshotError(w http.ResponseWriter, err error, msg string) {
	resp := models.ErrorResponse{Error: msg}

	var upErr *services.UpstreamError
	var netErr net.Error
	switch {
	case errors.As(err, &upErr):
		resp.UpstreamStatus = upErr.Status
		resp.Detail = "upstream_status"
		if upErr.Status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "60")
			resp.Detail = "upstream_rate_limited"
		}
	case errors.Is(err, context.DeadlineExceeded):
		resp.Detail = "upstream_timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		resp.Detail = "upstream_timeout"
	case errors.Is(err, context.Canceled):
		resp.Detail = "request_canceled"
	default:
		resp.Detail = "upstream_unavailable"
	}
	writeJSON(w, http.StatusServiceUnavailable, resp)
}
