package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/defi-lending-api/internal/config"
	"github.com/web3-frozen/defi-lending-api/internal/logging"
)

const poolsPayload = `{
  "status": "success",
  "data": [
    {"pool": "p-eth", "chain": "Ethereum", "project": "aave-v3", "symbol": "USDC", "tvlUsd": 2000000,
     "apy": 4.0, "apyBase": 3.5, "apyReward": 0.5, "stablecoin": true, "category": "Lending",
     "apyBaseBorrow": 5.0, "apyRewardBorrow": null, "ltv": 0.8, "totalSupplyUsd": 2100000, "totalBorrowUsd": 1200000},
    {"pool": "p-bsc", "chain": "Binance", "project": "venus", "symbol": "BNB", "tvlUsd": 800000,
     "apy": 2.1, "apyBase": null, "apyReward": null, "stablecoin": false, "category": "Lending",
     "apyBaseBorrow": 3.0, "apyRewardBorrow": 1.0, "ltv": null},
    {"pool": "p-dex", "chain": "Ethereum", "project": "uniswap-v3", "symbol": "ETH-USDC", "tvlUsd": 9000000,
     "apy": 12.0, "stablecoin": false, "category": "Dexes"},
    {"pool": "p-fantom", "chain": "Fantom", "project": "geist", "symbol": "FTM", "tvlUsd": 100000,
     "apy": 1.0, "stablecoin": false, "category": "Lending"}
  ]
}`

const lendBorrowPayload = `[
  {"pool": "p-eth", "apyBaseBorrow": 5.0, "apyRewardBorrow": 0.25, "ltv": 0.8, "totalSupplyUsd": 2100000, "totalBorrowUsd": 1200000},
  {"pool": "p-bsc", "apyBaseBorrow": 3.0, "apyRewardBorrow": null, "ltv": 0.7},
  {"pool": "p-fantom", "apyBaseBorrow": 1.0}
]`

type upstream struct {
	srv        *httptest.Server
	poolsHits  atomic.Int32
	borrowHits atomic.Int32
}

func newUpstream(t *testing.T, pools, borrow func(w http.ResponseWriter)) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/pools", func(w http.ResponseWriter, r *http.Request) {
		u.poolsHits.Add(1)
		pools(w)
	})
	mux.HandleFunc("/lendBorrow", func(w http.ResponseWriter, r *http.Request) {
		u.borrowHits.Add(1)
		borrow(w)
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func body(s string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(s))
	}
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

func newTestLlama(t *testing.T, baseURL, shape string) *LlamaClient {
	t.Helper()
	c, err := NewLlamaClient(config.Config{
		LlamaBaseURL:     baseURL,
		ProviderShape:    shape,
		RequestTimeout:   5 * time.Second,
		CircuitFailLimit: 3,
		CircuitCooldown:  time.Minute,
		Chains:           config.DefaultChains(),
	}, NewMetrics(prometheus.NewRegistry()), logging.Discard())
	require.NoError(t, err)
	c.retries = nil
	return c
}

func TestLlamaJoinedShape(t *testing.T) {
	u := newUpstream(t, body(poolsPayload), body(lendBorrowPayload))
	c := newTestLlama(t, u.srv.URL, ShapeLendBorrow)

	pools, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 2)

	eth := pools[0]
	assert.Equal(t, "p-eth", eth.ID)
	assert.Equal(t, "ethereum", eth.Chain)
	assert.Equal(t, 2_000_000.0, eth.TVL)
	assert.Equal(t, 5.25, eth.APYBorrow)
	assert.Equal(t, 2_100_000.0, eth.TotalSupplyUSD)
	assert.True(t, eth.Stablecoin)

	bsc := pools[1]
	assert.Equal(t, "bsc", bsc.Chain)
	assert.Zero(t, bsc.APYBase)
	assert.Zero(t, bsc.APYReward)
	assert.Equal(t, 3.0, bsc.APYBorrow)
	assert.Equal(t, 0.7, bsc.LTV)
	assert.Equal(t, 800_000.0, bsc.TotalSupplyUSD, "falls back to tvl")
	assert.Zero(t, bsc.TotalBorrowUSD)

	assert.EqualValues(t, 1, u.poolsHits.Load())
	assert.EqualValues(t, 1, u.borrowHits.Load())
}

func TestLlamaEmbeddedShape(t *testing.T) {
	u := newUpstream(t, body(poolsPayload), status(http.StatusInternalServerError))
	c := newTestLlama(t, u.srv.URL, ShapeEmbedded)

	pools, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "p-eth", pools[0].ID)
	assert.Equal(t, 5.0, pools[0].APYBorrow)
	assert.Equal(t, "p-bsc", pools[1].ID)
	assert.Equal(t, 4.0, pools[1].APYBorrow)
	assert.Zero(t, pools[1].LTV)
	assert.Zero(t, u.borrowHits.Load())
}

func TestLlamaUpstreamStatusFails(t *testing.T) {
	u := newUpstream(t, body(poolsPayload), status(http.StatusBadGateway))
	c := newTestLlama(t, u.srv.URL, ShapeLendBorrow)

	_, err := c.Fetch(context.Background())
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusBadGateway, upErr.Status)
	assert.Equal(t, "lendBorrow", upErr.Resource)
}

func TestLlamaRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]struct{ pools, borrow string }{
		"invalid json":      {`{"data": [`, lendBorrowPayload},
		"missing data":      {`{"status": "success"}`, lendBorrowPayload},
		"borrow not array":  {poolsPayload, `{"pool": "p-eth"}`},
		"row without id":    {`{"data": [{"chain": "Ethereum", "tvlUsd": 1}]}`, lendBorrowPayload},
		"borrow without id": {poolsPayload, `[{"apyBaseBorrow": 1}]`},
		"duplicate borrow id": {poolsPayload, `[
			{"pool": "p-eth", "apyBaseBorrow": 5.0},
			{"pool": "p-eth", "apyBaseBorrow": 9.0}]`},
		"duplicate id": {`{"data": [
			{"pool": "p-eth", "chain": "Ethereum", "tvlUsd": 1},
			{"pool": "p-eth", "chain": "Ethereum", "tvlUsd": 2}]}`, lendBorrowPayload},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			u := newUpstream(t, body(tc.pools), body(tc.borrow))
			c := newTestLlama(t, u.srv.URL, ShapeLendBorrow)
			pools, err := c.Fetch(context.Background())
			require.Error(t, err)
			assert.Nil(t, pools)
		})
	}
}

func TestLlamaRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	u := newUpstream(t, func(w http.ResponseWriter) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body(poolsPayload)(w)
	}, body(lendBorrowPayload))
	c := newTestLlama(t, u.srv.URL, ShapeLendBorrow)
	c.retries = []time.Duration{time.Millisecond}

	pools, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, pools, 2)
	assert.EqualValues(t, 2, calls.Load())
}

func TestLlamaDoesNotRetryClientErrors(t *testing.T) {
	u := newUpstream(t, status(http.StatusNotFound), body(lendBorrowPayload))
	c := newTestLlama(t, u.srv.URL, ShapeEmbedded)
	c.retries = []time.Duration{time.Millisecond, time.Millisecond}

	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, u.poolsHits.Load())
}

func TestLlamaCircuitBreakerOpens(t *testing.T) {
	u := newUpstream(t, status(http.StatusInternalServerError), body(lendBorrowPayload))
	c := newTestLlama(t, u.srv.URL, ShapeEmbedded)
	now := time.Unix(1_700_000_000, 0)
	c.cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background())
		require.Error(t, err)
	}
	_, err := c.Fetch(context.Background())
	assert.True(t, errors.Is(err, errCircuitOpen))
	assert.EqualValues(t, 3, u.poolsHits.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.Fetch(context.Background())
	assert.False(t, errors.Is(err, errCircuitOpen))
	assert.EqualValues(t, 4, u.poolsHits.Load())
}

func TestNewLlamaClientRejectsUnknownShape(t *testing.T) {
	_, err := NewLlamaClient(config.Config{ProviderShape: "graphql"}, nil, nil)
	require.Error(t, err)
}
