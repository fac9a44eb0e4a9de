package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/web3-frozen/defi-lending-api/internal/config"
	"github.com/web3-frozen/defi-lending-api/internal/models"
)

// Upstream response layouts the client can normalize.
const (
	// ShapeLendBorrow joins /pools with /lendBorrow by pool id.
	ShapeLendBorrow = "lendborrow"
	// ShapeEmbedded reads borrow fields straight from /pools rows of the
	// lending category.
	ShapeEmbedded = "embedded"
)

const maxBodyBytes = 64 << 20

var errCircuitOpen = errors.New("llama circuit breaker open")

var defaultRetrySteps = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
}

type UpstreamError struct {
	Resource string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llama %s: status %d", e.Resource, e.Status)
}

type circuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	openedAt  time.Time
	cooldown  time.Duration
	now       func() time.Time
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (c *circuitBreaker) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.threshold <= 0 || c.failures < c.threshold {
		return true
	}
	if c.now().Sub(c.openedAt) > c.cooldown {
		c.failures = 0
		c.openedAt = time.Time{}
		return true
	}
	return false
}

func (c *circuitBreaker) success() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.openedAt = time.Time{}
}

func (c *circuitBreaker) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.threshold > 0 && c.failures >= c.threshold {
		c.openedAt = c.now()
	}
}

// LlamaClient fetches lending pools from the DeFiLlama yields API and
// normalizes them into models.Pool.
type LlamaClient struct {
	baseURL   string
	shape     string
	hc        *http.Client
	chains    config.Chains
	supported map[string]struct{}
	cb        *circuitBreaker
	retries   []time.Duration
	metrics   *Metrics
	log       *logrus.Entry
}

func NewLlamaClient(cfg config.Config, metrics *Metrics, log *logrus.Entry) (*LlamaClient, error) {
	shape := strings.ToLower(strings.TrimSpace(cfg.ProviderShape))
	if shape == "" {
		shape = ShapeLendBorrow
	}
	if shape != ShapeLendBorrow && shape != ShapeEmbedded {
		return nil, fmt.Errorf("unknown provider shape %q: want %s|%s", cfg.ProviderShape, ShapeLendBorrow, ShapeEmbedded)
	}
	chains := cfg.Chains
	if len(chains.Supported) == 0 {
		chains = config.DefaultChains()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LlamaClient{
		baseURL:   strings.TrimRight(cfg.LlamaBaseURL, "/"),
		shape:     shape,
		hc:        &http.Client{Timeout: cfg.RequestTimeout},
		chains:    chains,
		supported: chains.Set(),
		cb:        newCircuitBreaker(cfg.CircuitFailLimit, cfg.CircuitCooldown),
		retries:   defaultRetrySteps,
		metrics:   metrics,
		log:       log.WithField("component", "llama"),
	}, nil
}

func (c *LlamaClient) Shape() string { return c.shape }

func (c *LlamaClient) Fetch(ctx context.Context) ([]models.Pool, error) {
	if !c.cb.allow() {
		return nil, errCircuitOpen
	}
	var (
		pools []models.Pool
		err   error
	)
	if c.shape == ShapeEmbedded {
		pools, err = c.fetchEmbedded(ctx)
	} else {
		pools, err = c.fetchJoined(ctx)
	}
	if err != nil {
		c.cb.fail()
		return nil, err
	}
	c.cb.success()
	return pools, nil
}

func (c *LlamaClient) fetchJoined(ctx context.Context) ([]models.Pool, error) {
	var poolsBody, borrowBody []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := c.getWithRetry(gctx, "pools")
		poolsBody = b
		return err
	})
	g.Go(func() error {
		b, err := c.getWithRetry(gctx, "lendBorrow")
		borrowBody = b
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(borrowBody) {
		return nil, errors.New("llama lendBorrow: malformed json")
	}
	borrowRows := gjson.ParseBytes(borrowBody)
	if !borrowRows.IsArray() {
		return nil, errors.New("llama lendBorrow: expected array")
	}
	borrow := make(map[string]gjson.Result)
	var rowErr error
	borrowRows.ForEach(func(_, row gjson.Result) bool {
		id := row.Get("pool").String()
		if id == "" {
			rowErr = errors.New("llama lendBorrow: row without pool id")
			return false
		}
		if _, dup := borrow[id]; dup {
			rowErr = fmt.Errorf("llama lendBorrow: duplicate pool id %q", id)
			return false
		}
		borrow[id] = row
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}

	return c.normalize(poolsBody, func(row gjson.Result) (gjson.Result, bool) {
		b, ok := borrow[row.Get("pool").String()]
		return b, ok
	})
}

func (c *LlamaClient) fetchEmbedded(ctx context.Context) ([]models.Pool, error) {
	body, err := c.getWithRetry(ctx, "pools")
	if err != nil {
		return nil, err
	}
	return c.normalize(body, func(row gjson.Result) (gjson.Result, bool) {
		return row, strings.EqualFold(row.Get("category").String(), "lending")
	})
}

// normalize walks the /pools payload and builds pools for rows on a
// supported chain that borrowFor accepts. Any malformed row fails the
// whole fetch.
func (c *LlamaClient) normalize(body []byte, borrowFor func(gjson.Result) (gjson.Result, bool)) ([]models.Pool, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("llama pools: malformed json")
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, errors.New("llama pools: missing data array")
	}

	out := []models.Pool{}
	seen := map[string]struct{}{}
	var rowErr error
	i := 0
	data.ForEach(func(_, row gjson.Result) bool {
		defer func() { i++ }()
		id := row.Get("pool").String()
		if id == "" {
			rowErr = fmt.Errorf("llama pools: row %d without pool id", i)
			return false
		}
		chain := c.chains.Normalize(row.Get("chain").String())
		if _, ok := c.supported[chain]; !ok {
			return true
		}
		b, ok := borrowFor(row)
		if !ok {
			return true
		}
		if _, dup := seen[id]; dup {
			rowErr = fmt.Errorf("llama pools: duplicate pool id %q", id)
			return false
		}
		seen[id] = struct{}{}
		out = append(out, buildPool(id, chain, row, b))
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return out, nil
}

func buildPool(id, chain string, row, borrow gjson.Result) models.Pool {
	tvl := row.Get("tvlUsd").Float()
	baseBorrow := borrow.Get("apyBaseBorrow").Float()
	rewardBorrow := borrow.Get("apyRewardBorrow").Float()
	totalSupply := tvl
	if v := borrow.Get("totalSupplyUsd"); v.Exists() && v.Type != gjson.Null {
		totalSupply = v.Float()
	}
	return models.Pool{
		ID:              id,
		Chain:           chain,
		Project:         row.Get("project").String(),
		Symbol:          row.Get("symbol").String(),
		TVL:             tvl,
		APYBase:         row.Get("apyBase").Float(),
		APYReward:       row.Get("apyReward").Float(),
		APY:             row.Get("apy").Float(),
		APYBaseBorrow:   baseBorrow,
		APYRewardBorrow: rewardBorrow,
		APYBorrow:       baseBorrow + rewardBorrow,
		LTV:             borrow.Get("ltv").Float(),
		TotalSupplyUSD:  totalSupply,
		TotalBorrowUSD:  borrow.Get("totalBorrowUsd").Float(),
		Stablecoin:      row.Get("stablecoin").Bool(),
	}
}

// getWithRetry retries transport failures, 429 and 5xx with the
// configured backoff steps.
func (c *LlamaClient) getWithRetry(ctx context.Context, resource string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		body, status, err := c.get(ctx, resource)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(status) || attempt >= len(c.retries) {
			return nil, lastErr
		}
		c.log.WithError(err).WithFields(logrus.Fields{
			"resource": resource,
			"attempt":  attempt + 1,
		}).Debug("retrying upstream request")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retries[attempt]):
		}
	}
}

func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func (c *LlamaClient) get(ctx context.Context, resource string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+resource, nil)
	if err != nil {
		return nil, -1, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.hc.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(resource, "error")
		if ctx.Err() != nil {
			return nil, -1, err
		}
		return nil, 0, err
	}
	defer res.Body.Close()
	c.metrics.ObserveUpstream(resource, strconv.Itoa(res.StatusCode))
	if res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, res.StatusCode, &UpstreamError{Resource: resource, Status: res.StatusCode, Body: string(snippet)}
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("llama %s: read body: %w", resource, err)
	}
	return body, res.StatusCode, nil
}
