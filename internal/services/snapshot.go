package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/web3-frozen/defi-lending-api/internal/models"
)

// ErrNoSnapshot is returned by Get when no refresh has ever succeeded and
// the one the caller waited on did not produce data either.
var ErrNoSnapshot = errors.New("no pool snapshot available")

// Fetcher loads the full pool set from the provider. It must fail rather
// than return a partial list.
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.Pool, error)
}

type FetcherFunc func(ctx context.Context) ([]models.Pool, error)

func (f FetcherFunc) Fetch(ctx context.Context) ([]models.Pool, error) { return f(ctx) }

// ReadPolicy decides what a caller gets while someone else's refresh is in
// flight and a previous snapshot exists.
type ReadPolicy string

const (
	// ReadBlock waits for the in-flight refresh.
	ReadBlock ReadPolicy = "block"
	// ReadStale returns the previous snapshot without waiting.
	ReadStale ReadPolicy = "stale"
)

func ParseReadPolicy(v string) ReadPolicy {
	if ReadPolicy(v) == ReadStale {
		return ReadStale
	}
	return ReadBlock
}

type SnapshotMeta struct {
	Source    string
	Stale     bool
	Err       string
	FetchedAt string
}

type SnapshotOptions struct {
	TTL            time.Duration
	RefreshTimeout time.Duration
	Policy         ReadPolicy
	Log            *logrus.Entry
	Metrics        *Metrics
}

// SnapshotCache holds the current pool snapshot and refreshes it from a
// Fetcher when it is older than the TTL. Foreground and background
// refreshes share one singleflight key, so at most one fetch is in flight.
type SnapshotCache struct {
	ttl     time.Duration
	timeout time.Duration
	policy  ReadPolicy
	fetcher Fetcher
	log     *logrus.Entry
	metrics *Metrics
	now     func() time.Time

	current  atomic.Pointer[models.Snapshot]
	seq      atomic.Uint64
	inflight atomic.Bool
	group    singleflight.Group

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

const refreshKey = "pools"

func NewSnapshotCache(fetcher Fetcher, opts SnapshotOptions) *SnapshotCache {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	if opts.Policy == "" {
		opts.Policy = ReadBlock
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SnapshotCache{
		ttl:     opts.TTL,
		timeout: opts.RefreshTimeout,
		policy:  opts.Policy,
		fetcher: fetcher,
		log:     log.WithField("component", "snapshot"),
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

func (c *SnapshotCache) TTL() time.Duration { return c.ttl }

func (c *SnapshotCache) Policy() ReadPolicy { return c.policy }

// Ready reports whether any refresh has ever succeeded.
func (c *SnapshotCache) Ready() bool {
	return c.current.Load() != nil
}

// Current returns the published snapshot without refreshing. It is nil
// until the first successful refresh.
func (c *SnapshotCache) Current() *models.Snapshot {
	return c.current.Load()
}

// Get returns the current snapshot, refreshing it first when stale. A
// failed refresh falls back to the previous snapshot with Meta.Err set;
// an error is returned only when there is no snapshot at all.
func (c *SnapshotCache) Get(ctx context.Context) (*models.Snapshot, SnapshotMeta, error) {
	snap := c.current.Load()
	if !c.stale(snap) {
		return snap, c.meta(snap, "cache", false, nil), nil
	}
	if snap != nil && c.policy == ReadStale && c.inflight.Load() {
		return snap, c.meta(snap, "stale_cache", true, nil), nil
	}

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.refresh(c.ttl, "request")
	})
	select {
	case res := <-ch:
		if res.Err == nil {
			fresh := res.Val.(*models.Snapshot)
			return fresh, c.meta(fresh, "fresh", false, nil), nil
		}
		return c.fallback(res.Err)
	case <-ctx.Done():
		return c.fallback(ctx.Err())
	}
}

func (c *SnapshotCache) fallback(err error) (*models.Snapshot, SnapshotMeta, error) {
	if snap := c.current.Load(); snap != nil {
		return snap, c.meta(snap, "stale_cache", c.stale(snap), err), nil
	}
	return nil, SnapshotMeta{Source: "error", Err: err.Error()}, fmt.Errorf("%w: %w", ErrNoSnapshot, err)
}

// Refresh forces a fetch, joining one already in flight.
func (c *SnapshotCache) Refresh(ctx context.Context) error {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.refresh(forceRefresh, "manual")
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartBackgroundRefresh refreshes once right away and then every TTL
// until ctx is cancelled or Stop is called. Failures are logged only.
func (c *SnapshotCache) StartBackgroundRefresh(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Stop halts the background loop and waits for it to exit.
func (c *SnapshotCache) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *SnapshotCache) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	// Interval ticks skip the fetch when a refresh landed within the last
	// half TTL.
	tick := func(trigger string, maxAge time.Duration) {
		ch := c.group.DoChan(refreshKey, func() (any, error) {
			return c.refresh(maxAge, trigger)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				c.log.WithError(res.Err).WithField("trigger", trigger).Warn("background refresh failed")
			}
		case <-ctx.Done():
		}
	}

	tick("startup", forceRefresh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick("interval", c.ttl/2)
		}
	}
}

// forceRefresh makes refresh fetch regardless of the snapshot's age.
const forceRefresh time.Duration = -1

// refresh runs inside the singleflight group. It fetches only when there
// is no snapshot or it is older than maxAge, since a caller may arrive
// just after another flight landed.
func (c *SnapshotCache) refresh(maxAge time.Duration, trigger string) (*models.Snapshot, error) {
	if maxAge >= 0 {
		if snap := c.current.Load(); snap != nil && c.now().Sub(snap.FetchedAt) <= maxAge {
			return snap, nil
		}
	}
	c.inflight.Store(true)
	defer c.inflight.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	pools, err := c.fetcher.Fetch(ctx)
	dur := time.Since(start)
	c.metrics.ObserveRefresh(trigger, dur, err)
	if err != nil {
		return nil, fmt.Errorf("refresh pools: %w", err)
	}
	if pools == nil {
		pools = []models.Pool{}
	}

	snap := &models.Snapshot{Seq: c.seq.Add(1), Pools: pools, FetchedAt: c.now()}
	c.current.Store(snap)
	c.metrics.SetSnapshot(len(pools), snap.FetchedAt)
	c.log.WithFields(logrus.Fields{
		"pools":    len(pools),
		"trigger":  trigger,
		"duration": dur.String(),
	}).Info("snapshot refreshed")
	return snap, nil
}

func (c *SnapshotCache) stale(snap *models.Snapshot) bool {
	if snap == nil {
		return true
	}
	return c.now().Sub(snap.FetchedAt) > c.ttl
}

func (c *SnapshotCache) meta(snap *models.Snapshot, source string, stale bool, err error) SnapshotMeta {
	m := SnapshotMeta{Source: source, Stale: stale}
	if snap != nil {
		m.FetchedAt = snap.FetchedAt.UTC().Format(time.RFC3339)
	}
	if err != nil {
		m.Err = err.Error()
	}
	return m
}
