package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/joeblew999/regionmap/internal/boundary"
	"github.com/joeblew999/regionmap/internal/metrics"
	"github.com/joeblew999/regionmap/internal/site"
)

// DefaultCacheSize is the number of recent versions kept by an Engine.
const DefaultCacheSize = 4

// Engine recomputes results off the caller's goroutine. A newer snapshot
// supersedes an older one: results are published in version order and a
// result for an outdated version is dropped.
type Engine struct {
	boundary *boundary.Boundary
	opts     Options
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	flight singleflight.Group
	cache  *lru.Cache[uint64, *Result]

	latest atomic.Uint64

	pubMu     sync.Mutex
	current   *Result
	changed   chan struct{} // closed and replaced on every publish
	listeners map[int]func(*Result)
	nextID    int
}

// NewEngine returns an engine clipping every snapshot to b.
func NewEngine(b *boundary.Boundary, opts Options, cacheSize int, logger *slog.Logger) (*Engine, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[uint64, *Result](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("result cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		boundary:  b,
		opts:      opts,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		cache:     cache,
		changed:   make(chan struct{}),
		listeners: make(map[int]func(*Result)),
	}, nil
}

// Boundary returns the boundary every result is clipped to.
func (e *Engine) Boundary() *boundary.Boundary { return e.boundary }

// Result returns the memoized result for snap, computing it once however
// many callers ask concurrently.
func (e *Engine) Result(ctx context.Context, snap *site.Snapshot) (*Result, error) {
	if res, ok := e.cache.Get(snap.Version); ok {
		metrics.CacheHitsTotal.Inc()
		return res, nil
	}

	ch := e.flight.DoChan(strconv.FormatUint(snap.Version, 10), func() (any, error) {
		if res, ok := e.cache.Get(snap.Version); ok {
			return res, nil
		}
		res, err := e.compute(snap)
		if err != nil {
			return nil, err
		}
		e.cache.Add(snap.Version, res)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Result), nil
	}
}

func (e *Engine) compute(snap *site.Snapshot) (*Result, error) {
	start := time.Now()
	res, err := Compute(e.ctx, snap, e.boundary, e.opts)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	metrics.RecomputeTotal.WithLabelValues(res.Status.String()).Inc()
	metrics.RecomputeDurationMs.Observe(float64(elapsed.Microseconds()) / 1000)
	metrics.ClipFailuresTotal.Add(float64(len(res.Failures)))
	if res.Status == StatusDegenerateInput {
		metrics.DegenerateSnapshotsTotal.Inc()
	}

	e.logger.Info("regions recomputed",
		"version", snap.Version,
		"sites", snap.Len(),
		"cells", len(res.Cells),
		"markers", len(res.Markers),
		"status", res.Status.String(),
		"elapsed", elapsed,
	)
	for id, ferr := range res.Failures {
		e.logger.Warn("cell clip failed", "site", id, "error", ferr)
	}
	return res, nil
}

// Update computes snap and publishes it. It returns ErrStaleComputation
// when a newer version was submitted in the meantime.
func (e *Engine) Update(ctx context.Context, snap *site.Snapshot) (*Result, error) {
	e.advance(snap.Version)
	res, err := e.Result(ctx, snap)
	if err != nil {
		return nil, err
	}
	if err := e.publish(res); err != nil {
		return nil, err
	}
	return res, nil
}

// Submit schedules Update on a background goroutine.
func (e *Engine) Submit(snap *site.Snapshot) {
	e.advance(snap.Version)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, err := e.Update(e.ctx, snap)
		switch {
		case err == nil:
		case errors.Is(err, ErrStaleComputation):
			e.logger.Debug("dropped superseded result", "version", snap.Version, "latest", e.latest.Load())
		case errors.Is(err, context.Canceled):
		default:
			e.logger.Error("recompute failed", "version", snap.Version, "error", err)
		}
	}()
}

// Wait blocks until version v is published and returns its result. Once a
// newer version is submitted v can no longer be published and Wait returns
// ErrStaleComputation.
func (e *Engine) Wait(ctx context.Context, v uint64) (*Result, error) {
	for {
		e.pubMu.Lock()
		cur, changed := e.current, e.changed
		e.pubMu.Unlock()

		switch {
		case cur != nil && cur.Version == v:
			return cur, nil
		case cur != nil && cur.Version > v, e.latest.Load() > v:
			return nil, ErrStaleComputation
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.ctx.Done():
			return nil, e.ctx.Err()
		case <-changed:
		}
	}
}

// Current returns the last published result, or nil.
func (e *Engine) Current() *Result {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	return e.current
}

// Subscribe registers fn to receive every published result. fn runs on the
// publishing goroutine and must not call back into the engine.
func (e *Engine) Subscribe(fn func(*Result)) func() {
	e.pubMu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.pubMu.Unlock()
	return func() {
		e.pubMu.Lock()
		delete(e.listeners, id)
		e.pubMu.Unlock()
	}
}

// Close cancels in-flight work and waits for background updates.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) advance(v uint64) {
	for {
		cur := e.latest.Load()
		if v <= cur || e.latest.CompareAndSwap(cur, v) {
			return
		}
	}
}

func (e *Engine) publish(res *Result) error {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	if res.Version < e.latest.Load() || (e.current != nil && res.Version < e.current.Version) {
		metrics.StaleDiscardsTotal.Inc()
		return ErrStaleComputation
	}
	e.current = res
	for _, fn := range e.listeners {
		fn(res)
	}
	close(e.changed)
	e.changed = make(chan struct{})
	return nil
}
