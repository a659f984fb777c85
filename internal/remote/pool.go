package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/juste-un-gars/scpsync/internal/metrics"
)

const (
	// DefaultIdleTimeout is how long an unused session stays pooled.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultSweepInterval is how often idle sessions are reclaimed.
	DefaultSweepInterval = time.Minute
)

// Pool caches one session per endpoint and reclaims idle ones.
type Pool struct {
	dialer         Dialer
	logger         *zap.Logger
	clock          clockwork.Clock
	fs             afero.Fs
	connectTimeout time.Duration
	idleTimeout    time.Duration
	sweepInterval  time.Duration

	mu     sync.Mutex
	conns  map[string]*pooledConnection
	closed bool

	group singleflight.Group
	done  chan struct{}
	wg    sync.WaitGroup
}

type pooledConnection struct {
	session  Session
	lastUsed time.Time
	active   bool
	inUse    int
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Total  int
	Active int
	InUse  int
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithClock replaces the clock used for idle tracking.
func WithClock(c clockwork.Clock) PoolOption {
	return func(p *Pool) { p.clock = c }
}

// WithFs replaces the local filesystem used by transfers.
func WithFs(fs afero.Fs) PoolOption {
	return func(p *Pool) { p.fs = fs }
}

// WithConnectTimeout bounds session establishment.
func WithConnectTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.connectTimeout = d }
}

// WithIdleTimeout sets how long an unused session is kept.
func WithIdleTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.idleTimeout = d }
}

// WithSweepInterval sets how often idle sessions are reclaimed.
func WithSweepInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.sweepInterval = d }
}

// NewPool creates a pool and starts its idle sweep.
func NewPool(dialer Dialer, logger *zap.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		dialer:         dialer,
		logger:         logger.With(zap.String("component", "connection-pool")),
		clock:          clockwork.NewRealClock(),
		fs:             afero.NewOsFs(),
		connectTimeout: DefaultConnectTimeout,
		idleTimeout:    DefaultIdleTimeout,
		sweepInterval:  DefaultSweepInterval,
		conns:          make(map[string]*pooledConnection),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	ticker := p.clock.NewTicker(p.sweepInterval)
	p.wg.Add(1)
	go p.cleanupLoop(ticker)

	return p
}

// GetConnection returns the pooled session for info, dialing when there is
// no active one. Concurrent callers for the same endpoint share one dial.
func (p *Pool) GetConnection(ctx context.Context, info ConnectionInfo) (Session, error) {
	s, release, err := p.acquire(ctx, info)
	if err != nil {
		return nil, err
	}
	release()
	return s, nil
}

// acquire marks the session in use until release is called, which keeps
// the sweep from closing it mid-operation.
func (p *Pool) acquire(ctx context.Context, info ConnectionInfo) (Session, func(), error) {
	key := info.Key()

	if s, ok, err := p.checkout(key); err != nil || ok {
		if err != nil {
			return nil, nil, err
		}
		return s, p.releaser(key, s), nil
	}

	ch := p.group.DoChan(key, func() (interface{}, error) {
		return p.dial(ctx, key, info)
	})

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, nil, res.Err
		}
	}

	s, ok, err := p.checkout(key)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionClosed, key)
	}
	return s, p.releaser(key, s), nil
}

func (p *Pool) checkout(key string) (Session, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false, ErrPoolClosed
	}

	pc, ok := p.conns[key]
	if !ok || !pc.active {
		return nil, false, nil
	}
	pc.inUse++
	pc.lastUsed = p.clock.Now()
	return pc.session, true, nil
}

func (p *Pool) releaser(key string, s Session) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if pc, ok := p.conns[key]; ok && pc.session == s {
				if pc.inUse > 0 {
					pc.inUse--
				}
				pc.lastUsed = p.clock.Now()
			}
		})
	}
}

func (p *Pool) dial(ctx context.Context, key string, info ConnectionInfo) (interface{}, error) {
	p.mu.Lock()
	if pc, ok := p.conns[key]; ok {
		if pc.active {
			p.mu.Unlock()
			return nil, nil
		}
		delete(p.conns, key)
		metrics.PoolConnections.Dec()
		metrics.PoolEvictions.WithLabelValues("closed").Inc()
		go pc.session.Close()
	}
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.connectTimeout)
	defer cancel()

	p.logger.Debug("dialing", zap.String("endpoint", key))
	s, err := p.dialer.Dial(dialCtx, info)
	if err != nil {
		metrics.PoolDials.WithLabelValues("failure").Inc()
		p.logger.Warn("connection failed", zap.String("endpoint", key), zap.Error(err))
		if dialCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConnectionTimeout, key, err)
		}
		return nil, err
	}
	metrics.PoolDials.WithLabelValues("success").Inc()

	pc := &pooledConnection{session: s, lastUsed: p.clock.Now(), active: true}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.Close()
		return nil, ErrPoolClosed
	}
	p.conns[key] = pc
	p.wg.Add(1)
	p.mu.Unlock()
	metrics.PoolConnections.Inc()

	go p.watch(key, pc)

	p.logger.Info("connection established", zap.String("endpoint", key))
	return nil, nil
}

// watch marks a session inactive once its transport ends.
func (p *Pool) watch(key string, pc *pooledConnection) {
	defer p.wg.Done()

	select {
	case <-pc.session.Done():
	case <-p.done:
		return
	}

	p.mu.Lock()
	if cur, ok := p.conns[key]; ok && cur == pc {
		pc.active = false
	}
	p.mu.Unlock()

	p.logger.Info("connection ended", zap.String("endpoint", key))
}

func (p *Pool) cleanupLoop(ticker clockwork.Ticker) {
	defer p.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.Chan():
			p.sweep()
		}
	}
}

// sweep closes sessions idle past the threshold and drops ended ones.
func (p *Pool) sweep() {
	now := p.clock.Now()

	var stale []Session
	p.mu.Lock()
	for key, pc := range p.conns {
		reason := ""
		switch {
		case !pc.active && pc.inUse == 0:
			reason = "closed"
		case pc.inUse == 0 && now.Sub(pc.lastUsed) > p.idleTimeout:
			reason = "idle"
		default:
			continue
		}
		delete(p.conns, key)
		stale = append(stale, pc.session)
		metrics.PoolConnections.Dec()
		metrics.PoolEvictions.WithLabelValues(reason).Inc()
		p.logger.Debug("evicting connection",
			zap.String("endpoint", key),
			zap.String("reason", reason))
	}
	p.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
}

// Invalidate closes and forgets the session for key, if any.
func (p *Pool) Invalidate(key string) {
	p.mu.Lock()
	pc, ok := p.conns[key]
	if ok {
		delete(p.conns, key)
	}
	p.mu.Unlock()

	if ok {
		metrics.PoolConnections.Dec()
		metrics.PoolEvictions.WithLabelValues("invalidated").Inc()
		pc.session.Close()
		p.logger.Info("connection invalidated", zap.String("endpoint", key))
	}
}

// CloseAllConnections closes every pooled session. The pool stays usable.
func (p *Pool) CloseAllConnections() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*pooledConnection)
	p.mu.Unlock()

	for _, pc := range conns {
		metrics.PoolConnections.Dec()
		metrics.PoolEvictions.WithLabelValues("shutdown").Inc()
		pc.session.Close()
	}
	if len(conns) > 0 {
		p.logger.Info("closed all connections", zap.Int("count", len(conns)))
	}
}

// Close stops the sweep and closes every session.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.CloseAllConnections()
	p.wg.Wait()
	return nil
}

// Count returns the number of pooled sessions.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stats PoolStats
	stats.Total = len(p.conns)
	for _, pc := range p.conns {
		if pc.active {
			stats.Active++
		}
		if pc.inUse > 0 {
			stats.InUse++
		}
	}
	return stats
}
