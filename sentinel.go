package rediswire

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/flancast90/rediswire-go/internal/pool"
	"github.com/flancast90/rediswire-go/resp"
)

// SentinelRouter executes commands against the primary of a sentinel-
// monitored deployment. The primary's address is resolved by asking the
// sentinels in order; the first usable answer wins and is cached together
// with its pool.
//
// A connection-class failure or a READONLY reply means the primary moved:
// the cached pool is dropped, the address re-resolved, and the command
// retried exactly once. Pipelines are never retried; part of the batch may
// already have run on the demoted node, so a replay would duplicate side
// effects.
type SentinelRouter struct {
	opts      *Options
	sentinels []string
	master    string
	log       zerolog.Logger

	mu   sync.Mutex
	addr string
	pool *pool.Pool
}

var _ Router = (*SentinelRouter)(nil)

// NewSentinelRouter builds a router over the sentinel addresses for the
// named master. Nothing is dialed until first use.
func NewSentinelRouter(opts *Options) (*SentinelRouter, error) {
	opts.setDefaults()
	if len(opts.SentinelAddrs) == 0 {
		return nil, &TopologyError{Mode: "sentinel", Detail: "no sentinel addresses"}
	}
	if opts.MasterName == "" {
		return nil, &TopologyError{Mode: "sentinel", Detail: "no master name"}
	}
	return &SentinelRouter{
		opts:      opts,
		sentinels: opts.SentinelAddrs,
		master:    opts.MasterName,
		log:       opts.logger().With().Str("router", "sentinel").Str("master", opts.MasterName).Logger(),
	}, nil
}

func (r *SentinelRouter) Execute(ctx context.Context, args ...string) (resp.Value, error) {
	p, err := r.masterPool(ctx)
	if err != nil {
		return resp.Value{}, err
	}
	v, err := executeOn(ctx, p, args)
	if err == nil || !r.failedOver(err) {
		return v, err
	}

	p, ferr := r.failover(ctx, p)
	if ferr != nil {
		return resp.Value{}, ferr
	}
	return executeOn(ctx, p, args)
}

func (r *SentinelRouter) ExecutePipeline(ctx context.Context, cmds [][]string) ([]resp.Value, error) {
	if len(cmds) == 0 {
		return []resp.Value{}, nil
	}
	p, err := r.masterPool(ctx)
	if err != nil {
		return nil, err
	}
	replies, err := pipelineOn(ctx, p, cmds)
	if err != nil && r.failedOver(err) {
		// Commands before the failing index may already have executed on
		// the demoted node, so the batch cannot be replayed. Drop the
		// stale pool and let the next call re-resolve.
		r.invalidate(p)
	}
	return replies, err
}

// invalidate closes and forgets the cached pool if it is still the one the
// failure came from. A concurrent failover that already swapped it wins.
func (r *SentinelRouter) invalidate(stale *pool.Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool == nil || r.pool != stale {
		return
	}
	_ = r.pool.Close()
	r.pool = nil
	r.log.Info().Str("addr", r.addr).Msg("primary invalidated")
}

// failedOver reports whether err suggests the cached primary is stale: the
// node is unreachable, or it answered READONLY because it was demoted.
func (r *SentinelRouter) failedOver(err error) bool {
	if serr, ok := AsServerError(err); ok {
		return serr.Kind == resp.KindReadOnly
	}
	// Non-server errors from executeOn are connection-class (dial, I/O,
	// protocol). A desynchronized stream also warrants re-resolution.
	return true
}

// masterPool returns the cached primary pool, resolving on first use.
func (r *SentinelRouter) masterPool(ctx context.Context) (*pool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		return r.pool, nil
	}
	addr, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	r.addr = addr
	r.pool = pool.New(poolConfig(r.opts, addr))
	return r.pool, nil
}

// failover drops stale (the pool the failure came from) and resolves a
// fresh primary. A concurrent failover that already swapped the pool wins;
// the current pool is returned either way.
func (r *SentinelRouter) failover(ctx context.Context, stale *pool.Pool) (*pool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil && r.pool != stale {
		return r.pool, nil
	}
	if r.pool != nil {
		_ = r.pool.Close()
		r.pool = nil
	}

	addr, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("old", r.addr).Str("new", addr).Msg("primary re-resolved")
	r.addr = addr
	r.pool = pool.New(poolConfig(r.opts, addr))
	return r.pool, nil
}

// resolve asks each sentinel, in configured order, for the master address.
// Sentinels answer SENTINEL get-master-addr-by-name with [host, port].
func (r *SentinelRouter) resolve(ctx context.Context) (string, error) {
	var lastErr error
	for _, saddr := range r.sentinels {
		addr, err := r.askSentinel(ctx, saddr)
		if err != nil {
			r.log.Debug().Str("sentinel", saddr).Err(err).Msg("sentinel did not resolve master")
			lastErr = err
			continue
		}
		return addr, nil
	}
	return "", &TopologyError{
		Mode:   "sentinel",
		Detail: "no sentinel could resolve master " + r.master,
		Err:    lastErr,
	}
}

func (r *SentinelRouter) askSentinel(ctx context.Context, saddr string) (string, error) {
	// Sentinels speak the plain protocol without auth or database
	// selection; only the data-plane credentials apply to the master.
	conn, err := pool.Dial(ctx, pool.Config{
		Addr:           saddr,
		ConnectTimeout: r.opts.ConnectTimeout,
		ReadTimeout:    r.opts.ReadTimeout,
		MaxBufferSize:  r.opts.MaxBufferSize,
		Limits:         r.opts.Limits,
		Logger:         r.opts.logger(),
	})
	if err != nil {
		return "", err
	}
	defer conn.Close()

	v, err := conn.Do(ctx, "SENTINEL", "get-master-addr-by-name", r.master)
	if err != nil {
		return "", err
	}
	if serr, ok := v.AsError(); ok {
		return "", serr
	}
	fields, ok := v.AsArray()
	if !ok || len(fields) != 2 {
		return "", &TopologyError{
			Mode:   "sentinel",
			Detail: "unexpected get-master-addr-by-name reply for master " + r.master,
		}
	}
	host, ok1 := fields[0].AsStr()
	port, ok2 := fields[1].AsStr()
	if !ok1 || !ok2 || host == "" || port == "" {
		return "", &TopologyError{Mode: "sentinel", Detail: "malformed master address from sentinel"}
	}
	return host + ":" + port, nil
}

// MasterAddr returns the currently cached primary address, if resolved.
func (r *SentinelRouter) MasterAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

func (r *SentinelRouter) IdleConns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool == nil {
		return 0
	}
	return r.pool.IdleCount()
}

func (r *SentinelRouter) AvailablePermits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool == nil {
		return 0
	}
	return r.pool.Available()
}

func (r *SentinelRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		err := r.pool.Close()
		r.pool = nil
		return err
	}
	return nil
}
