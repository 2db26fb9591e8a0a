package rediswire

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/flancast90/rediswire-go/internal/pool"
	"github.com/flancast90/rediswire-go/resp"
)

// Router executes commands against some topology: a single server, a slot-
// sharded cluster, or a sentinel-monitored primary. All three
// implementations share the same contract:
//
//   - Execute returns the decoded reply; a server error frame comes back as
//     a *resp.ServerError, never as a value.
//   - ExecutePipeline sends the whole batch as one write and reads replies
//     in order, stopping at the first error frame (*PipelineError).
//
// Routers are safe for concurrent use.
type Router interface {
	Execute(ctx context.Context, args ...string) (resp.Value, error)
	ExecutePipeline(ctx context.Context, cmds [][]string) ([]resp.Value, error)

	// IdleConns and AvailablePermits expose pool occupancy for
	// monitoring. For multi-pool routers they are summed over nodes.
	IdleConns() int
	AvailablePermits() int

	Close() error
}

// StandaloneRouter executes every command against one address through one
// pool. Connections are dialed lazily on first use.
type StandaloneRouter struct {
	pool *pool.Pool
	log  zerolog.Logger
}

var _ Router = (*StandaloneRouter)(nil)

// NewStandaloneRouter builds a router for opts.Addr. It does not dial.
func NewStandaloneRouter(opts *Options) *StandaloneRouter {
	opts.setDefaults()
	return &StandaloneRouter{
		pool: pool.New(poolConfig(opts, opts.Addr)),
		log:  opts.logger().With().Str("router", "standalone").Logger(),
	}
}

// poolConfig maps client options onto a pool config for one address.
func poolConfig(opts *Options, addr string) pool.Config {
	return pool.Config{
		Addr:           addr,
		Username:       opts.Username,
		Password:       opts.Password,
		DB:             opts.DB,
		Protocol:       opts.Protocol,
		TLS:            opts.TLS,
		ConnectTimeout: opts.ConnectTimeout,
		ReadTimeout:    opts.ReadTimeout,
		IdleTimeout:    opts.IdleTimeout,
		MaxBufferSize:  opts.MaxBufferSize,
		Size:           opts.PoolSize,
		Limits:         opts.Limits,
		Logger:         opts.logger(),
	}
}

func (r *StandaloneRouter) Execute(ctx context.Context, args ...string) (resp.Value, error) {
	return executeOn(ctx, r.pool, args)
}

// executeOn runs one command on a pool. A server error frame is surfaced as
// an error without discarding the connection; the conversation on the wire
// is still in sync.
func executeOn(ctx context.Context, p *pool.Pool, args []string) (resp.Value, error) {
	var v resp.Value
	err := p.With(ctx, func(c *pool.Conn) error {
		var err error
		v, err = c.Do(ctx, args...)
		return err
	})
	if err != nil {
		return resp.Value{}, err
	}
	if serr, ok := v.AsError(); ok {
		return resp.Value{}, serr
	}
	return v, nil
}

// ExecuteRaw runs one command and returns the reply's untouched wire bytes.
// The frame is validated for shape but never decoded, which is the cheap
// path for proxying replies elsewhere.
func (r *StandaloneRouter) ExecuteRaw(ctx context.Context, args ...string) ([]byte, error) {
	var frame []byte
	err := r.pool.With(ctx, func(c *pool.Conn) error {
		if err := c.Write(ctx, resp.EncodeCommand(args...)); err != nil {
			return err
		}
		var err error
		frame, err = c.ReadRawReply(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return frame, nil
}

func (r *StandaloneRouter) ExecutePipeline(ctx context.Context, cmds [][]string) ([]resp.Value, error) {
	return pipelineOn(ctx, r.pool, cmds)
}

// pipelineOn writes the whole batch in one contiguous buffer, then reads
// replies in order. The first error frame aborts: later replies are never
// parsed and the connection is discarded along with them.
func pipelineOn(ctx context.Context, p *pool.Pool, cmds [][]string) ([]resp.Value, error) {
	if len(cmds) == 0 {
		return []resp.Value{}, nil
	}
	buf := resp.EncodePipeline(cmds)
	replies := make([]resp.Value, 0, len(cmds))
	err := p.With(ctx, func(c *pool.Conn) error {
		if err := c.Write(ctx, buf); err != nil {
			return err
		}
		for i := range cmds {
			v, err := c.ReadReply(ctx)
			if err != nil {
				return err
			}
			if serr, ok := v.AsError(); ok {
				return &PipelineError{Index: i, Err: serr}
			}
			replies = append(replies, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replies, nil
}

func (r *StandaloneRouter) IdleConns() int        { return r.pool.IdleCount() }
func (r *StandaloneRouter) AvailablePermits() int { return r.pool.Available() }

func (r *StandaloneRouter) Close() error { return r.pool.Close() }
