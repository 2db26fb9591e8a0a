package rediswire

import (
	"context"

	"github.com/flancast90/rediswire-go/resp"
)

// Client is the top-level handle. It owns a Router picked from the options
// (standalone by default, cluster or sentinel when the options name seeds
// or a master) and decodes nothing itself: replies come back as resp.Value.
//
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	router Router
	opts   *Options
}

// Connect builds a client for opts. No connection is dialed until the first
// command; configuration problems (an unsupported TLS request, missing
// cluster seeds) still fail here or on first use, never silently.
//
// Example:
//
//	db, err := rediswire.Connect(ctx, &rediswire.Options{
//		Addr:     "localhost:6379",
//		Password: "secret",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
func Connect(ctx context.Context, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	opts.setDefaults()

	var (
		router Router
		err    error
	)
	switch {
	case len(opts.ClusterAddrs) > 0:
		router, err = NewClusterRouter(opts)
	case len(opts.SentinelAddrs) > 0 || opts.MasterName != "":
		router, err = NewSentinelRouter(opts)
	default:
		router = NewStandaloneRouter(opts)
	}
	if err != nil {
		return nil, err
	}
	return &Client{router: router, opts: opts}, nil
}

// ConnectURL is Connect for a connection URL (see ParseURL for the
// supported forms).
func ConnectURL(ctx context.Context, rawURL string) (*Client, error) {
	opts, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return Connect(ctx, opts)
}

// Do executes one command and returns the decoded reply. Server error
// frames are returned as a *resp.ServerError, classified by their leading
// token.
//
// Example:
//
//	v, err := db.Do(ctx, "SET", "greeting", "hello")
//	v, err = db.Do(ctx, "GET", "greeting")
//	s, _ := v.AsStr() // "hello"
func (c *Client) Do(ctx context.Context, args ...string) (resp.Value, error) {
	return c.router.Execute(ctx, args...)
}

// Pipeline starts an empty command batch bound to this client.
func (c *Client) Pipeline() *Pipeline {
	return &Pipeline{router: c.router}
}

// SelectGraph returns a handle for the named graph. The graph does not need
// to exist; it is created on first write.
func (c *Client) SelectGraph(name string) *Graph {
	return &Graph{name: name, router: c.router, schema: newGraphSchema()}
}

// Ping verifies the server answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.router.Execute(ctx, "PING")
	return err
}

// Info returns server information, optionally narrowed to one section.
func (c *Client) Info(ctx context.Context, section ...string) (string, error) {
	args := []string{"INFO"}
	if len(section) > 0 {
		args = append(args, section[0])
	}
	v, err := c.router.Execute(ctx, args...)
	if err != nil {
		return "", err
	}
	s, _ := v.AsStr()
	return s, nil
}

// IdleConns reports idle pooled connections across the topology.
func (c *Client) IdleConns() int { return c.router.IdleConns() }

// AvailablePermits reports free pool capacity across the topology.
func (c *Client) AvailablePermits() int { return c.router.AvailablePermits() }

// Close releases all pooled connections.
func (c *Client) Close() error { return c.router.Close() }
