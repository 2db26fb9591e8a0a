package rediswire

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flancast90/rediswire-go/resp"
)

// Options configures a client or router.
type Options struct {
	// Addr is the server address in "host:port" format.
	// Default: "127.0.0.1:6379"
	Addr string

	// Username for ACL authentication. Ignored unless Password is set.
	Username string

	// Password for authentication.
	Password string

	// DB is the database number selected during the handshake.
	// Default: 0
	DB int

	// TLS requests an encrypted connection. TLS is not implemented, so
	// connecting with this set fails loudly rather than silently using
	// cleartext.
	TLS bool

	// Protocol selects the wire protocol version: 2 or 3. With 3, the
	// handshake sends HELLO 3. Default: 2
	Protocol int

	// PoolSize is the maximum number of connections per address.
	// Default: 8
	PoolSize int

	// ConnectTimeout bounds dialing a new connection.
	// Default: 5s
	ConnectTimeout time.Duration

	// ReadTimeout bounds each socket read while waiting for a reply.
	// Default: 30s. Use -1 for no read deadline.
	ReadTimeout time.Duration

	// IdleTimeout is how long a pooled connection may sit unused before
	// it is discarded instead of reused.
	// Default: 5m. Use -1 to never expire idle connections.
	IdleTimeout time.Duration

	// MaxBufferSize caps the per-connection reply buffer. A single reply
	// larger than this is a protocol error rather than an allocation.
	// Default: 512 MiB
	MaxBufferSize int

	// Limits bounds the structures the reply decoder will build. The
	// zero value means resp.DefaultLimits.
	Limits resp.Limits

	// Logger receives connection and routing lifecycle events.
	// Default: a no-op logger.
	Logger *zerolog.Logger

	// ClusterAddrs are cluster seed addresses. When set (directly or via
	// a redis+cluster:// URL) the client routes by key slot.
	ClusterAddrs []string

	// ReadFromReplicas routes read-only commands to replica nodes in
	// cluster mode.
	ReadFromReplicas bool

	// SentinelAddrs and MasterName select sentinel routing: the master
	// address is resolved by asking the sentinels, in order.
	SentinelAddrs []string
	MasterName    string
}

func (o *Options) setDefaults() {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:6379"
	}
	if o.Protocol == 0 {
		o.Protocol = 2
	}
	if o.PoolSize == 0 {
		o.PoolSize = 8
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	switch {
	case o.ReadTimeout == 0:
		o.ReadTimeout = 30 * time.Second
	case o.ReadTimeout < 0:
		o.ReadTimeout = 0
	}
	switch {
	case o.IdleTimeout == 0:
		o.IdleTimeout = 5 * time.Minute
	case o.IdleTimeout < 0:
		o.IdleTimeout = 0
	}
	if o.MaxBufferSize == 0 {
		o.MaxBufferSize = 512 * 1024 * 1024
	}
	if o.Limits.MaxElements == 0 {
		o.Limits = resp.DefaultLimits()
	}
}

func (o *Options) logger() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return zerolog.Nop()
}

const (
	defaultPort         = "6379"
	defaultSentinelPort = "26379"
)

// ParseURL builds Options from a connection URL. Supported forms:
//
//	redis://[user:pass@]host[:port][/db]
//	rediss://[user:pass@]host[:port][/db]         (TLS; rejected at connect)
//	redis+cluster://[user:pass@]host[:port],host[:port],...
//	redis+sentinel://[user:pass@]master@host[:port],host[:port],...[/db]
//
// IPv6 hosts use brackets: redis://[::1]:6379. Sentinel hosts default to
// port 26379, everything else to 6379.
func ParseURL(rawURL string) (*Options, error) {
	scheme, rest, found := strings.Cut(rawURL, "://")
	if !found {
		return nil, fmt.Errorf("rediswire: URL %q has no scheme", rawURL)
	}

	opts := &Options{}
	switch scheme {
	case "redis":
	case "rediss":
		opts.TLS = true
	case "redis+cluster":
	case "redis+sentinel":
	default:
		return nil, fmt.Errorf("rediswire: unsupported URL scheme %q", scheme)
	}

	// Database suffix. The authority never contains '/', so the first
	// slash always starts it.
	if hosts, db, ok := strings.Cut(rest, "/"); ok {
		if scheme == "redis+cluster" {
			return nil, fmt.Errorf("rediswire: cluster URLs do not take a /db suffix")
		}
		n, err := strconv.Atoi(db)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("rediswire: invalid database %q in URL", db)
		}
		opts.DB = n
		rest = hosts
	}

	// Authority: [user[:pass]@][master@]hosts. The master segment only
	// exists for sentinel URLs.
	segments := strings.Split(rest, "@")
	hostList := segments[len(segments)-1]
	segments = segments[:len(segments)-1]

	if scheme == "redis+sentinel" {
		if len(segments) == 0 || segments[len(segments)-1] == "" {
			return nil, fmt.Errorf("rediswire: sentinel URL %q names no master", rawURL)
		}
		opts.MasterName = segments[len(segments)-1]
		segments = segments[:len(segments)-1]
	}

	switch len(segments) {
	case 0:
	case 1:
		user, pass, hasPass := strings.Cut(segments[0], ":")
		if hasPass {
			opts.Username = user
			opts.Password = pass
		} else {
			// A lone userinfo token is a password, matching the common
			// redis://secret@host form.
			opts.Password = user
		}
	default:
		return nil, fmt.Errorf("rediswire: malformed authority in URL %q", rawURL)
	}

	port := defaultPort
	if scheme == "redis+sentinel" {
		port = defaultSentinelPort
	}
	var addrs []string
	for _, h := range strings.Split(hostList, ",") {
		addr, err := normalizeHostPort(h, port)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}

	switch scheme {
	case "redis+cluster":
		opts.ClusterAddrs = addrs
	case "redis+sentinel":
		opts.SentinelAddrs = addrs
	default:
		if len(addrs) != 1 {
			return nil, fmt.Errorf("rediswire: %s URLs take a single host", scheme)
		}
		opts.Addr = addrs[0]
	}
	return opts, nil
}

// normalizeHostPort validates host[:port] (IPv6 in brackets) and fills in
// the default port.
func normalizeHostPort(h, defPort string) (string, error) {
	if h == "" {
		return "", fmt.Errorf("rediswire: empty host in URL")
	}
	if h[0] == '[' {
		end := strings.IndexByte(h, ']')
		if end < 0 {
			return "", fmt.Errorf("rediswire: unterminated IPv6 host %q", h)
		}
		rest := h[end+1:]
		if rest == "" {
			return h + ":" + defPort, nil
		}
		if rest[0] != ':' || !validPort(rest[1:]) {
			return "", fmt.Errorf("rediswire: invalid port in %q", h)
		}
		return h, nil
	}
	host, port, found := strings.Cut(h, ":")
	if !found {
		return h + ":" + defPort, nil
	}
	if host == "" || !validPort(port) {
		return "", fmt.Errorf("rediswire: invalid host:port %q", h)
	}
	return h, nil
}

func validPort(p string) bool {
	n, err := strconv.Atoi(p)
	return err == nil && n > 0 && n <= 65535
}

// QueryOptions configures a graph query execution.
type QueryOptions struct {
	// Params are substituted into the query via the CYPHER parameter
	// prefix. Values are escaped; strings cannot break out of their
	// literal.
	Params map[string]interface{}

	// Timeout is the server-side query timeout in milliseconds.
	// A value of 0 means no timeout.
	Timeout int
}
