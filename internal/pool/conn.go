// Package pool manages TCP connections to a single server address: dialing
// and handshake, the buffered read loop that feeds the wire decoder, and a
// fixed-size pool with LIFO reuse and idle expiry.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/flancast90/rediswire-go/resp"
)

const initialBufSize = 64 * 1024

// ErrTLSUnsupported is returned when a config asks for an encrypted
// connection. TLS is not implemented; refusing loudly beats silently
// connecting in cleartext.
var ErrTLSUnsupported = errors.New("pool: TLS connections (rediss://) are not supported")

// Config carries everything needed to dial, authenticate, and pool
// connections to one address.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int

	// Protocol selects the wire protocol: 2 (default) or 3 (HELLO 3 is
	// sent during the handshake).
	Protocol int

	// TLS requests an encrypted connection. Dialing fails with
	// ErrTLSUnsupported when set.
	TLS bool

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration // 0 means no read deadline
	IdleTimeout    time.Duration

	// MaxBufferSize caps the reply accumulation buffer. A single reply
	// larger than this is a protocol error, not an allocation.
	MaxBufferSize int

	// Size is the pool's connection cap.
	Size int

	Limits resp.Limits
	Logger zerolog.Logger
}

// Conn is one established, handshaken connection. It is not safe for
// concurrent use; the pool hands each conn to one caller at a time.
type Conn struct {
	nc          net.Conn
	addr        string
	buf         []byte
	readTimeout time.Duration
	maxBuf      int
	limits      resp.Limits
	lastUsed    time.Time
	broken      bool
}

// Dial establishes and initializes a connection per cfg: TCP with
// TCP_NODELAY, then the handshake (HELLO for protocol 3, AUTH when
// credentials are set, SELECT for a non-zero db). Any handshake failure
// closes the socket and is returned as-is.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.TLS {
		return nil, ErrTLSUnsupported
	}

	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("pool: dial %s: %w", cfg.Addr, err)
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	limits := cfg.Limits
	if limits.MaxElements == 0 {
		limits = resp.DefaultLimits()
	}
	if cfg.MaxBufferSize > 0 {
		limits.MaxBulkLen = int64(cfg.MaxBufferSize)
	}

	c := &Conn{
		nc:          nc,
		addr:        cfg.Addr,
		readTimeout: cfg.ReadTimeout,
		maxBuf:      cfg.MaxBufferSize,
		limits:      limits,
		lastUsed:    time.Now(),
	}
	if err := c.handshake(ctx, cfg); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("pool: handshake with %s: %w", cfg.Addr, err)
	}
	return c, nil
}

func (c *Conn) handshake(ctx context.Context, cfg Config) error {
	if cfg.Protocol == 3 {
		args := []string{"HELLO", "3"}
		if cfg.Password != "" {
			user := cfg.Username
			if user == "" {
				user = "default"
			}
			args = append(args, "AUTH", user, cfg.Password)
		}
		if err := c.expectOK(ctx, args...); err != nil {
			return err
		}
	} else if cfg.Password != "" {
		args := []string{"AUTH"}
		if cfg.Username != "" {
			args = append(args, cfg.Username)
		}
		args = append(args, cfg.Password)
		if err := c.expectOK(ctx, args...); err != nil {
			return err
		}
	}
	if cfg.DB != 0 {
		if err := c.expectOK(ctx, "SELECT", strconv.Itoa(cfg.DB)); err != nil {
			return err
		}
	}
	return nil
}

// expectOK runs a command and fails on an error frame. Non-error replies of
// any shape pass (HELLO answers with a map).
func (c *Conn) expectOK(ctx context.Context, args ...string) error {
	reply, err := c.Do(ctx, args...)
	if err != nil {
		return err
	}
	if serr, ok := reply.AsError(); ok {
		return fmt.Errorf("%s: %w", args[0], serr)
	}
	return nil
}

// Do writes one command and reads its reply. Server error frames are
// returned as values, not Go errors; callers decide how to surface them.
func (c *Conn) Do(ctx context.Context, args ...string) (resp.Value, error) {
	if err := c.Write(ctx, resp.EncodeCommand(args...)); err != nil {
		return resp.Value{}, err
	}
	return c.ReadReply(ctx)
}

// Write sends raw pre-encoded bytes (a command or a whole pipeline).
func (c *Conn) Write(ctx context.Context, p []byte) error {
	if err := c.nc.SetWriteDeadline(c.deadline(ctx)); err != nil {
		c.broken = true
		return fmt.Errorf("pool: write %s: %w", c.addr, err)
	}
	if _, err := c.nc.Write(p); err != nil {
		c.broken = true
		return fmt.Errorf("pool: write %s: %w", c.addr, err)
	}
	return nil
}

// ReadReply reads one complete reply, growing the accumulation buffer as
// needed up to MaxBufferSize. The frame's storage is handed to the returned
// value; the remainder (a pipelined follow-up reply, typically nothing) is
// copied into a fresh buffer so the value never gets clobbered by later
// reads.
func (c *Conn) ReadReply(ctx context.Context) (resp.Value, error) {
	for {
		if len(c.buf) > 0 {
			v, n, err := resp.Parse(c.buf, c.limits)
			if err == nil {
				c.giveAway(n)
				return v, nil
			}
			if !errors.Is(err, resp.ErrIncomplete) {
				c.broken = true
				return resp.Value{}, err
			}
		}
		if err := c.fill(ctx); err != nil {
			return resp.Value{}, err
		}
	}
}

// ReadRawReply reads one complete reply and returns its untouched wire
// bytes.
func (c *Conn) ReadRawReply(ctx context.Context) ([]byte, error) {
	for {
		if len(c.buf) > 0 {
			n, err := resp.FrameLen(c.buf, c.limits)
			if err == nil {
				frame := c.buf[:n]
				c.giveAway(n)
				return frame, nil
			}
			if !errors.Is(err, resp.ErrIncomplete) {
				c.broken = true
				return nil, err
			}
		}
		if err := c.fill(ctx); err != nil {
			return nil, err
		}
	}
}

// giveAway releases the first n buffered bytes to the caller and moves any
// leftover into a fresh backing array.
func (c *Conn) giveAway(n int) {
	rest := c.buf[n:]
	if len(rest) == 0 {
		c.buf = nil
		return
	}
	c.buf = append(make([]byte, 0, max(len(rest), initialBufSize)), rest...)
}

// fill performs one read into the accumulation buffer.
func (c *Conn) fill(ctx context.Context) error {
	if c.maxBuf > 0 && len(c.buf) >= c.maxBuf {
		c.broken = true
		return &resp.ProtocolError{Reason: fmt.Sprintf("reply exceeds maximum buffer size %d", c.maxBuf)}
	}
	if cap(c.buf) == len(c.buf) {
		grown := max(cap(c.buf)*2, initialBufSize)
		if c.maxBuf > 0 && grown > c.maxBuf {
			grown = c.maxBuf
		}
		nb := make([]byte, len(c.buf), grown)
		copy(nb, c.buf)
		c.buf = nb
	}

	if err := c.nc.SetReadDeadline(c.deadline(ctx)); err != nil {
		c.broken = true
		return fmt.Errorf("pool: read %s: %w", c.addr, err)
	}
	n, err := c.nc.Read(c.buf[len(c.buf):cap(c.buf)])
	c.buf = c.buf[:len(c.buf)+n]
	if err != nil {
		c.broken = true
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("pool: %s closed the connection mid-reply: %w", c.addr, err)
		}
		return fmt.Errorf("pool: read %s: %w", c.addr, err)
	}
	return nil
}

// deadline picks the earlier of the context deadline and the configured
// read timeout. Zero (no deadline) only when neither is set.
func (c *Conn) deadline(ctx context.Context) time.Time {
	var t time.Time
	if c.readTimeout > 0 {
		t = time.Now().Add(c.readTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (t.IsZero() || d.Before(t)) {
		t = d
	}
	return t
}

// RemoteAddr returns the address the connection was dialed to.
func (c *Conn) RemoteAddr() string { return c.addr }

// Broken reports whether the connection hit an I/O or protocol failure and
// must not be reused.
func (c *Conn) Broken() bool { return c.broken }

// MarkBroken forces the connection to be discarded on release.
func (c *Conn) MarkBroken() { c.broken = true }

// Close closes the underlying socket.
func (c *Conn) Close() error { return c.nc.Close() }
