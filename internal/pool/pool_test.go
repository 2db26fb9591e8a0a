package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"
)

func TestPoolGetPut(t *testing.T) {
	addr := startServer(t, pingHandler)
	p := New(testConfig(addr))
	defer p.Close()
	ctx := context.Background()

	if p.Size() != 2 || p.Available() != 2 || p.IdleCount() != 0 {
		t.Fatalf("fresh pool: size=%d available=%d idle=%d", p.Size(), p.Available(), p.IdleCount())
	}

	conn, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Available() != 1 {
		t.Errorf("Available = %d after Get, expected 1", p.Available())
	}

	p.Put(conn, nil)
	if p.Available() != 2 || p.IdleCount() != 1 {
		t.Errorf("after Put: available=%d idle=%d, expected 2/1", p.Available(), p.IdleCount())
	}
}

func TestPoolReuse(t *testing.T) {
	addr := startServer(t, pingHandler)
	p := New(testConfig(addr))
	defer p.Close()
	ctx := context.Background()

	c1, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	p.Put(c1, nil)

	c2, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer p.Put(c2, nil)

	if c1 != c2 {
		t.Error("idle connection was not reused")
	}
}

func TestPoolLIFO(t *testing.T) {
	addr := startServer(t, pingHandler)
	p := New(testConfig(addr))
	defer p.Close()
	ctx := context.Background()

	c1, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	c2, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	p.Put(c1, nil)
	p.Put(c2, nil)

	// Most recently returned first
	got, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != c2 {
		t.Error("expected the most recently returned connection")
	}
	p.Put(got, nil)
}

func TestPoolCapacityBlocks(t *testing.T) {
	addr := startServer(t, pingHandler)
	cfg := testConfig(addr)
	cfg.Size = 1
	p := New(cfg)
	defer p.Close()
	ctx := context.Background()

	conn, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// Pool exhausted: a second Get must block until the context gives up
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = p.Get(shortCtx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// After release the permit frees up
	p.Put(conn, nil)
	c2, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get after release failed: %v", err)
	}
	p.Put(c2, nil)
}

func TestPoolConcurrentCapacity(t *testing.T) {
	// Hammer the pool from more goroutines than it has permits: the number
	// of simultaneously checked-out connections must never exceed Size, and
	// everything must be back once the callers drain.
	addr := startServer(t, pingHandler)
	cfg := testConfig(addr)
	cfg.Size = 3
	p := New(cfg)
	defer p.Close()
	ctx := context.Background()

	var inFlight, peak int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				err := p.With(ctx, func(c *Conn) error {
					n := atomic.AddInt32(&inFlight, 1)
					defer atomic.AddInt32(&inFlight, -1)
					for {
						old := atomic.LoadInt32(&peak)
						if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
							break
						}
					}
					_, err := c.Do(ctx, "PING")
					return err
				})
				if err != nil {
					t.Errorf("With failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := int(atomic.LoadInt32(&peak)); got > cfg.Size {
		t.Errorf("peak checked-out = %d, exceeds pool size %d", got, cfg.Size)
	}
	if p.Available() != cfg.Size {
		t.Errorf("Available = %d after drain, expected %d", p.Available(), cfg.Size)
	}
	if p.IdleCount() > cfg.Size {
		t.Errorf("IdleCount = %d, exceeds pool size %d", p.IdleCount(), cfg.Size)
	}
}

func TestPoolGetTimeoutCounter(t *testing.T) {
	addr := startServer(t, pingHandler)
	cfg := testConfig(addr)
	cfg.Size = 1
	p := New(cfg)
	defer p.Close()
	ctx := context.Background()

	conn, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer p.Put(conn, nil)

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := p.Get(shortCtx); err == nil {
		t.Fatal("expected a timed-out Get")
	}

	gets := metrics.GetOrCreateCounter(
		fmt.Sprintf(`rediswire_pool_gets_total{addr=%q}`, addr)).Get()
	timeouts := metrics.GetOrCreateCounter(
		fmt.Sprintf(`rediswire_pool_get_timeouts_total{addr=%q}`, addr)).Get()
	if gets != 2 {
		t.Errorf("gets counter = %d, expected 2", gets)
	}
	if timeouts != 1 {
		t.Errorf("timeouts counter = %d, expected 1", timeouts)
	}
}

func TestPoolDiscardsOnError(t *testing.T) {
	addr := startServer(t, pingHandler)
	p := New(testConfig(addr))
	defer p.Close()
	ctx := context.Background()

	conn, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	p.Put(conn, errors.New("command failed"))

	if p.IdleCount() != 0 {
		t.Error("errored connection went back to idle")
	}
	if p.Available() != 2 {
		t.Errorf("Available = %d, permit not returned", p.Available())
	}
}

func TestPoolDiscardsBroken(t *testing.T) {
	addr := startServer(t, pingHandler)
	p := New(testConfig(addr))
	defer p.Close()
	ctx := context.Background()

	conn, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	conn.MarkBroken()
	p.Put(conn, nil)

	if p.IdleCount() != 0 {
		t.Error("broken connection went back to idle")
	}
	if p.Available() != 2 {
		t.Errorf("Available = %d, permit not returned", p.Available())
	}
}

func TestPoolPermitReturnedOnDialFailure(t *testing.T) {
	// Nothing listens here
	cfg := testConfig("127.0.0.1:1")
	cfg.ConnectTimeout = 100 * time.Millisecond
	p := New(cfg)
	defer p.Close()

	_, err := p.Get(context.Background())
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if p.Available() != 2 {
		t.Errorf("Available = %d after failed dial, expected 2", p.Available())
	}
}

func TestPoolIdleExpiry(t *testing.T) {
	addr := startServer(t, pingHandler)
	cfg := testConfig(addr)
	cfg.IdleTimeout = 20 * time.Millisecond
	p := New(cfg)
	defer p.Close()
	ctx := context.Background()

	c1, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	p.Put(c1, nil)

	time.Sleep(50 * time.Millisecond)

	c2, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer p.Put(c2, nil)

	if c1 == c2 {
		t.Error("expired idle connection was reused")
	}
}

func TestPoolWith(t *testing.T) {
	addr := startServer(t, pingHandler)
	p := New(testConfig(addr))
	defer p.Close()
	ctx := context.Background()

	// Success path pools the connection
	err := p.With(ctx, func(c *Conn) error {
		_, err := c.Do(ctx, "PING")
		return err
	})
	if err != nil {
		t.Fatalf("With failed: %v", err)
	}
	if p.IdleCount() != 1 || p.Available() != 2 {
		t.Errorf("after With: idle=%d available=%d", p.IdleCount(), p.Available())
	}

	// Failure path discards it
	boom := errors.New("boom")
	err = p.With(ctx, func(c *Conn) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("With returned %v, expected fn's error", err)
	}
	if p.IdleCount() != 0 {
		t.Error("connection survived a failing With")
	}
}

func TestPoolClose(t *testing.T) {
	addr := startServer(t, pingHandler)
	p := New(testConfig(addr))
	ctx := context.Background()

	conn, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	p.Put(conn, nil)

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := p.Get(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Close = %v, expected ErrClosed", err)
	}
	// Close is idempotent
	if err := p.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestPoolDefaultSize(t *testing.T) {
	p := New(Config{Addr: "localhost:6379", Logger: zerolog.Nop()})
	defer p.Close()
	if p.Size() != 8 {
		t.Errorf("default Size = %d, expected 8", p.Size())
	}
}
