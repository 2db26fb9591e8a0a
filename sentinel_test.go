package rediswire

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flancast90/rediswire-go/resp"
)

// masterAddrReply renders a SENTINEL get-master-addr-by-name answer.
func masterAddrReply(addr string) string {
	host, port, _ := strings.Cut(addr, ":")
	return encodeReply(resp.Array(resp.BulkStr(host), resp.BulkStr(port)))
}

func sentinelOptions(sentinels []string, master string) *Options {
	return &Options{
		SentinelAddrs:  sentinels,
		MasterName:     master,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		PoolSize:       2,
	}
}

func TestSentinelValidation(t *testing.T) {
	var te *TopologyError
	if _, err := NewSentinelRouter(&Options{MasterName: "m"}); !errors.As(err, &te) {
		t.Errorf("missing sentinels: got %v", err)
	}
	if _, err := NewSentinelRouter(&Options{SentinelAddrs: []string{"s:26379"}}); !errors.As(err, &te) {
		t.Errorf("missing master name: got %v", err)
	}
}

func TestSentinelResolveAndExecute(t *testing.T) {
	masterAddr := startTestServer(t, kvHandler())
	sentinelAddr := startTestServer(t, func(args []string) string {
		if args[0] == "SENTINEL" && args[1] == "get-master-addr-by-name" && args[2] == "mymaster" {
			return masterAddrReply(masterAddr)
		}
		return "-ERR unknown\r\n"
	})

	r, err := NewSentinelRouter(sentinelOptions([]string{sentinelAddr}, "mymaster"))
	if err != nil {
		t.Fatalf("NewSentinelRouter failed: %v", err)
	}
	defer r.Close()

	v, err := r.Execute(context.Background(), "PING")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if s, _ := v.AsStr(); s != "PONG" {
		t.Errorf("Execute = %+v", v)
	}
	if r.MasterAddr() != masterAddr {
		t.Errorf("MasterAddr = %q, expected %q", r.MasterAddr(), masterAddr)
	}
}

func TestSentinelResolveOrder(t *testing.T) {
	masterAddr := startTestServer(t, kvHandler())

	// First sentinel knows nothing, second answers.
	first := startTestServer(t, func(args []string) string {
		return "$-1\r\n"
	})
	second := startTestServer(t, func(args []string) string {
		return masterAddrReply(masterAddr)
	})

	r, err := NewSentinelRouter(sentinelOptions([]string{first, second}, "mymaster"))
	if err != nil {
		t.Fatalf("NewSentinelRouter failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Execute(context.Background(), "PING"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if r.MasterAddr() != masterAddr {
		t.Errorf("MasterAddr = %q", r.MasterAddr())
	}
}

func TestSentinelUnreachableFirst(t *testing.T) {
	masterAddr := startTestServer(t, kvHandler())
	second := startTestServer(t, func(args []string) string {
		return masterAddrReply(masterAddr)
	})

	// 127.0.0.1:1 refuses connections
	opts := sentinelOptions([]string{"127.0.0.1:1", second}, "mymaster")
	opts.ConnectTimeout = 200 * time.Millisecond
	r, err := NewSentinelRouter(opts)
	if err != nil {
		t.Fatalf("NewSentinelRouter failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Execute(context.Background(), "PING"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
}

func TestSentinelNoneResolve(t *testing.T) {
	sentinelAddr := startTestServer(t, func(args []string) string {
		return "$-1\r\n"
	})

	r, err := NewSentinelRouter(sentinelOptions([]string{sentinelAddr}, "mymaster"))
	if err != nil {
		t.Fatalf("NewSentinelRouter failed: %v", err)
	}
	defer r.Close()

	_, err = r.Execute(context.Background(), "PING")
	var te *TopologyError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TopologyError, got %v", err)
	}
	if te.Mode != "sentinel" {
		t.Errorf("Mode = %q", te.Mode)
	}
}

func TestSentinelFailoverOnReadonly(t *testing.T) {
	// Old primary was demoted: it answers READONLY to writes.
	oldMaster := startTestServer(t, func(args []string) string {
		switch args[0] {
		case "PING":
			return "+PONG\r\n"
		case "SET":
			return "-READONLY You can't write against a read only replica.\r\n"
		}
		return "+OK\r\n"
	})
	newMaster := startTestServer(t, kvHandler())

	var mu sync.Mutex
	target := oldMaster
	sentinelAddr := startTestServer(t, func(args []string) string {
		mu.Lock()
		defer mu.Unlock()
		return masterAddrReply(target)
	})

	r, err := NewSentinelRouter(sentinelOptions([]string{sentinelAddr}, "mymaster"))
	if err != nil {
		t.Fatalf("NewSentinelRouter failed: %v", err)
	}
	defer r.Close()

	// Cache a pool for the old primary
	if _, err := r.Execute(context.Background(), "PING"); err != nil {
		t.Fatalf("initial Execute failed: %v", err)
	}
	if r.MasterAddr() != oldMaster {
		t.Fatalf("MasterAddr = %q, expected old primary", r.MasterAddr())
	}

	// Failover happens: sentinels now name the new primary
	mu.Lock()
	target = newMaster
	mu.Unlock()

	// READONLY from the demoted node triggers re-resolution and one retry
	v, err := r.Execute(context.Background(), "SET", "k", "v")
	if err != nil {
		t.Fatalf("Execute after failover failed: %v", err)
	}
	if s, _ := v.AsStr(); s != "OK" {
		t.Errorf("SET reply %+v", v)
	}
	if r.MasterAddr() != newMaster {
		t.Errorf("MasterAddr = %q, expected new primary %q", r.MasterAddr(), newMaster)
	}
}

func TestSentinelRetryOnceOnly(t *testing.T) {
	// The "new" primary is also read-only; the second failure surfaces.
	readonly := func(args []string) string {
		switch args[0] {
		case "PING":
			return "+PONG\r\n"
		case "SET":
			return "-READONLY You can't write against a read only replica.\r\n"
		}
		return "+OK\r\n"
	}
	m1 := startTestServer(t, readonly)
	m2 := startTestServer(t, readonly)

	var mu sync.Mutex
	target := m1
	sentinelAddr := startTestServer(t, func(args []string) string {
		mu.Lock()
		defer mu.Unlock()
		return masterAddrReply(target)
	})

	r, err := NewSentinelRouter(sentinelOptions([]string{sentinelAddr}, "mymaster"))
	if err != nil {
		t.Fatalf("NewSentinelRouter failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Execute(context.Background(), "PING"); err != nil {
		t.Fatalf("initial Execute failed: %v", err)
	}
	mu.Lock()
	target = m2
	mu.Unlock()

	_, err = r.Execute(context.Background(), "SET", "k", "v")
	serr, ok := AsServerError(err)
	if !ok || serr.Kind != resp.KindReadOnly {
		t.Fatalf("expected the second READONLY to surface, got %v", err)
	}
}

func TestSentinelPipelineNotReplayed(t *testing.T) {
	// A mid-batch failure on a demoted primary must surface as-is: commands
	// before the failing index may already have run, so replaying the batch
	// on the new primary would duplicate their effects.
	oldMaster := startTestServer(t, func(args []string) string {
		if args[0] == "SET" {
			return "-READONLY You can't write against a read only replica.\r\n"
		}
		return "+PONG\r\n"
	})
	newMaster := startTestServer(t, kvHandler())

	var mu sync.Mutex
	target := oldMaster
	sentinelAddr := startTestServer(t, func(args []string) string {
		mu.Lock()
		defer mu.Unlock()
		return masterAddrReply(target)
	})

	r, err := NewSentinelRouter(sentinelOptions([]string{sentinelAddr}, "mymaster"))
	if err != nil {
		t.Fatalf("NewSentinelRouter failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Execute(context.Background(), "PING"); err != nil {
		t.Fatalf("initial Execute failed: %v", err)
	}
	mu.Lock()
	target = newMaster
	mu.Unlock()

	_, err = r.ExecutePipeline(context.Background(), [][]string{
		{"SET", "a", "1"},
		{"GET", "a"},
	})
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PipelineError, got %v", err)
	}
	if perr.Index != 0 || perr.Err.Kind != resp.KindReadOnly {
		t.Fatalf("PipelineError = %+v, expected READONLY at index 0", perr)
	}

	// The stale primary was dropped; the next batch resolves the new one.
	replies, err := r.ExecutePipeline(context.Background(), [][]string{
		{"SET", "a", "1"},
		{"GET", "a"},
	})
	if err != nil {
		t.Fatalf("ExecutePipeline after re-resolution failed: %v", err)
	}
	if s, _ := replies[1].AsStr(); s != "1" {
		t.Errorf("GET reply %+v", replies[1])
	}
	if r.MasterAddr() != newMaster {
		t.Errorf("MasterAddr = %q, expected new primary %q", r.MasterAddr(), newMaster)
	}
}
