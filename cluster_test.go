package rediswire

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flancast90/rediswire-go/resp"
)

// slotsReply builds a CLUSTER SLOTS wire reply assigning the whole keyspace
// to one master.
func slotsReply(t *testing.T, masterAddr string) string {
	t.Helper()
	host, portStr, ok := strings.Cut(masterAddr, ":")
	if !ok {
		t.Fatalf("bad addr %q", masterAddr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("bad port in %q", masterAddr)
	}
	return encodeReply(resp.Array(
		resp.Array(
			resp.Int(0),
			resp.Int(16383),
			resp.Array(resp.BulkStr(host), resp.Int(int64(port))),
		),
	))
}

func clusterOptions(seeds ...string) *Options {
	return &Options{
		ClusterAddrs:   seeds,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		PoolSize:       2,
	}
}

func TestClusterExecute(t *testing.T) {
	var addr string
	addr = startTestServer(t, func(args []string) string {
		switch args[0] {
		case "CLUSTER":
			return slotsReply(t, addr)
		case "GET":
			return encodeReply(resp.BulkStr("value"))
		}
		return "+OK\r\n"
	})

	r, err := NewClusterRouter(clusterOptions(addr))
	if err != nil {
		t.Fatalf("NewClusterRouter failed: %v", err)
	}
	defer r.Close()

	v, err := r.Execute(context.Background(), "GET", "foo")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if s, _ := v.AsStr(); s != "value" {
		t.Errorf("Execute = %+v", v)
	}
}

func TestClusterNoSeeds(t *testing.T) {
	_, err := NewClusterRouter(&Options{})
	var te *TopologyError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TopologyError, got %v", err)
	}
}

func TestClusterMovedRedirect(t *testing.T) {
	var addrA, addrB string
	var mu sync.Mutex
	var movedSent int

	addrB = startTestServer(t, func(args []string) string {
		switch args[0] {
		case "CLUSTER":
			return slotsReply(t, addrB)
		case "GET":
			return encodeReply(resp.BulkStr("from-b"))
		}
		return "+OK\r\n"
	})
	addrA = startTestServer(t, func(args []string) string {
		switch args[0] {
		case "CLUSTER":
			return slotsReply(t, addrA)
		case "GET":
			mu.Lock()
			movedSent++
			mu.Unlock()
			return "-MOVED 12182 " + addrB + "\r\n"
		}
		return "+OK\r\n"
	})

	r, err := NewClusterRouter(clusterOptions(addrA))
	if err != nil {
		t.Fatalf("NewClusterRouter failed: %v", err)
	}
	defer r.Close()

	// Slot 12182 ("foo") starts at A, which redirects to B.
	v, err := r.Execute(context.Background(), "GET", "foo")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if s, _ := v.AsStr(); s != "from-b" {
		t.Errorf("Execute = %+v, expected from-b", v)
	}

	// The redirect repointed the slot: the next command goes straight to B.
	if _, err := r.Execute(context.Background(), "GET", "foo"); err != nil {
		t.Fatalf("second Execute failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if movedSent != 1 {
		t.Errorf("A answered %d GETs, expected exactly 1", movedSent)
	}
}

func TestClusterAskRedirect(t *testing.T) {
	var addrA, addrB string
	var mu sync.Mutex
	var askingSeen bool

	addrB = startTestServer(t, func(args []string) string {
		switch args[0] {
		case "ASKING":
			mu.Lock()
			askingSeen = true
			mu.Unlock()
			return "+OK\r\n"
		case "GET":
			return encodeReply(resp.BulkStr("migrating"))
		case "CLUSTER":
			return slotsReply(t, addrB)
		}
		return "+OK\r\n"
	})
	addrA = startTestServer(t, func(args []string) string {
		switch args[0] {
		case "CLUSTER":
			return slotsReply(t, addrA)
		case "GET":
			return "-ASK 12182 " + addrB + "\r\n"
		}
		return "+OK\r\n"
	})

	r, err := NewClusterRouter(clusterOptions(addrA))
	if err != nil {
		t.Fatalf("NewClusterRouter failed: %v", err)
	}
	defer r.Close()

	v, err := r.Execute(context.Background(), "GET", "foo")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if s, _ := v.AsStr(); s != "migrating" {
		t.Errorf("Execute = %+v, expected migrating", v)
	}
	mu.Lock()
	defer mu.Unlock()
	if !askingSeen {
		t.Error("ASKING was not sent before the redirected command")
	}
}

func TestClusterTryAgain(t *testing.T) {
	var addr string
	var mu sync.Mutex
	attempts := 0

	addr = startTestServer(t, func(args []string) string {
		switch args[0] {
		case "CLUSTER":
			return slotsReply(t, addr)
		case "GET":
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n == 1 {
				return "-TRYAGAIN Multiple keys request during rehashing of slot\r\n"
			}
			return encodeReply(resp.BulkStr("settled"))
		}
		return "+OK\r\n"
	})

	r, err := NewClusterRouter(clusterOptions(addr))
	if err != nil {
		t.Fatalf("NewClusterRouter failed: %v", err)
	}
	defer r.Close()

	v, err := r.Execute(context.Background(), "GET", "foo")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if s, _ := v.AsStr(); s != "settled" {
		t.Errorf("Execute = %+v, expected settled", v)
	}
}

func TestClusterRetryOnceOnly(t *testing.T) {
	// Both nodes answer MOVED forever; the second redirect must surface.
	var addrA, addrB string
	addrB = startTestServer(t, func(args []string) string {
		switch args[0] {
		case "CLUSTER":
			return slotsReply(t, addrB)
		case "GET":
			return "-MOVED 12182 " + addrA + "\r\n"
		}
		return "+OK\r\n"
	})
	addrA = startTestServer(t, func(args []string) string {
		switch args[0] {
		case "CLUSTER":
			return slotsReply(t, addrA)
		case "GET":
			return "-MOVED 12182 " + addrB + "\r\n"
		}
		return "+OK\r\n"
	})

	r, err := NewClusterRouter(clusterOptions(addrA))
	if err != nil {
		t.Fatalf("NewClusterRouter failed: %v", err)
	}
	defer r.Close()

	_, err = r.Execute(context.Background(), "GET", "foo")
	serr, ok := AsServerError(err)
	if !ok {
		t.Fatalf("expected the MOVED error to surface, got %v", err)
	}
	if serr.Kind != resp.KindMoved {
		t.Errorf("Kind = %v, expected MOVED", serr.Kind)
	}
}

func TestClusterPipelineIndexRemap(t *testing.T) {
	var addr string
	addr = startTestServer(t, func(args []string) string {
		switch args[0] {
		case "CLUSTER":
			return slotsReply(t, addr)
		case "SET":
			return "+OK\r\n"
		case "NOSUCH":
			return "-ERR unknown command\r\n"
		}
		return "+OK\r\n"
	})

	r, err := NewClusterRouter(clusterOptions(addr))
	if err != nil {
		t.Fatalf("NewClusterRouter failed: %v", err)
	}
	defer r.Close()

	_, err = r.ExecutePipeline(context.Background(), [][]string{
		{"SET", "a", "1"},
		{"SET", "b", "2"},
		{"NOSUCH", "c"},
	})
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PipelineError, got %v", err)
	}
	if perr.Index != 2 {
		t.Errorf("Index = %d, expected the original batch position 2", perr.Index)
	}
}

// ── slot map ──

func TestSlotMap(t *testing.T) {
	var m slotMap
	if !m.empty() {
		t.Fatal("fresh map should be empty")
	}

	m.replace([]slotRange{
		{start: 10923, end: 16383, master: "c:7002"},
		{start: 0, end: 5460, master: "a:7000", replicas: []string{"a2:7100"}},
		{start: 5461, end: 10922, master: "b:7001"},
	})

	tests := []struct {
		slot   int
		master string
		ok     bool
	}{
		{0, "a:7000", true},
		{5460, "a:7000", true},
		{5461, "b:7001", true},
		{10922, "b:7001", true},
		{10923, "c:7002", true},
		{16383, "c:7002", true},
	}
	for _, tc := range tests {
		rng, ok := m.lookup(tc.slot)
		if ok != tc.ok || rng.master != tc.master {
			t.Errorf("lookup(%d) = (%q, %v), expected (%q, %v)", tc.slot, rng.master, ok, tc.master, tc.ok)
		}
	}

	// A gap is a miss
	m.replace([]slotRange{{start: 100, end: 200, master: "a:7000"}})
	if _, ok := m.lookup(50); ok {
		t.Error("lookup below range should miss")
	}
	if _, ok := m.lookup(201); ok {
		t.Error("lookup above range should miss")
	}
}

func TestSlotMapSetOwner(t *testing.T) {
	var m slotMap
	m.replace([]slotRange{
		{start: 0, end: 8191, master: "a:7000"},
		{start: 8192, end: 16383, master: "b:7001"},
	})

	m.setOwner(9000, "c:7002")

	rng, ok := m.lookup(9000)
	if !ok || rng.master != "c:7002" {
		t.Errorf("lookup(9000) = (%q, %v) after setOwner", rng.master, ok)
	}
	// The sibling range is untouched
	rng, _ = m.lookup(100)
	if rng.master != "a:7000" {
		t.Errorf("lookup(100).master = %q, setOwner leaked", rng.master)
	}
}

func TestSlotMapMasters(t *testing.T) {
	var m slotMap
	m.replace([]slotRange{
		{start: 0, end: 100, master: "a:7000"},
		{start: 101, end: 200, master: "b:7001"},
		{start: 201, end: 300, master: "a:7000"}, // duplicate owner
	})
	masters := m.masters()
	if len(masters) != 2 {
		t.Errorf("masters = %v, expected 2 unique", masters)
	}
	if _, ok := m.randomMaster(); !ok {
		t.Error("randomMaster failed on populated map")
	}
}

// ── CLUSTER SLOTS parsing ──

func TestParseClusterSlots(t *testing.T) {
	v := resp.Array(
		resp.Array(
			resp.Int(0),
			resp.Int(5460),
			resp.Array(resp.BulkStr("10.0.0.1"), resp.Int(7000), resp.BulkStr("node-a")),
			resp.Array(resp.BulkStr("10.0.0.2"), resp.Int(7100)),
		),
		resp.Array(
			resp.Int(5461),
			resp.Int(16383),
			resp.Array(resp.BulkStr(""), resp.Int(7001)), // empty host: the queried node
		),
	)

	ranges, err := parseClusterSlots(v, "10.0.0.9:6379")
	if err != nil {
		t.Fatalf("parseClusterSlots failed: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("got %d ranges", len(ranges))
	}
	if ranges[0].master != "10.0.0.1:7000" {
		t.Errorf("master = %q", ranges[0].master)
	}
	if len(ranges[0].replicas) != 1 || ranges[0].replicas[0] != "10.0.0.2:7100" {
		t.Errorf("replicas = %v", ranges[0].replicas)
	}
	if ranges[1].master != "10.0.0.9:7001" {
		t.Errorf("empty host not filled from queried addr: %q", ranges[1].master)
	}
}

func TestParseClusterSlotsMalformed(t *testing.T) {
	cases := []resp.Value{
		resp.BulkStr("not an array"),
		resp.Array(resp.Array(resp.Int(0))), // too few fields
		resp.Array(resp.Array(resp.Int(5), resp.Int(2),
			resp.Array(resp.BulkStr("h"), resp.Int(1)))), // end < start
		resp.Array(resp.Array(resp.Int(0), resp.Int(20000),
			resp.Array(resp.BulkStr("h"), resp.Int(1)))), // end out of range
		resp.Array(resp.Array(resp.Int(0), resp.Int(1),
			resp.BulkStr("not a node"))),
		resp.Array(resp.Array(resp.Int(0), resp.Int(1),
			resp.Array(resp.BulkStr("h"), resp.Int(0)))), // bad port
	}

	for i, v := range cases {
		if _, err := parseClusterSlots(v, "q:6379"); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

// ── key extraction ──

func TestExtractKey(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"GET", "foo"}, "foo"},
		{[]string{"set", "bar", "v"}, "bar"},
		{[]string{"PING"}, ""},
		{[]string{"CLUSTER", "SLOTS"}, ""},
		{[]string{"INFO", "server"}, ""},
		{[]string{"CONFIG", "GET", "maxmemory"}, ""},
		{[]string{"EVAL", "return 1", "0"}, ""},
		{[]string{"EVAL", "return KEYS[1]", "1", "mykey"}, "mykey"},
		{[]string{"EVALSHA", "abc", "2", "k1", "k2"}, "k1"},
		{[]string{"FCALL", "fn", "1", "fk"}, "fk"},
		{[]string{"XREAD", "COUNT", "5", "STREAMS", "s1", "s2", "0", "0"}, "s1"},
		{[]string{"XREADGROUP", "GROUP", "g", "c", "STREAMS", "st", ">"}, "st"},
		{[]string{"XREAD", "COUNT", "5"}, ""},
		{[]string{"GRAPH.QUERY", "social", "RETURN 1"}, "social"},
	}

	for _, tc := range tests {
		if got := extractKey(tc.args); got != tc.want {
			t.Errorf("extractKey(%v) = %q, expected %q", tc.args, got, tc.want)
		}
	}
}

func TestIsReadOnlyCommand(t *testing.T) {
	for _, cmd := range []string{"GET", "get", "MGET", "GRAPH.RO_QUERY"} {
		if !isReadOnlyCommand(cmd) {
			t.Errorf("%q should be read-only", cmd)
		}
	}
	for _, cmd := range []string{"SET", "DEL", "GRAPH.QUERY"} {
		if isReadOnlyCommand(cmd) {
			t.Errorf("%q should not be read-only", cmd)
		}
	}
}
