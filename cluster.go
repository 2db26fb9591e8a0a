package rediswire

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/flancast90/rediswire-go/internal/hashtag"
	"github.com/flancast90/rediswire-go/internal/pool"
	"github.com/flancast90/rediswire-go/resp"
)

const slotRefreshInterval = 30 * time.Second

// ClusterRouter routes commands across a slot-sharded cluster. The slot map
// comes from CLUSTER SLOTS and is kept fresh by redirect feedback and a
// periodic background refresh. Each node gets its own lazily-created pool.
//
// Redirects are followed exactly once per command: MOVED repoints the slot
// and retries on the new owner, ASK retries on the named node behind an
// ASKING, TRYAGAIN retries after a short pause. A second redirect-class
// failure surfaces to the caller.
type ClusterRouter struct {
	opts  *Options
	seeds []string
	slots slotMap
	pools *xsync.MapOf[string, *pool.Pool]
	log   zerolog.Logger

	readReplicas bool

	stopOnce sync.Once
	stop     chan struct{}
}

var _ Router = (*ClusterRouter)(nil)

// NewClusterRouter builds a cluster router over the seed addresses. The
// slot map is loaded on first use and refreshed in the background until
// Close.
func NewClusterRouter(opts *Options) (*ClusterRouter, error) {
	opts.setDefaults()
	if len(opts.ClusterAddrs) == 0 {
		return nil, &TopologyError{Mode: "cluster", Detail: "no seed addresses"}
	}
	r := &ClusterRouter{
		opts:         opts,
		seeds:        opts.ClusterAddrs,
		pools:        xsync.NewMapOf[string, *pool.Pool](),
		log:          opts.logger().With().Str("router", "cluster").Logger(),
		readReplicas: opts.ReadFromReplicas,
		stop:         make(chan struct{}),
	}
	go r.refreshLoop()
	return r, nil
}

func (r *ClusterRouter) refreshLoop() {
	ticker := time.NewTicker(slotRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.ConnectTimeout)
			if err := r.refresh(ctx); err != nil {
				r.log.Warn().Err(err).Msg("slot map refresh failed")
			}
			cancel()
		case <-r.stop:
			return
		}
	}
}

func (r *ClusterRouter) Execute(ctx context.Context, args ...string) (resp.Value, error) {
	addr, err := r.addrFor(ctx, args)
	if err != nil {
		return resp.Value{}, err
	}

	v, err := executeOn(ctx, r.poolFor(addr), args)
	if err == nil {
		return v, nil
	}

	// One corrective retry, then the error stands.
	serr, isServer := AsServerError(err)
	if !isServer {
		// Connection-class failure: the node may be gone. Refresh the
		// map and retry on whatever owns the slot now.
		r.log.Warn().Str("addr", addr).Err(err).Msg("node unreachable, refreshing slots")
		if rerr := r.refresh(ctx); rerr != nil {
			return resp.Value{}, err
		}
		retryAddr, aerr := r.addrFor(ctx, args)
		if aerr != nil || retryAddr == addr {
			return resp.Value{}, err
		}
		return executeOn(ctx, r.poolFor(retryAddr), args)
	}

	switch serr.Kind {
	case resp.KindMoved:
		slot, target, ok := serr.Redirect()
		if !ok {
			return resp.Value{}, &TopologyError{Mode: "cluster", Detail: "malformed MOVED redirect", Err: serr}
		}
		r.log.Debug().Int("slot", slot).Str("target", target).Msg("MOVED redirect")
		r.slots.setOwner(slot, target)
		v, err = executeOn(ctx, r.poolFor(target), args)
		// The ownership change that caused the MOVED usually spans more
		// than one slot; pull the whole map.
		if rerr := r.refresh(ctx); rerr != nil {
			r.log.Warn().Err(rerr).Msg("slot map refresh after MOVED failed")
		}
		return v, err

	case resp.KindAsk:
		_, target, ok := serr.Redirect()
		if !ok {
			return resp.Value{}, &TopologyError{Mode: "cluster", Detail: "malformed ASK redirect", Err: serr}
		}
		r.log.Debug().Str("target", target).Msg("ASK redirect")
		return r.executeAsking(ctx, target, args)

	case resp.KindTryAgain:
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return resp.Value{}, ctx.Err()
		}
		return executeOn(ctx, r.poolFor(addr), args)
	}
	return resp.Value{}, err
}

// executeAsking runs ASKING and the command on the same connection of the
// redirect target.
func (r *ClusterRouter) executeAsking(ctx context.Context, addr string, args []string) (resp.Value, error) {
	var v resp.Value
	err := r.poolFor(addr).With(ctx, func(c *pool.Conn) error {
		ack, err := c.Do(ctx, "ASKING")
		if err != nil {
			return err
		}
		if serr, ok := ack.AsError(); ok {
			return serr
		}
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

// ExecutePipeline groups the batch by owning node, runs each group as one
// pipelined write, and reassembles replies in command order. The fail-fast
// rule holds per batch; the reported index is the command's position in the
// original batch.
func (r *ClusterRouter) ExecutePipeline(ctx context.Context, cmds [][]string) ([]resp.Value, error) {
	if len(cmds) == 0 {
		return []resp.Value{}, nil
	}

	groups := make(map[string][]int)
	for i, args := range cmds {
		addr, err := r.addrFor(ctx, args)
		if err != nil {
			return nil, err
		}
		groups[addr] = append(groups[addr], i)
	}

	replies := make([]resp.Value, len(cmds))
	for addr, indices := range groups {
		sub := make([][]string, len(indices))
		for j, i := range indices {
			sub[j] = cmds[i]
		}
		got, err := pipelineOn(ctx, r.poolFor(addr), sub)
		if err != nil {
			if pe, ok := err.(*PipelineError); ok {
				pe.Index = indices[pe.Index]
			}
			return nil, err
		}
		for j, i := range indices {
			replies[i] = got[j]
		}
	}
	return replies, nil
}

// addrFor picks the node for a command, loading the slot map on first use.
func (r *ClusterRouter) addrFor(ctx context.Context, args []string) (string, error) {
	if r.slots.empty() {
		if err := r.refresh(ctx); err != nil {
			return "", err
		}
	}

	key := extractKey(args)
	if key == "" {
		if addr, ok := r.slots.randomMaster(); ok {
			return addr, nil
		}
		return r.seeds[rand.Intn(len(r.seeds))], nil
	}

	slot := hashtag.Slot(key)
	rng, ok := r.slots.lookup(slot)
	if !ok {
		return "", &TopologyError{Mode: "cluster", Detail: fmt.Sprintf("no node serves slot %d", slot)}
	}
	if r.readReplicas && len(rng.replicas) > 0 && isReadOnlyCommand(args[0]) {
		return rng.replicas[rand.Intn(len(rng.replicas))], nil
	}
	return rng.master, nil
}

func (r *ClusterRouter) poolFor(addr string) *pool.Pool {
	p, _ := r.pools.LoadOrCompute(addr, func() *pool.Pool {
		return pool.New(poolConfig(r.opts, addr))
	})
	return p
}

// refresh pulls CLUSTER SLOTS from the first answering node: current
// masters first, then the seeds.
func (r *ClusterRouter) refresh(ctx context.Context) error {
	candidates := append(r.slots.masters(), r.seeds...)
	var lastErr error
	for _, addr := range candidates {
		v, err := executeOn(ctx, r.poolFor(addr), []string{"CLUSTER", "SLOTS"})
		if err != nil {
			lastErr = err
			continue
		}
		ranges, err := parseClusterSlots(v, addr)
		if err != nil {
			lastErr = err
			continue
		}
		r.slots.replace(ranges)
		r.log.Debug().Int("ranges", len(ranges)).Str("via", addr).Msg("slot map refreshed")
		return nil
	}
	return &TopologyError{Mode: "cluster", Detail: "no node answered CLUSTER SLOTS", Err: lastErr}
}

func (r *ClusterRouter) IdleConns() int {
	n := 0
	r.pools.Range(func(_ string, p *pool.Pool) bool {
		n += p.IdleCount()
		return true
	})
	return n
}

func (r *ClusterRouter) AvailablePermits() int {
	n := 0
	r.pools.Range(func(_ string, p *pool.Pool) bool {
		n += p.Available()
		return true
	})
	return n
}

func (r *ClusterRouter) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.pools.Range(func(_ string, p *pool.Pool) bool {
		_ = p.Close()
		return true
	})
	return nil
}

// ── slot map ──

type slotRange struct {
	start, end int
	master     string
	replicas   []string
}

// slotMap is the cluster topology: ranges sorted by start slot, looked up
// by binary search.
type slotMap struct {
	mu     sync.RWMutex
	ranges []slotRange
}

func (m *slotMap) empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ranges) == 0
}

func (m *slotMap) replace(ranges []slotRange) {
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
	m.mu.Lock()
	m.ranges = ranges
	m.mu.Unlock()
}

func (m *slotMap) lookup(slot int) (slotRange, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].end >= slot })
	if i < len(m.ranges) && m.ranges[i].start <= slot {
		return m.ranges[i], true
	}
	return slotRange{}, false
}

// setOwner repoints the range covering slot at a new master, as told by a
// MOVED redirect.
func (m *slotMap) setOwner(slot int, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].end >= slot })
	if i < len(m.ranges) && m.ranges[i].start <= slot {
		m.ranges[i].master = addr
	}
}

func (m *slotMap) masters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{}, len(m.ranges))
	var out []string
	for _, rng := range m.ranges {
		if _, dup := seen[rng.master]; !dup {
			seen[rng.master] = struct{}{}
			out = append(out, rng.master)
		}
	}
	return out
}

func (m *slotMap) randomMaster() (string, bool) {
	masters := m.masters()
	if len(masters) == 0 {
		return "", false
	}
	return masters[rand.Intn(len(masters))], true
}

// parseClusterSlots decodes a CLUSTER SLOTS reply: entries of
// [start, end, [masterHost, port, ...], [replicaHost, port, ...]...].
// An empty host means "the node you asked", so queriedAddr's host fills in.
func parseClusterSlots(v resp.Value, queriedAddr string) ([]slotRange, error) {
	entries, ok := v.AsArray()
	if !ok {
		return nil, &TopologyError{Mode: "cluster", Detail: "CLUSTER SLOTS reply is not an array"}
	}
	queriedHost := queriedAddr
	if i := strings.LastIndexByte(queriedAddr, ':'); i > 0 {
		queriedHost = queriedAddr[:i]
	}

	ranges := make([]slotRange, 0, len(entries))
	for _, entry := range entries {
		fields, ok := entry.AsArray()
		if !ok || len(fields) < 3 {
			return nil, &TopologyError{Mode: "cluster", Detail: "malformed CLUSTER SLOTS entry"}
		}
		start, ok1 := fields[0].AsInt()
		end, ok2 := fields[1].AsInt()
		if !ok1 || !ok2 || start < 0 || end < start || end >= hashtag.SlotCount {
			return nil, &TopologyError{Mode: "cluster", Detail: "malformed slot bounds in CLUSTER SLOTS"}
		}
		master, err := slotsNodeAddr(fields[2], queriedHost)
		if err != nil {
			return nil, err
		}
		rng := slotRange{start: int(start), end: int(end), master: master}
		for _, rep := range fields[3:] {
			addr, err := slotsNodeAddr(rep, queriedHost)
			if err != nil {
				return nil, err
			}
			rng.replicas = append(rng.replicas, addr)
		}
		ranges = append(ranges, rng)
	}
	return ranges, nil
}

func slotsNodeAddr(v resp.Value, queriedHost string) (string, error) {
	fields, ok := v.AsArray()
	if !ok || len(fields) < 2 {
		return "", &TopologyError{Mode: "cluster", Detail: "malformed node entry in CLUSTER SLOTS"}
	}
	host, _ := fields[0].AsStr()
	if host == "" {
		host = queriedHost
	}
	port, ok := fields[1].AsInt()
	if !ok || port <= 0 {
		return "", &TopologyError{Mode: "cluster", Detail: "malformed node port in CLUSTER SLOTS"}
	}
	return fmt.Sprintf("%s:%d", host, port), nil
}

// ── command tables ──

// keylessCommands never hash to a slot; they run on an arbitrary node.
var keylessCommands = map[string]struct{}{
	"ACL": {}, "AUTH": {}, "BGREWRITEAOF": {}, "BGSAVE": {}, "CLIENT": {},
	"CLUSTER": {}, "COMMAND": {}, "CONFIG": {}, "DBSIZE": {}, "ECHO": {},
	"FLUSHALL": {}, "FLUSHDB": {}, "HELLO": {}, "INFO": {}, "KEYS": {},
	"LASTSAVE": {}, "LATENCY": {}, "MEMORY": {}, "PING": {}, "RANDOMKEY": {},
	"REPLICAOF": {}, "RESET": {}, "SAVE": {}, "SCAN": {}, "SCRIPT": {},
	"SELECT": {}, "SHUTDOWN": {}, "SLAVEOF": {}, "SLOWLOG": {}, "SWAPDB": {},
	"TIME": {}, "WAIT": {},
}

// readOnlyCommands may be served by a replica when ReadFromReplicas is on.
var readOnlyCommands = map[string]struct{}{
	"BITCOUNT": {}, "DUMP": {}, "EXISTS": {}, "GET": {}, "GETBIT": {},
	"GETRANGE": {}, "HEXISTS": {}, "HGET": {}, "HGETALL": {}, "HKEYS": {},
	"HLEN": {}, "HMGET": {}, "HRANDFIELD": {}, "HVALS": {}, "LINDEX": {},
	"LLEN": {}, "LPOS": {}, "LRANGE": {}, "MGET": {}, "PFCOUNT": {},
	"PTTL": {}, "SCARD": {}, "SINTERCARD": {}, "SISMEMBER": {},
	"SMEMBERS": {}, "SMISMEMBER": {}, "SRANDMEMBER": {}, "STRLEN": {},
	"TTL": {}, "TYPE": {}, "XLEN": {}, "XRANGE": {}, "XREAD": {},
	"XREVRANGE": {}, "ZCARD": {}, "ZCOUNT": {}, "ZRANDMEMBER": {},
	"ZRANGE": {}, "ZRANGEBYSCORE": {}, "ZRANK": {}, "ZSCORE": {},
	"GRAPH.RO_QUERY": {}, "GRAPH.EXPLAIN": {},
}

func isReadOnlyCommand(cmd string) bool {
	_, ok := readOnlyCommands[strings.ToUpper(cmd)]
	return ok
}

// extractKey finds the routing key of a command, or "" for keyless ones.
func extractKey(args []string) string {
	if len(args) < 2 {
		return ""
	}
	cmd := strings.ToUpper(args[0])
	if _, keyless := keylessCommands[cmd]; keyless {
		return ""
	}
	switch cmd {
	case "EVAL", "EVALSHA", "FCALL", "FCALL_RO":
		// <cmd> <script|fn> <numkeys> key [key ...]
		if len(args) >= 4 && args[2] != "0" {
			return args[3]
		}
		return ""
	case "XREAD", "XREADGROUP":
		// keys follow the STREAMS token
		for i, a := range args {
			if strings.EqualFold(a, "STREAMS") && i+1 < len(args) {
				return args[i+1]
			}
		}
		return ""
	}
	return args[1]
}
