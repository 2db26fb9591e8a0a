package rediswire

import (
	"context"
	"sync"

	"github.com/flancast90/rediswire-go/internal/proto"
	"github.com/flancast90/rediswire-go/resp"
)

// Graph is a handle for one named graph. Queries run in the compact wire
// format and are decoded into QueryResult.
//
// It is safe for concurrent use by multiple goroutines.
type Graph struct {
	name   string
	router Router
	schema *graphSchema
}

// Name returns the name of the graph.
func (g *Graph) Name() string { return g.name }

// Query executes a query on the graph.
//
// Example:
//
//	result, err := graph.Query(ctx, "CREATE (n:Person {name: $name}) RETURN n",
//		&rediswire.QueryOptions{
//			Params: map[string]interface{}{"name": "Alice"},
//		},
//	)
func (g *Graph) Query(ctx context.Context, query string, options ...*QueryOptions) (*QueryResult, error) {
	return g.execute(ctx, "GRAPH.QUERY", query, options...)
}

// ROQuery executes a read-only query. Use it for queries that don't modify
// data; in cluster mode with replica reads enabled these can be served by
// replicas.
func (g *Graph) ROQuery(ctx context.Context, query string, options ...*QueryOptions) (*QueryResult, error) {
	return g.execute(ctx, "GRAPH.RO_QUERY", query, options...)
}

func (g *Graph) execute(ctx context.Context, cmd, query string, options ...*QueryOptions) (*QueryResult, error) {
	var opts *QueryOptions
	if len(options) > 0 {
		opts = options[0]
	}
	var params map[string]interface{}
	var timeout int
	if opts != nil {
		params = opts.Params
		timeout = opts.Timeout
	}

	args := proto.BuildQueryArgs(cmd, g.name, query, params, timeout, true)
	v, err := g.router.Execute(ctx, args...)
	if err != nil {
		return nil, err
	}

	res, stale, err := decodeResult(v, g.schema.tables())
	if err != nil {
		return nil, err
	}
	if stale {
		// The reply references label/type/property IDs the cached schema
		// doesn't know yet. Refresh once and re-decode.
		if rerr := g.schema.refresh(ctx, g.router, g.name); rerr == nil {
			if res2, _, err2 := decodeResult(v, g.schema.tables()); err2 == nil {
				return res2, nil
			}
		}
	}
	return res, nil
}

// Delete removes the graph from the database.
func (g *Graph) Delete(ctx context.Context) error {
	_, err := g.router.Execute(ctx, "GRAPH.DELETE", g.name)
	return err
}

// Copy creates a copy of the graph under a new name.
func (g *Graph) Copy(ctx context.Context, destGraph string) error {
	_, err := g.router.Execute(ctx, "GRAPH.COPY", g.name, destGraph)
	return err
}

// Explain returns the execution plan for a query without executing it.
func (g *Graph) Explain(ctx context.Context, query string) ([]string, error) {
	v, err := g.router.Execute(ctx, "GRAPH.EXPLAIN", g.name, query)
	if err != nil {
		return nil, err
	}
	return stringRows(v)
}

// Profile executes a query and returns execution profiling information.
func (g *Graph) Profile(ctx context.Context, query string) ([]string, error) {
	v, err := g.router.Execute(ctx, "GRAPH.PROFILE", g.name, query)
	if err != nil {
		return nil, err
	}
	return stringRows(v)
}

// SlowLogEntry is one entry of a graph's slow query log.
type SlowLogEntry struct {
	Timestamp int64
	Command   string
	Query     string
	Took      float64 // duration in milliseconds
}

// SlowLog returns the slow query log for this graph.
func (g *Graph) SlowLog(ctx context.Context) ([]SlowLogEntry, error) {
	v, err := g.router.Execute(ctx, "GRAPH.SLOWLOG", g.name)
	if err != nil {
		return nil, err
	}
	rows, ok := v.AsArray()
	if !ok {
		return nil, graphErr("slowlog reply is %s, want array", v.Type)
	}
	entries := make([]SlowLogEntry, 0, len(rows))
	for _, row := range rows {
		fields, ok := row.AsArray()
		if !ok || len(fields) < 4 {
			return nil, graphErr("malformed slowlog entry")
		}
		var e SlowLogEntry
		e.Timestamp, _ = fields[0].AsInt()
		e.Command, _ = fields[1].AsStr()
		e.Query, _ = fields[2].AsStr()
		e.Took, _ = fields[3].AsFloat()
		entries = append(entries, e)
	}
	return entries, nil
}

// ListGraphs returns the names of all graphs in the database.
func (c *Client) ListGraphs(ctx context.Context) ([]string, error) {
	v, err := c.router.Execute(ctx, "GRAPH.LIST")
	if err != nil {
		return nil, err
	}
	return stringRows(v)
}

func stringRows(v resp.Value) ([]string, error) {
	rows, ok := v.AsArray()
	if !ok {
		return nil, graphErr("reply is %s, want array of strings", v.Type)
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		s, ok := row.AsStr()
		if !ok {
			return nil, graphErr("reply row is %s, want string", row.Type)
		}
		out = append(out, s)
	}
	return out, nil
}

// ── schema cache ──

// graphSchema caches the graph's label, relationship-type, and property-key
// tables. Compact replies reference these by index; the tables come from
// the db.labels/db.relationshipTypes/db.propertyKeys procedures and are
// refreshed when a reply references an index the cache doesn't cover.
type graphSchema struct {
	mu sync.RWMutex
	t  schemaTables
}

// schemaTables is an immutable snapshot of the three name tables.
type schemaTables struct {
	labels   []string
	relTypes []string
	propKeys []string
}

func newGraphSchema() *graphSchema { return &graphSchema{} }

func (s *graphSchema) tables() schemaTables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t
}

func (s *graphSchema) refresh(ctx context.Context, router Router, graph string) error {
	labels, err := callProcedure(ctx, router, graph, "db.labels")
	if err != nil {
		return err
	}
	relTypes, err := callProcedure(ctx, router, graph, "db.relationshipTypes")
	if err != nil {
		return err
	}
	propKeys, err := callProcedure(ctx, router, graph, "db.propertyKeys")
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.t = schemaTables{labels: labels, relTypes: relTypes, propKeys: propKeys}
	s.mu.Unlock()
	return nil
}

// callProcedure runs a single-column procedure and returns the column's
// string values.
func callProcedure(ctx context.Context, router Router, graph, procedure string) ([]string, error) {
	v, err := router.Execute(ctx, "GRAPH.QUERY", graph, "CALL "+procedure+"()", "--compact")
	if err != nil {
		return nil, err
	}
	res, _, err := decodeResult(v, schemaTables{})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		for _, cell := range row {
			if s, ok := cell.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out, nil
}
