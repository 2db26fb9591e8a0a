// Package rediswire is a client-side engine for the Redis wire protocol
// (RESP2 and RESP3): a streaming reply decoder with hard resource limits, a
// pipelined command encoder, pooled connections, and routing for standalone,
// cluster, and sentinel deployments. Graph module replies in the compact
// format decode into typed results.
//
// # Quick Start
//
// Connect and execute commands:
//
//	ctx := context.Background()
//
//	db, err := rediswire.Connect(ctx, &rediswire.Options{
//	    Addr: "localhost:6379",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Run any command; replies come back as resp.Value
//	v, err := db.Do(ctx, "GET", "greeting")
//	s, _ := v.AsStr()
//
//	// Batch commands into one round trip
//	p := db.Pipeline()
//	p.Do("SET", "a", "1")
//	p.Do("GET", "a")
//	replies, err := p.Exec(ctx)
//
//	// Graph queries decode into rows of Go values
//	graph := db.SelectGraph("social")
//	result, err := graph.Query(ctx,
//	    "MATCH (p:Person) WHERE p.age > $minAge RETURN p",
//	    &rediswire.QueryOptions{
//	        Params: map[string]interface{}{"minAge": 20},
//	    },
//	)
//	for _, row := range result.Rows {
//	    node := row["p"].(*rediswire.Node)
//	    fmt.Printf("%s is %v years old\n",
//	        node.Properties["name"], node.Properties["age"])
//	}
//
// # Connection Modes
//
// The topology is chosen by the options (or the URL scheme in [ConnectURL]):
//
//   - Standalone: Options.Addr, or redis:// URLs
//   - Cluster: Options.ClusterAddrs, or redis+cluster:// URLs; commands are
//     routed by key slot, with MOVED and ASK redirects followed once
//   - Sentinel: Options.SentinelAddrs and Options.MasterName, or
//     redis+sentinel:// URLs; the master is resolved through the sentinels
//     and re-resolved after a failover
//
// # Protocol Handling
//
// The [resp] subpackage decodes and encodes RESP frames. Decoding enforces
// limits on element counts, nesting depth, and bulk payload size before any
// allocation, so a malicious or corrupt peer cannot exhaust memory. Replies
// that violate the grammar surface as *resp.ProtocolError and the connection
// that produced them is discarded.
//
// # Graph Results
//
// [Graph.Query] requests the compact result format and decodes it against
// cached schema tables, refreshing them once when they are stale. Result
// rows contain Go representations of graph types:
//
//   - [Node]: nodes with labels and properties
//   - [Edge]: relationships with type and properties
//   - [Path]: alternating nodes and edges
//   - [Point]: geographic coordinates
//
// # Thread Safety
//
// All exported types in this package are safe for concurrent use.
package rediswire
