package rediswire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flancast90/rediswire-go/resp"
)

// ColumnType is the kind of a result column as declared by the header.
type ColumnType int

const (
	ColumnUnknown  ColumnType = 0
	ColumnScalar   ColumnType = 1
	ColumnNode     ColumnType = 2
	ColumnRelation ColumnType = 3
)

// Header describes one result column.
type Header struct {
	Kind ColumnType
	Name string
}

// QueryResult is a decoded graph query reply.
type QueryResult struct {
	// Columns are the result columns, in declaration order.
	Columns []Header

	// Rows map column name to decoded value. Values are nil, string,
	// int64, float64, bool, []interface{}, map[string]interface{},
	// *Node, *Edge, *Path, or *Point.
	Rows []map[string]interface{}

	// Stats are the execution statistics reported with the reply.
	Stats QueryStats
}

// QueryStats are the execution statistics of one query. Fields stay zero
// when the server did not report them; Raw preserves every reported line.
type QueryStats struct {
	LabelsAdded          int
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	PropertiesSet        int
	IndicesCreated       int
	IndicesDeleted       int
	CachedExecution      bool
	ExecutionTimeMS      float64
	Raw                  []string
}

// Compact-format type codes. The wire encodes every cell as a
// [typeCode, value] pair; these are the codes.
const (
	scalarNull    = 1
	scalarString  = 2
	scalarInteger = 3
	scalarBoolean = 4
	scalarDouble  = 5
	scalarArray   = 6
	scalarEdge    = 7
	scalarNode    = 8
	scalarPath    = 9
	scalarMap     = 10
	scalarPoint   = 11
)

// decodeResult decodes a compact query reply. The top level is either a
// 1-element array (statistics only, for write-only queries) or a 3-element
// array of header, rows, statistics. Any other shape, and any unknown type
// code below it, is a *GraphError: the payload is never guessed at.
//
// stale reports that the reply referenced a label/type/property index the
// given tables don't cover; the caller may refresh the schema and decode
// again.
func decodeResult(v resp.Value, tables schemaTables) (*QueryResult, bool, error) {
	top, ok := v.AsArray()
	if !ok {
		return nil, false, graphErr("compact reply is %s, want array", v.Type)
	}

	d := &resultDecoder{tables: tables}
	res := &QueryResult{}
	var err error

	switch len(top) {
	case 1:
		res.Stats, err = decodeStats(top[0])
		return res, false, err
	case 3:
		if res.Columns, err = d.header(top[0]); err != nil {
			return nil, false, err
		}
		if res.Rows, err = d.rows(top[1], res.Columns); err != nil {
			return nil, false, err
		}
		if res.Stats, err = decodeStats(top[2]); err != nil {
			return nil, false, err
		}
		return res, d.stale, nil
	}
	return nil, false, graphErr("compact reply has %d sections, want 1 or 3", len(top))
}

type resultDecoder struct {
	tables schemaTables
	stale  bool
}

func (d *resultDecoder) header(v resp.Value) ([]Header, error) {
	entries, ok := v.AsArray()
	if !ok {
		return nil, graphErr("header is %s, want array", v.Type)
	}
	columns := make([]Header, len(entries))
	for i, entry := range entries {
		fields, ok := entry.AsArray()
		if !ok || len(fields) != 2 {
			return nil, graphErr("malformed header entry %d", i)
		}
		kind, ok := fields[0].AsInt()
		if !ok || kind < int64(ColumnScalar) || kind > int64(ColumnRelation) {
			return nil, graphErr("unknown column type code in header entry %d", i)
		}
		name, ok := fields[1].AsStr()
		if !ok {
			return nil, graphErr("header entry %d has no name", i)
		}
		columns[i] = Header{Kind: ColumnType(kind), Name: name}
	}
	return columns, nil
}

func (d *resultDecoder) rows(v resp.Value, columns []Header) ([]map[string]interface{}, error) {
	rawRows, ok := v.AsArray()
	if !ok {
		return nil, graphErr("result rows are %s, want array", v.Type)
	}
	rows := make([]map[string]interface{}, len(rawRows))
	for i, rawRow := range rawRows {
		cells, ok := rawRow.AsArray()
		if !ok {
			return nil, graphErr("row %d is %s, want array", i, rawRow.Type)
		}
		if len(cells) != len(columns) {
			return nil, graphErr("row %d has %d cells for %d columns", i, len(cells), len(columns))
		}
		row := make(map[string]interface{}, len(cells))
		for j, cell := range cells {
			val, err := d.cell(cell)
			if err != nil {
				return nil, err
			}
			row[columns[j].Name] = val
		}
		rows[i] = row
	}
	return rows, nil
}

// cell decodes one [typeCode, value] pair.
func (d *resultDecoder) cell(v resp.Value) (interface{}, error) {
	fields, ok := v.AsArray()
	if !ok || len(fields) != 2 {
		return nil, graphErr("cell is not a [type, value] pair")
	}
	code, ok := fields[0].AsInt()
	if !ok {
		return nil, graphErr("cell type code is %s, want integer", fields[0].Type)
	}
	return d.scalar(code, fields[1])
}

func (d *resultDecoder) scalar(code int64, v resp.Value) (interface{}, error) {
	switch code {
	case scalarNull:
		return nil, nil

	case scalarString:
		s, ok := v.AsStr()
		if !ok {
			return nil, graphErr("string cell holds %s", v.Type)
		}
		return s, nil

	case scalarInteger:
		n, ok := v.AsInt()
		if !ok {
			return nil, graphErr("integer cell holds %s", v.Type)
		}
		return n, nil

	case scalarBoolean:
		// RESP2 carries graph booleans as the strings "true"/"false",
		// RESP3 as native booleans.
		if v.Type == resp.TypeBoolean {
			b, _ := v.AsBool()
			return b, nil
		}
		if s, ok := v.AsStr(); ok {
			switch s {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, graphErr("boolean cell holds %s", v.Type)

	case scalarDouble:
		f, ok := v.AsFloat()
		if !ok {
			return nil, graphErr("double cell holds %s", v.Type)
		}
		return f, nil

	case scalarArray:
		items, ok := v.AsArray()
		if !ok {
			return nil, graphErr("array cell holds %s", v.Type)
		}
		out := make([]interface{}, len(items))
		for i, item := range items {
			val, err := d.cell(item)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil

	case scalarEdge:
		return d.edge(v)

	case scalarNode:
		return d.node(v)

	case scalarPath:
		return d.path(v)

	case scalarMap:
		return d.mapValue(v)

	case scalarPoint:
		return d.point(v)
	}
	return nil, graphErr("unknown scalar type code %d", code)
}

// node decodes [id, [labelIDs], [[keyID, typeCode, value], ...]].
func (d *resultDecoder) node(v resp.Value) (*Node, error) {
	fields, ok := v.AsArray()
	if !ok || len(fields) != 3 {
		return nil, graphErr("malformed node cell")
	}
	id, ok := fields[0].AsInt()
	if !ok {
		return nil, graphErr("node id is %s, want integer", fields[0].Type)
	}
	labelIDs, ok := fields[1].AsArray()
	if !ok {
		return nil, graphErr("node labels are %s, want array", fields[1].Type)
	}

	node := &Node{ID: id}
	for _, lv := range labelIDs {
		idx, ok := lv.AsInt()
		if !ok {
			return nil, graphErr("node label id is %s, want integer", lv.Type)
		}
		node.Labels = append(node.Labels, d.label(int(idx)))
	}
	props, err := d.properties(fields[2])
	if err != nil {
		return nil, err
	}
	node.Properties = props
	return node, nil
}

// edge decodes [id, relTypeID, srcID, dstID, properties].
func (d *resultDecoder) edge(v resp.Value) (*Edge, error) {
	fields, ok := v.AsArray()
	if !ok || len(fields) != 5 {
		return nil, graphErr("malformed relationship cell")
	}
	id, ok1 := fields[0].AsInt()
	relType, ok2 := fields[1].AsInt()
	src, ok3 := fields[2].AsInt()
	dst, ok4 := fields[3].AsInt()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, graphErr("malformed relationship ids")
	}
	props, err := d.properties(fields[4])
	if err != nil {
		return nil, err
	}
	return &Edge{
		ID:               id,
		RelationshipType: d.relType(int(relType)),
		SourceID:         src,
		DestinationID:    dst,
		Properties:       props,
	}, nil
}

// path decodes [nodesCell, edgesCell]: each side is itself an array cell
// whose elements are node (resp. edge) cells.
func (d *resultDecoder) path(v resp.Value) (*Path, error) {
	fields, ok := v.AsArray()
	if !ok || len(fields) != 2 {
		return nil, graphErr("malformed path cell")
	}
	nodesVal, err := d.cell(fields[0])
	if err != nil {
		return nil, err
	}
	edgesVal, err := d.cell(fields[1])
	if err != nil {
		return nil, err
	}
	nodes, ok1 := nodesVal.([]interface{})
	edges, ok2 := edgesVal.([]interface{})
	if !ok1 || !ok2 {
		return nil, graphErr("path sides are not arrays")
	}

	path := &Path{}
	for _, n := range nodes {
		node, ok := n.(*Node)
		if !ok {
			return nil, graphErr("path node side holds %T", n)
		}
		path.Nodes = append(path.Nodes, node)
	}
	for _, e := range edges {
		edge, ok := e.(*Edge)
		if !ok {
			return nil, graphErr("path edge side holds %T", e)
		}
		path.Edges = append(path.Edges, edge)
	}
	return path, nil
}

// mapValue decodes an alternating [key, cell, key, cell, ...] array.
func (d *resultDecoder) mapValue(v resp.Value) (map[string]interface{}, error) {
	items, ok := v.AsArray()
	if !ok || len(items)%2 != 0 {
		return nil, graphErr("malformed map cell")
	}
	out := make(map[string]interface{}, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		key, ok := items[i].AsStr()
		if !ok {
			return nil, graphErr("map key is %s, want string", items[i].Type)
		}
		val, err := d.cell(items[i+1])
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

// point decodes [latitude, longitude].
func (d *resultDecoder) point(v resp.Value) (*Point, error) {
	fields, ok := v.AsArray()
	if !ok || len(fields) != 2 {
		return nil, graphErr("malformed point cell")
	}
	lat, ok1 := fields[0].AsFloat()
	lon, ok2 := fields[1].AsFloat()
	if !ok1 || !ok2 {
		return nil, graphErr("malformed point coordinates")
	}
	return &Point{Latitude: lat, Longitude: lon}, nil
}

// properties decodes [[keyID, typeCode, value], ...].
func (d *resultDecoder) properties(v resp.Value) (map[string]interface{}, error) {
	items, ok := v.AsArray()
	if !ok {
		return nil, graphErr("properties are %s, want array", v.Type)
	}
	props := make(map[string]interface{}, len(items))
	for _, item := range items {
		fields, ok := item.AsArray()
		if !ok || len(fields) != 3 {
			return nil, graphErr("malformed property triple")
		}
		keyID, ok1 := fields[0].AsInt()
		code, ok2 := fields[1].AsInt()
		if !ok1 || !ok2 {
			return nil, graphErr("malformed property ids")
		}
		val, err := d.scalar(code, fields[2])
		if err != nil {
			return nil, err
		}
		props[d.propKey(int(keyID))] = val
	}
	return props, nil
}

// label/relType/propKey resolve compact indices to names, falling back to a
// placeholder and flagging the schema stale when the table is behind.

func (d *resultDecoder) label(idx int) string {
	if idx >= 0 && idx < len(d.tables.labels) {
		return d.tables.labels[idx]
	}
	d.stale = true
	return fmt.Sprintf("label_%d", idx)
}

func (d *resultDecoder) relType(idx int) string {
	if idx >= 0 && idx < len(d.tables.relTypes) {
		return d.tables.relTypes[idx]
	}
	d.stale = true
	return fmt.Sprintf("type_%d", idx)
}

func (d *resultDecoder) propKey(idx int) string {
	if idx >= 0 && idx < len(d.tables.propKeys) {
		return d.tables.propKeys[idx]
	}
	d.stale = true
	return fmt.Sprintf("prop_%d", idx)
}

// decodeStats parses the statistics section: an array of "Name: value"
// strings.
func decodeStats(v resp.Value) (QueryStats, error) {
	lines, ok := v.AsArray()
	if !ok {
		return QueryStats{}, graphErr("statistics are %s, want array", v.Type)
	}
	var stats QueryStats
	for _, line := range lines {
		s, ok := line.AsStr()
		if !ok {
			return QueryStats{}, graphErr("statistics line is %s, want string", line.Type)
		}
		stats.Raw = append(stats.Raw, s)

		name, value, found := strings.Cut(s, ": ")
		if !found {
			continue
		}
		switch name {
		case "Labels added":
			stats.LabelsAdded = statInt(value)
		case "Nodes created":
			stats.NodesCreated = statInt(value)
		case "Nodes deleted":
			stats.NodesDeleted = statInt(value)
		case "Relationships created":
			stats.RelationshipsCreated = statInt(value)
		case "Relationships deleted":
			stats.RelationshipsDeleted = statInt(value)
		case "Properties set":
			stats.PropertiesSet = statInt(value)
		case "Indices created":
			stats.IndicesCreated = statInt(value)
		case "Indices deleted":
			stats.IndicesDeleted = statInt(value)
		case "Cached execution":
			stats.CachedExecution = value == "1" || value == "true"
		case "Query internal execution time":
			ms, _, _ := strings.Cut(value, " ")
			stats.ExecutionTimeMS, _ = strconv.ParseFloat(ms, 64)
		}
	}
	return stats, nil
}

func statInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
