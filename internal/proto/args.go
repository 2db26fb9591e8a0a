// Package proto builds graph command arguments: queries run in the compact
// wire format, with parameters folded into the query text via the CYPHER
// parameter prefix.
package proto

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// BuildQueryArgs constructs the arguments for a GRAPH.QUERY or
// GRAPH.RO_QUERY command.
func BuildQueryArgs(cmd, graph, query string, params map[string]interface{}, timeout int, compact bool) []string {
	args := []string{cmd, graph}

	if len(params) > 0 {
		query = fmt.Sprintf("CYPHER %s %s", paramsToString(params), query)
	}
	args = append(args, query)

	if timeout > 0 {
		args = append(args, "TIMEOUT", strconv.Itoa(timeout))
	}
	if compact {
		args = append(args, "--compact")
	}
	return args
}

// paramsToString renders query parameters in the CYPHER prefix format.
// Keys are emitted in sorted order so the generated query is stable.
func paramsToString(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, ValueToString(params[key])))
	}
	return strings.Join(parts, " ")
}

// ValueToString converts a parameter value to its query literal. Strings
// are quoted with quotes and backslashes escaped, so a value can never
// break out of its literal.
func ValueToString(param interface{}) string {
	if param == nil {
		return "null"
	}

	switch v := param.(type) {
	case string:
		escaped := strings.ReplaceAll(v, "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		return fmt.Sprintf("\"%s\"", escaped)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	case float32, float64:
		return fmt.Sprint(v)
	case bool:
		return fmt.Sprint(v)
	case []interface{}:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, ValueToString(item))
		}
		return fmt.Sprintf("[%s]", strings.Join(items, ","))
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		items := make([]string, 0, len(keys))
		for _, key := range keys {
			items = append(items, fmt.Sprintf("%s:%s", key, ValueToString(v[key])))
		}
		return fmt.Sprintf("{%s}", strings.Join(items, ","))
	default:
		return fmt.Sprint(v)
	}
}
