package proto

import "testing"

func TestValueToString(t *testing.T) {
	tests := []struct {
		input    interface{}
		expected string
	}{
		{nil, "null"},
		{"hello", `"hello"`},
		{42, "42"},
		{3.14, "3.14"},
		{true, "true"},
		{false, "false"},
		{[]interface{}{1, 2, 3}, "[1,2,3]"},
		{map[string]interface{}{"key": "value"}, `{key:"value"}`},
	}

	for _, tc := range tests {
		result := ValueToString(tc.input)
		if result != tc.expected {
			t.Errorf("ValueToString(%v) = %s, expected %s", tc.input, result, tc.expected)
		}
	}
}

func TestValueToStringEscaping(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`hello`, `"hello"`},
		{`hello "world"`, `"hello \"world\""`},
		{`path\to\file`, `"path\\to\\file"`},
	}

	for _, tc := range tests {
		result := ValueToString(tc.input)
		if result != tc.expected {
			t.Errorf("ValueToString(%q) = %s, expected %s", tc.input, result, tc.expected)
		}
	}
}

func TestBuildQueryArgs(t *testing.T) {
	// Basic query without params
	args := BuildQueryArgs("GRAPH.QUERY", "myGraph", "MATCH (n) RETURN n", nil, 0, true)

	want := []string{"GRAPH.QUERY", "myGraph", "MATCH (n) RETURN n", "--compact"}
	if len(args) != len(want) {
		t.Fatalf("Expected %d args, got %d", len(want), len(args))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d = %q, expected %q", i, args[i], want[i])
		}
	}

	// Query with params gets the CYPHER prefix
	args = BuildQueryArgs("GRAPH.QUERY", "myGraph", "MATCH (n) RETURN n",
		map[string]interface{}{"name": "test"}, 0, true)

	if args[2] != `CYPHER name="test" MATCH (n) RETURN n` {
		t.Errorf("unexpected query arg %q", args[2])
	}

	// Query with timeout
	args = BuildQueryArgs("GRAPH.QUERY", "myGraph", "MATCH (n) RETURN n", nil, 5000, true)

	foundTimeout := false
	for i, arg := range args {
		if arg == "TIMEOUT" {
			foundTimeout = true
			if i+1 >= len(args) || args[i+1] != "5000" {
				t.Error("TIMEOUT not followed by its value")
			}
			break
		}
	}
	if !foundTimeout {
		t.Error("Expected TIMEOUT in args")
	}
}

func TestBuildQueryArgsParamOrder(t *testing.T) {
	args := BuildQueryArgs("GRAPH.QUERY", "g", "RETURN 1",
		map[string]interface{}{"b": 2, "a": 1, "c": 3}, 0, false)

	if args[2] != "CYPHER a=1 b=2 c=3 RETURN 1" {
		t.Errorf("params not emitted in sorted order: %q", args[2])
	}
}
