package rediswire

import (
	"fmt"
	"strings"
)

// Node represents a graph node with labels and properties.
type Node struct {
	// ID is the internal node identifier.
	ID int64

	// Labels are the node's labels.
	Labels []string

	// Properties are the node's key-value properties.
	Properties map[string]interface{}
}

// String returns a string representation of the node.
func (n *Node) String() string {
	labels := strings.Join(n.Labels, ":")
	return fmt.Sprintf("(:%s %v)", labels, n.Properties)
}

// Edge represents a graph relationship/edge.
type Edge struct {
	// ID is the internal edge identifier.
	ID int64

	// RelationshipType is the edge's type.
	RelationshipType string

	// SourceID is the ID of the source node.
	SourceID int64

	// DestinationID is the ID of the destination node.
	DestinationID int64

	// Properties are the edge's key-value properties.
	Properties map[string]interface{}
}

// String returns a string representation of the edge.
func (e *Edge) String() string {
	return fmt.Sprintf("-[:%s %v]->", e.RelationshipType, e.Properties)
}

// Path represents a sequence of nodes connected by edges.
type Path struct {
	// Nodes are the nodes in the path.
	Nodes []*Node

	// Edges are the edges connecting the nodes.
	Edges []*Edge
}

// Length returns the number of edges in the path.
func (p *Path) Length() int {
	return len(p.Edges)
}

// String returns a string representation of the path.
func (p *Path) String() string {
	if len(p.Nodes) == 0 {
		return "(empty path)"
	}

	var parts []string
	for i, node := range p.Nodes {
		parts = append(parts, node.String())
		if i < len(p.Edges) {
			parts = append(parts, p.Edges[i].String())
		}
	}
	return strings.Join(parts, "")
}

// Point represents a geographic point with latitude and longitude.
type Point struct {
	Latitude  float64
	Longitude float64
}

// String returns a string representation of the point.
func (p *Point) String() string {
	return fmt.Sprintf("POINT(%f %f)", p.Latitude, p.Longitude)
}
