package routing

import (
	"math"

	"github.com/shopspring/decimal"
)

// layoutRadius is the radius of the circular layout of a full graph view.
const layoutRadius = 100

// NodeView is the presentation form of a graph node.
type NodeView struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
}

// EdgeView is the presentation form of a graph edge.
type EdgeView struct {
	Source   string          `json:"source"`
	Target   string          `json:"target"`
	Capacity decimal.Decimal `json:"capacity"`
}

// GraphView is a serialisable copy of a Graph.
type GraphView struct {
	Nodes []NodeView `json:"nodes"`
	Edges []EdgeView `json:"edges"`
}

// View copies g into a GraphView with nodes and edges in ascending id order.
// With layout set, nodes are placed evenly on a circle.
func View(g *Graph, layout bool) GraphView {
	ids := g.NodeIDs()
	v := GraphView{
		Nodes: make([]NodeView, 0, len(ids)),
		Edges: make([]EdgeView, 0, g.EdgeCount()),
	}

	for i, id := range ids {
		acc, _ := g.Node(id)
		n := NodeView{ID: id, DisplayName: acc.DisplayName}
		if layout {
			angle := float64(i) * 2 * math.Pi / float64(len(ids))
			x := layoutRadius * math.Cos(angle)
			y := layoutRadius * math.Sin(angle)
			n.X, n.Y = &x, &y
		}
		v.Nodes = append(v.Nodes, n)
	}

	for _, e := range g.Edges() {
		v.Edges = append(v.Edges, EdgeView{Source: e.From, Target: e.To, Capacity: e.Capacity})
	}
	return v
}
