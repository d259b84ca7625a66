// Package routing builds per-request trust graphs from a ledger snapshot,
// enumerates routes between two accounts and allocates a payment across them
// without exceeding any edge's capacity.
//
// A Graph is a value owned by one computation. It is never shared between
// requests and carries the reservations of that computation only.
package routing

import (
	"slices"

	"github.com/brojonat/ripple/service/ledger"
	"github.com/shopspring/decimal"
)

// EdgeKey identifies the directed edge From->To.
type EdgeKey struct {
	From string
	To   string
}

// Edge is a directed capacity edge.
// Invariant: Capacity - Reserved >= 0.
type Edge struct {
	From     string
	To       string
	Capacity decimal.Decimal
	Reserved decimal.Decimal
}

// Available returns the capacity not yet reserved by the current allocation.
func (e *Edge) Available() decimal.Decimal {
	return e.Capacity.Sub(e.Reserved)
}

// Graph is a directed graph with at most one edge per ordered pair.
type Graph struct {
	nodes map[string]ledger.Account
	edges map[EdgeKey]*Edge

	// sorted out-neighbours, built on first use
	adj map[string][]string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]ledger.Account),
		edges: make(map[EdgeKey]*Edge),
	}
}

// AddNode registers an account. Re-adding replaces its attributes.
func (g *Graph) AddNode(acc ledger.Account) {
	g.nodes[acc.ID] = acc
	g.adj = nil
}

// HasNode reports whether id is a node of the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns the account stored for id.
func (g *Graph) Node(id string) (ledger.Account, bool) {
	acc, ok := g.nodes[id]
	return acc, ok
}

// NodeIDs returns all node ids in ascending order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// AddCapacity gets the edge from->to (creating it at zero) and adds amount,
// which may be negative. Capacities are not clamped here; see Build.
func (g *Graph) AddCapacity(from, to string, amount decimal.Decimal) {
	key := EdgeKey{From: from, To: to}
	e, ok := g.edges[key]
	if !ok {
		e = &Edge{From: from, To: to}
		g.edges[key] = e
	}
	e.Capacity = e.Capacity.Add(amount)
	g.adj = nil
}

// Edge returns the edge from->to or nil.
func (g *Graph) Edge(from, to string) *Edge {
	return g.edges[EdgeKey{From: from, To: to}]
}

// Capacity returns the capacity of from->to, zero when the edge is absent.
func (g *Graph) Capacity(from, to string) decimal.Decimal {
	if e := g.Edge(from, to); e != nil {
		return e.Capacity
	}
	return decimal.Zero
}

// Edges returns all edges ordered by (From, To).
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Edge) int {
		if a.From != b.From {
			if a.From < b.From {
				return -1
			}
			return 1
		}
		if a.To < b.To {
			return -1
		}
		if a.To > b.To {
			return 1
		}
		return 0
	})
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// neighbors returns the targets of edges leaving id with positive capacity,
// in ascending id order.
func (g *Graph) neighbors(id string) []string {
	if g.adj == nil {
		g.adj = make(map[string][]string, len(g.nodes))
		for key, e := range g.edges {
			if !e.Capacity.IsPositive() {
				continue
			}
			g.adj[key.From] = append(g.adj[key.From], key.To)
		}
		for _, targets := range g.adj {
			slices.Sort(targets)
		}
	}
	return g.adj[id]
}

// clampNegative raises every negative capacity to zero.
func (g *Graph) clampNegative() {
	for _, e := range g.edges {
		if e.Capacity.IsNegative() {
			e.Capacity = decimal.Zero
		}
	}
	g.adj = nil
}
