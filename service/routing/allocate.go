package routing

import (
	"iter"

	"github.com/shopspring/decimal"
)

// PathAllocation is the amount taken from one path.
type PathAllocation struct {
	Path   Path            `json:"path"`
	Amount decimal.Decimal `json:"amount"`
}

// Reservation is the total reserved on one edge by an allocation.
type Reservation struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// Allocation is the outcome of one Allocate call.
type Allocation struct {
	// Total is the sum of the amounts of Paths.
	Total decimal.Decimal
	// Paths holds the paths that contributed a positive amount, in
	// enumeration order.
	Paths []PathAllocation
	// Reservations holds every edge with a positive reservation, ordered by
	// the first path that reserved it.
	Reservations []Reservation
	// Examined counts the paths read from the sequence, including those
	// that contributed nothing.
	Examined int
	// Candidates holds every examined path.
	Candidates []Path
}

// Touched returns the accounts on the contributing paths in first-seen order.
func (a *Allocation) Touched() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, pa := range a.Paths {
		for _, id := range pa.Path {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Allocate walks paths once, in order, taking each path's bottleneck
// (the minimum of Capacity-Reserved over its edges) and reserving it on every
// edge of the path. When requested is non-nil the last path taken is clamped
// to the remainder and the walk stops once the request is met.
//
// This is a greedy heuristic: earlier reservations are never revisited, so
// with requested == nil Total is a lower bound on the maximum flow, not the
// maximum itself. Reservations are written to the graph's edges.
func Allocate(g *Graph, paths iter.Seq[Path], requested *decimal.Decimal) *Allocation {
	alloc := &Allocation{Total: decimal.Zero}
	reservedOrder := make(map[EdgeKey]int)

	for p := range paths {
		if requested != nil && alloc.Total.GreaterThanOrEqual(*requested) {
			break
		}
		alloc.Examined++
		alloc.Candidates = append(alloc.Candidates, p)

		keys := p.Edges()
		if len(keys) == 0 {
			continue
		}

		bottleneck, ok := pathBottleneck(g, keys)
		if !ok {
			continue
		}

		take := bottleneck
		finished := false
		if requested != nil {
			remaining := requested.Sub(alloc.Total)
			if remaining.LessThan(bottleneck) {
				take = remaining
				finished = true
			}
		}

		if take.IsPositive() {
			for _, k := range keys {
				e := g.edges[k]
				e.Reserved = e.Reserved.Add(take)
				if _, seen := reservedOrder[k]; !seen {
					reservedOrder[k] = len(reservedOrder)
					alloc.Reservations = append(alloc.Reservations, Reservation{From: k.From, To: k.To})
				}
			}
			alloc.Total = alloc.Total.Add(take)
			alloc.Paths = append(alloc.Paths, PathAllocation{Path: p, Amount: take})
		}

		if finished {
			break
		}
	}

	for i := range alloc.Reservations {
		r := &alloc.Reservations[i]
		r.Amount = g.edges[EdgeKey{From: r.From, To: r.To}].Reserved
	}

	return alloc
}

// pathBottleneck returns the smallest available capacity along keys.
// It reports false when an edge is missing from the graph.
func pathBottleneck(g *Graph, keys []EdgeKey) (decimal.Decimal, bool) {
	var least decimal.Decimal
	for i, k := range keys {
		e, ok := g.edges[k]
		if !ok {
			return decimal.Zero, false
		}
		avail := e.Available()
		if i == 0 || avail.LessThan(least) {
			least = avail
		}
	}
	if least.IsNegative() {
		least = decimal.Zero
	}
	return least, true
}

// Reset clears every reservation on the graph.
func (g *Graph) Reset() {
	for _, e := range g.edges {
		e.Reserved = decimal.Zero
	}
}
