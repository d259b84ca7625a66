package routing

import (
	"iter"
)

// Path is a simple route, listed as account ids from source to sink.
type Path []string

// Edges returns the consecutive edge keys of the path.
func (p Path) Edges() []EdgeKey {
	if len(p) < 2 {
		return nil
	}
	keys := make([]EdgeKey, 0, len(p)-1)
	for i := 0; i < len(p)-1; i++ {
		keys = append(keys, EdgeKey{From: p[i], To: p[i+1]})
	}
	return keys
}

// Budget bounds path enumeration. Zero fields are unbounded.
// Running out of budget ends the sequence; it is not an error.
type Budget struct {
	// MaxPaths is the maximum number of paths yielded.
	MaxPaths int
	// MaxPathLength is the maximum number of edges in a yielded path.
	MaxPathLength int
}

// Enumerator yields simple paths within a Budget.
type Enumerator struct {
	Budget Budget
}

// NewEnumerator returns an Enumerator with the given budget.
func NewEnumerator(b Budget) *Enumerator {
	return &Enumerator{Budget: b}
}

// Paths lazily enumerates simple directed paths from source to sink over
// edges with positive capacity. Neighbours are visited in ascending id
// order, so the sequence is reproducible for a fixed graph. A missing
// endpoint, source == sink or a disconnected pair yields nothing.
//
// Each yielded Path is a fresh slice owned by the consumer.
func (e *Enumerator) Paths(g *Graph, source, sink string) iter.Seq[Path] {
	return func(yield func(Path) bool) {
		if source == sink || !g.HasNode(source) || !g.HasNode(sink) {
			return
		}

		type frame struct {
			node string
			next int // index of the next neighbour to try
		}

		maxPaths := e.Budget.MaxPaths
		maxLen := e.Budget.MaxPathLength
		yielded := 0

		onPath := map[string]bool{source: true}
		stack := []frame{{node: source}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			nbrs := g.neighbors(top.node)

			if top.next >= len(nbrs) {
				delete(onPath, top.node)
				stack = stack[:len(stack)-1]
				continue
			}

			v := nbrs[top.next]
			top.next++

			if onPath[v] {
				continue
			}

			depth := len(stack) // edges on the path once v is appended
			if maxLen > 0 && depth > maxLen {
				continue
			}

			if v == sink {
				p := make(Path, 0, depth+1)
				for _, f := range stack {
					p = append(p, f.node)
				}
				p = append(p, sink)
				if !yield(p) {
					return
				}
				yielded++
				if maxPaths > 0 && yielded >= maxPaths {
					return
				}
				continue
			}

			if maxLen > 0 && depth >= maxLen {
				// v is not the sink and cannot be extended further
				continue
			}

			onPath[v] = true
			stack = append(stack, frame{node: v})
		}
	}
}
