package routing

import (
	"slices"

	"github.com/brojonat/ripple/service/ledger"
)

// AccountFilter restricts a build to a set of accounts. A nil filter keeps
// every account.
type AccountFilter map[string]struct{}

// NewAccountFilter returns a filter holding ids.
func NewAccountFilter(ids ...string) AccountFilter {
	f := make(AccountFilter, len(ids))
	for _, id := range ids {
		f[id] = struct{}{}
	}
	return f
}

// Contains reports whether id passes the filter.
func (f AccountFilter) Contains(id string) bool {
	if f == nil {
		return true
	}
	_, ok := f[id]
	return ok
}

// IDs returns the filter members in ascending order. A nil filter returns nil.
func (f AccountFilter) IDs() []string {
	if f == nil {
		return nil
	}
	ids := make([]string, 0, len(f))
	for id := range f {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (f AccountFilter) both(a, b string) bool {
	return f.Contains(a) && f.Contains(b)
}

// Build derives the capacity graph of a ledger snapshot.
//
// A declaration (truster T, trustee P, limit L) adds L to P->T. A completed
// settlement (payer X, recipient Y, amount A) adds A to Y->X and removes A
// from X->Y. Contributions to the same edge are summed and the result is
// clamped at zero once every record has been applied, so the capacities do
// not depend on record order. With a non-nil filter, nodes are restricted to
// the filter and a record is kept only when both of its endpoints are in it.
func Build(snap ledger.Snapshot, filter AccountFilter) *Graph {
	g := NewGraph()

	for _, acc := range snap.Accounts {
		if filter.Contains(acc.ID) {
			g.AddNode(acc)
		}
	}

	for _, d := range snap.Declarations {
		if !filter.both(d.Truster, d.Trustee) {
			continue
		}
		g.AddCapacity(d.Trustee, d.Truster, d.Limit)
	}

	for _, s := range snap.Settlements {
		if !filter.both(s.Payer, s.Recipient) {
			continue
		}
		g.AddCapacity(s.Recipient, s.Payer, s.Amount)
		g.AddCapacity(s.Payer, s.Recipient, s.Amount.Neg())
	}

	g.clampNegative()
	return g
}
