package routing

import (
	"github.com/brojonat/ripple/service/ledger"
)

// Plan turns an allocation into settlement transfer drafts: one per edge
// with a positive reservation, payer = edge source, recipient = edge target,
// in first-reserved order.
func Plan(alloc *Allocation) []ledger.TransferDraft {
	drafts := make([]ledger.TransferDraft, 0, len(alloc.Reservations))
	for _, r := range alloc.Reservations {
		if !r.Amount.IsPositive() {
			continue
		}
		drafts = append(drafts, ledger.TransferDraft{
			Payer:     r.From,
			Recipient: r.To,
			Amount:    r.Amount,
		})
	}
	return drafts
}

// Covers checks drafts against g's capacities. It returns the first draft
// whose edge capacity is smaller than its amount.
func Covers(g *Graph, drafts []ledger.TransferDraft) (ledger.TransferDraft, bool) {
	for _, d := range drafts {
		if g.Capacity(d.Payer, d.Recipient).LessThan(d.Amount) {
			return d, false
		}
	}
	return ledger.TransferDraft{}, true
}
