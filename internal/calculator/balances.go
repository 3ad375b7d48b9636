// Package calculator computes net balances and settlement plans for a
// group expense ledger. All arithmetic is in integer cents, so results are
// exact and the only tolerance needed anywhere is the sub-cent remainder
// of dividing an expense among its participants.
package calculator

import (
	"fmt"
	"sort"

	"github.com/okitz/groupledger/internal/models"
	"github.com/okitz/groupledger/internal/money"
)

// ComputeBalances nets every expense against its participants.
//
// Each expense credits its payer with the full amount and debits every
// participant with an equal share. Participants default to the members
// active at computation time unless the expense names an explicit subset.
// Shares are integer cents; the remainder of the division is assigned one
// cent at a time to participants in ascending user id order, so the shares
// of every expense sum exactly to its amount and the returned balances sum
// exactly to zero.
//
// Departed members take no share of the default split but keep any credit
// or debit from expenses that name them explicitly.
func ComputeBalances(members []models.Member, expenses []models.Expense) (map[int64]money.Cents, error) {
	var activeIDs []int64
	for _, m := range members {
		if m.Active() {
			activeIDs = append(activeIDs, m.UserID)
		}
	}
	sort.Slice(activeIDs, func(i, j int) bool { return activeIDs[i] < activeIDs[j] })

	balances := make(map[int64]money.Cents)
	for _, m := range members {
		balances[m.UserID] = 0
	}

	for _, e := range expenses {
		participants := e.ParticipantIDs
		if len(participants) == 0 {
			participants = activeIDs
		}
		if len(participants) == 0 {
			return nil, fmt.Errorf("expense %s: %w", e.ID, models.ErrNoParticipants)
		}

		sorted := make([]int64, len(participants))
		copy(sorted, participants)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		share := e.Amount / money.Cents(len(sorted))
		remainder := e.Amount % money.Cents(len(sorted))

		balances[e.PayerID] += e.Amount
		for i, id := range sorted {
			debit := share
			if money.Cents(i) < remainder {
				debit++
			}
			balances[id] -= debit
		}
	}

	return balances, nil
}

// TotalsPaid sums what each payer contributed, for display alongside net
// balances.
func TotalsPaid(expenses []models.Expense) map[int64]money.Cents {
	totals := make(map[int64]money.Cents)
	for _, e := range expenses {
		totals[e.PayerID] += e.Amount
	}
	return totals
}
