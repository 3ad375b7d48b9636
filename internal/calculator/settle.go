package calculator

import (
	"sort"

	"github.com/okitz/groupledger/internal/models"
	"github.com/okitz/groupledger/internal/money"
)

// Settle produces the greedy minimal transfer plan for a set of net
// balances: repeatedly pay the current debtor's debt into the current
// creditor's credit until both lists are exhausted.
//
// Creditors and debtors are each processed in ascending user id order.
// The ordering is a fixed part of the contract: every client derives the
// same transfer list from the same balances. The plan is not provably
// globally minimal, but it never exceeds len(balances)-1 transfers and
// zeroes every balance exactly.
func Settle(balances map[int64]money.Cents) []models.Transfer {
	type entry struct {
		userID int64
		amount money.Cents
	}

	var creditors, debtors []entry
	for id, bal := range balances {
		switch {
		case bal > 0:
			creditors = append(creditors, entry{id, bal})
		case bal < 0:
			debtors = append(debtors, entry{id, bal.Abs()})
		}
	}
	sort.Slice(creditors, func(i, j int) bool { return creditors[i].userID < creditors[j].userID })
	sort.Slice(debtors, func(i, j int) bool { return debtors[i].userID < debtors[j].userID })

	var transfers []models.Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := debtors[i].amount
		if creditors[j].amount < amount {
			amount = creditors[j].amount
		}
		if amount > 0 {
			transfers = append(transfers, models.Transfer{
				FromUserID: debtors[i].userID,
				ToUserID:   creditors[j].userID,
				Amount:     amount,
			})
		}

		debtors[i].amount -= amount
		creditors[j].amount -= amount
		if debtors[i].amount == 0 {
			i++
		}
		if creditors[j].amount == 0 {
			j++
		}
	}

	return transfers
}

// PlanFor runs the full pipeline over cached state: balances, paid totals,
// and the transfer list, assembled into a plan ordered by user id.
func PlanFor(groupID int64, members []models.Member, expenses []models.Expense) (*models.SettlementPlan, error) {
	balances, err := ComputeBalances(members, expenses)
	if err != nil {
		return nil, err
	}
	totals := TotalsPaid(expenses)

	ids := make([]int64, 0, len(balances))
	for id := range balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	plan := &models.SettlementPlan{
		GroupID:   groupID,
		Transfers: Settle(balances),
	}
	for _, id := range ids {
		plan.Balances = append(plan.Balances, models.Balance{
			UserID:    id,
			NetAmount: balances[id],
			TotalPaid: totals[id],
		})
	}
	return plan, nil
}
