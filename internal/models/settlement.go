package models

import "github.com/okitz/groupledger/internal/money"

// Transfer is one peer-to-peer payment in a settlement plan.
type Transfer struct {
	// FromUserID is the debtor making the payment.
	FromUserID int64 `json:"fromUserId"`

	// ToUserID is the creditor receiving it.
	ToUserID int64 `json:"toUserId"`

	// Amount is always positive.
	Amount money.Cents `json:"amount"`
}

// Balance is one member's net position after all expenses are shared.
// Positive NetAmount means the member is owed money, negative means the
// member owes.
type Balance struct {
	UserID    int64       `json:"userId"`
	NetAmount money.Cents `json:"netAmount"`
	TotalPaid money.Cents `json:"totalPaid"`
}

// SettlementPlan is the set of transfers that clears every member's net
// balance, together with the balances it was derived from. Plans are
// replaced wholesale: a server-computed plan overrides any locally derived
// one.
type SettlementPlan struct {
	GroupID   int64      `json:"groupId"`
	Transfers []Transfer `json:"transfers"`
	Balances  []Balance  `json:"balances"`
}

// TotalExpense sums what every member paid, for display headers.
func (p *SettlementPlan) TotalExpense() money.Cents {
	var total money.Cents
	for _, b := range p.Balances {
		total += b.TotalPaid
	}
	return total
}
