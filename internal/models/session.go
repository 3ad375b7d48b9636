package models

import (
	"time"

	"github.com/okitz/groupledger/internal/money"
)

// Session is the descriptor of one live group connection: which group,
// where its socket lives, and when this client joined. It is created by
// create/join against the remote authority and destroyed on leave,
// kick-of-self, or a fatal transport error.
type Session struct {
	GroupID  int64     `json:"groupId"`
	Title    string    `json:"title"`
	WSPath   string    `json:"wsPath"`
	JoinedAt time.Time `json:"joinedAt"`
}

// GroupFinal is the frozen snapshot of a group whose owner has ended the
// activity. A finalized group has no live session; clients render this
// snapshot instead of joining.
type GroupFinal struct {
	GroupID int64  `json:"groupId"`
	Title   string `json:"title"`

	// Status is 1 once the group is finalized.
	Status int `json:"status"`

	EndTime    time.Time       `json:"endTime"`
	Members    []FinalMember   `json:"members"`
	Settlement *SettlementPlan `json:"settlement,omitempty"`
}

// FinalMember is a member entry inside a GroupFinal snapshot, carrying the
// member's expenses as recorded by the server.
type FinalMember struct {
	UserID   int64          `json:"userId"`
	Name     string         `json:"name"`
	Avatar   string         `json:"avatar,omitempty"`
	Expenses []FinalExpense `json:"expenses"`
}

// FinalExpense is a single expense line inside a frozen snapshot.
type FinalExpense struct {
	Amount     money.Cents `json:"amount"`
	Title      string      `json:"title,omitempty"`
	Remark     string      `json:"remark,omitempty"`
	CreateTime time.Time   `json:"createTime"`
}
