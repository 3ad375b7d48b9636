package models

import (
	"time"

	"github.com/okitz/groupledger/internal/money"
)

// Expense is one shared expense inside a group.
//
// Expenses are append-only: once created they are never edited locally,
// only superseded wholesale by an authoritative record carrying the same
// ID. Pending marks an optimistic local record that has been sent but not
// yet echoed back by the server.
type Expense struct {
	// ID is the unique identifier. Server-issued for confirmed records,
	// a locally generated UUID for pending ones.
	ID string `json:"id"`

	// GroupID is the group this expense belongs to.
	GroupID int64 `json:"groupId"`

	// Amount is the full amount paid, in minor units. Always positive.
	Amount money.Cents `json:"amount"`

	Title  string `json:"title,omitempty"`
	Remark string `json:"remark,omitempty"`

	// PayerID identifies who paid. PayerName and PayerAvatar are display
	// denormalizations captured at record time.
	PayerID     int64  `json:"userId"`
	PayerName   string `json:"nickName,omitempty"`
	PayerAvatar string `json:"avatarUrl,omitempty"`

	// ParticipantIDs restricts who shares this expense. Empty means all
	// members active at computation time participate.
	ParticipantIDs []int64 `json:"participantIds,omitempty"`

	OccurredAt time.Time `json:"occurredAt"`

	// Pending is true for an optimistic local record awaiting the
	// server echo.
	Pending bool `json:"pending,omitempty"`
}
