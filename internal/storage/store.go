// Package storage provides the local cache abstraction.
package storage

import (
	"time"

	"github.com/okitz/groupledger/internal/models"
)

// Cache is the persistent local view of group state. It is the source of
// truth whenever the network is unavailable and the only resource shared
// across components, so every mutation is a single atomic read-modify-write
// of a group-scoped slice.
//
// Implementations must recover from corrupted stored values by falling
// back to the empty default rather than returning an error: a damaged
// cache entry means "nothing cached", never a crash.
type Cache interface {
	// Sessions lists every cached session descriptor, most recent first.
	Sessions() ([]models.Session, error)

	// Session returns the cached descriptor for one group, or nil.
	Session(groupID int64) (*models.Session, error)

	// PutSession inserts or replaces the descriptor for its group.
	PutSession(session models.Session) error

	// Members lists the cached members of one group, departed included.
	Members(groupID int64) ([]models.Member, error)

	// UpsertMember inserts or replaces a member by (GroupID, UserID).
	UpsertMember(member models.Member) error

	// MarkDeparted transitions a member to departed. It reports whether
	// the member was active before the call, so callers can make the
	// transition idempotent.
	MarkDeparted(groupID, userID int64, cause models.LeaveCause, at time.Time) (bool, error)

	// Expenses lists the cached expenses of one group, newest first.
	Expenses(groupID int64) ([]models.Expense, error)

	// UpsertExpense inserts or replaces an expense by ID.
	UpsertExpense(expense models.Expense) error

	// Plan returns the cached settlement plan for one group, or nil.
	Plan(groupID int64) (*models.SettlementPlan, error)

	// PutPlan replaces the cached plan for its group wholesale.
	PutPlan(plan *models.SettlementPlan) error

	// PurgeGroup removes every record of one group: session descriptor,
	// members, expenses, and plan. Used on leave and kick-of-self.
	PurgeGroup(groupID int64) error

	// Auth returns the stored opaque token and user id, empty when the
	// client is logged out.
	Auth() (token string, userID int64, err error)

	// SetAuth stores credentials; ClearAuth removes them (on a 401).
	SetAuth(token string, userID int64) error
	ClearAuth() error

	// Close releases any resources held by the cache.
	Close() error
}
