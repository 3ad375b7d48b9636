// Package reconcile applies inbound session messages to the local cache.
//
// The transport does not guarantee exactly-once delivery; a reconnect can
// replay recent frames. The reconciler therefore deduplicates membership
// changes on their (type, group, user, timestamp) identity and makes every
// cache mutation idempotent, so applying the same message twice has the
// effect of applying it once.
package reconcile

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okitz/groupledger/internal/metrics"
	"github.com/okitz/groupledger/internal/models"
	"github.com/okitz/groupledger/internal/storage"
)

// seenLimit bounds the recently-seen set; oldest keys are evicted first.
const seenLimit = 100

// Notifier receives change notifications after the cache has been
// mutated, so a UI layer can refresh what it shows.
type Notifier interface {
	ExpenseAdded(groupID int64, expense *models.Expense)
	MemberJoined(groupID int64, member *models.Member)
	MemberRemoved(groupID, userID int64, cause models.LeaveCause)

	// SelfRemoved fires when this client was kicked or left elsewhere.
	// The group cache has already been purged; the receiver must tear
	// down the live session.
	SelfRemoved(groupID int64, cause models.LeaveCause)

	PlanUpdated(groupID int64, plan *models.SettlementPlan)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) ExpenseAdded(int64, *models.Expense)           {}
func (NopNotifier) MemberJoined(int64, *models.Member)            {}
func (NopNotifier) MemberRemoved(int64, int64, models.LeaveCause) {}
func (NopNotifier) SelfRemoved(int64, models.LeaveCause)          {}
func (NopNotifier) PlanUpdated(int64, *models.SettlementPlan)     {}

// Reconciler translates inbound messages into cache mutations.
type Reconciler struct {
	cache    storage.Cache
	selfID   int64
	notifier Notifier

	mu       sync.Mutex
	seen     map[string]struct{}
	seenFifo []string
}

// New creates a Reconciler for the user identified by selfID.
func New(cache storage.Cache, selfID int64, notifier Notifier) *Reconciler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Reconciler{
		cache:    cache,
		selfID:   selfID,
		notifier: notifier,
		seen:     make(map[string]struct{}),
	}
}

// Apply handles one decoded message. It satisfies session.Handler.
func (r *Reconciler) Apply(msg *models.Message) {
	if msg.MembershipChange() {
		r.applyMemberChange(msg)
		return
	}
	switch msg.Kind {
	case models.KindExpense:
		r.applyExpense(msg)
	case models.KindMemberJoin:
		r.applyJoin(msg)
	case models.KindSettlement:
		r.applySettlement(msg)
	case models.KindText:
		slog.Debug("non-JSON frame", "group_id", msg.GroupID, "text", msg.Text)
	case models.KindUnknown:
		slog.Debug("unknown message type", "group_id", msg.GroupID, "raw", string(msg.Raw))
	}
}

func (r *Reconciler) applyExpense(msg *models.Message) {
	expense := *msg.Expense
	if expense.ID == "" {
		expense.ID = uuid.New().String()
	}
	if expense.OccurredAt.IsZero() {
		expense.OccurredAt = time.Now()
	}
	// An echo of our own optimistic record carries the same ID and simply
	// replaces it, clearing Pending.
	expense.Pending = false

	if err := r.cache.UpsertExpense(expense); err != nil {
		slog.Error("failed to cache expense", "group_id", msg.GroupID, "expense_id", expense.ID, "error", err)
		return
	}
	r.notifier.ExpenseAdded(msg.GroupID, &expense)
}

func (r *Reconciler) applyJoin(msg *models.Message) {
	member := *msg.Member
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now()
	}
	if member.Role == "" {
		member.Role = models.RoleMember
		if member.UserID == r.selfID {
			member.Role = models.RoleOwner
		}
	}
	member.Status = models.StatusActive

	if err := r.cache.UpsertMember(member); err != nil {
		slog.Error("failed to cache member", "group_id", msg.GroupID, "user_id", member.UserID, "error", err)
		return
	}
	r.notifier.MemberJoined(msg.GroupID, &member)
}

func (r *Reconciler) applyMemberChange(msg *models.Message) {
	if r.alreadySeen(msg.DedupKey()) {
		metrics.EventsDeduplicated.Inc()
		slog.Debug("duplicate membership event dropped", "key", msg.DedupKey())
		return
	}

	cause := models.LeaveCauseLeave
	if msg.Kind == models.KindMemberKick {
		cause = models.LeaveCauseKick
	}

	if msg.UserID == r.selfID {
		// We were removed: the whole group is gone from our perspective.
		if err := r.cache.PurgeGroup(msg.GroupID); err != nil {
			slog.Error("failed to purge group cache", "group_id", msg.GroupID, "error", err)
		}
		r.notifier.SelfRemoved(msg.GroupID, cause)
		return
	}

	at := time.Now()
	if msg.Timestamp > 0 {
		at = time.UnixMilli(msg.Timestamp)
	}
	changed, err := r.cache.MarkDeparted(msg.GroupID, msg.UserID, cause, at)
	if err != nil {
		slog.Error("failed to mark member departed", "group_id", msg.GroupID, "user_id", msg.UserID, "error", err)
		return
	}
	if changed {
		r.notifier.MemberRemoved(msg.GroupID, msg.UserID, cause)
	}
}

func (r *Reconciler) applySettlement(msg *models.Message) {
	if err := r.cache.PutPlan(msg.Plan); err != nil {
		slog.Error("failed to cache settlement", "group_id", msg.GroupID, "error", err)
		return
	}
	r.notifier.PlanUpdated(msg.GroupID, msg.Plan)
}

// alreadySeen records key in the bounded recently-seen set and reports
// whether it was there before.
func (r *Reconciler) alreadySeen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[key]; ok {
		return true
	}
	r.seen[key] = struct{}{}
	r.seenFifo = append(r.seenFifo, key)
	if len(r.seenFifo) > seenLimit {
		oldest := r.seenFifo[0]
		r.seenFifo = r.seenFifo[1:]
		delete(r.seen, oldest)
	}
	return false
}
