package reconcile

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okitz/groupledger/internal/models"
	"github.com/okitz/groupledger/internal/storage/sqlite"
)

const selfID = int64(100)

type recordingNotifier struct {
	mu           sync.Mutex
	expenses     []string
	joins        []int64
	removals     []int64
	selfRemovals []models.LeaveCause
	planUpdates  int
}

func (n *recordingNotifier) ExpenseAdded(_ int64, e *models.Expense) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expenses = append(n.expenses, e.ID)
}

func (n *recordingNotifier) MemberJoined(_ int64, m *models.Member) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.joins = append(n.joins, m.UserID)
}

func (n *recordingNotifier) MemberRemoved(_, userID int64, _ models.LeaveCause) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removals = append(n.removals, userID)
}

func (n *recordingNotifier) SelfRemoved(_ int64, cause models.LeaveCause) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.selfRemovals = append(n.selfRemovals, cause)
}

func (n *recordingNotifier) PlanUpdated(int64, *models.SettlementPlan) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.planUpdates++
}

func newTestReconciler(t *testing.T) (*Reconciler, *sqlite.Store, *recordingNotifier) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	notifier := &recordingNotifier{}
	return New(store, selfID, notifier), store, notifier
}

func TestApplyExpense(t *testing.T) {
	rec, store, notifier := newTestReconciler(t)

	rec.Apply(models.ParseMessage([]byte(
		`{"type":"expense","groupId":7,"userId":42,"id":"e1","amount":12.5,"title":"lunch","dateISO":"2024-03-01T12:00:00Z"}`,
	)))

	expenses, err := store.Expenses(7)
	if err != nil || len(expenses) != 1 {
		t.Fatalf("Expenses(7) = %v, %v; want one record", expenses, err)
	}
	if expenses[0].ID != "e1" || expenses[0].Amount != 1250 {
		t.Errorf("cached expense = %+v", expenses[0])
	}
	if len(notifier.expenses) != 1 {
		t.Errorf("got %d expense notifications, want 1", len(notifier.expenses))
	}
}

func TestExpenseEchoConfirmsPending(t *testing.T) {
	rec, store, _ := newTestReconciler(t)

	pending := models.Expense{
		ID:         "local-1",
		GroupID:    7,
		Amount:     1250,
		PayerID:    selfID,
		OccurredAt: time.Now(),
		Pending:    true,
	}
	if err := store.UpsertExpense(pending); err != nil {
		t.Fatal(err)
	}

	rec.Apply(models.ParseMessage([]byte(
		`{"type":"expense","groupId":7,"userId":100,"id":"local-1","amount":12.5}`,
	)))

	expenses, _ := store.Expenses(7)
	if len(expenses) != 1 {
		t.Fatalf("echo duplicated the record: %+v", expenses)
	}
	if expenses[0].Pending {
		t.Error("echo did not clear Pending")
	}
}

func TestApplyMemberJoin(t *testing.T) {
	rec, store, notifier := newTestReconciler(t)

	rec.Apply(models.ParseMessage([]byte(
		`{"type":"member_join","groupId":7,"userId":9,"nickName":"Leo"}`,
	)))

	members, _ := store.Members(7)
	if len(members) != 1 || members[0].Status != models.StatusActive {
		t.Fatalf("members = %+v", members)
	}
	if members[0].Role != models.RoleMember {
		t.Errorf("role = %q, want member default", members[0].Role)
	}
	if len(notifier.joins) != 1 || notifier.joins[0] != 9 {
		t.Errorf("join notifications = %v", notifier.joins)
	}
}

func TestDuplicateLeaveIsDropped(t *testing.T) {
	rec, store, notifier := newTestReconciler(t)

	rec.Apply(models.ParseMessage([]byte(
		`{"type":"member_join","groupId":7,"userId":9,"nickName":"Leo"}`,
	)))

	leave := []byte(`{"type":"member_leave","groupId":7,"userId":9,"timestamp":1700000000000}`)
	rec.Apply(models.ParseMessage(leave))
	rec.Apply(models.ParseMessage(leave)) // transport replay

	members, _ := store.Members(7)
	if members[0].Status != models.StatusDeparted || members[0].Cause != models.LeaveCauseLeave {
		t.Errorf("member after leave = %+v", members[0])
	}
	if len(notifier.removals) != 1 {
		t.Errorf("got %d removal notifications, want exactly 1", len(notifier.removals))
	}
}

func TestKickAfterLeaveDoesNotNotifyTwice(t *testing.T) {
	rec, _, notifier := newTestReconciler(t)

	rec.Apply(models.ParseMessage([]byte(
		`{"type":"member_join","groupId":7,"userId":9}`,
	)))
	rec.Apply(models.ParseMessage([]byte(
		`{"type":"member_leave","groupId":7,"userId":9,"timestamp":1}`,
	)))
	// Different dedup key, but the member is already departed.
	rec.Apply(models.ParseMessage([]byte(
		`{"type":"member_kick","groupId":7,"userId":9,"timestamp":2}`,
	)))

	if len(notifier.removals) != 1 {
		t.Errorf("got %d removal notifications, want 1", len(notifier.removals))
	}
}

func TestKickOfSelfPurgesGroup(t *testing.T) {
	rec, store, notifier := newTestReconciler(t)

	if err := store.PutSession(models.Session{GroupID: 7, Title: "camping", JoinedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	rec.Apply(models.ParseMessage([]byte(
		`{"type":"member_join","groupId":7,"userId":100}`,
	)))
	rec.Apply(models.ParseMessage([]byte(
		`{"type":"expense","groupId":7,"userId":100,"id":"e1","amount":10}`,
	)))

	rec.Apply(models.ParseMessage([]byte(
		`{"type":"member_kick","groupId":7,"userId":100,"timestamp":5}`,
	)))

	if sess, _ := store.Session(7); sess != nil {
		t.Errorf("session survived kick of self: %+v", sess)
	}
	if members, _ := store.Members(7); len(members) != 0 {
		t.Errorf("members survived kick of self: %+v", members)
	}
	if expenses, _ := store.Expenses(7); len(expenses) != 0 {
		t.Errorf("expenses survived kick of self: %+v", expenses)
	}
	if len(notifier.selfRemovals) != 1 || notifier.selfRemovals[0] != models.LeaveCauseKick {
		t.Errorf("self removal notifications = %v", notifier.selfRemovals)
	}
	if len(notifier.removals) != 0 {
		t.Errorf("kick of self also notified as other-member removal: %v", notifier.removals)
	}
}

func TestApplySettlementReplacesPlan(t *testing.T) {
	rec, store, notifier := newTestReconciler(t)

	if err := store.PutPlan(&models.SettlementPlan{
		GroupID:   7,
		Transfers: []models.Transfer{{FromUserID: 1, ToUserID: 2, Amount: 999}},
	}); err != nil {
		t.Fatal(err)
	}

	rec.Apply(models.ParseMessage([]byte(
		`{"type":"settlement","groupId":7,"settlement":{"transfers":[{"fromUserId":2,"toUserId":1,"amount":30}],"balances":[]}}`,
	)))

	plan, _ := store.Plan(7)
	if plan == nil || len(plan.Transfers) != 1 || plan.Transfers[0].FromUserID != 2 {
		t.Fatalf("plan after settlement = %+v", plan)
	}
	if notifier.planUpdates != 1 {
		t.Errorf("plan notifications = %d, want 1", notifier.planUpdates)
	}
}

func TestUnknownAndTextFramesAreHarmless(t *testing.T) {
	rec, store, _ := newTestReconciler(t)

	rec.Apply(models.ParseMessage([]byte("pong")))
	rec.Apply(models.ParseMessage([]byte(`{"type":"emoji_reaction","groupId":7}`)))

	if expenses, _ := store.Expenses(7); len(expenses) != 0 {
		t.Errorf("unexpected cache mutation: %+v", expenses)
	}
}

func TestSeenSetEviction(t *testing.T) {
	rec, _, _ := newTestReconciler(t)

	key := "member_kick/7/9/1"
	if rec.alreadySeen(key) {
		t.Fatal("fresh key reported as seen")
	}
	for i := 0; i < seenLimit; i++ {
		rec.alreadySeen(string(rune('a'+i%26)) + string(rune('A'+i/26)))
	}
	// The original key has been evicted by now.
	if rec.alreadySeen(key) {
		t.Error("evicted key still reported as seen")
	}
}
