package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okitz/groupledger/internal/models"
	"github.com/okitz/groupledger/internal/session"
	"github.com/okitz/groupledger/internal/storage/sqlite"
)

const selfID = int64(100)

type fakeTransport struct {
	mu     sync.Mutex
	writes [][]byte
	events session.Events
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	t.writes = append(t.writes, cp)
	return nil
}

func (t *fakeTransport) Close() error { return nil }

type fakeDialer struct {
	mu         sync.Mutex
	hold       chan struct{}
	addresses  []string
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(address string, events session.Events) (session.Transport, error) {
	d.mu.Lock()
	d.addresses = append(d.addresses, address)
	hold := d.hold
	d.mu.Unlock()
	if hold != nil {
		<-hold
	}
	t := &fakeTransport{events: events}
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func writeEnvelope(w http.ResponseWriter, code int, data any) {
	raw, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": "",
		"data":    json.RawMessage(raw),
	})
}

func writeError(w http.ResponseWriter, code int, message string) {
	json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message})
}

type testEnv struct {
	svc    *GroupService
	store  *sqlite.Store
	dialer *fakeDialer
	mux    *http.ServeMux
	server *httptest.Server
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.SetAuth("opaque-token", selfID); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	dialer := &fakeDialer{}
	svc := NewGroupService(server.URL, time.Second, store, session.NewManager(dialer), selfID, nil)
	return &testEnv{svc: svc, store: store, dialer: dialer, mux: mux, server: server}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestCreateGroup(t *testing.T) {
	env := setup(t)
	env.mux.HandleFunc("POST /api/groups", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["title"] != "camping" {
			t.Errorf("title = %q, want camping", body["title"])
		}
		if got := r.Header.Get("Authorization"); got != "Bearer opaque-token" {
			t.Errorf("auth header = %q", got)
		}
		writeEnvelope(w, 0, map[string]any{"groupId": 7, "title": "camping", "wsPath": "/ws/groups/7"})
	})

	sess, err := env.svc.CreateGroup(context.Background(), "camping")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if sess.GroupID != 7 || sess.Title != "camping" {
		t.Errorf("session = %+v", sess)
	}

	cached, _ := env.store.Session(7)
	if cached == nil || cached.WSPath != "/ws/groups/7" {
		t.Errorf("cached session = %+v", cached)
	}

	wantAddr := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/groups/7"
	waitFor(t, func() bool {
		env.dialer.mu.Lock()
		defer env.dialer.mu.Unlock()
		return len(env.dialer.addresses) == 1 && env.dialer.addresses[0] == wantAddr
	})
}

func TestJoinGroupReusesCachedSession(t *testing.T) {
	env := setup(t)
	joins := 0
	env.mux.HandleFunc("POST /api/groups/7/join", func(w http.ResponseWriter, r *http.Request) {
		joins++
		writeEnvelope(w, 0, map[string]any{"groupId": 7, "title": "fresh", "wsPath": "/ws/groups/7"})
	})

	cached := models.Session{GroupID: 7, Title: "cached", WSPath: "/ws/groups/7", JoinedAt: time.Now()}
	if err := env.store.PutSession(cached); err != nil {
		t.Fatal(err)
	}

	sess, err := env.svc.JoinGroup(context.Background(), 7, false)
	if err != nil {
		t.Fatalf("JoinGroup failed: %v", err)
	}
	if sess.Title != "cached" || joins != 0 {
		t.Errorf("expected cache reuse, got title=%q joins=%d", sess.Title, joins)
	}

	// force bypasses the cache and replaces the descriptor.
	sess, err = env.svc.JoinGroup(context.Background(), 7, true)
	if err != nil {
		t.Fatalf("forced JoinGroup failed: %v", err)
	}
	if sess.Title != "fresh" || joins != 1 {
		t.Errorf("expected forced rejoin, got title=%q joins=%d", sess.Title, joins)
	}
}

func TestJoinGroupFinalized(t *testing.T) {
	env := setup(t)
	env.mux.HandleFunc("GET /api/groups/7/final", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 0, map[string]any{
			"groupId": 7, "title": "camping", "status": 1,
			"endTime": time.Now().Format(time.RFC3339), "members": []any{},
		})
	})

	_, err := env.svc.JoinGroup(context.Background(), 7, false)
	if !errors.Is(err, models.ErrGroupFinalized) {
		t.Fatalf("error = %v, want ErrGroupFinalized", err)
	}

	final, err := env.svc.FetchFinal(context.Background(), 7)
	if err != nil {
		t.Fatalf("FetchFinal failed: %v", err)
	}
	if final.Status != 1 || final.Title != "camping" {
		t.Errorf("final = %+v", final)
	}
}

func TestLeaveGroupPurgesEverything(t *testing.T) {
	env := setup(t)
	env.mux.HandleFunc("POST /api/groups/7/leave", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 0, nil)
	})

	now := time.Now()
	env.store.PutSession(models.Session{GroupID: 7, Title: "camping", JoinedAt: now})
	env.store.UpsertMember(models.Member{GroupID: 7, UserID: 1, Status: models.StatusActive, JoinedAt: now})
	env.store.UpsertExpense(models.Expense{ID: "e1", GroupID: 7, Amount: 100, PayerID: 1, OccurredAt: now})
	env.store.PutPlan(&models.SettlementPlan{GroupID: 7})

	if err := env.svc.LeaveGroup(context.Background(), 7); err != nil {
		t.Fatalf("LeaveGroup failed: %v", err)
	}

	if sess, _ := env.store.Session(7); sess != nil {
		t.Error("session survived leave")
	}
	if members, _ := env.store.Members(7); len(members) != 0 {
		t.Error("members survived leave")
	}
	if expenses, _ := env.store.Expenses(7); len(expenses) != 0 {
		t.Error("expenses survived leave")
	}
	if plan, _ := env.store.Plan(7); plan != nil {
		t.Error("plan survived leave")
	}
}

func TestLeaveGroupFailureLeavesCacheIntact(t *testing.T) {
	env := setup(t)
	env.mux.HandleFunc("POST /api/groups/7/leave", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, 500, "try again later")
	})
	env.store.PutSession(models.Session{GroupID: 7, Title: "camping", JoinedAt: time.Now()})

	err := env.svc.LeaveGroup(context.Background(), 7)
	var remote *models.RemoteError
	if !errors.As(err, &remote) || remote.Message != "try again later" {
		t.Fatalf("error = %v, want RemoteError", err)
	}
	if sess, _ := env.store.Session(7); sess == nil {
		t.Error("cache mutated despite remote failure")
	}
}

func TestAuthExpiredClearsState(t *testing.T) {
	env := setup(t)
	env.mux.HandleFunc("POST /api/groups", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := env.svc.CreateGroup(context.Background(), "camping")
	if !errors.Is(err, models.ErrAuthExpired) {
		t.Fatalf("error = %v, want ErrAuthExpired", err)
	}
	token, _, _ := env.store.Auth()
	if token != "" {
		t.Errorf("token survived 401: %q", token)
	}

	// With no token at all, calls fail fast without touching the network.
	_, err = env.svc.CreateGroup(context.Background(), "camping")
	if !errors.Is(err, models.ErrAuthExpired) {
		t.Errorf("error without token = %v, want ErrAuthExpired", err)
	}
}

func TestEnvelopeLevel401(t *testing.T) {
	env := setup(t)
	env.mux.HandleFunc("POST /api/groups/7/join", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, 401, "token expired")
	})

	_, err := env.svc.JoinGroup(context.Background(), 7, true)
	if !errors.Is(err, models.ErrAuthExpired) {
		t.Fatalf("error = %v, want ErrAuthExpired", err)
	}
}

func TestKickMemberLeavesCacheAlone(t *testing.T) {
	env := setup(t)
	env.mux.HandleFunc("POST /api/groups/7/kick", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int64
		json.NewDecoder(r.Body).Decode(&body)
		if body["userId"] != 9 {
			t.Errorf("kick body = %v", body)
		}
		writeEnvelope(w, 0, nil)
	})

	env.store.UpsertMember(models.Member{GroupID: 7, UserID: 9, Status: models.StatusActive, JoinedAt: time.Now()})

	if err := env.svc.KickMember(context.Background(), 7, 9); err != nil {
		t.Fatalf("KickMember failed: %v", err)
	}

	// Removal happens only when the member_kick event arrives on the wire.
	members, _ := env.store.Members(7)
	if len(members) != 1 || members[0].Status != models.StatusActive {
		t.Errorf("kick mutated the cache directly: %+v", members)
	}
}

func TestFetchSettlementCachesPlan(t *testing.T) {
	env := setup(t)
	env.mux.HandleFunc("GET /api/groups/7/settlement", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 200, map[string]any{
			"transfers": []any{map[string]any{"fromUserId": 2, "toUserId": 1, "amount": 30}},
			"balances":  []any{map[string]any{"userId": 1, "netAmount": 30, "totalPaid": 90}},
		})
	})

	plan, err := env.svc.FetchSettlement(context.Background(), 7)
	if err != nil {
		t.Fatalf("FetchSettlement failed: %v", err)
	}
	if plan.GroupID != 7 || len(plan.Transfers) != 1 || plan.Transfers[0].Amount != 3000 {
		t.Errorf("plan = %+v", plan)
	}

	cached, _ := env.store.Plan(7)
	if cached == nil || len(cached.Transfers) != 1 {
		t.Errorf("plan not cached: %+v", cached)
	}
}

func TestFetchMembersRefreshesRoster(t *testing.T) {
	env := setup(t)
	env.mux.HandleFunc("GET /api/groups/7/members", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 0, []any{
			map[string]any{"userId": 100, "nickName": "me", "role": "owner"},
			map[string]any{"userId": 9, "nickName": "Leo", "role": "member"},
		})
	})

	members, err := env.svc.FetchMembers(context.Background(), 7)
	if err != nil {
		t.Fatalf("FetchMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}

	cached, _ := env.store.Members(7)
	if len(cached) != 2 {
		t.Fatalf("cached %d members, want 2", len(cached))
	}
	for _, m := range cached {
		if m.GroupID != 7 || m.Status != models.StatusActive {
			t.Errorf("cached member = %+v", m)
		}
	}
}

func TestAddExpenseOptimisticAndBuffered(t *testing.T) {
	env := setup(t)
	hold := make(chan struct{})
	env.dialer.hold = hold

	env.store.PutSession(models.Session{GroupID: 7, Title: "camping", WSPath: "/ws/groups/7", JoinedAt: time.Now()})
	env.store.UpsertMember(models.Member{GroupID: 7, UserID: selfID, NickName: "me", Status: models.StatusActive, JoinedAt: time.Now()})

	expense, err := env.svc.AddExpense(7, ExpenseInput{Amount: 1250, Title: "lunch"})
	if err != nil {
		t.Fatalf("AddExpense failed: %v", err)
	}
	if !expense.Pending || expense.PayerID != selfID || expense.PayerName != "me" {
		t.Errorf("expense = %+v", expense)
	}

	cached, _ := env.store.Expenses(7)
	if len(cached) != 1 || !cached[0].Pending {
		t.Fatalf("optimistic record missing: %+v", cached)
	}

	// The transport was down: the send reconnected and buffered. Opening
	// the transport must flush exactly that payload.
	close(hold)
	waitFor(t, func() bool {
		env.dialer.mu.Lock()
		defer env.dialer.mu.Unlock()
		if len(env.dialer.transports) == 0 {
			return false
		}
		tr := env.dialer.transports[0]
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.writes) == 1
	})

	var sent models.ExpensePayload
	tr := env.dialer.transports[0]
	tr.mu.Lock()
	frame := tr.writes[0]
	tr.mu.Unlock()
	if err := json.Unmarshal(frame, &sent); err != nil {
		t.Fatalf("sent frame not JSON: %v", err)
	}
	if sent.Type != "expense" || sent.ID != expense.ID || sent.Amount != 1250 {
		t.Errorf("sent payload = %+v", sent)
	}
}

func TestAddExpenseRejectsNonPositiveAmount(t *testing.T) {
	env := setup(t)
	if _, err := env.svc.AddExpense(7, ExpenseInput{Amount: 0}); err == nil {
		t.Error("zero amount accepted")
	}
	if _, err := env.svc.AddExpense(7, ExpenseInput{Amount: -100}); err == nil {
		t.Error("negative amount accepted")
	}
}

func TestLocalSettlement(t *testing.T) {
	env := setup(t)
	now := time.Now()
	for _, id := range []int64{1, 2, 3} {
		env.store.UpsertMember(models.Member{GroupID: 7, UserID: id, Status: models.StatusActive, JoinedAt: now})
	}
	env.store.UpsertExpense(models.Expense{ID: "e1", GroupID: 7, Amount: 9000, PayerID: 1, OccurredAt: now})

	plan, err := env.svc.LocalSettlement(7)
	if err != nil {
		t.Fatalf("LocalSettlement failed: %v", err)
	}
	want := []models.Transfer{
		{FromUserID: 2, ToUserID: 1, Amount: 3000},
		{FromUserID: 3, ToUserID: 1, Amount: 3000},
	}
	if fmt.Sprintf("%v", plan.Transfers) != fmt.Sprintf("%v", want) {
		t.Errorf("transfers = %v, want %v", plan.Transfers, want)
	}
}

func TestSelfKickEventTearsDownSession(t *testing.T) {
	env := setup(t)
	env.store.PutSession(models.Session{GroupID: 7, Title: "camping", WSPath: "/ws/groups/7", JoinedAt: time.Now()})

	sess, _ := env.store.Session(7)
	if sess == nil {
		t.Fatal("seed session missing")
	}
	// Connect and subscribe the reconciler the way JoinGroup would.
	if _, err := env.svc.JoinGroup(context.Background(), 7, false); err != nil {
		t.Fatalf("JoinGroup failed: %v", err)
	}
	waitFor(t, func() bool {
		env.dialer.mu.Lock()
		defer env.dialer.mu.Unlock()
		return len(env.dialer.transports) == 1
	})

	tr := env.dialer.transports[0]
	tr.events.OnMessage([]byte(`{"type":"member_kick","groupId":7,"userId":100,"timestamp":5}`))

	if sess, _ := env.store.Session(7); sess != nil {
		t.Errorf("session survived kick of self: %+v", sess)
	}
	// With the session purged there is nothing to reconnect to, so a
	// send now surfaces not-connected.
	if _, err := env.svc.AddExpense(7, ExpenseInput{Amount: 100}); !errors.Is(err, models.ErrNotConnected) {
		t.Errorf("post-kick send error = %v, want ErrNotConnected", err)
	}
}
