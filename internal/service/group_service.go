// Package service orchestrates group sessions: it drives create/join/
// leave/kick against the remote authority, wires the resulting session
// into the transport manager and reconciler, and exposes the cache-backed
// read API.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okitz/groupledger/internal/calculator"
	"github.com/okitz/groupledger/internal/models"
	"github.com/okitz/groupledger/internal/money"
	"github.com/okitz/groupledger/internal/reconcile"
	"github.com/okitz/groupledger/internal/session"
	"github.com/okitz/groupledger/internal/storage"
)

// GroupService is the façade over one client's group ledger sessions.
type GroupService struct {
	client   *Client
	cache    storage.Cache
	sessions *session.Manager
	rec      *reconcile.Reconciler

	apiBase string
	selfID  int64

	mu     sync.Mutex
	unsubs map[int64]func()
}

// NewGroupService wires the façade. selfID is this client's numeric user
// id; notifier receives reconciler change notifications and may be nil.
func NewGroupService(apiBase string, timeout time.Duration, cache storage.Cache, sessions *session.Manager, selfID int64, notifier reconcile.Notifier) *GroupService {
	s := &GroupService{
		client:   NewClient(apiBase, timeout, cache),
		cache:    cache,
		sessions: sessions,
		apiBase:  apiBase,
		selfID:   selfID,
		unsubs:   make(map[int64]func()),
	}
	if notifier == nil {
		notifier = reconcile.NopNotifier{}
	}
	// Kick-of-self must tear down the transport as well as the cache, so
	// the reconciler notifies through a wrapper that does both.
	s.rec = reconcile.New(cache, selfID, &teardownNotifier{inner: notifier, svc: s})
	return s
}

// sessionData is the authority's session descriptor.
type sessionData struct {
	GroupID int64  `json:"groupId"`
	Title   string `json:"title"`
	WSPath  string `json:"wsPath"`
}

// CreateGroup mints a new group at the authority, caches its session
// descriptor, and opens the live connection.
func (s *GroupService) CreateGroup(ctx context.Context, title string) (*models.Session, error) {
	var data sessionData
	err := s.client.do(ctx, http.MethodPost, "/api/groups", map[string]string{"title": title}, &data)
	if err != nil {
		slog.Error("CreateGroup failed", "title", title, "error", err)
		return nil, err
	}

	sess := models.Session{
		GroupID:  data.GroupID,
		Title:    data.Title,
		WSPath:   data.WSPath,
		JoinedAt: time.Now(),
	}
	if err := s.cache.PutSession(sess); err != nil {
		return nil, err
	}
	s.attach(&sess)

	slog.Info("group created", "group_id", sess.GroupID, "title", sess.Title)
	return &sess, nil
}

// JoinGroup joins a group, reusing the cached session unless force is set.
// A finalized group cannot be joined live: its frozen snapshot is pulled
// into the cache and ErrGroupFinalized is returned.
func (s *GroupService) JoinGroup(ctx context.Context, groupID int64, force bool) (*models.Session, error) {
	if final, err := s.FetchFinal(ctx, groupID); err == nil && final.Status == 1 {
		return nil, models.ErrGroupFinalized
	}

	if !force {
		cached, err := s.cache.Session(groupID)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			s.attach(cached)
			slog.Debug("reusing cached session", "group_id", groupID)
			return cached, nil
		}
	}

	var data sessionData
	err := s.client.do(ctx, http.MethodPost, fmt.Sprintf("/api/groups/%d/join", groupID), nil, &data)
	if err != nil {
		slog.Error("JoinGroup failed", "group_id", groupID, "error", err)
		return nil, err
	}

	// Last write wins: a stale response from an older join simply gets
	// overwritten by whichever assignment lands last.
	sess := models.Session{
		GroupID:  data.GroupID,
		Title:    data.Title,
		WSPath:   data.WSPath,
		JoinedAt: time.Now(),
	}
	if err := s.cache.PutSession(sess); err != nil {
		return nil, err
	}
	s.attach(&sess)

	slog.Info("group joined", "group_id", sess.GroupID, "title", sess.Title)
	return &sess, nil
}

// LeaveGroup leaves at the authority, then tears down the transport and
// purges every cached record of the group. On a remote failure nothing
// local changes.
func (s *GroupService) LeaveGroup(ctx context.Context, groupID int64) error {
	err := s.client.do(ctx, http.MethodPost, fmt.Sprintf("/api/groups/%d/leave", groupID), nil, nil)
	if err != nil {
		slog.Error("LeaveGroup failed", "group_id", groupID, "error", err)
		return err
	}

	s.teardown(groupID)
	if err := s.cache.PurgeGroup(groupID); err != nil {
		return err
	}
	slog.Info("group left", "group_id", groupID)
	return nil
}

// KickMember removes another member (owner only). The cache is not
// touched here: the resulting member_kick event arrives over the
// transport and the reconciler applies it, so removal follows a single
// code path no matter who triggered it.
func (s *GroupService) KickMember(ctx context.Context, groupID, userID int64) error {
	err := s.client.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/groups/%d/kick", groupID),
		map[string]int64{"userId": userID}, nil)
	if err != nil {
		slog.Error("KickMember failed", "group_id", groupID, "user_id", userID, "error", err)
		return err
	}
	slog.Info("member kicked", "group_id", groupID, "user_id", userID)
	return nil
}

// FetchSettlement pulls the authoritative settlement plan and caches it,
// overriding any locally derived plan.
func (s *GroupService) FetchSettlement(ctx context.Context, groupID int64) (*models.SettlementPlan, error) {
	var plan models.SettlementPlan
	err := s.client.do(ctx, http.MethodGet, fmt.Sprintf("/api/groups/%d/settlement", groupID), nil, &plan)
	if err != nil {
		return nil, err
	}
	plan.GroupID = groupID
	if err := s.cache.PutPlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// FetchMembers refreshes the member roster (including roles) from the
// authority into the cache.
func (s *GroupService) FetchMembers(ctx context.Context, groupID int64) ([]models.Member, error) {
	var members []models.Member
	err := s.client.do(ctx, http.MethodGet, fmt.Sprintf("/api/groups/%d/members", groupID), nil, &members)
	if err != nil {
		return nil, err
	}
	for i := range members {
		members[i].GroupID = groupID
		if members[i].Status == "" {
			members[i].Status = models.StatusActive
		}
		if err := s.cache.UpsertMember(members[i]); err != nil {
			return nil, err
		}
	}
	return members, nil
}

// FetchFinal reads the frozen snapshot of an ended group.
func (s *GroupService) FetchFinal(ctx context.Context, groupID int64) (*models.GroupFinal, error) {
	var final models.GroupFinal
	err := s.client.do(ctx, http.MethodGet, fmt.Sprintf("/api/groups/%d/final", groupID), nil, &final)
	if err != nil {
		return nil, err
	}
	return &final, nil
}

// ExpenseInput is a new expense as entered by the user.
type ExpenseInput struct {
	Amount money.Cents
	Title  string
	Remark string
}

// AddExpense records an expense optimistically and submits it over the
// live session. The local record is Pending until the server echoes it
// back under the same id. If the transport is down but the session is
// known, the send transparently reconnects and buffers.
func (s *GroupService) AddExpense(groupID int64, input ExpenseInput) (*models.Expense, error) {
	if input.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %s", input.Amount)
	}

	var nick, avatar string
	if members, err := s.cache.Members(groupID); err == nil {
		for _, m := range members {
			if m.UserID == s.selfID {
				nick, avatar = m.NickName, m.Avatar
				break
			}
		}
	}

	expense := models.Expense{
		ID:          uuid.New().String(),
		GroupID:     groupID,
		Amount:      input.Amount,
		Title:       input.Title,
		Remark:      input.Remark,
		PayerID:     s.selfID,
		PayerName:   nick,
		PayerAvatar: avatar,
		OccurredAt:  time.Now(),
		Pending:     true,
	}
	if err := s.cache.UpsertExpense(expense); err != nil {
		return nil, err
	}

	payload := models.ExpensePayload{
		Type:   string(models.KindExpense),
		ID:     expense.ID,
		Amount: expense.Amount,
		Title:  expense.Title,
		Remark: expense.Remark,
		UserID: s.selfID,
		Nick:   nick,
		Avatar: avatar,
	}
	if err := s.sessions.Send(groupID, payload); err != nil {
		if sess, cerr := s.cache.Session(groupID); cerr == nil && sess != nil && sess.WSPath != "" {
			s.attach(sess)
			if err := s.sessions.Send(groupID, payload); err != nil {
				return nil, err
			}
			return &expense, nil
		}
		return nil, err
	}
	return &expense, nil
}

// LocalSettlement derives a plan from cached members and expenses, for
// when the authority is unreachable.
func (s *GroupService) LocalSettlement(groupID int64) (*models.SettlementPlan, error) {
	members, err := s.cache.Members(groupID)
	if err != nil {
		return nil, err
	}
	expenses, err := s.cache.Expenses(groupID)
	if err != nil {
		return nil, err
	}
	return calculator.PlanFor(groupID, members, expenses)
}

// Sessions, Members, Expenses, and Plan are the cache-backed read API.

func (s *GroupService) Sessions() ([]models.Session, error) { return s.cache.Sessions() }

func (s *GroupService) Members(groupID int64) ([]models.Member, error) {
	return s.cache.Members(groupID)
}

func (s *GroupService) Expenses(groupID int64) ([]models.Expense, error) {
	return s.cache.Expenses(groupID)
}

func (s *GroupService) Plan(groupID int64) (*models.SettlementPlan, error) {
	return s.cache.Plan(groupID)
}

// attach ensures the group's transport is connected and the reconciler is
// subscribed. Safe to call repeatedly.
func (s *GroupService) attach(sess *models.Session) {
	addr := session.ResolveAddress(s.apiBase, sess.WSPath)
	if addr == "" {
		return
	}
	s.sessions.Connect(sess.GroupID, addr)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.unsubs[sess.GroupID]; !ok {
		s.unsubs[sess.GroupID] = s.sessions.Subscribe(sess.GroupID, s.rec.Apply)
	}
}

// teardown disconnects the transport and drops the reconciler
// subscription.
func (s *GroupService) teardown(groupID int64) {
	s.sessions.Disconnect(groupID)

	s.mu.Lock()
	unsub, ok := s.unsubs[groupID]
	delete(s.unsubs, groupID)
	s.mu.Unlock()
	if ok {
		unsub()
	}
}

// teardownNotifier closes the live session before forwarding SelfRemoved.
type teardownNotifier struct {
	inner reconcile.Notifier
	svc   *GroupService
}

func (n *teardownNotifier) ExpenseAdded(groupID int64, e *models.Expense) {
	n.inner.ExpenseAdded(groupID, e)
}

func (n *teardownNotifier) MemberJoined(groupID int64, m *models.Member) {
	n.inner.MemberJoined(groupID, m)
}

func (n *teardownNotifier) MemberRemoved(groupID, userID int64, cause models.LeaveCause) {
	n.inner.MemberRemoved(groupID, userID, cause)
}

func (n *teardownNotifier) SelfRemoved(groupID int64, cause models.LeaveCause) {
	n.svc.teardown(groupID)
	n.inner.SelfRemoved(groupID, cause)
}

func (n *teardownNotifier) PlanUpdated(groupID int64, p *models.SettlementPlan) {
	n.inner.PlanUpdated(groupID, p)
}
