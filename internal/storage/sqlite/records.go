package sqlite

import (
	"fmt"
	"sort"
	"time"

	"github.com/okitz/groupledger/internal/models"
)

// Sessions lists every cached session descriptor, most recently joined
// first.
func (s *Store) Sessions() ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []models.Session
	if err := s.read(keySessions, &sessions); err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].JoinedAt.After(sessions[j].JoinedAt)
	})
	return sessions, nil
}

// Session returns the cached descriptor for one group, or nil.
func (s *Store) Session(groupID int64) (*models.Session, error) {
	sessions, err := s.Sessions()
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].GroupID == groupID {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

// PutSession inserts or replaces the descriptor for its group.
func (s *Store) PutSession(session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []models.Session
	if err := s.read(keySessions, &sessions); err != nil {
		return err
	}
	replaced := false
	for i := range sessions {
		if sessions[i].GroupID == session.GroupID {
			sessions[i] = session
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, session)
	}
	return s.write(keySessions, sessions)
}

// Members lists the cached members of one group, departed included.
func (s *Store) Members(groupID int64) ([]models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []models.Member
	if err := s.read(keyMembers, &all); err != nil {
		return nil, err
	}
	var members []models.Member
	for _, m := range all {
		if m.GroupID == groupID {
			members = append(members, m)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

// UpsertMember inserts or replaces a member by (GroupID, UserID).
func (s *Store) UpsertMember(member models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []models.Member
	if err := s.read(keyMembers, &all); err != nil {
		return err
	}
	replaced := false
	for i := range all {
		if all[i].GroupID == member.GroupID && all[i].UserID == member.UserID {
			all[i] = member
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, member)
	}
	return s.write(keyMembers, all)
}

// MarkDeparted transitions a member to departed, reporting whether the
// member was active before the call.
func (s *Store) MarkDeparted(groupID, userID int64, cause models.LeaveCause, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []models.Member
	if err := s.read(keyMembers, &all); err != nil {
		return false, err
	}
	for i := range all {
		if all[i].GroupID != groupID || all[i].UserID != userID {
			continue
		}
		if all[i].Status == models.StatusDeparted {
			return false, nil
		}
		all[i].Status = models.StatusDeparted
		all[i].Cause = cause
		all[i].LeftAt = &at
		return true, s.write(keyMembers, all)
	}
	return false, nil
}

// Expenses lists the cached expenses of one group, newest first.
func (s *Store) Expenses(groupID int64) ([]models.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []models.Expense
	if err := s.read(keyExpenses, &all); err != nil {
		return nil, err
	}
	var expenses []models.Expense
	for _, e := range all {
		if e.GroupID == groupID {
			expenses = append(expenses, e)
		}
	}
	sort.Slice(expenses, func(i, j int) bool {
		return expenses[i].OccurredAt.After(expenses[j].OccurredAt)
	})
	return expenses, nil
}

// UpsertExpense inserts or replaces an expense by ID. Replacement is how
// an authoritative echo supersedes a pending optimistic record.
func (s *Store) UpsertExpense(expense models.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []models.Expense
	if err := s.read(keyExpenses, &all); err != nil {
		return err
	}
	replaced := false
	for i := range all {
		if all[i].ID == expense.ID {
			all[i] = expense
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, expense)
	}
	return s.write(keyExpenses, all)
}

// Plan returns the cached settlement plan for one group, or nil.
func (s *Store) Plan(groupID int64) (*models.SettlementPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var plans []models.SettlementPlan
	if err := s.read(keySettlements, &plans); err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].GroupID == groupID {
			return &plans[i], nil
		}
	}
	return nil, nil
}

// PutPlan replaces the cached plan for its group wholesale.
func (s *Store) PutPlan(plan *models.SettlementPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var plans []models.SettlementPlan
	if err := s.read(keySettlements, &plans); err != nil {
		return err
	}
	replaced := false
	for i := range plans {
		if plans[i].GroupID == plan.GroupID {
			plans[i] = *plan
			replaced = true
			break
		}
	}
	if !replaced {
		plans = append(plans, *plan)
	}
	return s.write(keySettlements, plans)
}

// PurgeGroup removes every record of one group. The four key rewrites
// commit as a single transaction so an interruption cannot leave a
// half-purged cache.
func (s *Store) PurgeGroup(groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []models.Session
	if err := s.read(keySessions, &sessions); err != nil {
		return err
	}
	keptSessions := sessions[:0]
	for _, sess := range sessions {
		if sess.GroupID != groupID {
			keptSessions = append(keptSessions, sess)
		}
	}

	var members []models.Member
	if err := s.read(keyMembers, &members); err != nil {
		return err
	}
	keptMembers := members[:0]
	for _, m := range members {
		if m.GroupID != groupID {
			keptMembers = append(keptMembers, m)
		}
	}

	var expenses []models.Expense
	if err := s.read(keyExpenses, &expenses); err != nil {
		return err
	}
	keptExpenses := expenses[:0]
	for _, e := range expenses {
		if e.GroupID != groupID {
			keptExpenses = append(keptExpenses, e)
		}
	}

	var plans []models.SettlementPlan
	if err := s.read(keySettlements, &plans); err != nil {
		return err
	}
	keptPlans := plans[:0]
	for _, p := range plans {
		if p.GroupID != groupID {
			keptPlans = append(keptPlans, p)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin purge: %w", err)
	}
	for _, entry := range []struct {
		key   string
		value any
	}{
		{keySessions, keptSessions},
		{keyMembers, keptMembers},
		{keyExpenses, keptExpenses},
		{keySettlements, keptPlans},
	} {
		if err := upsert(tx, entry.key, entry.value); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}
	return nil
}

type authState struct {
	Token  string `json:"token"`
	UserID int64  `json:"userId"`
}

// Auth returns the stored opaque token and user id.
func (s *Store) Auth() (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state authState
	if err := s.read(keyAuth, &state); err != nil {
		return "", 0, err
	}
	return state.Token, state.UserID, nil
}

// SetAuth stores credentials.
func (s *Store) SetAuth(token string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(keyAuth, authState{Token: token, UserID: userID})
}

// ClearAuth removes stored credentials.
func (s *Store) ClearAuth() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(keyAuth)
}
