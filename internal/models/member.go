package models

import "time"

// Role is a member's role within a group.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Status records whether a member is still part of the live session.
type Status string

const (
	StatusActive   Status = "active"
	StatusDeparted Status = "departed"
)

// LeaveCause distinguishes a voluntary leave from a kick.
type LeaveCause string

const (
	LeaveCauseLeave LeaveCause = "leave"
	LeaveCauseKick  LeaveCause = "kick"
)

// Member is one participant of a group session, unique per
// (GroupID, UserID). Departed members stay cached for historical expense
// attribution; they are only removed by a full group purge.
type Member struct {
	GroupID  int64  `json:"groupId"`
	UserID   int64  `json:"userId"`
	NickName string `json:"nickName"`
	Avatar   string `json:"avatarUrl,omitempty"`

	Role   Role   `json:"role"`
	Status Status `json:"status"`

	JoinedAt time.Time `json:"joinedAt"`

	// LeftAt and Cause are set once the member departs.
	LeftAt *time.Time `json:"leftAt,omitempty"`
	Cause  LeaveCause `json:"leaveCause,omitempty"`
}

// Active reports whether the member still participates in new expenses.
func (m *Member) Active() bool {
	return m.Status == StatusActive
}
