package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/okitz/groupledger/internal/money"
)

// Kind tags an inbound session message.
type Kind string

const (
	KindExpense     Kind = "expense"
	KindMemberJoin  Kind = "member_join"
	KindMemberKick  Kind = "member_kick"
	KindMemberLeave Kind = "member_leave"
	KindSettlement  Kind = "settlement"

	// KindText wraps a frame that was not valid JSON. Downstream decides
	// policy; the session layer never drops frames.
	KindText Kind = "text"

	// KindUnknown marks a JSON frame whose type tag is not recognized.
	KindUnknown Kind = "unknown"
)

// Message is the decoded form of one inbound session frame. Exactly one of
// the payload pointers is set, matching Kind.
type Message struct {
	Kind      Kind
	GroupID   int64
	UserID    int64
	Timestamp int64 // server clock, unix milliseconds

	Expense *Expense        // KindExpense
	Member  *Member         // KindMemberJoin
	Plan    *SettlementPlan // KindSettlement
	Text    string          // KindText

	// Raw is the original frame, kept for logging.
	Raw []byte
}

// DedupKey is the composite identity used to drop transport redeliveries
// of membership changes.
func (m *Message) DedupKey() string {
	return fmt.Sprintf("%s/%d/%d/%d", m.Kind, m.GroupID, m.UserID, m.Timestamp)
}

// MembershipChange reports whether the message is a kick or leave.
func (m *Message) MembershipChange() bool {
	return m.Kind == KindMemberKick || m.Kind == KindMemberLeave
}

type wireHead struct {
	Type      string `json:"type"`
	GroupID   int64  `json:"groupId"`
	UserID    int64  `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

type wireExpense struct {
	ID      string      `json:"id"`
	Amount  money.Cents `json:"amount"`
	Title   string      `json:"title"`
	Remark  string      `json:"remark"`
	UserID  int64       `json:"userId"`
	Nick    string      `json:"nickName"`
	Avatar  string      `json:"avatarUrl"`
	DateISO string      `json:"dateISO"`
}

type wireJoin struct {
	Nick   string `json:"nickName"`
	Avatar string `json:"avatarUrl"`
	Role   Role   `json:"role"`
}

type wireSettlement struct {
	Settlement *SettlementPlan `json:"settlement"`
}

// ParseMessage decodes one inbound frame. A frame that is not valid JSON
// becomes KindText; valid JSON with an unrecognized type tag becomes
// KindUnknown. ParseMessage never returns an error: malformed input is a
// policy decision for the consumer, not a reason to drop data.
func ParseMessage(data []byte) *Message {
	var head wireHead
	if err := json.Unmarshal(data, &head); err != nil {
		return &Message{Kind: KindText, Text: string(data), Raw: data}
	}

	msg := &Message{
		GroupID:   head.GroupID,
		UserID:    head.UserID,
		Timestamp: head.Timestamp,
		Raw:       data,
	}

	switch Kind(head.Type) {
	case KindExpense:
		var we wireExpense
		if err := json.Unmarshal(data, &we); err != nil {
			return &Message{Kind: KindText, Text: string(data), Raw: data}
		}
		msg.Kind = KindExpense
		msg.Expense = &Expense{
			ID:          we.ID,
			GroupID:     head.GroupID,
			Amount:      we.Amount,
			Title:       we.Title,
			Remark:      we.Remark,
			PayerID:     we.UserID,
			PayerName:   we.Nick,
			PayerAvatar: we.Avatar,
			OccurredAt:  parseWireTime(we.DateISO),
		}
	case KindMemberJoin:
		var wj wireJoin
		if err := json.Unmarshal(data, &wj); err != nil {
			return &Message{Kind: KindText, Text: string(data), Raw: data}
		}
		msg.Kind = KindMemberJoin
		msg.Member = &Member{
			GroupID:  head.GroupID,
			UserID:   head.UserID,
			NickName: wj.Nick,
			Avatar:   wj.Avatar,
			Role:     wj.Role,
			Status:   StatusActive,
		}
	case KindMemberKick:
		msg.Kind = KindMemberKick
	case KindMemberLeave:
		msg.Kind = KindMemberLeave
	case KindSettlement:
		var ws wireSettlement
		if err := json.Unmarshal(data, &ws); err != nil || ws.Settlement == nil {
			return &Message{Kind: KindText, Text: string(data), Raw: data}
		}
		msg.Kind = KindSettlement
		ws.Settlement.GroupID = head.GroupID
		msg.Plan = ws.Settlement
	default:
		msg.Kind = KindUnknown
	}
	return msg
}

func parseWireTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ExpensePayload is the outbound frame submitting a new expense.
type ExpensePayload struct {
	Type   string      `json:"type"`
	ID     string      `json:"id,omitempty"`
	Amount money.Cents `json:"amount"`
	Title  string      `json:"title,omitempty"`
	Remark string      `json:"remark,omitempty"`
	UserID int64       `json:"userId,omitempty"`
	Nick   string      `json:"nickName,omitempty"`
	Avatar string      `json:"avatarUrl,omitempty"`
}
