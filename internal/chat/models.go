package chat

import (
	"time"

	"github.com/suPer8Hu/repochat/internal/ai"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Session struct {
	ID                 uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID          string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"sessionId"`
	VisitorID          string    `gorm:"type:varchar(64);index;not null" json:"visitorId"`
	ActiveRepo         string    `gorm:"type:varchar(200)" json:"activeRepo,omitempty"`
	LastMessageSummary string    `gorm:"type:varchar(255)" json:"lastMessageSummary"`
	LastMessageAt      time.Time `gorm:"index" json:"lastMessageAt"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"-"`
}

func (Session) TableName() string { return "chat_sessions" }

type Message struct {
	ID             uint64        `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string        `gorm:"type:varchar(26);not null;index:idx_chat_msg_visitor_session,priority:2" json:"sessionId"`
	VisitorID      string        `gorm:"type:varchar(64);not null;index:idx_chat_msg_visitor_session,priority:1" json:"-"`
	Role           string        `gorm:"type:varchar(16);not null" json:"role"`
	Content        string        `gorm:"type:text;not null" json:"content"`
	Citations      []ai.Citation `gorm:"serializer:json" json:"citations,omitempty"`
	IdempotencyKey string        `gorm:"type:varchar(128);uniqueIndex;not null" json:"-"`
	CreatedAt      time.Time     `json:"createdAt"`
}

func (Message) TableName() string { return "chat_messages" }

// Turn is a completed exchange ready to be persisted. It is also the body of a persistence
// job when the synchronous write gives up.
type Turn struct {
	TurnID     string        `json:"turnId"`
	SessionID  string        `json:"sessionId"`
	VisitorID  string        `json:"visitorId"`
	Question   string        `json:"question"`
	Answer     string        `json:"answer"`
	Citations  []ai.Citation `json:"citations"`
	ActiveRepo string        `json:"activeRepo,omitempty"`
	At         time.Time     `json:"at"`
}

func idempotencyKey(turnID, role string) string {
	return turnID + ":" + role
}
