package domain

import (
	"time"

	"gorm.io/gorm"
)

// Chat is an assistant conversation owned by one operator. A chat may be
// about one synced record (its subject); the assistant then sees that
// record's fields next to the SOP knowledge. The title is derived from the
// subject or the first question unless the operator renames it.
type Chat struct {
	ID          string         `json:"id"                     gorm:"type:char(36);primaryKey"`
	UserID      string         `json:"user_id"                gorm:"type:varchar(64);not null;index:idx_user_chats"`
	Title       string         `json:"title"                  gorm:"type:varchar(255);not null;default:'New chat'"`
	SubjectKind Kind           `json:"subject_kind,omitempty" gorm:"type:varchar(16)"`
	SubjectID   string         `json:"subject_id,omitempty"   gorm:"type:varchar(64)"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"                      gorm:"index"`
}

// HasSubject reports whether the chat is about a synced record.
func (c Chat) HasSubject() bool { return c.SubjectKind != "" && c.SubjectID != "" }

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// Reply sources recorded on assistant messages.
const (
	SourceAI            = "ai"
	SourceKnowledgeBase = "knowledge_base"
	SourceNone          = "none"
)

// Message is one turn of a chat, authored by "user" or "assistant".
//
// Assistant messages carry Source (which path produced the reply) and,
// when the reply came from the knowledge base, the match Score.
type Message struct {
	ID        string         `json:"id"        gorm:"type:char(36);primaryKey"`
	ChatID    string         `json:"chat_id"   gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	Role      string         `json:"role"      gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content   string         `json:"content"   gorm:"type:text;not null"`
	Source    string         `json:"source,omitempty" gorm:"type:varchar(32)"`
	Score     *float64       `json:"score,omitempty"`
	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_chat_msgs,priority:2"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"         gorm:"index"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Feedback is an operator's +1/-1 rating of an assistant reply, at most one
// per (message, user).
type Feedback struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	MessageID string         `json:"message_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_feedback_message_user"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index;uniqueIndex:ux_feedback_message_user"`
	Value     int            `json:"value"      gorm:"not null;check:value IN (-1,1)"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Feedback.
func (Feedback) TableName() string { return "feedback" }
