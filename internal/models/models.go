package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Email        string    `gorm:"uniqueIndex;size:128;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	FirstName    string    `gorm:"size:64" json:"first_name"`
	LastName     string    `gorm:"size:64" json:"last_name"`
	AvatarURL    string    `gorm:"size:512" json:"avatar_url"`
	IsOnline     bool      `gorm:"not null;default:false" json:"is_online"`
	LastSeen     time.Time `json:"last_seen"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Conversation 的 UpdatedAt 在每次新消息写入时被触碰，是会话列表的排序键。
type Conversation struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      *string   `gorm:"size:128" json:"name"`
	IsGroup   bool      `gorm:"not null;default:false" json:"is_group"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index:idx_conv_updated,sort:desc" json:"updated_at"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ConversationMember 是会话与用户的多对多关联，(conversation_id, user_id) 全局唯一。
type ConversationMember struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string    `gorm:"uniqueIndex:idx_member_conv_user;size:36;not null" json:"conversation_id"`
	UserID         string    `gorm:"uniqueIndex:idx_member_conv_user;index:idx_member_user;size:36;not null" json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

func (m *ConversationMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	return nil
}

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

type Message struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string    `gorm:"index:idx_msg_conv_created,priority:1;size:36;not null" json:"conversation_id"`
	SenderID       string    `gorm:"index;size:36;not null" json:"sender_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	MessageType    string    `gorm:"size:16;not null;default:text" json:"message_type"`
	IsEdited       bool      `gorm:"not null;default:false" json:"is_edited"`
	CreatedAt      time.Time `gorm:"index:idx_msg_conv_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.MessageType == "" {
		m.MessageType = MessageTypeText
	}
	return nil
}

// ReadReceipt 记录用户已读某条消息，(message_id, user_id) 全局唯一，重复标记视为无操作。
type ReadReceipt struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	MessageID string    `gorm:"uniqueIndex:idx_receipt_msg_user;size:36;not null" json:"message_id"`
	UserID    string    `gorm:"uniqueIndex:idx_receipt_msg_user;size:36;not null" json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

func (r *ReadReceipt) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ReadAt.IsZero() {
		r.ReadAt = time.Now()
	}
	return nil
}

type RefreshToken struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"index;size:36;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

func (t *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
