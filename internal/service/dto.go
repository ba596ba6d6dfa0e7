package service

import (
	"time"

	"github.com/AYUS2005/ChatSphere/internal/models"
)

// UserDTO 是对外输出的用户数据，不含任何凭据字段。
type UserDTO struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	AvatarURL string    `json:"avatar_url"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
}

func toUserDTO(u models.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
		IsOnline:  u.IsOnline,
		LastSeen:  u.LastSeen,
	}
}

// MessageDTO 是对外输出的消息数据，附带发送者信息。
type MessageDTO struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	MessageType    string    `json:"message_type"`
	IsEdited       bool      `json:"is_edited"`
	CreatedAt      time.Time `json:"created_at"`
	Sender         UserDTO   `json:"sender"`
}

func toMessageDTO(m models.Message, sender UserDTO) MessageDTO {
	return MessageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MessageType:    m.MessageType,
		IsEdited:       m.IsEdited,
		CreatedAt:      m.CreatedAt,
		Sender:         sender,
	}
}

// ConversationDTO 是会话列表里的单项：会话本体加最后一条消息、未读数与其他成员。
type ConversationDTO struct {
	ID           string      `json:"id"`
	Name         *string     `json:"name"`
	IsGroup      bool        `json:"is_group"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	LastMessage  *MessageDTO `json:"last_message"`
	UnreadCount  int64       `json:"unread_count"`
	OtherMembers []UserDTO   `json:"other_members"`
}

// ReceiptDTO 是单条已读回执：谁在何时读过。
type ReceiptDTO struct {
	User   UserDTO   `json:"user"`
	ReadAt time.Time `json:"read_at"`
}
