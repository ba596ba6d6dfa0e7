package service

import (
	"errors"

	"github.com/AYUS2005/ChatSphere/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageService 封装消息的有序读取、事务写入与已读回执逻辑。
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// List 返回会话最近 limit 条消息，按创建时间升序交付展示。
// 查询按倒序取边界内的最新消息，再在内存中反转，调用方永远看不到倒序结果。
func (s *MessageService) List(conversationID string, limit int) ([]MessageDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var msgs []models.Message
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	senders, err := resolveSenders(s.db, msgs)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m, senders[m.SenderID]))
	}
	return out, nil
}

// Create 写入新消息并在同一事务内把父会话的 updated_at 触碰为消息创建时间，
// 同时为发送者补一条回执，发送者自己的消息对本人永远不算未读。
func (s *MessageService) Create(conversationID, senderID, content, messageType string) (*MessageDTO, error) {
	switch messageType {
	case "":
		messageType = models.MessageTypeText
	case models.MessageTypeText, models.MessageTypeImage, models.MessageTypeFile:
	default:
		return nil, ErrInvalidMessageType
	}

	var conv models.Conversation
	if err := s.db.First(&conv, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var sender models.User
	if err := s.db.First(&sender, "id = ?", senderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	msg := models.Message{ConversationID: conversationID, SenderID: senderID, Content: content, MessageType: messageType}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		// 会话排序键与消息时间取同一时刻，并发写入时最后写者胜出。
		if err := tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			UpdateColumn("updated_at", msg.CreatedAt).Error; err != nil {
			return err
		}
		receipt := models.ReadReceipt{MessageID: msg.ID, UserID: senderID, ReadAt: msg.CreatedAt}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&receipt).Error
	})
	if err != nil {
		return nil, err
	}
	dto := toMessageDTO(msg, toUserDTO(sender))
	return &dto, nil
}

// Get 按 ID 取单条消息，供边界层定位所属会话。
func (s *MessageService) Get(messageID string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.First(&msg, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// MarkRead 幂等地为 (message, user) 写入回执，重复调用是无操作而非错误。
func (s *MessageService) MarkRead(messageID, userID string) error {
	var msg models.Message
	if err := s.db.First(&msg, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	receipt := models.ReadReceipt{MessageID: messageID, UserID: userID}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&receipt).Error
}

// Receipts 返回某条消息的全部已读回执，按阅读时间升序保证结果确定。
func (s *MessageService) Receipts(messageID string) ([]ReceiptDTO, error) {
	var msg models.Message
	if err := s.db.First(&msg, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	var receipts []models.ReadReceipt
	if err := s.db.Where("message_id = ?", messageID).
		Order("read_at asc, id asc").
		Find(&receipts).Error; err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(receipts))
	for _, r := range receipts {
		userIDs = append(userIDs, r.UserID)
	}
	users := make(map[string]UserDTO, len(userIDs))
	if len(userIDs) > 0 {
		var list []models.User
		if err := s.db.Where("id IN ?", userIDs).Find(&list).Error; err != nil {
			return nil, err
		}
		for _, u := range list {
			users[u.ID] = toUserDTO(u)
		}
	}

	out := make([]ReceiptDTO, 0, len(receipts))
	for _, r := range receipts {
		out = append(out, ReceiptDTO{User: users[r.UserID], ReadAt: r.ReadAt})
	}
	return out, nil
}

// resolveSenders 批量取回一组消息涉及的发送者。
func resolveSenders(db *gorm.DB, msgs []models.Message) (map[string]UserDTO, error) {
	seen := make(map[string]struct{}, len(msgs))
	senderIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		senderIDs = append(senderIDs, m.SenderID)
	}

	senders := make(map[string]UserDTO, len(senderIDs))
	if len(senderIDs) > 0 {
		var users []models.User
		if err := db.Where("id IN ?", senderIDs).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			senders[u.ID] = toUserDTO(u)
		}
	}
	return senders, nil
}
