package service

import (
	"errors"

	"github.com/AYUS2005/ChatSphere/internal/models"

	"gorm.io/gorm"
)

// ConversationService 封装会话的聚合查询、创建与单聊去重逻辑。
type ConversationService struct {
	db *gorm.DB
}

func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{db: db}
}

// ListForUser 返回用户参与的全部会话，按活跃时间倒序，每项附带最后一条消息、
// 未读数与其他成员。整个聚合固定为四条集合查询，与会话数量无关。
func (s *ConversationService) ListForUser(userID string) ([]ConversationDTO, error) {
	var convs []models.Conversation
	err := s.db.Raw(`
		SELECT c.* FROM conversations c
		JOIN conversation_members cm ON cm.conversation_id = c.id
		WHERE cm.user_id = ?
		ORDER BY c.updated_at DESC, c.id ASC`, userID).Scan(&convs).Error
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []ConversationDTO{}, nil
	}

	convIDs := make([]string, 0, len(convs))
	for _, c := range convs {
		convIDs = append(convIDs, c.ID)
	}

	lastByConv, err := s.lastMessages(convIDs)
	if err != nil {
		return nil, err
	}
	unreadByConv, err := s.unreadCounts(convIDs, userID)
	if err != nil {
		return nil, err
	}
	membersByConv, err := s.otherMembers(convIDs, userID)
	if err != nil {
		return nil, err
	}

	out := make([]ConversationDTO, 0, len(convs))
	for _, c := range convs {
		dto := ConversationDTO{
			ID:           c.ID,
			Name:         c.Name,
			IsGroup:      c.IsGroup,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			LastMessage:  lastByConv[c.ID],
			UnreadCount:  unreadByConv[c.ID],
			OtherMembers: membersByConv[c.ID],
		}
		if dto.OtherMembers == nil {
			dto.OtherMembers = []UserDTO{}
		}
		out = append(out, dto)
	}
	return out, nil
}

// lastMessages 用窗口函数一次取回每个会话的最新一条消息，空会话则缺席。
func (s *ConversationService) lastMessages(convIDs []string) (map[string]*MessageDTO, error) {
	var msgs []models.Message
	err := s.db.Raw(`
		SELECT * FROM (
			SELECT m.*, ROW_NUMBER() OVER (
				PARTITION BY m.conversation_id
				ORDER BY m.created_at DESC, m.id DESC
			) AS rn
			FROM messages m
			WHERE m.conversation_id IN ?
		) ranked WHERE rn = 1`, convIDs).Scan(&msgs).Error
	if err != nil {
		return nil, err
	}

	senders, err := resolveSenders(s.db, msgs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*MessageDTO, len(msgs))
	for _, m := range msgs {
		dto := toMessageDTO(m, senders[m.SenderID])
		out[m.ConversationID] = &dto
	}
	return out, nil
}

// unreadCounts 统计各会话中他人发送且无本人回执的消息数，无回执行按未读处理。
func (s *ConversationService) unreadCounts(convIDs []string, userID string) (map[string]int64, error) {
	var rows []struct {
		ConversationID string
		Unread         int64
	}
	err := s.db.Raw(`
		SELECT m.conversation_id AS conversation_id, COUNT(*) AS unread
		FROM messages m
		LEFT JOIN read_receipts r ON r.message_id = m.id AND r.user_id = ?
		WHERE m.conversation_id IN ? AND m.sender_id <> ? AND r.id IS NULL
		GROUP BY m.conversation_id`, userID, convIDs, userID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ConversationID] = r.Unread
	}
	return out, nil
}

// otherMembers 批量取回各会话中除请求者以外的成员。
func (s *ConversationService) otherMembers(convIDs []string, userID string) (map[string][]UserDTO, error) {
	var rows []struct {
		ConversationID string
		models.User
	}
	err := s.db.Raw(`
		SELECT cm.conversation_id AS conversation_id, u.*
		FROM conversation_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.conversation_id IN ? AND cm.user_id <> ?
		ORDER BY cm.joined_at ASC, u.id ASC`, convIDs, userID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string][]UserDTO, len(convIDs))
	for _, r := range rows {
		out[r.ConversationID] = append(out[r.ConversationID], toUserDTO(r.User))
	}
	return out, nil
}

// Create 创建会话并挂接创建者与全部受邀成员，整组写入在同一事务内完成。
func (s *ConversationService) Create(creatorID string, name *string, isGroup bool, memberIDs []string) (*models.Conversation, error) {
	ids := dedupMemberIDs(creatorID, memberIDs)
	if isGroup {
		if name == nil || *name == "" {
			return nil, ErrGroupNameRequired
		}
	} else {
		if len(ids) != 2 {
			return nil, ErrDirectMemberCount
		}
		name = nil
	}

	var count int64
	if err := s.db.Model(&models.User{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return nil, err
	}
	if count != int64(len(ids)) {
		return nil, ErrUserNotFound
	}

	conv := models.Conversation{Name: name, IsGroup: isGroup}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		for _, id := range ids {
			m := models.ConversationMember{ConversationID: conv.ID, UserID: id}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindOrCreateDirect 查找两人之间既有的单聊，不存在则创建，重复调用幂等。
func (s *ConversationService) FindOrCreateDirect(userID, otherID string) (*models.Conversation, bool, error) {
	if userID == otherID {
		return nil, false, ErrSelfConversation
	}
	var convID string
	err := s.db.Raw(`
		SELECT c.id FROM conversations c
		JOIN conversation_members a ON a.conversation_id = c.id AND a.user_id = ?
		JOIN conversation_members b ON b.conversation_id = c.id AND b.user_id = ?
		WHERE c.is_group = ?
		  AND (SELECT COUNT(*) FROM conversation_members x WHERE x.conversation_id = c.id) = 2
		ORDER BY c.created_at ASC, c.id ASC
		LIMIT 1`, userID, otherID, false).Scan(&convID).Error
	if err != nil {
		return nil, false, err
	}
	if convID != "" {
		var conv models.Conversation
		if err := s.db.First(&conv, "id = ?", convID).Error; err != nil {
			return nil, false, err
		}
		return &conv, false, nil
	}
	conv, err := s.Create(userID, nil, false, []string{otherID})
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// Exists 检查会话是否存在。
func (s *ConversationService) Exists(conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.First(&conv, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// IsMember 检查用户当前是否为会话成员，供边界层做越权判断。
func (s *ConversationService) IsMember(conversationID, userID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MemberIDs 返回会话全部成员的用户 ID，供通知推送使用。
func (s *ConversationService) MemberIDs(conversationID string) ([]string, error) {
	var ids []string
	err := s.db.Model(&models.ConversationMember{}).
		Where("conversation_id = ?", conversationID).
		Order("joined_at asc").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// dedupMemberIDs 合并创建者与受邀成员并去重，保持首次出现的顺序。
func dedupMemberIDs(creatorID string, memberIDs []string) []string {
	seen := map[string]struct{}{creatorID: {}}
	out := []string{creatorID}
	for _, id := range memberIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
