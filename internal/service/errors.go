package service

import "errors"

// 业务层通用错误，handler 按类别映射 HTTP 状态码：校验类 400、越权类 403、
// 不存在类 404，其余存储错误原样上抛由 handler 统一兜底为 500。
var (
	ErrEmailTaken         = errors.New("email taken")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrUserNotFound         = errors.New("user not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")

	ErrGroupNameRequired  = errors.New("group conversation requires a name")
	ErrDirectMemberCount  = errors.New("direct conversation requires exactly one other member")
	ErrSelfConversation   = errors.New("cannot start a direct conversation with yourself")
	ErrInvalidMessageType = errors.New("invalid message type")
)
