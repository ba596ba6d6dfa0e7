// Package client 实现消费端的同步协议：固定间隔轮询会话列表与当前会话消息，
// 发送走乐观更新、由下一次成功轮询完成对账。服务端不推送业务数据，
// /ws 提示流只用来提前触发一次轮询。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	AvatarURL string    `json:"avatar_url"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	MessageType    string    `json:"message_type"`
	IsEdited       bool      `json:"is_edited"`
	CreatedAt      time.Time `json:"created_at"`
	Sender         User      `json:"sender"`
}

type Conversation struct {
	ID           string    `json:"id"`
	Name         *string   `json:"name"`
	IsGroup      bool      `json:"is_group"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastMessage  *Message  `json:"last_message"`
	UnreadCount  int64     `json:"unread_count"`
	OtherMembers []User    `json:"other_members"`
}

// Client 是最小的 HTTP API 客户端，token 由调用方经登录流程取得。
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{baseURL: baseURL, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(b)
	} else {
		buf = &bytes.Buffer{}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Conversations 拉取聚合会话列表。
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var resp struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Messages 拉取某会话最近的消息，升序。
func (c *Client) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	path := fmt.Sprintf("/api/v1/conversations/%s/messages", conversationID)
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Send 发送消息并返回服务端落库后的副本。
func (c *Client) Send(ctx context.Context, conversationID, content, messageType string) (*Message, error) {
	var resp struct {
		Message Message `json:"message"`
	}
	body := map[string]string{"content": content, "message_type": messageType}
	path := fmt.Sprintf("/api/v1/conversations/%s/messages", conversationID)
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// MarkRead 标记消息已读，重复调用安全。
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/messages/%s/read", messageID), nil, nil)
}

// SetStatus 上报在线状态。
func (c *Client) SetStatus(ctx context.Context, isOnline bool) error {
	body := map[string]bool{"is_online": isOnline}
	return c.do(ctx, http.MethodPost, "/api/v1/users/status", body, nil)
}
