package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Poller 维护本地缓存并按两个独立的固定间隔轮询：会话列表一个节奏、
// 当前会话消息一个节奏。被取消的轮询直接丢弃，不产生任何本地状态变化。
type Poller struct {
	c            *Client
	listInterval time.Duration
	msgInterval  time.Duration

	mu            sync.Mutex
	conversations []Conversation
	activeConv    string
	messages      []Message
	pending       []Message
}

func NewPoller(c *Client, listInterval, msgInterval time.Duration) *Poller {
	if listInterval <= 0 {
		listInterval = 5 * time.Second
	}
	if msgInterval <= 0 {
		msgInterval = 2 * time.Second
	}
	return &Poller{c: c, listInterval: listInterval, msgInterval: msgInterval}
}

// Run 阻塞运行两个轮询定时器，直到 ctx 取消。
func (p *Poller) Run(ctx context.Context) {
	listTicker := time.NewTicker(p.listInterval)
	msgTicker := time.NewTicker(p.msgInterval)
	defer listTicker.Stop()
	defer msgTicker.Stop()

	p.PollConversations(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-listTicker.C:
			p.PollConversations(ctx)
		case <-msgTicker.C:
			p.PollMessages(ctx)
		}
	}
}

// PollConversations 拉取一次会话列表。失败或取消时保留旧缓存。
func (p *Poller) PollConversations(ctx context.Context) {
	convs, err := p.c.Conversations(ctx)
	if err != nil || ctx.Err() != nil {
		return
	}
	p.mu.Lock()
	p.conversations = convs
	p.mu.Unlock()
}

// PollMessages 拉取一次当前会话的消息并对账乐观发送：
// 服务端已经返回的 pending 消息从本地待确认队列中移除。
func (p *Poller) PollMessages(ctx context.Context) {
	p.mu.Lock()
	conv := p.activeConv
	p.mu.Unlock()
	if conv == "" {
		return
	}
	msgs, err := p.c.Messages(ctx, conv, 0)
	if err != nil || ctx.Err() != nil {
		return
	}
	confirmed := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		confirmed[m.ID] = struct{}{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activeConv != conv {
		// 轮询期间切换了会话，结果作废。
		return
	}
	p.messages = msgs
	remaining := p.pending[:0]
	for _, m := range p.pending {
		if _, ok := confirmed[m.ID]; !ok {
			remaining = append(remaining, m)
		}
	}
	p.pending = remaining
}

// SetActiveConversation 切换当前会话并清空其本地消息缓存。
func (p *Poller) SetActiveConversation(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activeConv == conversationID {
		return
	}
	p.activeConv = conversationID
	p.messages = nil
	p.pending = nil
}

// Send 乐观发送：先用占位 ID 把消息放进本地待确认队列，请求成功后换成服务端副本，
// 下一次轮询返回该消息时将其从队列移除。失败则撤掉占位消息。
func (p *Poller) Send(ctx context.Context, content, messageType string) error {
	p.mu.Lock()
	conv := p.activeConv
	placeholder := Message{
		ID:             "pending-" + uuid.NewString(),
		ConversationID: conv,
		Content:        content,
		MessageType:    messageType,
		CreatedAt:      time.Now(),
	}
	p.pending = append(p.pending, placeholder)
	p.mu.Unlock()

	msg, err := p.c.Send(ctx, conv, content, messageType)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.pending {
		if p.pending[i].ID == placeholder.ID {
			if err != nil {
				p.pending = append(p.pending[:i], p.pending[i+1:]...)
			} else {
				p.pending[i] = *msg
			}
			break
		}
	}
	return err
}

// Conversations 返回最近一次轮询到的会话列表。
func (p *Poller) Conversations() []Conversation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Conversation, len(p.conversations))
	copy(out, p.conversations)
	return out
}

// Messages 返回当前会话的消息视图：服务端确认的消息加上本地待确认的乐观消息。
func (p *Poller) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, 0, len(p.messages)+len(p.pending))
	out = append(out, p.messages...)
	out = append(out, p.pending...)
	return out
}
