package ws

import (
	"encoding/json"
	"sync"

	"github.com/AYUS2005/ChatSphere/internal/metrics"
)

// Event 是推送给客户端的轮询提示：只是"有变化、可以立刻拉取"，不携带业务数据，
// 轮询接口始终是唯一的数据来源。
type Event struct {
	Type           string `json:"type"`
	Scope          string `json:"scope"`
	ConversationID string `json:"conversation_id,omitempty"`
}

const (
	ScopeConversations = "conversations"
	ScopeMessages      = "messages"
)

// Hub 按用户维度管理提示流连接，同一用户允许多个并存连接（多标签页）。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]bool)}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.userID]
	if set == nil {
		set = make(map[*Client]bool)
		h.clients[c.userID] = set
	}
	set[c] = true
	metrics.SyncConnections.Inc()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.userID]
	if set == nil || !set[c] {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	metrics.SyncConnections.Dec()
}

// Notify 向一组用户广播提示，慢消费者直接断开，正确性不依赖提示到达。
func (h *Hub) Notify(userIDs []string, evt Event) {
	b, err := json.Marshal(evt)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, uid := range userIDs {
		for c := range h.clients[uid] {
			select {
			case c.send <- b:
			default:
				delete(h.clients[uid], c)
				close(c.send)
				metrics.SyncConnections.Dec()
			}
		}
		if len(h.clients[uid]) == 0 {
			delete(h.clients, uid)
		}
	}
}

// Online 返回某用户当前的提示流连接数。
func (h *Hub) Online(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
