package ws

import (
	"encoding/json"
	"testing"
)

func newTestClient(h *Hub, userID string, buffer int) *Client {
	return &Client{hub: h, userID: userID, send: make(chan []byte, buffer)}
}

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.clients == nil {
		t.Error("NewHub() clients map is nil")
	}
}

func TestHub_Online(t *testing.T) {
	hub := NewHub()
	if hub.Online("nobody") != 0 {
		t.Errorf("Online() for unknown user = %d, want 0", hub.Online("nobody"))
	}

	c1 := newTestClient(hub, "user-1", 8)
	c2 := newTestClient(hub, "user-1", 8)
	hub.register(c1)
	hub.register(c2)

	if hub.Online("user-1") != 2 {
		t.Errorf("Online() after two registers = %d, want 2", hub.Online("user-1"))
	}

	hub.unregister(c1)
	if hub.Online("user-1") != 1 {
		t.Errorf("Online() after unregister = %d, want 1", hub.Online("user-1"))
	}

	// Unregistering twice must be harmless.
	hub.unregister(c1)
	if hub.Online("user-1") != 1 {
		t.Errorf("Online() after double unregister = %d, want 1", hub.Online("user-1"))
	}
}

func TestHub_NotifyTargetsOnlyListedUsers(t *testing.T) {
	hub := NewHub()
	member := newTestClient(hub, "member", 8)
	other := newTestClient(hub, "other", 8)
	hub.register(member)
	hub.register(other)

	hub.Notify([]string{"member", "offline-user"}, Event{Type: "sync", Scope: ScopeMessages, ConversationID: "conv-1"})

	select {
	case b := <-member.send:
		var evt Event
		if err := json.Unmarshal(b, &evt); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if evt.Scope != ScopeMessages || evt.ConversationID != "conv-1" {
			t.Errorf("event = %+v, want messages scope for conv-1", evt)
		}
	default:
		t.Fatal("member did not receive the hint")
	}

	select {
	case <-other.send:
		t.Fatal("non-targeted user received a hint")
	default:
	}
}

func TestHub_NotifyAllClientsOfUser(t *testing.T) {
	hub := NewHub()
	c1 := newTestClient(hub, "user-1", 8)
	c2 := newTestClient(hub, "user-1", 8)
	hub.register(c1)
	hub.register(c2)

	hub.Notify([]string{"user-1"}, Event{Type: "sync", Scope: ScopeConversations})

	for i, c := range []*Client{c1, c2} {
		select {
		case <-c.send:
		default:
			t.Errorf("client %d did not receive the hint", i)
		}
	}
}

func TestHub_DropsSlowConsumer(t *testing.T) {
	hub := NewHub()
	slow := newTestClient(hub, "user-1", 1)
	hub.register(slow)

	// First hint fills the buffer, second one must evict the client
	// instead of blocking the notifier.
	hub.Notify([]string{"user-1"}, Event{Type: "sync", Scope: ScopeConversations})
	hub.Notify([]string{"user-1"}, Event{Type: "sync", Scope: ScopeConversations})

	if hub.Online("user-1") != 0 {
		t.Errorf("Online() after slow-consumer eviction = %d, want 0", hub.Online("user-1"))
	}

	// The send channel is closed once the client is dropped.
	<-slow.send // buffered hint
	if _, ok := <-slow.send; ok {
		t.Error("send channel should be closed after eviction")
	}
}
