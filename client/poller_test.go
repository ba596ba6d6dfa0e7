package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeServer is a minimal stand-in for the messaging API: one conversation,
// an appendable message log.
type fakeServer struct {
	mu       sync.Mutex
	messages []Message
	convs    []Conversation
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/conversations", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"conversations": f.convs})
	})
	mux.HandleFunc("/api/v1/conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPost {
			var req struct {
				Content     string `json:"content"`
				MessageType string `json:"message_type"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			msg := Message{
				ID:             "srv-" + req.Content,
				ConversationID: "conv-1",
				Content:        req.Content,
				MessageType:    req.MessageType,
				CreatedAt:      time.Now(),
			}
			f.messages = append(f.messages, msg)
			json.NewEncoder(w).Encode(map[string]interface{}{"message": msg})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"messages": f.messages})
	})
	return mux
}

func newFakeServer(t *testing.T) (*fakeServer, *Client) {
	t.Helper()
	fs := &fakeServer{convs: []Conversation{{ID: "conv-1"}}}
	srv := httptest.NewServer(fs.handler())
	t.Cleanup(srv.Close)
	return fs, New(srv.URL, "test-token")
}

func TestPollConversations(t *testing.T) {
	_, c := newFakeServer(t)
	p := NewPoller(c, time.Second, time.Second)

	p.PollConversations(context.Background())

	convs := p.Conversations()
	if len(convs) != 1 || convs[0].ID != "conv-1" {
		t.Fatalf("Conversations() = %+v, want the single fake conversation", convs)
	}
}

func TestPollConversations_CancelledContextChangesNothing(t *testing.T) {
	_, c := newFakeServer(t)
	p := NewPoller(c, time.Second, time.Second)

	p.PollConversations(context.Background())
	before := p.Conversations()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.PollConversations(ctx)

	after := p.Conversations()
	if len(after) != len(before) {
		t.Errorf("cancelled poll mutated local state: before %d, after %d", len(before), len(after))
	}
}

func TestSend_OptimisticThenReconciled(t *testing.T) {
	_, c := newFakeServer(t)
	p := NewPoller(c, time.Second, time.Second)
	p.SetActiveConversation("conv-1")

	if err := p.Send(context.Background(), "hello", "text"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// Before the next poll the message is visible from the pending queue.
	msgs := p.Messages()
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("Messages() after send = %+v, want the optimistic copy", msgs)
	}
	if msgs[0].ID != "srv-hello" {
		t.Errorf("pending entry should carry the server id after ack, got %s", msgs[0].ID)
	}

	// The poll returns the server copy and clears the pending queue.
	p.PollMessages(context.Background())
	msgs = p.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv-hello" {
		t.Fatalf("Messages() after poll = %+v, want exactly the confirmed copy", msgs)
	}
	p.mu.Lock()
	pending := len(p.pending)
	p.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending after reconciliation = %d, want 0", pending)
	}
}

func TestPollMessages_CancelledContextChangesNothing(t *testing.T) {
	_, c := newFakeServer(t)
	p := NewPoller(c, time.Second, time.Second)
	p.SetActiveConversation("conv-1")

	if err := p.Send(context.Background(), "hello", "text"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.PollMessages(ctx)

	// Pending entry survives because the cancelled poll was abandoned.
	msgs := p.Messages()
	if len(msgs) != 1 {
		t.Errorf("Messages() after cancelled poll = %d entries, want 1 pending", len(msgs))
	}
}

func TestSetActiveConversation_ResetsCache(t *testing.T) {
	_, c := newFakeServer(t)
	p := NewPoller(c, time.Second, time.Second)
	p.SetActiveConversation("conv-1")
	p.PollMessages(context.Background())

	p.SetActiveConversation("conv-2")
	if msgs := p.Messages(); len(msgs) != 0 {
		t.Errorf("Messages() after switching conversations = %d entries, want 0", len(msgs))
	}

	// Re-selecting the same conversation keeps the cache.
	p.SetActiveConversation("conv-2")
	if p.activeConv != "conv-2" {
		t.Errorf("activeConv = %s, want conv-2", p.activeConv)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	_, c := newFakeServer(t)
	p := NewPoller(c, 10*time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after context cancellation")
	}

	if len(p.Conversations()) != 1 {
		t.Errorf("Run() should have polled the conversation list at least once")
	}
}
