package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AYUS2005/ChatSphere/internal/models"
)

// Unread count equals messages sent by others without a receipt for the
// requesting user, and drops to zero once everything is read.
func TestUnreadCount(t *testing.T) {
	gdb := testDB(t)
	convSvc := NewConversationService(gdb)
	msgSvc := NewMessageService(gdb)
	a := seedUser(t, gdb, "a@example.com")
	b := seedUser(t, gdb, "b@example.com")

	conv, _, err := convSvc.FindOrCreateDirect(a.ID, b.ID)
	if err != nil {
		t.Fatalf("FindOrCreateDirect() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := msgSvc.Create(conv.ID, a.ID, fmt.Sprintf("msg %d", i), ""); err != nil {
			t.Fatalf("Create message error = %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// B sees 3 unread, A (the sender) sees 0.
	bList, err := convSvc.ListForUser(b.ID)
	if err != nil {
		t.Fatalf("ListForUser(b) error = %v", err)
	}
	if bList[0].UnreadCount != 3 {
		t.Errorf("b unread = %d, want 3", bList[0].UnreadCount)
	}
	aList, err := convSvc.ListForUser(a.ID)
	if err != nil {
		t.Fatalf("ListForUser(a) error = %v", err)
	}
	if aList[0].UnreadCount != 0 {
		t.Errorf("a unread = %d, want 0 (own messages never unread to sender)", aList[0].UnreadCount)
	}

	// After B reads everything the count collapses to zero.
	msgs, err := msgSvc.List(conv.ID, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for _, m := range msgs {
		if err := msgSvc.MarkRead(m.ID, b.ID); err != nil {
			t.Fatalf("MarkRead() error = %v", err)
		}
	}
	bList, err = convSvc.ListForUser(b.ID)
	if err != nil {
		t.Fatalf("ListForUser(b) error = %v", err)
	}
	if bList[0].UnreadCount != 0 {
		t.Errorf("b unread after reading all = %d, want 0", bList[0].UnreadCount)
	}
}

// Marking a message read twice leaves exactly one receipt row.
func TestMarkRead_Idempotent(t *testing.T) {
	gdb := testDB(t)
	convSvc := NewConversationService(gdb)
	msgSvc := NewMessageService(gdb)
	a := seedUser(t, gdb, "a@example.com")
	b := seedUser(t, gdb, "b@example.com")

	conv, _, _ := convSvc.FindOrCreateDirect(a.ID, b.ID)
	msg, err := msgSvc.Create(conv.ID, a.ID, "hello", "")
	if err != nil {
		t.Fatalf("Create message error = %v", err)
	}

	if err := msgSvc.MarkRead(msg.ID, b.ID); err != nil {
		t.Fatalf("MarkRead() first call error = %v", err)
	}
	if err := msgSvc.MarkRead(msg.ID, b.ID); err != nil {
		t.Fatalf("MarkRead() second call error = %v", err)
	}

	var count int64
	gdb.Model(&models.ReadReceipt{}).
		Where("message_id = ? AND user_id = ?", msg.ID, b.ID).
		Count(&count)
	if count != 1 {
		t.Errorf("receipt rows = %d, want 1", count)
	}
}

func TestMarkRead_UnknownMessage(t *testing.T) {
	gdb := testDB(t)
	msgSvc := NewMessageService(gdb)
	a := seedUser(t, gdb, "a@example.com")

	if err := msgSvc.MarkRead("no-such-message", a.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("MarkRead(unknown) error = %v, want ErrMessageNotFound", err)
	}
}

// Messages come back in non-decreasing creation-time order even though the
// bounded fetch runs newest-first.
func TestList_ChronologicalOrder(t *testing.T) {
	gdb := testDB(t)
	convSvc := NewConversationService(gdb)
	msgSvc := NewMessageService(gdb)
	a := seedUser(t, gdb, "a@example.com")
	b := seedUser(t, gdb, "b@example.com")

	conv, _, _ := convSvc.FindOrCreateDirect(a.ID, b.ID)
	for i := 0; i < 5; i++ {
		sender := a.ID
		if i%2 == 1 {
			sender = b.ID
		}
		if _, err := msgSvc.Create(conv.ID, sender, fmt.Sprintf("msg %d", i), ""); err != nil {
			t.Fatalf("Create message error = %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	msgs, err := msgSvc.List(conv.ID, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("List() = %d messages, want 5", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Errorf("messages out of order at %d: %v before %v", i, msgs[i].CreatedAt, msgs[i-1].CreatedAt)
		}
	}
	if msgs[0].Content != "msg 0" || msgs[4].Content != "msg 4" {
		t.Errorf("ordering wrong: first=%q last=%q", msgs[0].Content, msgs[4].Content)
	}
	if msgs[0].Sender.Email != "a@example.com" {
		t.Errorf("sender not resolved: %+v", msgs[0].Sender)
	}
}

func TestList_LimitKeepsNewest(t *testing.T) {
	gdb := testDB(t)
	convSvc := NewConversationService(gdb)
	msgSvc := NewMessageService(gdb)
	a := seedUser(t, gdb, "a@example.com")
	b := seedUser(t, gdb, "b@example.com")

	conv, _, _ := convSvc.FindOrCreateDirect(a.ID, b.ID)
	for i := 0; i < 4; i++ {
		if _, err := msgSvc.Create(conv.ID, a.ID, fmt.Sprintf("msg %d", i), ""); err != nil {
			t.Fatalf("Create message error = %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// The bound keeps the newest messages, still delivered ascending.
	msgs, err := msgSvc.List(conv.ID, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("List(limit=2) = %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "msg 2" || msgs[1].Content != "msg 3" {
		t.Errorf("List(limit=2) = %q,%q, want msg 2,msg 3", msgs[0].Content, msgs[1].Content)
	}
}

func TestCreate_TouchesConversation(t *testing.T) {
	gdb := testDB(t)
	convSvc := NewConversationService(gdb)
	msgSvc := NewMessageService(gdb)
	a := seedUser(t, gdb, "a@example.com")
	b := seedUser(t, gdb, "b@example.com")

	conv, _, _ := convSvc.FindOrCreateDirect(a.ID, b.ID)
	time.Sleep(5 * time.Millisecond)
	msg, err := msgSvc.Create(conv.ID, a.ID, "touch", "")
	if err != nil {
		t.Fatalf("Create message error = %v", err)
	}

	var got models.Conversation
	if err := gdb.First(&got, "id = ?", conv.ID).Error; err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if d := got.UpdatedAt.Sub(msg.CreatedAt); d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("conversation updated_at = %v, want message created_at %v", got.UpdatedAt, msg.CreatedAt)
	}
}

func TestCreate_InvalidType(t *testing.T) {
	gdb := testDB(t)
	convSvc := NewConversationService(gdb)
	msgSvc := NewMessageService(gdb)
	a := seedUser(t, gdb, "a@example.com")
	b := seedUser(t, gdb, "b@example.com")

	conv, _, _ := convSvc.FindOrCreateDirect(a.ID, b.ID)
	if _, err := msgSvc.Create(conv.ID, a.ID, "x", "sticker"); !errors.Is(err, ErrInvalidMessageType) {
		t.Errorf("Create(sticker) error = %v, want ErrInvalidMessageType", err)
	}
	if _, err := msgSvc.Create("no-such-conv", a.ID, "x", ""); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Create(unknown conv) error = %v, want ErrConversationNotFound", err)
	}
}

func TestReceipts(t *testing.T) {
	gdb := testDB(t)
	convSvc := NewConversationService(gdb)
	msgSvc := NewMessageService(gdb)
	a := seedUser(t, gdb, "a@example.com")
	b := seedUser(t, gdb, "b@example.com")

	conv, _, _ := convSvc.FindOrCreateDirect(a.ID, b.ID)
	msg, err := msgSvc.Create(conv.ID, a.ID, "hello", "")
	if err != nil {
		t.Fatalf("Create message error = %v", err)
	}
	if err := msgSvc.MarkRead(msg.ID, b.ID); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}

	// Sender receipt is written during create, so both members appear.
	receipts, err := msgSvc.Receipts(msg.ID)
	if err != nil {
		t.Fatalf("Receipts() error = %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("Receipts() = %d rows, want 2", len(receipts))
	}
	if receipts[0].User.ID != a.ID {
		t.Errorf("first receipt should be the sender's, got %s", receipts[0].User.ID)
	}

	if _, err := msgSvc.Receipts("no-such-message"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("Receipts(unknown) error = %v, want ErrMessageNotFound", err)
	}
}

// The end-to-end story from the product side: A messages B, B reads it.
func TestDirectMessageScenario(t *testing.T) {
	gdb := testDB(t)
	convSvc := NewConversationService(gdb)
	msgSvc := NewMessageService(gdb)
	a := seedUser(t, gdb, "a@example.com")
	b := seedUser(t, gdb, "b@example.com")

	conv, _, err := convSvc.FindOrCreateDirect(a.ID, b.ID)
	if err != nil {
		t.Fatalf("FindOrCreateDirect() error = %v", err)
	}
	msg, err := msgSvc.Create(conv.ID, a.ID, "hello", "")
	if err != nil {
		t.Fatalf("Create message error = %v", err)
	}

	bList, _ := convSvc.ListForUser(b.ID)
	if bList[0].UnreadCount != 1 || bList[0].LastMessage == nil || bList[0].LastMessage.Content != "hello" {
		t.Fatalf("b view = unread %d, last %+v; want 1 and hello", bList[0].UnreadCount, bList[0].LastMessage)
	}

	if err := msgSvc.MarkRead(msg.ID, b.ID); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	bList, _ = convSvc.ListForUser(b.ID)
	if bList[0].UnreadCount != 0 {
		t.Errorf("b unread after read = %d, want 0", bList[0].UnreadCount)
	}

	aList, _ := convSvc.ListForUser(a.ID)
	if aList[0].UnreadCount != 0 || aList[0].LastMessage == nil || aList[0].LastMessage.Content != "hello" {
		t.Errorf("a view = unread %d, last %+v; want 0 and hello", aList[0].UnreadCount, aList[0].LastMessage)
	}
}
