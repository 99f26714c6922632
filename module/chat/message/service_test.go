package message

import (
	"context"
	"testing"
	"time"

	"github.com/fightlightdiamond/chemchat/module/chat/seq"
	"github.com/fightlightdiamond/chemchat/service/kafka"
)

const (
	testTenant = "t1"
	testConv   = "p2p:alice_bob"
)

func newTestService() (*Service, *memStore) {
	store := NewMemStore()
	coord := seq.New(seq.NewMemCache(), seq.NewMemStore(), seq.Options{
		Lock: seq.LockOptions{TTL: time.Second, Retries: 10, RetryDelay: time.Millisecond},
	})
	svc := NewService(store, coord)
	svc.Publish = nil
	return svc, store
}

func TestSendMessageAssignsConsecutiveSeqs(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	for want := int64(1); want <= 5; want++ {
		m, err := svc.SendMessage(ctx, testTenant, testConv, "alice", "cid-"+string(rune('a'+want)), []byte("hi"))
		if err != nil {
			t.Fatalf("SendMessage #%d failed: %v", want, err)
		}
		if m.Seq != want {
			t.Fatalf("message #%d got seq %d, want %d", want, m.Seq, want)
		}
		if m.ServerMsgID == "" {
			t.Fatal("server msg id not assigned")
		}
	}
}

func TestSendMessageIdempotentPerClientID(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	first, err := svc.SendMessage(ctx, testTenant, testConv, "alice", "cid-1", []byte("hello"))
	if err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	again, err := svc.SendMessage(ctx, testTenant, testConv, "alice", "cid-1", []byte("hello"))
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if again.Seq != first.Seq || again.ServerMsgID != first.ServerMsgID {
		t.Fatalf("resend got (%d, %s), want original (%d, %s)",
			again.Seq, again.ServerMsgID, first.Seq, first.ServerMsgID)
	}

	next, err := svc.SendMessage(ctx, testTenant, testConv, "alice", "cid-2", []byte("world"))
	if err != nil {
		t.Fatalf("next send failed: %v", err)
	}
	if next.Seq != first.Seq+1 {
		t.Fatalf("resend consumed a sequence number: next seq %d, want %d", next.Seq, first.Seq+1)
	}
}

func TestSendMessageValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	if _, err := svc.SendMessage(ctx, "", testConv, "alice", "cid-1", nil); err == nil {
		t.Fatal("send without tenant succeeded")
	}
	if _, err := svc.SendMessage(ctx, testTenant, testConv, "alice", "", nil); err == nil {
		t.Fatal("send without client msg id succeeded")
	}
}

func TestSendMessageRecoversFromSeqCollision(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()

	// A message with seq 1 exists while the coordinator knows nothing about
	// it (counter wiped without the message store).
	pre, err := svc.SendMessage(ctx, testTenant, testConv, "bob", "cid-pre", []byte("old"))
	if err != nil {
		t.Fatalf("seed send failed: %v", err)
	}
	coordFresh := seq.New(seq.NewMemCache(), seq.NewMemStore(), seq.Options{
		Lock: seq.LockOptions{TTL: time.Second, Retries: 10, RetryDelay: time.Millisecond},
	})
	svc.Seq = coordFresh

	m, err := svc.SendMessage(ctx, testTenant, testConv, "alice", "cid-new", []byte("new"))
	if err != nil {
		t.Fatalf("send over collision failed: %v", err)
	}
	if m.Seq <= pre.Seq {
		t.Fatalf("collision recovery issued seq %d, want > %d", m.Seq, pre.Seq)
	}
	if got, _ := store.MaxSeq(ctx, testTenant, testConv); got != m.Seq {
		t.Fatalf("stored max seq %d, want %d", got, m.Seq)
	}
}

func TestSendMessagePublishFailureNotFatal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	svc.Publish = func(*kafka.MessageEvent) error {
		return context.DeadlineExceeded
	}

	if _, err := svc.SendMessage(ctx, testTenant, testConv, "alice", "cid-1", []byte("hi")); err != nil {
		t.Fatalf("publish failure must not fail the send: %v", err)
	}
}

func TestSendMessagePublishCarriesSeq(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	var got *kafka.MessageEvent
	svc.Publish = func(ev *kafka.MessageEvent) error {
		got = ev
		return nil
	}

	m, err := svc.SendMessage(ctx, testTenant, testConv, "alice", "cid-1", []byte("hi"))
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got == nil {
		t.Fatal("no event published")
	}
	if got.Seq != m.Seq || got.ConversationID != testConv || got.TenantID != testTenant {
		t.Fatalf("event %+v does not match stored message seq=%d", got, m.Seq)
	}
}
