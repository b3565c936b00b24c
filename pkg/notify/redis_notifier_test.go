package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"casedesk/pkg/domain"
)

func TestStreamConsumerRequeueAndAckSuccess(t *testing.T) {
	c, ctx, msgID, ev := newPendingStreamMessage(t)

	if err := c.requeueAndAck(ctx, msgID, ev, 1); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := c.client.XPending(ctx, c.stream, c.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: "consumer-2",
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["case_id"] != ev.CaseID || got.Values["kind"] != string(ev.Kind) {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
	if got.Values["attempts"] != "1" {
		t.Fatalf("attempts not carried on requeue: %+v", got.Values)
	}
}

func TestStreamConsumerRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	c, ctx, msgID, ev := newPendingStreamMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := c.requeueAndAck(canceledCtx, msgID, ev, 1); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := c.client.XPending(ctx, c.stream, c.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := c.client.XLen(ctx, c.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestDecodeEventRejectsIncompletePayload(t *testing.T) {
	if _, _, ok := decodeEvent(map[string]any{"kind": "case.created"}); ok {
		t.Fatalf("decoded event without case id")
	}
	ev, attempts, ok := decodeEvent(map[string]any{
		"case_id":        "case-1",
		"kind":           "case.note_added",
		"recipient_role": "analyst",
		"attempts":       "2",
	})
	if !ok {
		t.Fatalf("decode failed")
	}
	if ev.Kind != EventNoteAdded || ev.RecipientRole != domain.RoleAnalyst || attempts != 2 {
		t.Fatalf("unexpected decode result: %+v attempts=%d", ev, attempts)
	}
}

func newPendingStreamMessage(t *testing.T) (*StreamConsumer, context.Context, string, Event) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	t.Cleanup(func() { client.Close() })

	c := NewStreamConsumerWithClient(client, StreamConsumerConfig{
		Stream:     "test:notify",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	n := NewRedisStreamNotifierWithClient(client, "test:notify", 0)

	ctx := context.Background()
	c.ensureGroup(ctx)

	ev := Event{
		CaseID:        "case-1",
		Kind:          EventStatusChanged,
		RecipientRole: domain.RoleCustomer,
		At:            time.Now().UTC(),
	}
	if err := n.Emit(ctx, ev); err != nil {
		t.Fatalf("emit: %v", err)
	}
	streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: "consumer-1",
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	return c, ctx, streams[0].Messages[0].ID, ev
}
