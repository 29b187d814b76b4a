package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, *Config) {
	t.Helper()

	mr := miniredis.RunT(t)

	config := DefaultConfig("test-settlements")
	config.UseRedis = true
	config.RedisAddr = mr.Addr()

	q, err := NewRedisQueue(config)
	if err != nil {
		t.Fatalf("NewRedisQueue failed: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	return q, config
}

func TestRedisQueueEnqueueDequeue(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	item := testSettlement{UserID: "user-1", Credits: 3}
	if err := q.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := q.DequeueWithTimeout(ctx, 1, time.Second)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}

	var got testSettlement
	if err := json.Unmarshal(items[0].(json.RawMessage), &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.UserID != "user-1" || got.Credits != 3 {
		t.Errorf("Unexpected item: %+v", got)
	}
}

func TestRedisQueueBatch(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(ctx, testSettlement{UserID: "user", Credits: int64(i)}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	items, err := q.DequeueWithTimeout(ctx, 5, time.Second)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("Expected batch of 5, got %d", len(items))
	}

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 5 {
		t.Errorf("Expected 5 remaining, got %d", length)
	}
}

func TestRedisQueueDequeueTimeout(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	items, err := q.DequeueWithTimeout(ctx, 1, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected no items, got %d", len(items))
	}
}

func TestRedisDeadLetterQueue(t *testing.T) {
	mr := miniredis.RunT(t)

	config := DefaultConfig("test-settlements-dlq")
	config.UseRedis = true
	config.RedisAddr = mr.Addr()

	dlq, err := NewRedisDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewRedisDeadLetterQueue failed: %v", err)
	}
	defer dlq.Close()

	ctx := context.Background()

	item := testSettlement{UserID: "user-2", Credits: 4}
	if err := dlq.Add(ctx, item, errors.New("transaction insert failed")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	items, err := dlq.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if items[0].Error != "transaction insert failed" {
		t.Errorf("Unexpected error message: %s", items[0].Error)
	}

	if err := dlq.Remove(ctx, items[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	items, err = dlq.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected empty dead letter queue, got %d items", len(items))
	}
}
