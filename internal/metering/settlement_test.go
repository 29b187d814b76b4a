package metering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"credit_gateway/internal/models"
	"credit_gateway/internal/queue"
	"credit_gateway/internal/storage"
)

// flakyLedger fails every write until healed
type flakyLedger struct {
	mu     sync.Mutex
	broken bool
	usages []*models.CreditUsageRecord
	txs    []*models.CreditTransaction
}

func (f *flakyLedger) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = false
}

func (f *flakyLedger) usageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.usages)
}

func (f *flakyLedger) CheckSufficient(ctx context.Context, userID uuid.UUID, required int) (*models.UserCredit, error) {
	return &models.UserCredit{UserID: userID, Balance: 100}, nil
}

func (f *flakyLedger) Debit(ctx context.Context, userID uuid.UUID, amount int) (*storage.BalanceChange, error) {
	return nil, errors.New("not used")
}

func (f *flakyLedger) RecordUsage(ctx context.Context, usage *models.CreditUsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errors.New("database unavailable")
	}
	f.usages = append(f.usages, usage)
	return nil
}

func (f *flakyLedger) RecordTransaction(ctx context.Context, tx *models.CreditTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errors.New("database unavailable")
	}
	f.txs = append(f.txs, tx)
	return nil
}

func workerConfig() *queue.Config {
	config := queue.DefaultConfig("settlements-test")
	config.BatchTimeout = 20 * time.Millisecond
	config.MaxRetries = 1
	config.RetryBackoff = 5 * time.Millisecond
	return config
}

func sampleEvent() *SettlementEvent {
	return &SettlementEvent{
		BillingEventID:   uuid.New(),
		UserID:           uuid.New(),
		ContentType:      "social_post",
		Description:      "Social Writer generation",
		BaseAmount:       -1,
		BaseBalanceAfter: 9,
		InputTokens:      100,
		OutputTokens:     400,
		Timestamp:        time.Now().UTC(),
	}
}

func TestSettlerWritesUsageAndTransactions(t *testing.T) {
	fl := &fakeLedger{balance: 10}
	settler := NewSettler(fl)

	event := sampleEvent()
	event.OverageAmount = -2
	event.OverageBalanceAfter = 7

	if err := settler.Settle(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fl.usages) != 1 {
		t.Fatalf("expected 1 usage record, got %d", len(fl.usages))
	}
	if fl.usages[0].CreditsUsed != 3 {
		t.Errorf("expected 3 credits used, got %d", fl.usages[0].CreditsUsed)
	}
	if fl.usages[0].BillingEventID != event.BillingEventID {
		t.Error("usage record must carry the billing event id")
	}

	if len(fl.transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(fl.transactions))
	}
	for i, tx := range fl.transactions {
		if tx.BillingEventID == nil || *tx.BillingEventID != event.BillingEventID {
			t.Errorf("transaction %d missing billing event id", i)
		}
		if tx.Type != models.TransactionUsage {
			t.Errorf("transaction %d has type %q", i, tx.Type)
		}
	}
	if fl.transactions[0].Amount != -1 || fl.transactions[1].Amount != -2 {
		t.Errorf("unexpected transaction amounts: %d, %d",
			fl.transactions[0].Amount, fl.transactions[1].Amount)
	}
}

func TestSettlementWorkerRetriesThenParksInDLQ(t *testing.T) {
	fl := &flakyLedger{broken: true}
	q := queue.NewMemoryQueue(workerConfig())
	dlq := queue.NewMemoryDeadLetterQueue()
	defer q.Close()
	defer dlq.Close()

	worker := NewSettlementWorker(q, dlq, NewSettler(fl), workerConfig())
	worker.Start(context.Background())
	defer worker.Stop()

	event := sampleEvent()
	if err := worker.Enqueue(context.Background(), event); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var items []queue.DeadLetterItem
	for time.Now().Before(deadline) {
		var err error
		items, err = worker.GetDeadLetterItems(context.Background(), 10)
		if err != nil {
			t.Fatalf("failed to list DLQ: %v", err)
		}
		if len(items) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 dead letter item, got %d", len(items))
	}
	if items[0].Error == "" {
		t.Error("expected the dead letter item to record the failure")
	}
	if fl.usageCount() != 0 {
		t.Errorf("expected no settled usage while broken, got %d", fl.usageCount())
	}

	// Heal the store and replay the parked event
	fl.heal()
	if err := worker.RetryDeadLetterItem(context.Background(), items[0].ID); err != nil {
		t.Fatalf("failed to retry dead letter item: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fl.usageCount() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if fl.usageCount() != 1 {
		t.Fatalf("expected the replayed event to settle, got %d usages", fl.usageCount())
	}

	remaining, err := worker.GetDeadLetterItems(context.Background(), 10)
	if err != nil {
		t.Fatalf("failed to list DLQ: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected empty DLQ after retry, got %d items", len(remaining))
	}
}

func TestSettlementWorkerSettlesQueuedEvent(t *testing.T) {
	fl := &flakyLedger{}
	q := queue.NewMemoryQueue(workerConfig())
	defer q.Close()

	worker := NewSettlementWorker(q, queue.NewMemoryDeadLetterQueue(), NewSettler(fl), workerConfig())
	worker.Start(context.Background())
	defer worker.Stop()

	if err := worker.Enqueue(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fl.usageCount() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if fl.usageCount() != 1 {
		t.Fatalf("expected queued event to settle, got %d usages", fl.usageCount())
	}
}
