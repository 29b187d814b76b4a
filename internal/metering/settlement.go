package metering

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"credit_gateway/internal/models"
	"credit_gateway/internal/queue"
	"credit_gateway/internal/utils"
)

// SettlementEvent captures everything needed to write the billing records
// for one generation after its stream has finished. The balance was already
// moved when the event is created; settlement only persists the paper trail,
// so it can be retried without touching the balance again.
type SettlementEvent struct {
	BillingEventID uuid.UUID  `json:"billingEventId"`
	UserID         uuid.UUID  `json:"userId"`
	AgentID        *uuid.UUID `json:"agentId,omitempty"`
	BrandID        *uuid.UUID `json:"brandId,omitempty"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	ContentType    string     `json:"contentType"`
	Description    string     `json:"description"`

	// Signed ledger amounts and the balance snapshots their debits returned
	BaseAmount          int `json:"baseAmount"`
	BaseBalanceAfter    int `json:"baseBalanceAfter"`
	OverageAmount       int `json:"overageAmount"`
	OverageBalanceAfter int `json:"overageBalanceAfter"`

	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	Timestamp    time.Time `json:"timestamp"`
}

// CreditsUsed returns the total credits actually charged for the generation
func (e *SettlementEvent) CreditsUsed() int {
	return -(e.BaseAmount + e.OverageAmount)
}

// Settler writes the usage and transaction rows for a settlement event
type Settler struct {
	ledger CreditLedger
}

// NewSettler creates a new settler
func NewSettler(ledger CreditLedger) *Settler {
	return &Settler{ledger: ledger}
}

// Settle persists the usage row and the transaction rows for one event.
// All rows share the event's billing event id so they can be joined during
// reconciliation.
func (s *Settler) Settle(ctx context.Context, event *SettlementEvent) error {
	usage := &models.CreditUsageRecord{
		BillingEventID: event.BillingEventID,
		UserID:         event.UserID,
		AgentID:        event.AgentID,
		BrandID:        event.BrandID,
		ConversationID: event.ConversationID,
		CreditsUsed:    event.CreditsUsed(),
		ContentType:    event.ContentType,
		InputTokens:    event.InputTokens,
		OutputTokens:   event.OutputTokens,
		Description:    event.Description,
	}
	if err := s.ledger.RecordUsage(ctx, usage); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	eventID := event.BillingEventID
	baseTx := &models.CreditTransaction{
		BillingEventID: &eventID,
		UserID:         event.UserID,
		Type:           models.TransactionUsage,
		Amount:         event.BaseAmount,
		BalanceAfter:   event.BaseBalanceAfter,
		Description:    event.Description,
	}
	if err := s.ledger.RecordTransaction(ctx, baseTx); err != nil {
		return fmt.Errorf("failed to record base transaction: %w", err)
	}

	if event.OverageAmount != 0 {
		overageTx := &models.CreditTransaction{
			BillingEventID: &eventID,
			UserID:         event.UserID,
			Type:           models.TransactionUsage,
			Amount:         event.OverageAmount,
			BalanceAfter:   event.OverageBalanceAfter,
			Description:    event.Description + " (overage)",
		}
		if err := s.ledger.RecordTransaction(ctx, overageTx); err != nil {
			return fmt.Errorf("failed to record overage transaction: %w", err)
		}
	}

	return nil
}

// SettlementWorker retries failed settlements from a queue. Events land here
// only when the direct write failed after the stream; the worker retries with
// backoff and parks unrecoverable events in the dead letter queue for manual
// reconciliation.
type SettlementWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	settler     *Settler
	config      *queue.Config
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewSettlementWorker creates a new settlement worker
func NewSettlementWorker(q queue.Queue, dlq queue.DeadLetterQueue, settler *Settler, config *queue.Config) *SettlementWorker {
	if config == nil {
		config = queue.DefaultConfig("settlements")
	}

	return &SettlementWorker{
		queue:       q,
		dlq:         dlq,
		settler:     settler,
		config:      config,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *SettlementWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *SettlementWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue adds a settlement event to the retry queue
func (w *SettlementWorker) Enqueue(ctx context.Context, event *SettlementEvent) error {
	return w.queue.Enqueue(ctx, event)
}

// run is the main worker loop
func (w *SettlementWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	logger := utils.NewLogger("settlement-worker")

	for {
		select {
		case <-w.stopChan:
			logger.Info("Settlement worker stopping")
			return
		case <-ctx.Done():
			logger.Info("Settlement worker context cancelled")
			return
		default:
			w.processBatch(ctx, logger)
		}
	}
}

// processBatch processes a batch of settlement events
func (w *SettlementWorker) processBatch(ctx context.Context, logger *utils.Logger) {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		logger.Error("Failed to dequeue settlements", "error", err)
		time.Sleep(1 * time.Second) // Back off on error
		return
	}

	if len(items) == 0 {
		return
	}

	logger.Debug("Processing settlement batch", "count", len(items))

	for _, item := range items {
		var event SettlementEvent
		if err := w.unmarshalItem(item, &event); err != nil {
			logger.Error("Failed to unmarshal settlement event", "error", err)
			continue
		}

		if err := w.processItem(ctx, &event, logger); err != nil {
			logger.Error("Failed to process settlement", "billingEventId", event.BillingEventID, "error", err)
		}
	}
}

// processItem settles a single event with retries
func (w *SettlementWorker) processItem(ctx context.Context, event *SettlementEvent, logger *utils.Logger) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			logger.Debug("Retrying settlement", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := w.settler.Settle(ctx, event); err != nil {
			lastErr = err
			logger.Error("Failed to settle event", "attempt", attempt, "error", err)
			continue
		}

		logger.Debug("Settlement written", "billingEventId", event.BillingEventID)
		return nil
	}

	// Max retries exceeded - park in the dead letter queue
	if w.dlq != nil {
		if err := w.dlq.Add(ctx, event, lastErr); err != nil {
			logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			logger.Warn("Settlement moved to DLQ", "billingEventId", event.BillingEventID, "error", lastErr)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// unmarshalItem unmarshals a queue item into a SettlementEvent
func (w *SettlementWorker) unmarshalItem(item interface{}, event *SettlementEvent) error {
	switch v := item.(type) {
	case *SettlementEvent:
		*event = *v
		return nil
	case SettlementEvent:
		*event = v
		return nil
	case []byte:
		return json.Unmarshal(v, event)
	case json.RawMessage:
		return json.Unmarshal(v, event)
	default:
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		return json.Unmarshal(data, event)
	}
}

// GetQueueLength returns the current retry queue length
func (w *SettlementWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *SettlementWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a failed settlement from the dead letter queue
func (w *SettlementWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID == id {
			if err := w.queue.Enqueue(ctx, dlItem.Item); err != nil {
				return fmt.Errorf("failed to re-enqueue item: %w", err)
			}

			if err := w.dlq.Remove(ctx, id); err != nil {
				return fmt.Errorf("failed to remove from DLQ: %w", err)
			}

			return nil
		}
	}

	return fmt.Errorf("item not found in dead letter queue")
}
