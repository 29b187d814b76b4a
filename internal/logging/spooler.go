package logging

import (
	"context"
	"sync"
	"time"

	"credit_gateway/internal/utils"
)

// BatchWriter uploads a batch of audit records to durable storage
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*AuditRecord) (string, error)
}

// Spooler buffers audit records in memory and flushes them to a BatchWriter
// either when the batch fills or on a timer. Records are dropped rather than
// blocking the request path when the buffer is full.
type Spooler struct {
	writer        BatchWriter
	batchSize     int
	flushInterval time.Duration
	logger        *utils.Logger

	recordCh chan *AuditRecord
	doneCh   chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewSpooler creates a spooler and starts its flush worker
func NewSpooler(writer BatchWriter, batchSize int, flushInterval time.Duration) *Spooler {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}

	s := &Spooler{
		writer:        writer,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        utils.NewLogger("audit-spooler"),
		recordCh:      make(chan *AuditRecord, batchSize*4),
		doneCh:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Enqueue queues a record for upload. If the buffer is full the record is
// dropped; the transaction ledger remains the source of truth.
func (s *Spooler) Enqueue(rec *AuditRecord) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	select {
	case s.recordCh <- rec:
	default:
		s.logger.Warn("Audit buffer full, dropping record", "billingEventId", rec.BillingEventID)
	}
	return nil
}

func (s *Spooler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]*AuditRecord, 0, s.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := s.writer.WriteBatch(ctx, batch); err != nil {
			s.logger.Error("Failed to flush audit batch", "error", err, "count", len(batch))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.recordCh:
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.doneCh:
			// Drain remaining records
			for {
				select {
				case rec := <-s.recordCh:
					batch = append(batch, rec)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Shutdown flushes buffered records and stops the worker
func (s *Spooler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.doneCh)
	s.wg.Wait()
}
