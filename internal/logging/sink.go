package logging

import "time"

// AuditRecord is one settled billing event, exported for offline
// reconciliation against the transaction ledger.
type AuditRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	BillingEventID string    `json:"billing_event_id"`
	UserID         string    `json:"user_id"`
	AgentCode      string    `json:"agent_code,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ContentType    string    `json:"content_type"`
	BaseCost       int       `json:"base_cost"`
	OverageCost    int       `json:"overage_cost"`
	CreditsUsed    int       `json:"credits_used"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	BalanceAfter   int       `json:"balance_after"`
	Error          string    `json:"error,omitempty"`
}

// Sink receives audit records from the metering pipeline.
type Sink interface {
	Enqueue(rec *AuditRecord) error
}

// NoopSink discards audit records. Used when no audit bucket is configured.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *AuditRecord) error {
	return nil
}
