package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"credit_gateway/internal/logging"
	"credit_gateway/internal/models"
	"credit_gateway/internal/plans"
	"credit_gateway/internal/provider"
	"credit_gateway/internal/storage"
	"credit_gateway/internal/utils"
)

// CreditLedger is the slice of the ledger service the metering session needs
type CreditLedger interface {
	CheckSufficient(ctx context.Context, userID uuid.UUID, required int) (*models.UserCredit, error)
	Debit(ctx context.Context, userID uuid.UUID, amount int) (*storage.BalanceChange, error)
	RecordUsage(ctx context.Context, usage *models.CreditUsageRecord) error
	RecordTransaction(ctx context.Context, tx *models.CreditTransaction) error
}

// RetryQueue receives settlement events whose direct write failed
type RetryQueue interface {
	Enqueue(ctx context.Context, event *SettlementEvent) error
}

// DeltaFunc receives each text fragment as it arrives from the provider.
// Returning an error stops the passthrough; the generation is still settled
// with whatever usage the provider reported by then.
type DeltaFunc func(text string) error

// Request describes one generation to meter
type Request struct {
	User           *models.User
	Agent          *models.Agent
	BrandID        *uuid.UUID
	ConversationID *uuid.UUID
	IsFollowUp     bool
	Messages       []provider.ChatMessage
	MaxTokens      int
}

// Summary is the credit outcome of a completed generation, reported to the
// client in the stream trailer
type Summary struct {
	BillingEventID   uuid.UUID
	Metered          bool
	BaseCost         int
	OverageCost      int
	TotalCost        int
	TotalTokens      int
	TokenAllowance   int
	RemainingBalance int
	Usage            provider.Usage
	Text             string
}

// Session runs the metering protocol around a streaming generation:
// classify the request, check and optimistically debit the base cost,
// pass the stream through, debit overage from reported usage, then settle.
// Nothing after the stream starts can fail the request; settlement errors
// fall back to the retry queue.
type Session struct {
	ledger   CreditLedger
	provider provider.Provider
	retry    RetryQueue
	audit    logging.Sink
	logger   *utils.Logger
}

// NewSession creates a metering session
func NewSession(creditLedger CreditLedger, p provider.Provider, retry RetryQueue, audit logging.Sink, logger *utils.Logger) *Session {
	if audit == nil {
		audit = logging.NewNoopSink()
	}
	return &Session{
		ledger:   creditLedger,
		provider: p,
		retry:    retry,
		audit:    audit,
		logger:   logger,
	}
}

// Run executes one metered generation. Text deltas go to onDelta as they
// arrive; the returned summary carries the final credit accounting.
func (s *Session) Run(ctx context.Context, req *Request, onDelta DeltaFunc) (*Summary, error) {
	if !req.User.IsMetered() {
		return s.runUnmetered(ctx, req, onDelta)
	}

	profile := plans.Classify(req.IsFollowUp, req.Agent.Category, req.Agent.AgentCode)

	// Advisory balance check; the floor on the debit below is the real guard
	if _, err := s.ledger.CheckSufficient(ctx, req.User.ID, profile.Credits); err != nil {
		return nil, err
	}

	// Optimistic base debit before the provider call. If the provider fails
	// the debit is kept; the settlement trail still records the charge.
	baseChange, err := s.ledger.Debit(ctx, req.User.ID, profile.Credits)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		BillingEventID: uuid.New(),
		Metered:        true,
		BaseCost:       profile.Credits,
		TokenAllowance: profile.TokenAllowance,
	}

	stream, err := s.provider.StreamChat(ctx, provider.ChatRequest{
		System:    req.Agent.SystemPrompt,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		// Base debit stands; settle it so the ledger explains the charge
		summary.TotalCost = summary.BaseCost
		summary.RemainingBalance = baseChange.Current
		s.settle(ctx, req, profile, summary, baseChange, nil, err)
		return nil, err
	}
	defer stream.Close()

	usage := s.passthrough(stream, onDelta, summary)
	summary.Usage = usage
	summary.TotalTokens = usage.Total()

	// Overage debit from reported usage, floored like every debit
	var overageChange *storage.BalanceChange
	overage := plans.Overage(summary.TotalTokens, profile.TokenAllowance)
	if overage > 0 {
		overageChange, err = s.ledger.Debit(ctx, req.User.ID, overage)
		if err != nil {
			s.logger.Error("Overage debit failed",
				"userId", req.User.ID, "overage", overage, "error", err)
		} else {
			summary.OverageCost = overage
		}
	}

	summary.TotalCost = summary.BaseCost + summary.OverageCost
	summary.RemainingBalance = baseChange.Current
	if overageChange != nil {
		summary.RemainingBalance = overageChange.Current
	}

	s.settle(ctx, req, profile, summary, baseChange, overageChange, nil)

	return summary, nil
}

// runUnmetered streams without touching credits. Admin and editor accounts
// generate for free.
func (s *Session) runUnmetered(ctx context.Context, req *Request, onDelta DeltaFunc) (*Summary, error) {
	stream, err := s.provider.StreamChat(ctx, provider.ChatRequest{
		System:    req.Agent.SystemPrompt,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	summary := &Summary{BillingEventID: uuid.New()}
	usage := s.passthrough(stream, onDelta, summary)
	summary.Usage = usage
	summary.TotalTokens = usage.Total()

	return summary, nil
}

// passthrough forwards stream deltas to the caller and collects usage.
// Stream errors mid-generation end the passthrough but never fail the
// request; the credits were already committed.
func (s *Session) passthrough(stream provider.Stream, onDelta DeltaFunc, summary *Summary) provider.Usage {
	var usage provider.Usage
	deliver := onDelta != nil

	for {
		event, err := stream.Read()
		if event != nil {
			if event.Text != "" {
				summary.Text += event.Text
				if deliver {
					if deltaErr := onDelta(event.Text); deltaErr != nil {
						// Client gone; keep reading for the usage report
						deliver = false
					}
				}
			}
			if event.Usage != nil {
				usage = *event.Usage
			}
			if event.Done {
				return usage
			}
			if event.Error != nil {
				s.logger.Warn("Stream ended with error", "error", event.Error)
				return usage
			}
		}
		if err != nil {
			return usage
		}
	}
}

// settle writes the billing records for the generation. Direct write first;
// on failure the event goes to the retry queue. Either way the request
// succeeds, and the audit sink gets a copy.
func (s *Session) settle(ctx context.Context, req *Request, profile plans.CostProfile, summary *Summary, baseChange, overageChange *storage.BalanceChange, streamErr error) {
	event := &SettlementEvent{
		BillingEventID: summary.BillingEventID,
		UserID:         req.User.ID,
		BrandID:        req.BrandID,
		ConversationID: req.ConversationID,
		ContentType:    profile.ContentType,
		Description:    fmt.Sprintf("%s generation", req.Agent.Name),
		InputTokens:    summary.Usage.InputTokens,
		OutputTokens:   summary.Usage.OutputTokens,
		Timestamp:      time.Now().UTC(),
	}
	agentID := req.Agent.ID
	event.AgentID = &agentID
	if baseChange != nil {
		event.BaseAmount = baseChange.Delta()
		event.BaseBalanceAfter = baseChange.Current
	}
	if overageChange != nil {
		event.OverageAmount = overageChange.Delta()
		event.OverageBalanceAfter = overageChange.Current
	}

	settler := NewSettler(s.ledger)
	if err := settler.Settle(ctx, event); err != nil {
		s.logger.Error("Direct settlement failed, queueing for retry",
			"billingEventId", event.BillingEventID, "error", err)
		if s.retry != nil {
			if qErr := s.retry.Enqueue(ctx, event); qErr != nil {
				s.logger.Error("Failed to queue settlement for retry",
					"billingEventId", event.BillingEventID, "error", qErr)
			}
		}
	}

	audit := &logging.AuditRecord{
		Timestamp:      event.Timestamp,
		BillingEventID: event.BillingEventID.String(),
		UserID:         event.UserID.String(),
		AgentCode:      req.Agent.AgentCode,
		ContentType:    event.ContentType,
		BaseCost:       summary.BaseCost,
		OverageCost:    summary.OverageCost,
		CreditsUsed:    event.CreditsUsed(),
		InputTokens:    event.InputTokens,
		OutputTokens:   event.OutputTokens,
		BalanceAfter:   summary.RemainingBalance,
	}
	if event.ConversationID != nil {
		audit.ConversationID = event.ConversationID.String()
	}
	if streamErr != nil {
		audit.Error = streamErr.Error()
	}
	if err := s.audit.Enqueue(audit); err != nil {
		s.logger.Warn("Failed to enqueue audit record", "error", err)
	}
}
