package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"credit_gateway/internal/models"
	"credit_gateway/internal/plans"
	"credit_gateway/internal/storage"
	"credit_gateway/internal/utils"
)

// Service is the credit ledger. Every balance movement goes through it so
// each movement leaves a transaction row, and replaying transaction amounts
// in order reproduces the stored balance.
type Service struct {
	credits *storage.CreditRepository
	users   *storage.UserRepository
	logger  *utils.Logger
}

// NewService creates a new ledger service
func NewService(db *storage.DB, logger *utils.Logger) *Service {
	return &Service{
		credits: db.NewCreditRepository(),
		users:   db.NewUserRepository(),
		logger:  logger,
	}
}

// GetBalance retrieves a user's credit record
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserCredit, error) {
	credit, err := s.credits.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrCreditRecordNotFound) {
			return nil, ErrNoCreditRecord
		}
		return nil, err
	}
	return credit, nil
}

// CheckSufficient verifies a user's balance covers the required credits.
// This is an advisory check: the balance can still change between the
// check and the debit, which is why the debit itself floors at zero.
func (s *Service) CheckSufficient(ctx context.Context, userID uuid.UUID, required int) (*models.UserCredit, error) {
	credit, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	if credit.Balance < required {
		return nil, &InsufficientCreditsError{
			Required:  required,
			Available: credit.Balance,
		}
	}

	return credit, nil
}

// Debit deducts credits from a user's balance, flooring at zero.
// Returns the balance change including the amount actually deducted.
func (s *Service) Debit(ctx context.Context, userID uuid.UUID, amount int) (*storage.BalanceChange, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	change, err := s.credits.DebitFloor(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, storage.ErrCreditRecordNotFound) {
			return nil, ErrNoCreditRecord
		}
		return nil, err
	}

	if change.Delta() != -amount {
		s.logger.Warn("Debit clamped by zero floor",
			"userId", userID, "requested", amount, "deducted", -change.Delta())
	}

	return change, nil
}

// RecordUsage writes a usage row for a billed generation
func (s *Service) RecordUsage(ctx context.Context, usage *models.CreditUsageRecord) error {
	return s.credits.InsertUsage(ctx, usage)
}

// RecordTransaction writes a ledger transaction row
func (s *Service) RecordTransaction(ctx context.Context, tx *models.CreditTransaction) error {
	return s.credits.InsertTransaction(ctx, tx)
}

// AssignPlan puts a user on a plan. First-time assignment seeds the balance
// with the plan's monthly quota; reassignment rolls the period over, carrying
// unused balance up to twice the new monthly quota.
func (s *Service) AssignPlan(ctx context.Context, userID uuid.UUID, planID string, actor *uuid.UUID) (*models.UserCredit, error) {
	plan, ok := plans.Lookup(planID)
	if !ok {
		return nil, ErrPlanNotFound
	}

	periodStart := time.Now().UTC()
	periodEnd := periodStart.AddDate(0, 1, 0)

	existing, err := s.credits.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrCreditRecordNotFound) {
		return nil, err
	}

	var credit *models.UserCredit
	var amount int

	monthly := plan.MonthlyCredits
	maxBrands := plan.MaxBrands

	if existing == nil {
		credit, err = s.credits.CreateForPlan(ctx, userID, monthly, maxBrands, periodStart, periodEnd)
		if err != nil {
			return nil, err
		}
		amount = credit.Balance
	} else {
		cap := plans.MaxCarryOver(plan.MonthlyCredits)
		credit, err = s.credits.RenewForPlan(ctx, userID, monthly, cap, maxBrands, periodStart, periodEnd)
		if err != nil {
			return nil, err
		}
		amount = credit.Balance - existing.Balance
	}

	if err := s.users.SetPlan(ctx, userID, plan.ID); err != nil {
		return nil, err
	}

	// Renewals log the same plan_assign type as first-time assignment,
	// with the amount set to the delta actually granted
	tx := &models.CreditTransaction{
		UserID:       userID,
		Type:         models.TransactionPlanAssign,
		Amount:       amount,
		BalanceAfter: credit.Balance,
		Description:  fmt.Sprintf("Assigned plan %s (%d credits/month)", plan.Name, plan.MonthlyCredits),
		CreatedBy:    actor,
	}
	if err := s.credits.InsertTransaction(ctx, tx); err != nil {
		return nil, err
	}

	s.logger.Info("Assigned plan",
		"userId", userID, "plan", plan.ID, "balance", credit.Balance, "carryOver", credit.CarryOver)

	return credit, nil
}

// Adjust applies a manual credit grant or deduction. The transaction
// records the amount that actually moved, so a deduction clamped by the
// zero floor stays reconcilable.
func (s *Service) Adjust(ctx context.Context, userID uuid.UUID, amount int, description string, actor *uuid.UUID) (*storage.BalanceChange, error) {
	if amount == 0 {
		return nil, ErrZeroAdjustment
	}

	change, err := s.credits.AdjustFloor(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, storage.ErrCreditRecordNotFound) {
			return nil, ErrNoCreditRecord
		}
		return nil, err
	}

	txType := models.TransactionGrant
	if amount < 0 {
		txType = models.TransactionDeduct
	}

	tx := &models.CreditTransaction{
		UserID:       userID,
		Type:         txType,
		Amount:       change.Delta(),
		BalanceAfter: change.Current,
		Description:  description,
		CreatedBy:    actor,
	}
	if err := s.credits.InsertTransaction(ctx, tx); err != nil {
		return nil, err
	}

	s.logger.Info("Adjusted credits",
		"userId", userID, "requested", amount, "applied", change.Delta(), "balance", change.Current)

	return change, nil
}

// Snapshot summarizes a user's credit state for the current billing period
type Snapshot struct {
	Balance          int
	MonthlyQuota     int
	CarryOver        int
	MaxBrands        int
	PeriodStart      time.Time
	PeriodEnd        time.Time
	UsedThisPeriod   int
	GenerationsCount int
	InputTokens      int
	OutputTokens     int
	ByContentType    []storage.ContentTypeUsage
	Daily            []storage.DailyUsage
}

// GetSnapshot returns a user's balance together with usage aggregates
// for the current billing period
func (s *Service) GetSnapshot(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	credit, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary, err := s.credits.GetUsageSummary(ctx, userID, credit.CurrentPeriodStart)
	if err != nil {
		return nil, err
	}

	byType, err := s.credits.GetUsageByContentType(ctx, userID, credit.CurrentPeriodStart)
	if err != nil {
		return nil, err
	}

	daily, err := s.credits.GetDailyUsage(ctx, userID, time.Now().AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Balance:          credit.Balance,
		MonthlyQuota:     credit.MonthlyQuota,
		CarryOver:        credit.CarryOver,
		MaxBrands:        credit.MaxBrands,
		PeriodStart:      credit.CurrentPeriodStart,
		PeriodEnd:        credit.CurrentPeriodEnd,
		UsedThisPeriod:   summary.CreditsUsed,
		GenerationsCount: summary.Generations,
		InputTokens:      summary.InputTokens,
		OutputTokens:     summary.OutputTokens,
		ByContentType:    byType,
		Daily:            daily,
	}, nil
}

// ListTransactions returns a user's most recent ledger transactions
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.credits.ListTransactions(ctx, userID, limit)
}

const reconcilePageSize = 500

// Reconcile replays a user's full transaction history in creation order and
// verifies each row's balance_after against the running sum, then compares
// the final sum against the stored balance. A per-row mismatch returns
// ErrLedgerDrift; a final mismatch means a balance movement was made outside
// the ledger.
func (s *Service) Reconcile(ctx context.Context, userID uuid.UUID) (replayed, stored int, err error) {
	credit, err := s.GetBalance(ctx, userID)
	if err != nil {
		return 0, 0, err
	}

	var (
		cursorAt time.Time
		cursorID uuid.UUID
	)
	for {
		txs, err := s.credits.ListTransactionsPage(ctx, userID, cursorAt, cursorID, reconcilePageSize)
		if err != nil {
			return 0, 0, err
		}

		for _, tx := range txs {
			replayed += tx.Amount
			if tx.BalanceAfter != replayed {
				return replayed, credit.Balance,
					fmt.Errorf("%w: transaction %s has balance_after %d, running sum %d",
						ErrLedgerDrift, tx.ID, tx.BalanceAfter, replayed)
			}
			cursorAt, cursorID = tx.CreatedAt, tx.ID
		}

		if len(txs) < reconcilePageSize {
			break
		}
	}

	return replayed, credit.Balance, nil
}
