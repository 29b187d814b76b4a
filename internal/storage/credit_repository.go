package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"credit_gateway/internal/models"
)

// CreditRepository handles credit balance, usage and transaction database operations
type CreditRepository struct {
	db *DB
}

// NewCreditRepository creates a new credit repository
func NewCreditRepository(db *DB) *CreditRepository {
	return &CreditRepository{
		db: db,
	}
}

// GetByUserID retrieves the credit record for a user
func (r *CreditRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.UserCredit, error) {
	var credit models.UserCredit
	query := `
		SELECT id, user_id, balance, monthly_quota, carry_over, max_brands,
		       current_period_start, current_period_end, created_at, updated_at
		FROM user_credits
		WHERE user_id = $1
	`

	err := r.db.conn.GetContext(ctx, &credit, query, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCreditRecordNotFound
		}
		return nil, fmt.Errorf("failed to get credit record: %w", err)
	}

	return &credit, nil
}

// CreateForPlan creates the initial credit record for a user on plan assignment.
// The balance starts at the plan's monthly quota with no carry over.
func (r *CreditRepository) CreateForPlan(ctx context.Context, userID uuid.UUID, monthlyQuota, maxBrands int, periodStart, periodEnd time.Time) (*models.UserCredit, error) {
	var credit models.UserCredit
	query := `
		INSERT INTO user_credits (id, user_id, balance, monthly_quota, carry_over, max_brands,
		                          current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7)
		RETURNING id, user_id, balance, monthly_quota, carry_over, max_brands,
		          current_period_start, current_period_end, created_at, updated_at
	`

	err := r.db.conn.GetContext(
		ctx, &credit, query,
		uuid.New(), userID, monthlyQuota, monthlyQuota, maxBrands, periodStart, periodEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create credit record: %w", err)
	}

	return &credit, nil
}

// RenewForPlan resets a user's credit record for a new billing period.
// Unused balance carries over up to the cap; the new balance is carry over
// plus the plan's monthly quota. The carry over cap is computed by the caller
// so the statement stays a single atomic update.
func (r *CreditRepository) RenewForPlan(ctx context.Context, userID uuid.UUID, monthlyQuota, carryOverCap, maxBrands int, periodStart, periodEnd time.Time) (*models.UserCredit, error) {
	var credit models.UserCredit
	query := `
		UPDATE user_credits
		SET carry_over = LEAST(balance, $2),
		    balance = LEAST(balance, $2) + $3,
		    monthly_quota = $3,
		    max_brands = $4,
		    current_period_start = $5,
		    current_period_end = $6,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING id, user_id, balance, monthly_quota, carry_over, max_brands,
		          current_period_start, current_period_end, created_at, updated_at
	`

	err := r.db.conn.GetContext(
		ctx, &credit, query,
		userID, carryOverCap, monthlyQuota, maxBrands, periodStart, periodEnd,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCreditRecordNotFound
		}
		return nil, fmt.Errorf("failed to renew credit record: %w", err)
	}

	return &credit, nil
}

// BalanceChange reports the balance before and after a single
// atomic balance update. Delta is the amount that actually moved, which
// can be smaller than requested when the floor clamps the balance.
type BalanceChange struct {
	Previous int `db:"previous_balance"`
	Current  int `db:"balance"`
}

// Delta returns the signed amount the balance actually moved by
func (c BalanceChange) Delta() int {
	return c.Current - c.Previous
}

// DebitFloor deducts credits from a user's balance, flooring at zero.
// The deduction and floor happen in a single statement so concurrent
// debits can never drive the balance negative. The CTE takes the row
// lock before reading the pre-update balance; a plain self-join would
// return the snapshot balance after waiting out a concurrent writer,
// and the ledgered delta would not match the actual movement.
func (r *CreditRepository) DebitFloor(ctx context.Context, userID uuid.UUID, amount int) (*BalanceChange, error) {
	var change BalanceChange
	query := `
		WITH prev AS (
			SELECT id, balance FROM user_credits WHERE user_id = $1 FOR UPDATE
		)
		UPDATE user_credits uc
		SET balance = GREATEST(prev.balance - $2, 0),
		    updated_at = NOW()
		FROM prev
		WHERE uc.id = prev.id
		RETURNING uc.balance, prev.balance AS previous_balance
	`

	err := r.db.conn.GetContext(ctx, &change, query, userID, amount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCreditRecordNotFound
		}
		return nil, fmt.Errorf("failed to debit credits: %w", err)
	}

	return &change, nil
}

// AdjustFloor applies a signed credit adjustment, flooring the balance at
// zero. Positive amounts grant credits, negative amounts deduct them.
func (r *CreditRepository) AdjustFloor(ctx context.Context, userID uuid.UUID, amount int) (*BalanceChange, error) {
	var change BalanceChange
	query := `
		WITH prev AS (
			SELECT id, balance FROM user_credits WHERE user_id = $1 FOR UPDATE
		)
		UPDATE user_credits uc
		SET balance = GREATEST(prev.balance + $2, 0),
		    updated_at = NOW()
		FROM prev
		WHERE uc.id = prev.id
		RETURNING uc.balance, prev.balance AS previous_balance
	`

	err := r.db.conn.GetContext(ctx, &change, query, userID, amount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCreditRecordNotFound
		}
		return nil, fmt.Errorf("failed to adjust credits: %w", err)
	}

	return &change, nil
}

// InsertUsage records a usage row for a billed generation
func (r *CreditRepository) InsertUsage(ctx context.Context, usage *models.CreditUsageRecord) error {
	query := `
		INSERT INTO credit_usage (id, billing_event_id, user_id, agent_id, brand_id, conversation_id,
		                          credits_used, content_type, input_tokens, output_tokens, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`

	if usage.ID == uuid.Nil {
		usage.ID = uuid.New()
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		usage.ID, usage.BillingEventID, usage.UserID, usage.AgentID, usage.BrandID, usage.ConversationID,
		usage.CreditsUsed, usage.ContentType, usage.InputTokens, usage.OutputTokens, usage.Description,
	).Scan(&usage.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	return nil
}

// InsertTransaction records a ledger transaction.
// BalanceAfter must be the balance returned by the statement that moved it.
func (r *CreditRepository) InsertTransaction(ctx context.Context, tx *models.CreditTransaction) error {
	query := `
		INSERT INTO credit_transactions (id, billing_event_id, user_id, type, amount, balance_after,
		                                 description, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		tx.ID, tx.BillingEventID, tx.UserID, tx.Type, tx.Amount, tx.BalanceAfter,
		tx.Description, tx.CreatedBy,
	).Scan(&tx.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert credit transaction: %w", err)
	}

	return nil
}

// ListTransactions retrieves a user's transactions, newest first
func (r *CreditRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	query := `
		SELECT id, billing_event_id, user_id, type, amount, balance_after,
		       description, created_by, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var txs []*models.CreditTransaction
	err := r.db.conn.SelectContext(ctx, &txs, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}

	return txs, nil
}

// UsageSummary aggregates a user's usage over a period
type UsageSummary struct {
	CreditsUsed  int `db:"credits_used"`
	Generations  int `db:"generations"`
	InputTokens  int `db:"input_tokens"`
	OutputTokens int `db:"output_tokens"`
}

// GetUsageSummary aggregates usage rows for a user since the given time
func (r *CreditRepository) GetUsageSummary(ctx context.Context, userID uuid.UUID, since time.Time) (*UsageSummary, error) {
	var summary UsageSummary
	query := `
		SELECT COALESCE(SUM(credits_used), 0) AS credits_used,
		       COUNT(*) AS generations,
		       COALESCE(SUM(input_tokens), 0) AS input_tokens,
		       COALESCE(SUM(output_tokens), 0) AS output_tokens
		FROM credit_usage
		WHERE user_id = $1 AND created_at >= $2
	`

	err := r.db.conn.GetContext(ctx, &summary, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage summary: %w", err)
	}

	return &summary, nil
}

// ListTransactionsPage retrieves a page of a user's transactions in creation
// order, strictly after the (created_at, id) cursor. Pass zero values to start
// from the beginning.
func (r *CreditRepository) ListTransactionsPage(ctx context.Context, userID uuid.UUID, afterCreatedAt time.Time, afterID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	query := `
		SELECT id, billing_event_id, user_id, type, amount, balance_after,
		       description, created_by, created_at
		FROM credit_transactions
		WHERE user_id = $1 AND (created_at, id) > ($2, $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $4
	`

	var txs []*models.CreditTransaction
	err := r.db.conn.SelectContext(ctx, &txs, query, userID, afterCreatedAt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page transactions: %w", err)
	}

	return txs, nil
}

// ContentTypeUsage aggregates usage rows sharing a content type
type ContentTypeUsage struct {
	ContentType string `db:"content_type"`
	CreditsUsed int    `db:"credits_used"`
	Generations int    `db:"generations"`
}

// GetUsageByContentType groups a user's usage since the given time by content type
func (r *CreditRepository) GetUsageByContentType(ctx context.Context, userID uuid.UUID, since time.Time) ([]ContentTypeUsage, error) {
	query := `
		SELECT content_type,
		       COALESCE(SUM(credits_used), 0) AS credits_used,
		       COUNT(*) AS generations
		FROM credit_usage
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY content_type
		ORDER BY credits_used DESC
	`

	var rows []ContentTypeUsage
	err := r.db.conn.SelectContext(ctx, &rows, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to group usage by content type: %w", err)
	}

	return rows, nil
}

// DailyUsage aggregates usage rows for a single calendar day
type DailyUsage struct {
	Day         time.Time `db:"day"`
	CreditsUsed int       `db:"credits_used"`
	Generations int       `db:"generations"`
}

// GetDailyUsage groups a user's usage since the given time by day, oldest first
func (r *CreditRepository) GetDailyUsage(ctx context.Context, userID uuid.UUID, since time.Time) ([]DailyUsage, error) {
	query := `
		SELECT DATE_TRUNC('day', created_at) AS day,
		       COALESCE(SUM(credits_used), 0) AS credits_used,
		       COUNT(*) AS generations
		FROM credit_usage
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day ASC
	`

	var rows []DailyUsage
	err := r.db.conn.SelectContext(ctx, &rows, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to group usage by day: %w", err)
	}

	return rows, nil
}

// ListUsage retrieves a user's usage rows since the given time, newest first
func (r *CreditRepository) ListUsage(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]*models.CreditUsageRecord, error) {
	query := `
		SELECT id, billing_event_id, user_id, agent_id, brand_id, conversation_id,
		       credits_used, content_type, input_tokens, output_tokens, description, created_at
		FROM credit_usage
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	var rows []*models.CreditUsageRecord
	err := r.db.conn.SelectContext(ctx, &rows, query, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}

	return rows, nil
}
