package models

import (
	"time"

	"github.com/google/uuid"
)

// UserCredit is the authoritative per-user balance record. One row per
// metered user, mutated only by the credit ledger. The balance never goes
// negative: every debit floors at zero inside a single atomic update.
type UserCredit struct {
	ID                 uuid.UUID `db:"id"`
	UserID             uuid.UUID `db:"user_id"`
	Balance            int       `db:"balance"`
	MonthlyQuota       int       `db:"monthly_quota"`
	CarryOver          int       `db:"carry_over"`
	MaxBrands          int       `db:"max_brands"`
	CurrentPeriodStart time.Time `db:"current_period_start"`
	CurrentPeriodEnd   time.Time `db:"current_period_end"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

// CreditUsageRecord is one billed generation. Append-only; never updated or
// deleted. CreditsUsed is the final settled cost (base + overage).
type CreditUsageRecord struct {
	ID             uuid.UUID  `db:"id"`
	BillingEventID uuid.UUID  `db:"billing_event_id"`
	UserID         uuid.UUID  `db:"user_id"`
	AgentID        *uuid.UUID `db:"agent_id"`
	BrandID        *uuid.UUID `db:"brand_id"`
	ConversationID *uuid.UUID `db:"conversation_id"`
	CreditsUsed    int        `db:"credits_used"`
	ContentType    string     `db:"content_type"`
	InputTokens    int        `db:"input_tokens"`
	OutputTokens   int        `db:"output_tokens"`
	Description    string     `db:"description"`
	CreatedAt      time.Time  `db:"created_at"`
}

// Transaction types recorded in the ledger.
const (
	TransactionUsage        = "usage"
	TransactionGrant        = "grant"
	TransactionDeduct       = "deduct"
	TransactionPlanAssign   = "plan_assign"
	TransactionMonthlyReset = "monthly_reset"
	TransactionExpire       = "expire"
)

// CreditTransaction is one append-only ledger entry. Amount is signed
// (negative = debit). BalanceAfter is the balance snapshot immediately after
// the amount was applied; replaying all of a user's transactions in creation
// order must reproduce the current balance.
type CreditTransaction struct {
	ID             uuid.UUID  `db:"id"`
	BillingEventID *uuid.UUID `db:"billing_event_id"`
	UserID         uuid.UUID  `db:"user_id"`
	Type           string     `db:"type"`
	Amount         int        `db:"amount"`
	BalanceAfter   int        `db:"balance_after"`
	Description    string     `db:"description"`
	CreatedBy      *uuid.UUID `db:"created_by"`
	CreatedAt      time.Time  `db:"created_at"`
}
