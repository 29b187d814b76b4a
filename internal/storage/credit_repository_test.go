package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"credit_gateway/internal/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return NewDBFromConn(sqlx.NewDb(conn, "sqlmock")), mock
}

func TestCreditRepositoryDebitFloor(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCreditRepository(db)
	userID := uuid.New()

	// The pre-image row must be locked before it is read, otherwise a
	// concurrent debit makes the ledgered delta diverge from the actual
	// balance movement.
	mock.ExpectQuery(`WITH prev AS \(\s+SELECT id, balance FROM user_credits WHERE user_id = \$1 FOR UPDATE\s+\)\s+UPDATE user_credits uc\s+SET balance = GREATEST\(prev\.balance - \$2, 0\)`).
		WithArgs(userID, int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"balance", "previous_balance"}).AddRow(int64(7), int64(12)))

	change, err := repo.DebitFloor(context.Background(), userID, 5)
	if err != nil {
		t.Fatalf("DebitFloor: %v", err)
	}
	if change.Current != 7 {
		t.Errorf("expected balance 7, got %d", change.Current)
	}
	if change.Delta() != -5 {
		t.Errorf("expected delta -5, got %d", change.Delta())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreditRepositoryDebitFloorMissingRecord(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCreditRepository(db)
	userID := uuid.New()

	mock.ExpectQuery(`WITH prev AS`).
		WithArgs(userID, int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"balance", "previous_balance"}))

	_, err := repo.DebitFloor(context.Background(), userID, 3)
	if !errors.Is(err, ErrCreditRecordNotFound) {
		t.Fatalf("expected ErrCreditRecordNotFound, got %v", err)
	}
}

func TestCreditRepositoryAdjustFloor(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCreditRepository(db)
	userID := uuid.New()

	mock.ExpectQuery(`WITH prev AS \(\s+SELECT id, balance FROM user_credits WHERE user_id = \$1 FOR UPDATE\s+\)\s+UPDATE user_credits uc\s+SET balance = GREATEST\(prev\.balance \+ \$2, 0\)`).
		WithArgs(userID, int64(-50)).
		WillReturnRows(sqlmock.NewRows([]string{"balance", "previous_balance"}).AddRow(int64(0), int64(20)))

	change, err := repo.AdjustFloor(context.Background(), userID, -50)
	if err != nil {
		t.Fatalf("AdjustFloor: %v", err)
	}
	if change.Current != 0 {
		t.Errorf("expected balance floored at 0, got %d", change.Current)
	}
	if change.Delta() != -20 {
		t.Errorf("expected clamped delta -20, got %d", change.Delta())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreditRepositoryGetByUserID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCreditRepository(db)
	userID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "balance", "monthly_quota", "carry_over", "max_brands",
		"current_period_start", "current_period_end", "created_at", "updated_at",
	}).AddRow(uuid.New(), userID, int64(30), int64(30), int64(0), int64(1), now, now.AddDate(0, 1, 0), now, now)

	mock.ExpectQuery(`SELECT .+ FROM user_credits\s+WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnRows(rows)

	credit, err := repo.GetByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if credit.Balance != 30 {
		t.Errorf("expected balance 30, got %d", credit.Balance)
	}
	if credit.UserID != userID {
		t.Errorf("unexpected user id: %s", credit.UserID)
	}
}

func TestCreditRepositoryGetByUserIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCreditRepository(db)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM user_credits`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByUserID(context.Background(), userID)
	if !errors.Is(err, ErrCreditRecordNotFound) {
		t.Fatalf("expected ErrCreditRecordNotFound, got %v", err)
	}
}

func TestCreditRepositoryRenewForPlan(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCreditRepository(db)
	userID := uuid.New()
	periodStart := time.Now()
	periodEnd := periodStart.AddDate(0, 1, 0)

	// 25 unused credits carry over under a cap of 60, new balance 25 + 30
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "balance", "monthly_quota", "carry_over", "max_brands",
		"current_period_start", "current_period_end", "created_at", "updated_at",
	}).AddRow(uuid.New(), userID, int64(55), int64(30), int64(25), int64(1), periodStart, periodEnd, periodStart, periodStart)

	mock.ExpectQuery(`UPDATE user_credits\s+SET carry_over = LEAST\(balance, \$2\)`).
		WithArgs(userID, int64(60), int64(30), int64(1), periodStart, periodEnd).
		WillReturnRows(rows)

	credit, err := repo.RenewForPlan(context.Background(), userID, 30, 60, 1, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("RenewForPlan: %v", err)
	}
	if credit.Balance != 55 {
		t.Errorf("expected balance 55, got %d", credit.Balance)
	}
	if credit.CarryOver != 25 {
		t.Errorf("expected carry over 25, got %d", credit.CarryOver)
	}
}

func TestCreditRepositoryInsertTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCreditRepository(db)
	userID := uuid.New()
	eventID := uuid.New()

	mock.ExpectQuery(`INSERT INTO credit_transactions`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), userID, models.TransactionUsage, int64(-2), int64(8), "ad copy generation", nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	tx := &models.CreditTransaction{
		BillingEventID: &eventID,
		UserID:         userID,
		Type:           models.TransactionUsage,
		Amount:         -2,
		BalanceAfter:   8,
		Description:    "ad copy generation",
	}
	if err := repo.InsertTransaction(context.Background(), tx); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	if tx.ID == uuid.Nil {
		t.Error("expected transaction id to be assigned")
	}
}

func TestCreditRepositoryGetUsageSummary(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCreditRepository(db)
	userID := uuid.New()
	since := time.Now().AddDate(0, -1, 0)

	rows := sqlmock.NewRows([]string{"credits_used", "generations", "input_tokens", "output_tokens"}).
		AddRow(int64(12), int64(5), int64(4200), int64(9100))

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(credits_used\), 0\)`).
		WithArgs(userID, since).
		WillReturnRows(rows)

	summary, err := repo.GetUsageSummary(context.Background(), userID, since)
	if err != nil {
		t.Fatalf("GetUsageSummary: %v", err)
	}
	if summary.CreditsUsed != 12 {
		t.Errorf("expected 12 credits used, got %d", summary.CreditsUsed)
	}
	if summary.Generations != 5 {
		t.Errorf("expected 5 generations, got %d", summary.Generations)
	}
}
