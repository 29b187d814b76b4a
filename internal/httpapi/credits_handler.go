package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"credit_gateway/internal/ledger"
	"credit_gateway/internal/middleware"
	"credit_gateway/internal/models"
	"credit_gateway/internal/plans"
	"credit_gateway/internal/storage"
	"credit_gateway/internal/utils"
)

// handleCredits serves the credit endpoints:
//
//	GET  /api/credits[?userId=]  balance snapshot (admins may query any user)
//	POST /api/credits            admin plan assignment and manual adjustments
func (d *Dependencies) handleCredits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		d.handleCreditsGet(w, r)
	case http.MethodPost:
		d.handleCreditsPost(w, r)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (d *Dependencies) handleCreditsGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	callerID, ok := middleware.GetUserID(ctx)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	targetID := callerID
	if queried := r.URL.Query().Get("userId"); queried != "" {
		parsed, err := uuid.Parse(queried)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid 'userId' parameter")
			return
		}
		if parsed != callerID {
			role, _ := middleware.GetUserRole(ctx)
			if role != models.RoleAdmin {
				utils.RespondWithError(w, http.StatusForbidden, "admin role required")
				return
			}
			targetID = parsed
		}
	}

	snapshot, err := d.Credits.GetSnapshot(ctx, targetID)
	if err != nil {
		if errors.Is(err, ledger.ErrNoCreditRecord) {
			utils.RespondWithJSON(w, http.StatusOK, map[string]any{
				"balance": 0,
				"plan":    nil,
			})
			return
		}
		d.Logger.Error("Failed to load credit snapshot", "userId", targetID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	transactions, err := d.Credits.ListTransactions(ctx, targetID, 20)
	if err != nil {
		d.Logger.Warn("Failed to list transactions", "userId", targetID, "error", err)
		transactions = nil
	}

	var planView any
	if user, err := d.Users.GetByID(ctx, targetID); err == nil && user.PlanID != nil {
		if plan, ok := plans.Lookup(*user.PlanID); ok {
			planView = plan
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"balance":      snapshot.Balance,
		"monthlyQuota": snapshot.MonthlyQuota,
		"carryOver":    snapshot.CarryOver,
		"maxBrands":    snapshot.MaxBrands,
		"plan":         planView,
		"period": map[string]time.Time{
			"start": snapshot.PeriodStart,
			"end":   snapshot.PeriodEnd,
		},
		"usage": map[string]int{
			"creditsUsed":  snapshot.UsedThisPeriod,
			"generations":  snapshot.GenerationsCount,
			"inputTokens":  snapshot.InputTokens,
			"outputTokens": snapshot.OutputTokens,
		},
		"usageByContentType": contentTypeViews(snapshot.ByContentType),
		"dailyUsage":         dailyUsageViews(snapshot.Daily),
		"transactions":       transactionViews(transactions),
	})
}

// creditsAction is the JSON body of POST /api/credits
type creditsAction struct {
	Action      string    `json:"action"`
	UserID      uuid.UUID `json:"userId"`
	PlanID      string    `json:"planId,omitempty"`
	Amount      int       `json:"amount,omitempty"`
	Description string    `json:"description,omitempty"`
}

func (d *Dependencies) handleCreditsPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := middleware.GetUserClaims(ctx)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	if claims.Role != models.RoleAdmin {
		utils.RespondWithError(w, http.StatusForbidden, "admin role required")
		return
	}
	actorID, err := uuid.Parse(claims.UserID)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "invalid identity")
		return
	}

	var req creditsAction
	if err := decodeJSONBody(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == uuid.Nil {
		utils.RespondWithError(w, http.StatusBadRequest, "missing 'userId' field")
		return
	}

	switch req.Action {
	case "assign_plan":
		credit, err := d.Credits.AssignPlan(ctx, req.UserID, req.PlanID, &actorID)
		if err != nil {
			if errors.Is(err, ledger.ErrPlanNotFound) {
				utils.RespondWithError(w, http.StatusBadRequest, "unknown plan")
				return
			}
			d.Logger.Error("Failed to assign plan",
				"userId", req.UserID, "planId", req.PlanID, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"balance": credit.Balance,
		})

	case "adjust":
		description := req.Description
		if description == "" {
			description = "manual adjustment"
		}
		change, err := d.Credits.Adjust(ctx, req.UserID, req.Amount, description, &actorID)
		if err != nil {
			if errors.Is(err, ledger.ErrZeroAdjustment) {
				utils.RespondWithError(w, http.StatusBadRequest, "amount must be non-zero")
				return
			}
			if errors.Is(err, ledger.ErrNoCreditRecord) {
				utils.RespondWithError(w, http.StatusBadRequest, "user has no credit record")
				return
			}
			d.Logger.Error("Failed to adjust balance", "userId", req.UserID, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"balance": change.Current,
		})

	case "reconcile":
		replayed, stored, err := d.Credits.Reconcile(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, ledger.ErrNoCreditRecord) {
				utils.RespondWithError(w, http.StatusBadRequest, "user has no credit record")
				return
			}
			if errors.Is(err, ledger.ErrLedgerDrift) {
				d.Logger.Warn("Ledger drift detected", "userId", req.UserID, "error", err)
				utils.RespondWithJSON(w, http.StatusOK, map[string]any{
					"success":    true,
					"balance":    stored,
					"replayed":   replayed,
					"consistent": false,
				})
				return
			}
			d.Logger.Error("Failed to reconcile balance", "userId", req.UserID, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"balance":    stored,
			"replayed":   replayed,
			"consistent": replayed == stored,
		})

	default:
		utils.RespondWithError(w, http.StatusBadRequest, "unknown action")
	}
}

type contentTypeView struct {
	ContentType string `json:"contentType"`
	CreditsUsed int    `json:"creditsUsed"`
	Generations int    `json:"generations"`
}

func contentTypeViews(rows []storage.ContentTypeUsage) []contentTypeView {
	views := make([]contentTypeView, 0, len(rows))
	for _, row := range rows {
		views = append(views, contentTypeView{
			ContentType: row.ContentType,
			CreditsUsed: row.CreditsUsed,
			Generations: row.Generations,
		})
	}
	return views
}

type dailyUsageView struct {
	Date        string `json:"date"`
	CreditsUsed int    `json:"creditsUsed"`
	Generations int    `json:"generations"`
}

func dailyUsageViews(rows []storage.DailyUsage) []dailyUsageView {
	views := make([]dailyUsageView, 0, len(rows))
	for _, row := range rows {
		views = append(views, dailyUsageView{
			Date:        row.Day.Format("2006-01-02"),
			CreditsUsed: row.CreditsUsed,
			Generations: row.Generations,
		})
	}
	return views
}

type transactionView struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	Amount       int       `json:"amount"`
	BalanceAfter int       `json:"balanceAfter"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"createdAt"`
}

func transactionViews(transactions []*models.CreditTransaction) []transactionView {
	views := make([]transactionView, 0, len(transactions))
	for _, tx := range transactions {
		views = append(views, transactionView{
			ID:           tx.ID,
			Type:         tx.Type,
			Amount:       tx.Amount,
			BalanceAfter: tx.BalanceAfter,
			Description:  tx.Description,
			CreatedAt:    tx.CreatedAt,
		})
	}
	return views
}
