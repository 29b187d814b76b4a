package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"credit_gateway/internal/ledger"
	"credit_gateway/internal/metering"
	"credit_gateway/internal/middleware"
	"credit_gateway/internal/models"
	"credit_gateway/internal/plans"
	"credit_gateway/internal/provider"
	"credit_gateway/internal/utils"
)

// chatRequest is the JSON body of POST /api/chat
type chatRequest struct {
	AgentID        uuid.UUID              `json:"agentId"`
	BrandID        *uuid.UUID             `json:"brandId,omitempty"`
	ConversationID *uuid.UUID             `json:"conversationId,omitempty"`
	Messages       []provider.ChatMessage `json:"messages"`
	MaxTokens      int                    `json:"maxTokens,omitempty"`
}

// creditSummary is the trailer frame of the SSE stream
type creditSummary struct {
	BaseCost         int `json:"baseCost"`
	OverageCost      int `json:"overageCost"`
	TotalCost        int `json:"totalCost"`
	TotalTokens      int `json:"totalTokens"`
	TokenAllowance   int `json:"tokenAllowance"`
	RemainingBalance int `json:"remainingBalance"`
}

// handleChat runs one credit-metered generation as an SSE stream.
//
// Flow:
//  1. Resolve the signed-in user from the JWT claims
//  2. Decode the request and resolve the agent
//  3. Rate limit
//  4. Load the conversation when one is named (presence marks a follow-up)
//  5. Run the metered session, forwarding deltas as SSE frames
//  6. Emit the credit summary trailer and persist the conversation
//
// Any error before the first delta is a plain JSON error response; once
// frames have been written the stream just ends.
func (d *Dependencies) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()

	claims, ok := middleware.GetUserClaims(ctx)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "invalid identity")
		return
	}

	// Role and plan come from the database, not the token
	user, err := d.Users.GetByID(ctx, userID)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "unknown user")
		return
	}

	var req chatRequest
	if err := decodeJSONBody(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == uuid.Nil {
		utils.RespondWithError(w, http.StatusBadRequest, "missing 'agentId' field")
		return
	}
	if len(req.Messages) == 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "missing 'messages' field")
		return
	}

	if d.RateLimitRPM > 0 {
		allowed, err := d.RateLimit.Allow(ctx, userID.String(), d.RateLimitRPM)
		if err != nil {
			d.Logger.Warn("Rate limit check failed", "error", err)
		} else if !allowed {
			utils.RespondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	agent, err := d.Agents.GetByID(ctx, req.AgentID)
	if err != nil {
		utils.RespondWithError(w, http.StatusNotFound, "unknown agent")
		return
	}

	// A named conversation must exist and belong to the caller
	isFollowUp := false
	if req.ConversationID != nil {
		if _, err := d.Conversations.GetByID(ctx, *req.ConversationID, userID); err != nil {
			utils.RespondWithError(w, http.StatusNotFound, "unknown conversation")
			return
		}
		isFollowUp = true
	}

	conversationID := req.ConversationID
	if conversationID == nil {
		newID := uuid.New()
		conversationID = &newID
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	profile := plans.Classify(isFollowUp, agent.Category, agent.AgentCode)

	started := false
	startStream := func() {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		started = true

		// Metadata frame first: the conversation id and the base charge
		creditsUsed := 0
		if user.IsMetered() {
			creditsUsed = profile.Credits
		}
		writeSSEFrame(w, flusher, map[string]any{
			"conversationId": conversationID,
			"creditsUsed":    creditsUsed,
		})
	}

	summary, err := d.Session.Run(ctx, &metering.Request{
		User:           user,
		Agent:          agent,
		BrandID:        req.BrandID,
		ConversationID: conversationID,
		IsFollowUp:     isFollowUp,
		Messages:       req.Messages,
		MaxTokens:      req.MaxTokens,
	}, func(text string) error {
		if !started {
			startStream()
		}
		return writeSSEFrame(w, flusher, map[string]any{"text": text})
	})
	if err != nil {
		if started {
			// Frames are out; nothing sane to report mid-stream
			d.Logger.Error("Generation failed mid-stream", "userId", userID, "error", err)
			return
		}
		d.respondChatError(w, err)
		return
	}

	if !started {
		startStream()
	}

	writeSSEFrame(w, flusher, map[string]any{
		"creditSummary": creditSummary{
			BaseCost:         summary.BaseCost,
			OverageCost:      summary.OverageCost,
			TotalCost:        summary.TotalCost,
			TotalTokens:      summary.TotalTokens,
			TokenAllowance:   summary.TokenAllowance,
			RemainingBalance: summary.RemainingBalance,
		},
	})

	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()

	d.saveConversation(user, agent, req, *conversationID, summary.Text)
}

// respondChatError maps pre-stream session errors to HTTP statuses
func (d *Dependencies) respondChatError(w http.ResponseWriter, err error) {
	if insufficient, ok := ledger.IsInsufficientCredits(err); ok {
		utils.RespondWithJSON(w, http.StatusForbidden, map[string]any{
			"error":     "insufficient credits",
			"required":  insufficient.Required,
			"available": insufficient.Available,
		})
		return
	}
	if errors.Is(err, ledger.ErrNoCreditRecord) {
		utils.RespondWithJSON(w, http.StatusForbidden, map[string]any{
			"error": "no active plan",
		})
		return
	}
	if errors.Is(err, provider.ErrProviderUnavailable) {
		utils.RespondWithError(w, http.StatusBadGateway, "provider error")
		return
	}

	d.Logger.Error("Generation failed", "error", err)
	utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
}

// saveConversation persists the exchange after the stream has finished.
// Best-effort: a failed save never surfaces to the caller.
func (d *Dependencies) saveConversation(user *models.User, agent *models.Agent, req chatRequest, conversationID uuid.UUID, reply string) {
	messages := make(models.JSONBArray, 0, len(req.Messages)+1)
	for _, msg := range req.Messages {
		messages = append(messages, map[string]any{"role": msg.Role, "content": msg.Content})
	}
	if reply != "" {
		messages = append(messages, map[string]any{"role": "assistant", "content": reply})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var err error
		if req.ConversationID != nil {
			err = d.Conversations.AppendMessages(ctx, conversationID, user.ID, messages)
		} else {
			title := conversationTitle(req.Messages)
			err = d.Conversations.Create(ctx, &models.Conversation{
				ID:       conversationID,
				UserID:   user.ID,
				BrandID:  req.BrandID,
				AgentID:  agent.ID,
				Title:    &title,
				Messages: messages,
			})
		}
		if err != nil {
			d.Logger.Warn("Failed to save conversation",
				"conversationId", conversationID, "error", err)
		}
	}()
}

// conversationTitle derives a title from the first user message.
// Truncation counts runes so multi-byte content keeps valid UTF-8.
func conversationTitle(messages []provider.ChatMessage) string {
	for _, msg := range messages {
		if msg.Role == "user" && msg.Content != "" {
			if runes := []rune(msg.Content); len(runes) > 60 {
				return string(runes[:60])
			}
			return msg.Content
		}
	}
	return "New conversation"
}

// writeSSEFrame writes one data frame and flushes it
func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
