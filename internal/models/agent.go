package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent is an AI persona. The metering core only reads AgentCode and Category
// for cost classification; SystemPrompt is forwarded to the provider.
type Agent struct {
	ID           uuid.UUID `db:"id"`
	AgentCode    string    `db:"agent_code"`
	Name         string    `db:"name"`
	Role         string    `db:"role"`
	Category     string    `db:"category"` // content / strategy
	Icon         *string   `db:"icon"`
	Description  *string   `db:"description"`
	SystemPrompt string    `db:"system_prompt"`
	IsActive     bool      `db:"is_active"`
	SortOrder    int       `db:"sort_order"`
	CreatedAt    time.Time `db:"created_at"`
}

// Conversation stores a chat history. The metering core treats the presence
// of a conversation id as the follow-up signal; saving the history itself is
// best-effort.
type Conversation struct {
	ID        uuid.UUID  `db:"id"`
	UserID    uuid.UUID  `db:"user_id"`
	BrandID   *uuid.UUID `db:"brand_id"`
	AgentID   uuid.UUID  `db:"agent_id"`
	Title     *string    `db:"title"`
	Messages  JSONBArray `db:"messages"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}
