package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"credit_gateway/internal/models"
)

// ConversationRepository handles conversation database operations
type ConversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{
		db: db,
	}
}

// GetByID retrieves a conversation owned by the given user
func (r *ConversationRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	query := `
		SELECT id, user_id, brand_id, agent_id, title, messages, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND user_id = $2
	`

	err := r.db.conn.GetContext(ctx, &conv, query, id, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &conv, nil
}

// Create creates a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, brand_id, agent_id, title, messages)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		conv.ID, conv.UserID, conv.BrandID, conv.AgentID, conv.Title, conv.Messages,
	).Scan(&conv.CreatedAt, &conv.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return nil
}

// AppendMessages replaces the stored message history for a conversation
func (r *ConversationRepository) AppendMessages(ctx context.Context, id, userID uuid.UUID, messages models.JSONBArray) error {
	query := `
		UPDATE conversations
		SET messages = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`

	result, err := r.db.conn.ExecContext(ctx, query, id, userID, messages)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrConversationNotFound
	}

	return nil
}

// List returns a user's conversations, most recently updated first
func (r *ConversationRepository) List(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Conversation, error) {
	query := `
		SELECT id, user_id, brand_id, agent_id, title, messages, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	var convs []*models.Conversation
	err := r.db.conn.SelectContext(ctx, &convs, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	return convs, nil
}
