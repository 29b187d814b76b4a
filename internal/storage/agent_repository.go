package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"credit_gateway/internal/models"
)

// AgentRepository handles agent database operations with caching
type AgentRepository struct {
	db    *DB
	cache *LRUCache
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *DB) *AgentRepository {
	return &AgentRepository{
		db:    db,
		cache: db.GetAgentCache(),
	}
}

// GetByID retrieves an active agent by ID (with caching)
func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	// Check cache first
	if cached, found := r.cache.Get(id.String()); found {
		return cached.(*models.Agent), nil
	}

	var agent models.Agent
	query := `
		SELECT id, agent_code, name, role, category, icon, description,
		       system_prompt, is_active, sort_order, created_at
		FROM agents
		WHERE id = $1 AND is_active = true
	`

	err := r.db.conn.GetContext(ctx, &agent, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	// Cache by both ID and agent code
	r.cache.Set(agent.ID.String(), &agent)
	r.cache.Set(agent.AgentCode, &agent)

	return &agent, nil
}

// GetByCode retrieves an active agent by its agent code (with caching)
func (r *AgentRepository) GetByCode(ctx context.Context, code string) (*models.Agent, error) {
	if cached, found := r.cache.Get(code); found {
		return cached.(*models.Agent), nil
	}

	var agent models.Agent
	query := `
		SELECT id, agent_code, name, role, category, icon, description,
		       system_prompt, is_active, sort_order, created_at
		FROM agents
		WHERE agent_code = $1 AND is_active = true
	`

	err := r.db.conn.GetContext(ctx, &agent, query, code)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	r.cache.Set(agent.ID.String(), &agent)
	r.cache.Set(agent.AgentCode, &agent)

	return &agent, nil
}

// List returns all active agents in display order
func (r *AgentRepository) List(ctx context.Context) ([]*models.Agent, error) {
	query := `
		SELECT id, agent_code, name, role, category, icon, description,
		       system_prompt, is_active, sort_order, created_at
		FROM agents
		WHERE is_active = true
		ORDER BY sort_order, name
	`

	var agents []*models.Agent
	err := r.db.conn.SelectContext(ctx, &agents, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	return agents, nil
}
