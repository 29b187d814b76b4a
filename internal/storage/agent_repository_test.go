package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func agentRows(id uuid.UUID, code, category string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "agent_code", "name", "role", "category", "icon", "description",
		"system_prompt", "is_active", "sort_order", "created_at",
	}).AddRow(id, code, "EDM Writer", "Email marketing", category, "mail", "Writes email campaigns",
		"You write marketing emails.", true, 3, now)
}

func TestAgentRepositoryGetByIDCaches(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAgentRepository(db)
	agentID := uuid.New()

	// Single query expectation; the second lookup must come from cache
	mock.ExpectQuery(`SELECT .+ FROM agents\s+WHERE id = \$1 AND is_active = true`).
		WithArgs(agentID).
		WillReturnRows(agentRows(agentID, "edm-writer", "content"))

	agent, err := repo.GetByID(context.Background(), agentID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if agent.AgentCode != "edm-writer" {
		t.Errorf("unexpected agent code: %s", agent.AgentCode)
	}

	cached, err := repo.GetByID(context.Background(), agentID)
	if err != nil {
		t.Fatalf("GetByID (cached): %v", err)
	}
	if cached.ID != agentID {
		t.Errorf("unexpected agent id: %s", cached.ID)
	}

	// The code lookup should also be served from cache
	byCode, err := repo.GetByCode(context.Background(), "edm-writer")
	if err != nil {
		t.Fatalf("GetByCode (cached): %v", err)
	}
	if byCode.ID != agentID {
		t.Errorf("unexpected agent id by code: %s", byCode.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAgentRepositoryGetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAgentRepository(db)
	agentID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM agents`).
		WithArgs(agentID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), agentID)
	if !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}
