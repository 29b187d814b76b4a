package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"credit_gateway/internal/config"
	"credit_gateway/internal/ledger"
	"credit_gateway/internal/logging"
	"credit_gateway/internal/metering"
	"credit_gateway/internal/middleware"
	"credit_gateway/internal/models"
	"credit_gateway/internal/provider"
	"credit_gateway/internal/queue"
	"credit_gateway/internal/ratelimit"
	"credit_gateway/internal/storage"
	"credit_gateway/internal/utils"
)

// UserStore looks up accounts for authentication and role resolution
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// AgentStore resolves the agent persona a chat request names
type AgentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	List(ctx context.Context) ([]*models.Agent, error)
}

// ConversationStore persists chat histories
type ConversationStore interface {
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Conversation, error)
	Create(ctx context.Context, conv *models.Conversation) error
	AppendMessages(ctx context.Context, id, userID uuid.UUID, messages models.JSONBArray) error
}

// CreditService is the slice of the ledger the HTTP layer exposes
type CreditService interface {
	GetSnapshot(ctx context.Context, userID uuid.UUID) (*ledger.Snapshot, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
	AssignPlan(ctx context.Context, userID uuid.UUID, planID string, actor *uuid.UUID) (*models.UserCredit, error)
	Adjust(ctx context.Context, userID uuid.UUID, amount int, description string, actor *uuid.UUID) (*storage.BalanceChange, error)
	Reconcile(ctx context.Context, userID uuid.UUID) (replayed, stored int, err error)
}

// ChatSession runs one metered generation
type ChatSession interface {
	Run(ctx context.Context, req *metering.Request, onDelta metering.DeltaFunc) (*metering.Summary, error)
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Users         UserStore
	Agents        AgentStore
	Conversations ConversationStore
	Credits       CreditService
	Session       ChatSession
	RateLimit     ratelimit.Limiter
	RateLimitRPM  int
	Worker        *metering.SettlementWorker
	Audit         logging.Sink
	Logger        *utils.Logger

	cfg   *config.Config
	db    *storage.DB
	redis *storage.RedisClient
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		AgentCacheSize:  cfg.Cache.AgentCacheSize,
		AgentCacheTTL:   cfg.Cache.AgentCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var redisClient *storage.RedisClient
	if cfg.Redis.Address != "" {
		redisClient, err = storage.NewRedisClient(storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
	}

	logger := utils.NewLogger("gateway")

	// Repositories and ledger
	userRepo := storage.NewUserRepository(db)
	agentRepo := storage.NewAgentRepository(db)
	convRepo := storage.NewConversationRepository(db)
	creditLedger := ledger.NewService(db, logger)

	// Generation provider
	anthropicProvider, err := provider.NewAnthropicProvider(provider.AnthropicConfig{
		APIKey:    cfg.Provider.APIKey,
		BaseURL:   cfg.Provider.BaseURL,
		Model:     cfg.Provider.Model,
		MaxTokens: cfg.Provider.MaxTokens,
		Timeout:   cfg.Provider.RequestTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize provider: %w", err)
	}

	// Settlement retry queue
	queueCfg := queue.DefaultConfig("settlements")
	queueCfg.BatchSize = cfg.Queue.BatchSize
	queueCfg.BatchTimeout = cfg.Queue.BatchTimeout
	queueCfg.MaxRetries = cfg.Queue.MaxRetries
	queueCfg.RetryBackoff = cfg.Queue.RetryBackoff

	var settlementQueue queue.Queue
	var settlementDLQ queue.DeadLetterQueue
	if cfg.Queue.UseRedis && redisClient != nil {
		queueCfg.UseRedis = true
		queueCfg.RedisAddr = cfg.Redis.Address
		queueCfg.RedisPassword = cfg.Redis.Password
		queueCfg.RedisDB = cfg.Redis.DB
		settlementQueue, err = queue.NewRedisQueue(queueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create settlement queue: %w", err)
		}
		settlementDLQ, err = queue.NewRedisDeadLetterQueue(queueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create settlement DLQ: %w", err)
		}
	} else {
		settlementQueue = queue.NewMemoryQueue(queueCfg)
		settlementDLQ = queue.NewMemoryDeadLetterQueue()
	}

	worker := metering.NewSettlementWorker(settlementQueue, settlementDLQ, metering.NewSettler(creditLedger), queueCfg)
	worker.Start(context.Background())

	// Billing audit export
	var audit logging.Sink = logging.NewNoopSink()
	if cfg.AuditSink.Enabled {
		writer, err := logging.NewS3Writer(context.Background(),
			cfg.AuditSink.S3Bucket, cfg.AuditSink.S3Region, cfg.AuditSink.S3Prefix, cfg.AuditSink.PodName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize audit writer: %w", err)
		}
		audit = logging.NewSpooler(writer, cfg.AuditSink.FlushSize, cfg.AuditSink.FlushInterval)
	}

	// Rate limiter
	var limiter ratelimit.Limiter = ratelimit.NewNoopLimiter()
	if cfg.RateLimit.Enabled && redisClient != nil {
		limiter = ratelimit.NewRateLimiter(redisClient.Client())
	}

	deps := &Dependencies{
		Users:         userRepo,
		Agents:        agentRepo,
		Conversations: convRepo,
		Credits:       creditLedger,
		Session:       metering.NewSession(creditLedger, anthropicProvider, worker, audit, logger),
		RateLimit:     limiter,
		RateLimitRPM:  cfg.RateLimit.RequestsPerMinute,
		Worker:        worker,
		Audit:         audit,
		Logger:        logger,
		cfg:           cfg,
		db:            db,
		redis:         redisClient,
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps, cfg)

	return mux, deps, nil
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies, cfg *config.Config) {
	// Authentication - public
	mux.HandleFunc("/api/auth/login", deps.handleLogin)

	// Health check - public
	mux.HandleFunc("/health", deps.handleHealth)

	// Generation endpoint - any signed-in role
	userJWT := middleware.JWTMiddleware(cfg)
	mux.Handle("/api/chat", userJWT(http.HandlerFunc(deps.handleChat)))
	mux.Handle("/api/agents", userJWT(http.HandlerFunc(deps.handleAgents)))

	// Credit endpoints - GET for any role, POST admin-only inside the handler
	mux.Handle("/api/credits", userJWT(http.HandlerFunc(deps.handleCredits)))
}

// handleHealth reports liveness of the gateway and its backing stores
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if d.db != nil {
		if err := d.db.Health(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if d.redis != nil {
		if err := d.redis.Health(ctx); err != nil {
			status["status"] = "degraded"
			status["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	utils.RespondWithJSON(w, code, status)
}

// handleAgents lists the active agent catalog
func (d *Dependencies) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	agents, err := d.Agents.List(r.Context())
	if err != nil {
		d.Logger.Error("Failed to list agents", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	type agentView struct {
		ID          uuid.UUID `json:"id"`
		AgentCode   string    `json:"agentCode"`
		Name        string    `json:"name"`
		Role        string    `json:"role"`
		Category    string    `json:"category"`
		Icon        *string   `json:"icon,omitempty"`
		Description *string   `json:"description,omitempty"`
	}

	views := make([]agentView, 0, len(agents))
	for _, agent := range agents {
		views = append(views, agentView{
			ID:          agent.ID,
			AgentCode:   agent.AgentCode,
			Name:        agent.Name,
			Role:        agent.Role,
			Category:    agent.Category,
			Icon:        agent.Icon,
			Description: agent.Description,
		})
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"agents": views})
}

// Close shuts down the dependencies in reverse order of startup
func (d *Dependencies) Close() error {
	if d.Worker != nil {
		_ = d.Worker.Stop()
	}
	if spooler, ok := d.Audit.(*logging.Spooler); ok {
		spooler.Shutdown()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
