package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/dbpilot/dbpilot/domain/config"
	"github.com/dbpilot/dbpilot/domain/pending"
	"github.com/dbpilot/dbpilot/domain/skill"
	"github.com/dbpilot/dbpilot/domain/tool"
	"github.com/dbpilot/dbpilot/infrastructure/etp"
	"github.com/dbpilot/dbpilot/infrastructure/llm"
	"github.com/dbpilot/dbpilot/infrastructure/storage/memory"
	"github.com/dbpilot/dbpilot/infrastructure/storage/sqlite"
	"github.com/dbpilot/dbpilot/pack/database"
)

// systemPrompt frames the model as a database assistant. Kept deliberately
// short; schema context comes from tools, not the prompt.
const systemPrompt = `You are a database assistant. You inspect schemas, run queries, and ` +
	`tune performance using the provided tools. Mutating statements are queued for user ` +
	`confirmation; tell the user when an operation is waiting for their approval. Be precise ` +
	`and keep answers grounded in actual query results.`

// BuilderConfig configures the standard session builder.
type BuilderConfig struct {
	Store             *sqlite.Store
	Bridge            *etp.Manager
	Skills            *skill.Registry
	MaxIterations     int
	AutoMaxIterations int
}

// NewSessionBuilder returns the production BuildFunc: it loads the session
// row, resolves and decrypts its connection and provider descriptors,
// builds the database tool pack and provider, and replays history.
func NewSessionBuilder(cfg BuilderConfig) BuildFunc {
	return func(ctx context.Context, sessionID int64) (*Orchestrator, error) {
		sess, err := cfg.Store.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, sqlite.ErrNotFound) {
				return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
			}
			return nil, err
		}

		conn, err := resolveConnection(ctx, cfg.Store, sess)
		if err != nil {
			return nil, err
		}
		providerDesc, err := resolveProvider(ctx, cfg.Store, sess)
		if err != nil {
			return nil, err
		}
		provider, err := llm.New(providerDesc)
		if err != nil {
			return nil, err
		}

		db, err := database.Open(conn)
		if err != nil {
			return nil, err
		}

		registry := memory.NewToolRegistry()
		for _, t := range database.Tools(db) {
			if err := registry.Register(t); err != nil {
				return nil, err
			}
		}
		if cfg.Skills != nil {
			for _, t := range cfg.Skills.Tools() {
				if err := registry.Register(t); err != nil {
					return nil, err
				}
			}
		}

		orch, err := New(Config{
			SessionID:         sessionID,
			Provider:          provider,
			Registry:          registry,
			Bridge:            cfg.Bridge,
			Store:             cfg.Store,
			SystemPrompt:      systemPrompt,
			MaxIterations:     cfg.MaxIterations,
			AutoMaxIterations: cfg.AutoMaxIterations,
			Audit: func(ctx context.Context, op pending.Operation, res tool.Result) {
				_ = cfg.Store.AppendAudit(ctx, sqlite.AuditEntry{
					SessionID: sessionID,
					Tool:      op.Tool,
					Statement: op.SQL,
					Status:    string(res.Status),
					Detail:    res.Summary(),
				})
			},
		})
		if err != nil {
			return nil, err
		}
		orch.SetAutoApprove(sess.AutoApprove)

		history, err := cfg.Store.LoadHistory(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		orch.ReplayHistory(history)
		return orch, nil
	}
}

// resolveConnection picks the session's connection, falling back to the
// active one.
func resolveConnection(ctx context.Context, store *sqlite.Store, sess sqlite.Session) (config.ConnectionDescriptor, error) {
	if sess.ConnectionID > 0 {
		conn, err := store.GetConnection(ctx, sess.ConnectionID)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, sqlite.ErrNotFound) {
			return config.ConnectionDescriptor{}, err
		}
	}
	conn, err := store.GetActiveConnection(ctx)
	if errors.Is(err, sqlite.ErrNotFound) {
		return config.ConnectionDescriptor{}, config.ErrNoConnection
	}
	return conn, err
}

// resolveProvider picks the session's provider, falling back to the default
// one.
func resolveProvider(ctx context.Context, store *sqlite.Store, sess sqlite.Session) (config.ProviderDescriptor, error) {
	if sess.ProviderID > 0 {
		p, err := store.GetProvider(ctx, sess.ProviderID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, sqlite.ErrNotFound) {
			return config.ProviderDescriptor{}, err
		}
	}
	p, err := store.GetDefaultProvider(ctx)
	if errors.Is(err, sqlite.ErrNotFound) {
		return config.ProviderDescriptor{}, config.ErrNoProvider
	}
	return p, err
}
