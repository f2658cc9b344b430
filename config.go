package ctxpg

import (
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jayusctrojan/ctxpg/compaction"
	"github.com/jayusctrojan/ctxpg/hooks"
	"github.com/jayusctrojan/ctxpg/memory"
	"github.com/jayusctrojan/ctxpg/storage"
	"github.com/jayusctrojan/ctxpg/token"
)

// ModelInfo contains model-specific parameters
type ModelInfo struct {
	MaxContextTokens int
}

// KnownModels maps model IDs to their capabilities
var KnownModels = map[string]ModelInfo{
	// Claude 4 models
	"claude-sonnet-4-5-20250929": {MaxContextTokens: 200000},
	"claude-opus-4-5-20251101":   {MaxContextTokens: 200000},
	// Claude 3.5 models
	"claude-3-5-sonnet-20241022": {MaxContextTokens: 200000},
	"claude-3-5-haiku-20241022":  {MaxContextTokens: 200000},
	// Claude 3 models
	"claude-3-opus-20240229":   {MaxContextTokens: 200000},
	"claude-3-sonnet-20240229": {MaxContextTokens: 200000},
	"claude-3-haiku-20240307":  {MaxContextTokens: 200000},
}

// GetModelInfo returns model info, using sensible defaults for unknown models
func GetModelInfo(model string) ModelInfo {
	if info, ok := KnownModels[model]; ok {
		return info
	}
	return ModelInfo{MaxContextTokens: 200000}
}

// Config holds the required configuration for a Manager.
//
// Example:
//
//	pool, _ := pgxpool.New(ctx, connString)
//	client := anthropic.NewClient()
//	mgr, _ := ctxpg.New(ctxpg.Config{
//	    DB:     pool,
//	    Client: &client,
//	    Model:  "claude-sonnet-4-5-20250929",
//	})
type Config struct {
	// DB is the PostgreSQL connection pool (required unless WithStore is
	// used)
	DB *pgxpool.Pool

	// Client is the Anthropic API client, used for summarization and
	// exact token counting (required unless both WithSummarizer and
	// WithTokenCounter are used)
	Client *anthropic.Client

	// Model is the model whose context window new sessions are sized for
	// (required)
	Model string
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: Model is required", ErrInvalidConfig)
	}

	return nil
}

// internalConfig holds the full manager configuration including optional
// parameters filled in by options.
type internalConfig struct {
	// Required from Config
	db     *pgxpool.Pool
	client *anthropic.Client
	model  string

	// Optional overrides
	store      storage.Store
	summarizer compaction.Summarizer
	counter    token.Counter
	embedder   memory.Embedder
	logger     compaction.Logger
	hooks      *hooks.Registry

	// Tunables
	autoCompaction       bool
	autoCompactThreshold float64
	maxContextTokens     int
	compaction           compaction.Config
	checkpointRetention  int
	checkpointTTL        time.Duration
	recoveryMaxAttempts  int
	notifyEvents         bool
	sweepInterval        time.Duration
}

// newInternalConfig creates a new internal config from the public Config
func newInternalConfig(cfg Config) *internalConfig {
	modelInfo := GetModelInfo(cfg.Model)

	return &internalConfig{
		db:     cfg.DB,
		client: cfg.Client,
		model:  cfg.Model,

		logger: compaction.NopLogger(),
		hooks:  hooks.NewRegistry(),

		// Defaults
		autoCompaction:       true,
		autoCompactThreshold: 0.8,
		maxContextTokens:     modelInfo.MaxContextTokens,
		compaction:           *compaction.DefaultConfig(),
		notifyEvents:         true,
	}
}
