package ctxpg

import (
	"time"

	"github.com/jayusctrojan/ctxpg/compaction"
	"github.com/jayusctrojan/ctxpg/hooks"
	"github.com/jayusctrojan/ctxpg/memory"
	"github.com/jayusctrojan/ctxpg/storage"
	"github.com/jayusctrojan/ctxpg/token"
)

// Option is a functional option for configuring a Manager
type Option func(*internalConfig) error

// WithStore overrides the pgx-backed store. Intended for tests and for
// embedding the manager behind a custom persistence layer.
func WithStore(store storage.Store) Option {
	return func(c *internalConfig) error {
		c.store = store
		return nil
	}
}

// WithLogger sets the logger used by every component
func WithLogger(logger compaction.Logger) Option {
	return func(c *internalConfig) error {
		if logger == nil {
			logger = compaction.NopLogger()
		}
		c.logger = logger
		return nil
	}
}

// WithHooks sets a pre-populated hook registry
func WithHooks(registry *hooks.Registry) Option {
	return func(c *internalConfig) error {
		if registry != nil {
			c.hooks = registry
		}
		return nil
	}
}

// WithAutoCompaction enables or disables automatic background compaction
// when a recorded message pushes usage past the threshold
func WithAutoCompaction(enabled bool) Option {
	return func(c *internalConfig) error {
		c.autoCompaction = enabled
		return nil
	}
}

// WithAutoCompactThreshold sets the usage ratio at which automatic
// compaction triggers (0.0-1.0, default 0.8)
func WithAutoCompactThreshold(threshold float64) Option {
	return func(c *internalConfig) error {
		if threshold <= 0 || threshold > 1 {
			return NewError("WithAutoCompactThreshold", ErrInvalidConfig).
				WithContext("threshold", threshold).
				WithContext("reason", "threshold must be between 0 and 1")
		}
		c.autoCompactThreshold = threshold
		return nil
	}
}

// WithMaxContextTokens overrides the model's default context window size
func WithMaxContextTokens(tokens int) Option {
	return func(c *internalConfig) error {
		if tokens <= 0 {
			return NewError("WithMaxContextTokens", ErrInvalidConfig).
				WithContext("tokens", tokens).
				WithContext("reason", "must be positive")
		}
		c.maxContextTokens = tokens
		return nil
	}
}

// WithSummarizer replaces the Anthropic-backed summarizer
func WithSummarizer(s compaction.Summarizer) Option {
	return func(c *internalConfig) error {
		c.summarizer = s
		return nil
	}
}

// WithSummarizerModel sets the model used for summarization during
// compaction (default claude-3-5-haiku)
func WithSummarizerModel(model string) Option {
	return func(c *internalConfig) error {
		c.compaction.SummarizerModel = model
		return nil
	}
}

// WithTokenCounter replaces the token counter. By default the manager
// uses the Anthropic counting API when a client is configured and
// character approximation otherwise.
func WithTokenCounter(counter token.Counter) Option {
	return func(c *internalConfig) error {
		c.counter = counter
		return nil
	}
}

// WithEmbedder sets the embedding function used when archiving session
// memories. Without one, memories are stored unembedded and queries fall
// back to recency order.
func WithEmbedder(embedder memory.Embedder) Option {
	return func(c *internalConfig) error {
		c.embedder = embedder
		return nil
	}
}

// WithCompactionCooldown sets the minimum interval between non-forced
// compactions of one session (default 30s)
func WithCompactionCooldown(cooldown time.Duration) Option {
	return func(c *internalConfig) error {
		if cooldown < 0 {
			return NewError("WithCompactionCooldown", ErrInvalidConfig).
				WithContext("cooldown", cooldown).
				WithContext("reason", "must be non-negative")
		}
		c.compaction.Cooldown = cooldown
		return nil
	}
}

// WithCheckpointRetention sets the per-session checkpoint cap and TTL
// (defaults 50 and 30 days)
func WithCheckpointRetention(cap int, ttl time.Duration) Option {
	return func(c *internalConfig) error {
		if cap < 0 || ttl < 0 {
			return NewError("WithCheckpointRetention", ErrInvalidConfig).
				WithContext("cap", cap).
				WithContext("ttl", ttl).
				WithContext("reason", "must be non-negative")
		}
		c.checkpointRetention = cap
		c.checkpointTTL = ttl
		return nil
	}
}

// WithRecoveryMaxAttempts bounds the overflow recovery loop (default 3)
func WithRecoveryMaxAttempts(n int) Option {
	return func(c *internalConfig) error {
		if n <= 0 {
			return NewError("WithRecoveryMaxAttempts", ErrInvalidConfig).
				WithContext("n", n).
				WithContext("reason", "must be positive")
		}
		c.recoveryMaxAttempts = n
		return nil
	}
}

// WithEventNotifications enables or disables LISTEN/NOTIFY event
// publication (default enabled when a pool is configured)
func WithEventNotifications(enabled bool) Option {
	return func(c *internalConfig) error {
		c.notifyEvents = enabled
		return nil
	}
}

// WithSweepInterval sets how often the maintenance sweeper runs on the
// elected leader (default 10 minutes)
func WithSweepInterval(interval time.Duration) Option {
	return func(c *internalConfig) error {
		if interval <= 0 {
			return NewError("WithSweepInterval", ErrInvalidConfig).
				WithContext("interval", interval).
				WithContext("reason", "must be positive")
		}
		c.sweepInterval = interval
		return nil
	}
}
