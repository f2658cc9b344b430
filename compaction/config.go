package compaction

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	// DefaultSummarizerModel is a fast, cheap model suitable for
	// summarization.
	DefaultSummarizerModel = "claude-3-5-haiku-20241022"

	// DefaultSummarizerMaxTokens caps the summarization response.
	DefaultSummarizerMaxTokens = 4096

	// DefaultMinCondensable is the smallest eligible range worth a model
	// call. Compacting fewer messages wastes a call for negligible
	// savings.
	DefaultMinCondensable = 3

	// DefaultPreviewLen caps SummaryPreview on recorded results.
	DefaultPreviewLen = 500

	// DefaultCooldown is the minimum time between two compactions of the
	// same session unless forced.
	DefaultCooldown = 30 * time.Second
)

// Config holds condensing engine configuration.
type Config struct {
	// SummarizerModel is the model used for summarization.
	// Default: DefaultSummarizerModel
	SummarizerModel string

	// SummarizerMaxTokens is the maximum tokens for the summarization
	// response. Default: 4096
	SummarizerMaxTokens int

	// MinCondensable is the minimum number of eligible messages required
	// before the engine will call the summarizer. Default: 3
	MinCondensable int

	// PreviewLen is the maximum length of the summary preview stored on
	// compaction results. Default: 500
	PreviewLen int

	// Cooldown is the minimum interval between non-forced compactions of
	// one session. Default: 30s
	Cooldown time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		SummarizerModel:     DefaultSummarizerModel,
		SummarizerMaxTokens: DefaultSummarizerMaxTokens,
		MinCondensable:      DefaultMinCondensable,
		PreviewLen:          DefaultPreviewLen,
		Cooldown:            DefaultCooldown,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.SummarizerModel == "" {
		c.SummarizerModel = DefaultSummarizerModel
	}
	if c.SummarizerMaxTokens == 0 {
		c.SummarizerMaxTokens = DefaultSummarizerMaxTokens
	}
	if c.MinCondensable == 0 {
		c.MinCondensable = DefaultMinCondensable
	}
	if c.PreviewLen == 0 {
		c.PreviewLen = DefaultPreviewLen
	}
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.SummarizerModel == "" {
		return fmt.Errorf("%w: summarizer_model is required", ErrInvalidConfig)
	}
	if c.SummarizerMaxTokens <= 0 {
		return fmt.Errorf("%w: summarizer_max_tokens must be positive, got %d", ErrInvalidConfig, c.SummarizerMaxTokens)
	}
	if c.MinCondensable < 2 {
		return fmt.Errorf("%w: min_condensable must be at least 2, got %d", ErrInvalidConfig, c.MinCondensable)
	}
	if c.PreviewLen <= 0 {
		return fmt.Errorf("%w: preview_len must be positive, got %d", ErrInvalidConfig, c.PreviewLen)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must be non-negative, got %s", ErrInvalidConfig, c.Cooldown)
	}
	return nil
}
