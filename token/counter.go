// Package token provides token counting and budget accounting for
// conversation contexts.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrCountFailed indicates the counting function could not process the
// content. Callers must treat this as a hard failure for the message being
// recorded; the message is never silently dropped or counted as zero.
var ErrCountFailed = errors.New("token counting failed")

// Counter counts tokens in text. Implementations must be deterministic for
// a given model identifier.
type Counter interface {
	Count(ctx context.Context, text string) (int, error)
}

// ApproximateTokens estimates token count from character count using the
// ~4 characters per token approximation, with a minimum of 1 token for
// non-empty text.
func ApproximateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := (len(text) + 3) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// ApproxCounter is a Counter using character-based approximation. It never
// fails.
type ApproxCounter struct{}

// Count implements Counter.
func (ApproxCounter) Count(_ context.Context, text string) (int, error) {
	return ApproximateTokens(text), nil
}

// APICounter counts tokens with the Claude token counting API, falling back
// to character-based approximation once the API has failed. The fallback is
// sticky so a flapping API does not add a network round trip to every
// message append. One counter serves every session, so the flag is
// atomic.
type APICounter struct {
	client   *anthropic.Client
	model    string
	fallback atomic.Bool
}

// NewAPICounter creates an APICounter for the given model.
func NewAPICounter(client *anthropic.Client, model string) *APICounter {
	return &APICounter{client: client, model: model}
}

// Count implements Counter.
func (c *APICounter) Count(ctx context.Context, text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	if c.client != nil && !c.fallback.Load() {
		result, err := c.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
			Model: anthropic.Model(c.model),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
			},
		})
		if err == nil {
			return int(result.InputTokens), nil
		}
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %v", ErrCountFailed, ctx.Err())
		}
		c.fallback.Store(true)
	}

	return ApproximateTokens(text), nil
}

// UsingFallback reports whether the counter has switched to approximation.
func (c *APICounter) UsingFallback() bool {
	return c.fallback.Load()
}
