package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/jayusctrojan/ctxpg/types"
)

// Summarizer produces a text summary of a message range. Implementations
// must honor the context deadline and return ErrSummarizationTimeout when
// it expires.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*types.Message, systemPrompt string) (string, error)
}

// AnthropicSummarizer summarizes conversations with Claude's streaming
// Messages API.
type AnthropicSummarizer struct {
	client    *anthropic.Client
	model     string
	maxTokens int

	// timeout applies when the caller's context has no deadline.
	timeout time.Duration
}

// NewAnthropicSummarizer creates a summarizer for the given model.
// maxTokens caps the response; timeout is the default per-call deadline
// applied when the caller's context carries none (zero disables it).
func NewAnthropicSummarizer(client *anthropic.Client, model string, maxTokens int, timeout time.Duration) *AnthropicSummarizer {
	return &AnthropicSummarizer{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
	}
}

// Summarize implements Summarizer.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, messages []*types.Message, systemPrompt string) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: no messages to summarize", ErrSummarizationFailed)
	}

	if _, ok := ctx.Deadline(); !ok && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	userPrompt := BuildUserPrompt(FormatMessages(messages))

	stream := s.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return "", fmt.Errorf("%w: failed to accumulate stream: %v", ErrSummarizationFailed, err)
		}
	}

	if err := stream.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrSummarizationTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}

	var summary strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			summary.WriteString(text.Text)
		}
	}

	if summary.Len() == 0 {
		return "", fmt.Errorf("%w: empty response from summarizer", ErrSummarizationFailed)
	}

	return summary.String(), nil
}
