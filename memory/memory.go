// Package memory implements the session memory archivist: it distills a
// finished conversation into a durable, embeddable record that future
// sessions can retrieve.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jayusctrojan/ctxpg/classify"
	"github.com/jayusctrojan/ctxpg/compaction"
	"github.com/jayusctrojan/ctxpg/storage"
	"github.com/jayusctrojan/ctxpg/types"
)

// Retention windows per policy.
const (
	ProjectRetention = 90 * 24 * time.Hour
	OrgRetention     = 365 * 24 * time.Hour
)

// maxCodeRefContent caps stored code block content.
const maxCodeRefContent = 2000

// Embedder computes an embedding vector for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// languageKeywords and frameworkKeywords drive tag derivation from the
// summary text.
var languageKeywords = []string{
	"python", "javascript", "typescript", "java", "go", "golang", "rust",
	"c++", "c#", "ruby", "php", "swift", "kotlin", "sql", "html", "css",
	"bash",
}

var frameworkKeywords = []string{
	"react", "vue", "angular", "django", "flask", "fastapi", "express",
	"nextjs", "next.js", "spring", "rails", "laravel", "gin", "pgx",
}

// Archivist distills conversations into session memories.
type Archivist struct {
	store      storage.Store
	summarizer compaction.Summarizer
	classifier classify.Classifier
	embedder   Embedder
	logger     compaction.Logger

	now func() time.Time
}

// NewArchivist creates an Archivist. summarizer and embedder may be nil:
// without a summarizer every archive uses the heuristic fallback summary,
// and without an embedder memories are stored unembedded and queries fall
// back to recency order.
func NewArchivist(store storage.Store, summarizer compaction.Summarizer, classifier classify.Classifier, embedder Embedder, logger compaction.Logger) *Archivist {
	if classifier == nil {
		classifier = classify.NewPatternClassifier()
	}
	if logger == nil {
		logger = compaction.NopLogger()
	}
	return &Archivist{
		store:      store,
		summarizer: summarizer,
		classifier: classifier,
		embedder:   embedder,
		logger:     logger,
		now:        time.Now,
	}
}

// Archive distills the session into a SessionMemory and returns its id.
// Summarizer failure does not fail the archive: a heuristic fallback
// summary is stored instead, flagged with the fallback_summary tag.
func (a *Archivist) Archive(ctx context.Context, sessionID string, policy types.RetentionPolicy) (string, error) {
	cc, err := a.store.GetContext(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(cc.Messages) == 0 {
		return "", fmt.Errorf("session %s has no messages to archive", sessionID)
	}

	now := a.now().UTC()

	summary, usedFallback := a.summarize(ctx, cc)
	decisions := a.keyDecisions(cc)
	refs := a.codeReferences(cc)
	tags := a.deriveTags(cc, summary, usedFallback)

	mem := &types.SessionMemory{
		ID:             types.NewID(),
		UserID:         cc.UserID,
		ProjectID:      cc.ProjectID,
		SessionID:      sessionID,
		Summary:        summary,
		KeyDecisions:   decisions,
		CodeReferences: refs,
		Tags:           tags,
		RelevanceScore: 1.0,
		CreatedAt:      now,
		ExpiresAt:      expiry(policy, now),
	}

	if a.embedder != nil {
		embedding, err := a.embedder.Embed(ctx, summary)
		if err != nil {
			a.logger.Warn("embedding failed, storing memory unembedded",
				"session_id", sessionID,
				"error", err,
			)
		} else {
			mem.Embedding = embedding
		}
	}

	if err := a.store.SaveSessionMemory(ctx, mem); err != nil {
		return "", fmt.Errorf("failed to save session memory: %w", err)
	}

	a.logger.Info("session archived",
		"session_id", sessionID,
		"memory_id", mem.ID,
		"decisions", len(decisions),
		"code_references", len(refs),
		"tags", tags,
		"fallback_summary", usedFallback,
	)

	return mem.ID, nil
}

func (a *Archivist) summarize(ctx context.Context, cc *types.ConversationContext) (summary string, usedFallback bool) {
	if a.summarizer != nil {
		text, err := a.summarizer.Summarize(ctx, cc.Messages, compaction.ArchiveSystemPrompt)
		if err == nil {
			return text, false
		}
		a.logger.Warn("archive summarization failed, using fallback summary",
			"session_id", cc.SessionID,
			"error", err,
		)
	}
	return fallbackSummary(cc), true
}

// fallbackSummary builds a heuristic summary when the summarizer is
// unavailable, so a session is never archived empty.
func fallbackSummary(cc *types.ConversationContext) string {
	var userCount, assistantCount int
	var firstUser string
	for _, msg := range cc.Messages {
		switch msg.Role {
		case types.RoleUser:
			userCount++
			if firstUser == "" {
				firstUser = msg.Content
			}
		case types.RoleAssistant:
			assistantCount++
		}
	}

	if runes := []rune(firstUser); len(runes) > 200 {
		firstUser = string(runes[:200]) + "..."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session with %d messages (%d user, %d assistant), %d tokens.",
		len(cc.Messages), userCount, assistantCount, cc.TotalTokens)
	if firstUser != "" {
		fmt.Fprintf(&b, " Opening request: %s", firstUser)
	}
	return b.String()
}

// keyDecisions extracts decision statements from assistant-authored
// messages, in conversation order.
func (a *Archivist) keyDecisions(cc *types.ConversationContext) []string {
	var decisions []string
	for _, msg := range cc.Messages {
		if msg.Role != types.RoleAssistant {
			continue
		}
		decisions = append(decisions, classify.ExtractDecisions(msg.Content, 200)...)
	}
	return decisions
}

// codeReferences collects fenced code blocks and file paths from every
// message.
func (a *Archivist) codeReferences(cc *types.ConversationContext) []types.CodeReference {
	var refs []types.CodeReference
	seenPaths := make(map[string]struct{})

	for _, msg := range cc.Messages {
		for _, block := range classify.ExtractCodeBlocks(msg.Content) {
			content := block.Content
			if len(content) > maxCodeRefContent {
				content = content[:maxCodeRefContent]
			}
			refs = append(refs, types.CodeReference{
				Type:            "code_block",
				Language:        block.Language,
				Content:         content,
				SourceMessageID: msg.ID,
			})
		}
		for _, path := range classify.ExtractFilePaths(msg.Content) {
			if _, ok := seenPaths[path]; ok {
				continue
			}
			seenPaths[path] = struct{}{}
			refs = append(refs, types.CodeReference{
				Type:            "file_path",
				Path:            path,
				SourceMessageID: msg.ID,
			})
		}
	}
	return refs
}

// deriveTags combines language/framework keywords found in the summary
// with structural tags from content markers.
func (a *Archivist) deriveTags(cc *types.ConversationContext, summary string, usedFallback bool) []string {
	seen := make(map[string]struct{})
	var tags []string
	add := func(tag string) {
		if _, ok := seen[tag]; !ok {
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}

	lower := strings.ToLower(summary)
	for _, kw := range languageKeywords {
		if containsWord(lower, kw) {
			add(kw)
		}
	}
	for _, kw := range frameworkKeywords {
		if containsWord(lower, kw) {
			add(kw)
		}
	}

	var hasCode, hasError, hasTests bool
	for _, msg := range cc.Messages {
		for _, tag := range a.classifier.Classify(msg.Content) {
			switch tag {
			case classify.TagCode:
				hasCode = true
			case classify.TagError:
				hasError = true
			}
		}
		if strings.Contains(strings.ToLower(msg.Content), "test") {
			hasTests = true
		}
	}
	if hasCode {
		add("code")
	}
	if hasError {
		add("debugging")
	}
	if hasTests {
		add("testing")
	}
	if usedFallback {
		add("fallback_summary")
	}

	return tags
}

// containsWord reports whether text contains kw bounded by non-letter
// characters, so "go" does not match inside "google".
func containsWord(text, kw string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func expiry(policy types.RetentionPolicy, now time.Time) *time.Time {
	var ttl time.Duration
	switch policy {
	case types.RetentionProject:
		ttl = ProjectRetention
	case types.RetentionOrg:
		ttl = OrgRetention
	default:
		return nil
	}
	t := now.Add(ttl)
	return &t
}
