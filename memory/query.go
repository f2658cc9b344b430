package memory

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/jayusctrojan/ctxpg/types"
)

// hydrateLimit bounds how many stored memories are loaded into the
// per-query vector index.
const hydrateLimit = 500

// QueryMemories returns memories relevant to queryText, most relevant
// first. An empty projectID matches all projects. Without an embedder the
// ranking degrades to recency order.
//
// Ranking runs through an in-process chromem collection hydrated from the
// durable store; stored embeddings are reused, so only the query text is
// embedded per call.
func (a *Archivist) QueryMemories(ctx context.Context, queryText, projectID string, limit int) ([]*types.SessionMemory, error) {
	if limit <= 0 {
		limit = 10
	}

	candidates, err := a.store.ListSessionMemories(ctx, projectID, hydrateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session memories: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if a.embedder == nil || queryText == "" {
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		return candidates, nil
	}

	byID := make(map[string]*types.SessionMemory, len(candidates))
	docs := make([]chromem.Document, 0, len(candidates))
	for _, mem := range candidates {
		if len(mem.Embedding) == 0 {
			continue
		}
		byID[mem.ID] = mem
		docs = append(docs, chromem.Document{
			ID:        mem.ID,
			Content:   mem.Summary,
			Embedding: mem.Embedding,
		})
	}
	if len(docs) == 0 {
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		return candidates, nil
	}

	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		return a.embedder.Embed(ctx, text)
	}

	db := chromem.NewDB()
	col, err := db.CreateCollection("session_memories", nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return nil, fmt.Errorf("failed to hydrate vector index: %w", err)
	}

	n := limit
	if n > len(docs) {
		n = len(docs)
	}
	results, err := col.Query(ctx, queryText, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	ranked := make([]*types.SessionMemory, 0, len(results))
	for _, res := range results {
		if mem, ok := byID[res.ID]; ok {
			ranked = append(ranked, mem)
		}
	}
	return ranked, nil
}
