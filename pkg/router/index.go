package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/switchboard-io/switchboard/pkg/assistant"
)

// DescriptionEmbedder embeds texts with the routing embedding profile.
type DescriptionEmbedder interface {
	EmbedForRouting(ctx context.Context, texts []string, orgID string) ([][]float32, error)
}

// Index holds assistant descriptions in an in-memory chromem collection
// with precomputed vectors. Rebuilt on registry reload; queries rank
// candidates by cosine similarity of the user message.
type Index struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	embedder   DescriptionEmbedder
	count      int
}

// Match is one index hit.
type Match struct {
	Key        string
	Similarity float64
}

// NewIndex creates an empty description index.
func NewIndex(embedder DescriptionEmbedder) *Index {
	return &Index{db: chromem.NewDB(), embedder: embedder}
}

// Rebuild replaces the index contents from the given assistants.
// Assistants without a description are skipped; they stay reachable by
// explicit routing only.
func (idx *Index) Rebuild(ctx context.Context, defs []assistant.Definition) error {
	var described []assistant.Definition
	var texts []string
	for _, def := range defs {
		if def.Description == "" {
			continue
		}
		described = append(described, def)
		texts = append(texts, def.Description)
	}

	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = idx.embedder.EmbedForRouting(ctx, texts, "")
		if err != nil {
			return fmt.Errorf("embed assistant descriptions: %w", err)
		}
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection("assistant-descriptions", nil, nil)
	if err != nil {
		return fmt.Errorf("create description collection: %w", err)
	}
	if len(described) > 0 {
		docs := make([]chromem.Document, len(described))
		for i, def := range described {
			docs[i] = chromem.Document{
				ID:        def.Key,
				Content:   def.Description,
				Embedding: vectors[i],
			}
		}
		if err := collection.AddDocuments(ctx, docs, 1); err != nil {
			return fmt.Errorf("index assistant descriptions: %w", err)
		}
	}

	idx.mu.Lock()
	idx.db = db
	idx.collection = collection
	idx.count = len(described)
	idx.mu.Unlock()
	return nil
}

// Best returns the closest assistant to the message text, or ok=false
// when the index is empty.
func (idx *Index) Best(ctx context.Context, messageText, orgID string) (Match, bool, error) {
	idx.mu.RLock()
	collection := idx.collection
	count := idx.count
	idx.mu.RUnlock()

	if collection == nil || count == 0 {
		return Match{}, false, nil
	}

	vectors, err := idx.embedder.EmbedForRouting(ctx, []string{messageText}, orgID)
	if err != nil {
		return Match{}, false, fmt.Errorf("embed routing query: %w", err)
	}

	results, err := collection.QueryEmbedding(ctx, vectors[0], 1, nil, nil)
	if err != nil {
		return Match{}, false, fmt.Errorf("query description index: %w", err)
	}
	if len(results) == 0 {
		return Match{}, false, nil
	}
	return Match{Key: results[0].ID, Similarity: float64(results[0].Similarity)}, true, nil
}
