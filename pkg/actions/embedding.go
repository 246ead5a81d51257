package actions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/switchboard-io/switchboard/pkg/clients"
	"github.com/switchboard-io/switchboard/pkg/profile"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// minEmbeddingCacheSize is the floor for the process-local embedding
// cache regardless of configuration.
const minEmbeddingCacheSize = 1024

// EmbeddingService embeds text via Integrations with a process-wide LRU
// keyed by model and content hash. It backs the embedding.create and
// embedding.search actions as well as the router's description index.
type EmbeddingService struct {
	integrations *clients.Integrations
	profiles     ProfileSource
	cache        *lru.Cache[string, []float32]
}

// NewEmbeddingService creates the service with the given cache
// capacity; anything below the floor is raised to it.
func NewEmbeddingService(integrations *clients.Integrations, profiles ProfileSource, cacheSize int) (*EmbeddingService, error) {
	if cacheSize < minEmbeddingCacheSize {
		cacheSize = minEmbeddingCacheSize
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &EmbeddingService{integrations: integrations, profiles: profiles, cache: cache}, nil
}

// Embed returns vectors for the given texts, serving identical
// text+model pairs from the cache when the profile enables caching.
func (s *EmbeddingService) Embed(ctx context.Context, cfg profile.EmbeddingConfig, texts []string, opts clients.CallOptions) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var misses []string
	var missIdx []int

	for i, text := range texts {
		if cfg.CacheEmbeddings {
			if v, ok := s.cache.Get(cacheKey(cfg.Model, text)); ok {
				vectors[i] = v
				continue
			}
		}
		misses = append(misses, text)
		missIdx = append(missIdx, i)
	}

	if len(misses) > 0 {
		result, err := s.integrations.CreateEmbeddings(ctx, cfg.Provider, cfg.Model, misses, opts)
		if err != nil {
			return nil, err
		}
		for j, vec := range result.Embeddings {
			vectors[missIdx[j]] = vec
			if cfg.CacheEmbeddings {
				s.cache.Add(cacheKey(cfg.Model, misses[j]), vec)
			}
		}
	}
	return vectors, nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return model + ":" + hex.EncodeToString(sum[:])
}

// CosineSimilarity computes the cosine of the angle between two
// vectors; zero for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// EmbeddingCreateHandler implements the embedding.create action.
type EmbeddingCreateHandler struct {
	service *EmbeddingService
}

func NewEmbeddingCreateHandler(service *EmbeddingService) *EmbeddingCreateHandler {
	return &EmbeddingCreateHandler{service: service}
}

func (h *EmbeddingCreateHandler) Execute(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	texts, err := textsParam(cfg.Params)
	if err != nil {
		return nil, err
	}
	resolved := h.service.profiles.ResolvedProfile(ec.Assistant.Key, ec.OrgID)

	vectors, err := h.service.Embed(ctx, resolved.Embedding, texts, callOptions(ec))
	if err != nil {
		if clients.IsAuthError(err) {
			return nil, &TokenAuthError{Err: err}
		}
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	return map[string]any{
		"embeddings": vectors,
		"model":      resolved.Embedding.Model,
		"dimensions": resolved.Embedding.Dimensions,
		"count":      len(vectors),
	}, nil
}

// EmbeddingSearchHandler implements the embedding.search action: embed
// the query and candidate texts, rank candidates by cosine similarity.
type EmbeddingSearchHandler struct {
	service *EmbeddingService
}

func NewEmbeddingSearchHandler(service *EmbeddingService) *EmbeddingSearchHandler {
	return &EmbeddingSearchHandler{service: service}
}

func (h *EmbeddingSearchHandler) Execute(ctx context.Context, cfg rules.ActionConfig, ec *rules.ExecutionContext) (map[string]any, error) {
	query, err := requiredString(cfg.Params, "query")
	if err != nil {
		return nil, err
	}
	candidates, err := candidatesParam(cfg.Params)
	if err != nil {
		return nil, err
	}

	resolved := h.service.profiles.ResolvedProfile(ec.Assistant.Key, ec.OrgID)
	opts := callOptions(ec)

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	for _, c := range candidates {
		texts = append(texts, c.text)
	}
	vectors, err := h.service.Embed(ctx, resolved.Embedding, texts, opts)
	if err != nil {
		if clients.IsAuthError(err) {
			return nil, &TokenAuthError{Err: err}
		}
		return nil, fmt.Errorf("embed search inputs: %w", err)
	}

	type ranked struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	}
	results := make([]ranked, len(candidates))
	for i, c := range candidates {
		results[i] = ranked{ID: c.id, Score: CosineSimilarity(vectors[0], vectors[i+1])}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if topK := intParam(cfg.Params, "topK", 0); topK > 0 && topK < len(results) {
		results = results[:topK]
	}

	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{"id": r.ID, "score": r.Score}
	}
	return map[string]any{"results": out, "model": resolved.Embedding.Model}, nil
}

type candidate struct {
	id   string
	text string
}

func textsParam(params map[string]any) ([]string, error) {
	if text, ok := stringParam(params, "text"); ok {
		return []string{text}, nil
	}
	raw, ok := params["texts"].([]any)
	if !ok || len(raw) == 0 {
		return nil, Validationf("embedding.create needs %q or a non-empty %q", "text", "texts")
	}
	texts := make([]string, 0, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, Validationf("param %q[%d] must be a non-empty string", "texts", i)
		}
		texts = append(texts, s)
	}
	return texts, nil
}

func candidatesParam(params map[string]any) ([]candidate, error) {
	raw, ok := params["candidates"].([]any)
	if !ok || len(raw) == 0 {
		return nil, Validationf("param %q must be a non-empty array", "candidates")
	}
	out := make([]candidate, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, Validationf("param %q[%d] must be an object", "candidates", i)
		}
		id, _ := m["id"].(string)
		text, _ := m["text"].(string)
		if id == "" || text == "" {
			return nil, Validationf("param %q[%d] needs both id and text", "candidates", i)
		}
		out = append(out, candidate{id: id, text: text})
	}
	return out, nil
}
