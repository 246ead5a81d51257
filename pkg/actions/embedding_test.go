package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-io/switchboard/pkg/clients"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// fakeEmbedServer returns deterministic unit vectors: each input text
// maps to a fixed vector keyed by its first byte so similarity ordering
// is predictable.
func fakeEmbedServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req clients.InvokeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		inputs := req.Params["input"].([]any)
		out := make([][]float32, len(inputs))
		for i, raw := range inputs {
			text := raw.(string)
			switch text[0] {
			case 'h':
				out[i] = []float32{1, 0, 0}
			case 'l':
				out[i] = []float32{0.9, 0.1, 0}
			case 'c':
				out[i] = []float32{0, 1, 0}
			default:
				out[i] = []float32{0, 0, 1}
			}
		}
		_ = json.NewEncoder(w).Encode(clients.EmbeddingResult{Model: req.Model, Embeddings: out})
	}))
	t.Cleanup(server.Close)
	return server
}

func newEmbeddingService(t *testing.T, calls *atomic.Int32) *EmbeddingService {
	t.Helper()
	server := fakeEmbedServer(t, calls)
	integrations := clients.NewIntegrations(server.URL, "assistants-core", clients.StaticToken("t"), 5*time.Second)
	service, err := NewEmbeddingService(integrations, staticProfiles{cfg: fastProfile()}, 0)
	require.NoError(t, err)
	return service
}

func TestEmbeddingCreate_CachesIdenticalTextAndModel(t *testing.T) {
	var calls atomic.Int32
	service := newEmbeddingService(t, &calls)
	h := NewEmbeddingCreateHandler(service)

	cfg := rules.ActionConfig{Type: TypeEmbeddingCreate, Params: map[string]any{"text": "hello"}}

	out, err := h.Execute(context.Background(), cfg, testContext())
	require.NoError(t, err)
	assert.Equal(t, 1, out["count"])
	assert.Equal(t, int32(1), calls.Load())

	// identical text+model hits the cache, no second provider call
	_, err = h.Execute(context.Background(), cfg, testContext())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbeddingSearch_RanksByCosineSimilarity(t *testing.T) {
	var calls atomic.Int32
	service := newEmbeddingService(t, &calls)
	h := NewEmbeddingSearchHandler(service)

	out, err := h.Execute(context.Background(), rules.ActionConfig{
		Type: TypeEmbeddingSearch,
		Params: map[string]any{
			"query": "how do I read logs",
			"candidates": []any{
				map[string]any{"id": "catalog-search", "text": "catalog browsing and search"},
				map[string]any{"id": "log-analyst", "text": "log analysis and errors"},
				map[string]any{"id": "run-debugger", "text": "debug failed runs"},
			},
		},
	}, testContext())
	require.NoError(t, err)

	results := out["results"].([]map[string]any)
	require.Len(t, results, 3)
	assert.Equal(t, "log-analyst", results[0]["id"])
	best := results[0]["score"].(float64)
	assert.Greater(t, best, 0.9)
	assert.Greater(t, best, results[1]["score"].(float64))
}

func TestEmbeddingSearch_TopK(t *testing.T) {
	var calls atomic.Int32
	h := NewEmbeddingSearchHandler(newEmbeddingService(t, &calls))

	out, err := h.Execute(context.Background(), rules.ActionConfig{
		Type: TypeEmbeddingSearch,
		Params: map[string]any{
			"query": "how",
			"topK":  float64(1),
			"candidates": []any{
				map[string]any{"id": "a", "text": "logs"},
				map[string]any{"id": "b", "text": "catalog"},
			},
		},
	}, testContext())
	require.NoError(t, err)
	assert.Len(t, out["results"].([]map[string]any), 1)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
