package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_DefaultsOnly(t *testing.T) {
	resolved := Resolve(nil, nil)

	assert.Equal(t, SystemDefaults(), resolved)
	assert.Equal(t, "openai", resolved.Provider.Name)
	assert.Equal(t, 45000, resolved.Reliability.TimeoutMs)
}

func TestResolve_PresetLayersOverDefaults(t *testing.T) {
	resolved := Resolve(&Ref{Preset: "routing"}, nil)

	assert.Equal(t, 0.1, resolved.Generation.Temperature)
	assert.Equal(t, "json", resolved.Generation.ResponseFormat)
	assert.Equal(t, 4096, resolved.Context.WindowTokens)
	assert.Equal(t, 10000, resolved.Reliability.TimeoutMs)
	assert.Equal(t, 2, resolved.Reliability.MaxRetries)
	// untouched sections keep defaults
	assert.Equal(t, "text-embedding-3-small", resolved.Embedding.Model)
}

func TestResolve_ReasoningPreset(t *testing.T) {
	resolved := Resolve(&Ref{Preset: "reasoning"}, nil)

	assert.Equal(t, 1.0, resolved.Generation.Temperature)
	assert.False(t, resolved.Provider.EnableFallbacks)
	assert.Equal(t, "summarize", resolved.Context.Truncation)
	assert.Equal(t, 120000, resolved.Reliability.TimeoutMs)
}

func TestResolve_UnknownPresetDegradesToDefaults(t *testing.T) {
	resolved := Resolve(&Ref{Preset: "turbo-mode"}, nil)

	assert.Equal(t, SystemDefaults(), resolved)
}

func TestResolve_CustomPresetSkipsPresetLayer(t *testing.T) {
	ref := &Ref{
		Preset: PresetCustom,
		Overrides: &Overlay{
			Generation: &GenerationOverlay{Temperature: ptr(0.3)},
		},
	}
	resolved := Resolve(ref, nil)

	assert.Equal(t, 0.3, resolved.Generation.Temperature)
	assert.Equal(t, "text", resolved.Generation.ResponseFormat)
}

func TestResolve_OverridesWinOverPreset(t *testing.T) {
	ref := &Ref{
		Preset: "routing",
		Overrides: &Overlay{
			Reliability: &ReliabilityOverlay{TimeoutMs: ptr(5000)},
		},
	}
	resolved := Resolve(ref, nil)

	// override beats the preset's 10s timeout, preset still sets the rest
	assert.Equal(t, 5000, resolved.Reliability.TimeoutMs)
	assert.Equal(t, 0.1, resolved.Generation.Temperature)
}

func TestResolve_OrgDefaultsUnderPreset(t *testing.T) {
	org := &Overlay{
		Provider:   &ProviderOverlay{Model: ptr("gpt-4o")},
		Generation: &GenerationOverlay{Temperature: ptr(0.9)},
	}
	resolved := Resolve(&Ref{Preset: "routing"}, org)

	// org default survives where the preset is silent
	assert.Equal(t, "gpt-4o", resolved.Provider.Model)
	// preset beats org default where both speak
	assert.Equal(t, 0.1, resolved.Generation.Temperature)
}

func TestResolve_ZeroValueOverrideApplies(t *testing.T) {
	ref := &Ref{
		Overrides: &Overlay{
			Generation: &GenerationOverlay{Temperature: ptr(0.0)},
		},
	}
	resolved := Resolve(ref, nil)

	assert.Equal(t, 0.0, resolved.Generation.Temperature)
}

func TestApply_ProviderParamsMergeRecursively(t *testing.T) {
	resolved := SystemDefaults()
	resolved.Provider.Params = map[string]any{"org": "acme", "nested": map[string]any{"a": 1}}

	Apply(&resolved, &Overlay{
		Provider: &ProviderOverlay{
			Params: map[string]any{"nested": map[string]any{"b": 2}},
		},
	})

	assert.Equal(t, "acme", resolved.Provider.Params["org"])
	nested := resolved.Provider.Params["nested"].(map[string]any)
	assert.Equal(t, 1, nested["a"])
	assert.Equal(t, 2, nested["b"])
}

func TestActionConfig_OverlaysGenerationAndProvider(t *testing.T) {
	resolved := Resolve(&Ref{Preset: "conversational"}, nil)
	perCall := ActionConfig(resolved, map[string]any{
		"model":          "gpt-4o",
		"temperature":    0.2,
		"maxTokens":      float64(256), // JSON decodes numbers as float64
		"responseFormat": "json",
		"timeoutMs":      float64(15000),
	})

	assert.Equal(t, "gpt-4o", perCall.Provider.Model)
	assert.Equal(t, 0.2, perCall.Generation.Temperature)
	assert.Equal(t, 256, perCall.Generation.MaxTokens)
	assert.Equal(t, "json", perCall.Generation.ResponseFormat)
	assert.Equal(t, 15000, perCall.Reliability.TimeoutMs)

	// original profile untouched
	assert.Equal(t, 0.7, resolved.Generation.Temperature)
	assert.Equal(t, "gpt-4o-mini", resolved.Provider.Model)
}

func TestActionConfig_IgnoresUnknownAndMalformedParams(t *testing.T) {
	resolved := SystemDefaults()
	perCall := ActionConfig(resolved, map[string]any{
		"prompt":      "hello",
		"temperature": "hot",
		"maxTokens":   true,
	})

	assert.Equal(t, resolved, perCall)
}

func TestShouldUseEmbeddingRouting(t *testing.T) {
	cases := map[string]bool{
		StrategyEmbedding: true,
		StrategyHybrid:    true,
		StrategyRules:     false,
		StrategyLLM:       false,
		"mystery":         false,
	}
	for strategy, want := range cases {
		c := SystemDefaults()
		c.Routing.Strategy = strategy
		assert.Equal(t, want, ShouldUseEmbeddingRouting(c), "strategy %q", strategy)
	}
}

func TestShouldUseLLMFallback(t *testing.T) {
	tests := []struct {
		name       string
		strategy   string
		similarity *float64
		want       bool
	}{
		{"llm always falls back", StrategyLLM, nil, true},
		{"unknown strategy falls back", "mystery", nil, true},
		{"embedding never falls back", StrategyEmbedding, ptr(0.1), false},
		{"rules never falls back", StrategyRules, nil, false},
		{"hybrid without similarity", StrategyHybrid, nil, true},
		{"hybrid below threshold", StrategyHybrid, ptr(0.5), true},
		{"hybrid at threshold", StrategyHybrid, ptr(0.85), false},
		{"hybrid above threshold", StrategyHybrid, ptr(0.99), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := SystemDefaults()
			c.Routing.Strategy = tt.strategy
			assert.Equal(t, tt.want, ShouldUseLLMFallback(c, tt.similarity))
		})
	}
}
