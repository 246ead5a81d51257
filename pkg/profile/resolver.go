package profile

import (
	"log/slog"

	"dario.cat/mergo"
)

// Resolve builds the effective profile for an assistant. Layers apply
// lowest to highest precedence: system defaults, org defaults, the
// preset named by ref, then ref's own overrides. Either argument may be
// nil.
func Resolve(ref *Ref, orgDefaults *Overlay) Config {
	resolved := SystemDefaults()
	Apply(&resolved, orgDefaults)

	if ref == nil {
		return resolved
	}
	if ref.Preset != "" && ref.Preset != PresetCustom {
		if overlay, ok := PresetOverlay(ref.Preset); ok {
			Apply(&resolved, &overlay)
		} else {
			slog.Warn("Unknown profile preset, using defaults only", "preset", ref.Preset)
		}
	}
	Apply(&resolved, ref.Overrides)
	return resolved
}

// Apply merges an overlay into a resolved profile in place. Nil
// sections and nil fields leave the target untouched; scalars and
// arrays replace, map-valued fields merge key-by-key.
func Apply(dst *Config, o *Overlay) {
	if o == nil {
		return
	}
	applyProvider(&dst.Provider, o.Provider)
	applyGeneration(&dst.Generation, o.Generation)
	applyEmbedding(&dst.Embedding, o.Embedding)
	applyRouting(&dst.Routing, o.Routing)
	applySafety(&dst.Safety, o.Safety)
	applyReliability(&dst.Reliability, o.Reliability)
	applyContext(&dst.Context, o.Context)
	applyObservability(&dst.Observability, o.Observability)
}

func applyProvider(dst *ProviderConfig, o *ProviderOverlay) {
	if o == nil {
		return
	}
	setIf(&dst.Name, o.Name)
	setIf(&dst.Model, o.Model)
	setIf(&dst.EnableFallbacks, o.EnableFallbacks)
	if o.FallbackModels != nil {
		dst.FallbackModels = append([]string(nil), o.FallbackModels...)
	}
	if len(o.Params) > 0 {
		if dst.Params == nil {
			dst.Params = map[string]any{}
		}
		// provider params merge recursively rather than replacing wholesale
		if err := mergo.Merge(&dst.Params, o.Params, mergo.WithOverride); err != nil {
			slog.Error("Failed to merge provider params", "error", err)
		}
	}
}

func applyGeneration(dst *GenerationConfig, o *GenerationOverlay) {
	if o == nil {
		return
	}
	setIf(&dst.Temperature, o.Temperature)
	setIf(&dst.TopP, o.TopP)
	setIf(&dst.MaxTokens, o.MaxTokens)
	setIf(&dst.ResponseFormat, o.ResponseFormat)
	if o.StopSequences != nil {
		dst.StopSequences = append([]string(nil), o.StopSequences...)
	}
}

func applyEmbedding(dst *EmbeddingConfig, o *EmbeddingOverlay) {
	if o == nil {
		return
	}
	setIf(&dst.Provider, o.Provider)
	setIf(&dst.Model, o.Model)
	setIf(&dst.Dimensions, o.Dimensions)
	setIf(&dst.CacheEmbeddings, o.CacheEmbeddings)
	setIf(&dst.CacheSize, o.CacheSize)
}

func applyRouting(dst *RoutingConfig, o *RoutingOverlay) {
	if o == nil {
		return
	}
	setIf(&dst.Strategy, o.Strategy)
	setIf(&dst.ConfidenceThreshold, o.ConfidenceThreshold)
	setIf(&dst.SimilarityThreshold, o.SimilarityThreshold)
}

func applySafety(dst *SafetyConfig, o *SafetyOverlay) {
	if o == nil {
		return
	}
	setIf(&dst.RedactPII, o.RedactPII)
	setIf(&dst.MaxInputChars, o.MaxInputChars)
	if o.BlockedCategories != nil {
		dst.BlockedCategories = append([]string(nil), o.BlockedCategories...)
	}
}

func applyReliability(dst *ReliabilityConfig, o *ReliabilityOverlay) {
	if o == nil {
		return
	}
	setIf(&dst.MaxRetries, o.MaxRetries)
	setIf(&dst.TimeoutMs, o.TimeoutMs)
	setIf(&dst.BackoffInitialMs, o.BackoffInitialMs)
	setIf(&dst.BackoffFactor, o.BackoffFactor)
	setIf(&dst.BackoffJitterPct, o.BackoffJitterPct)
}

func applyContext(dst *ContextConfig, o *ContextOverlay) {
	if o == nil {
		return
	}
	setIf(&dst.WindowTokens, o.WindowTokens)
	setIf(&dst.Truncation, o.Truncation)
	setIf(&dst.ReserveOutputTokens, o.ReserveOutputTokens)
}

func applyObservability(dst *ObservabilityConfig, o *ObservabilityOverlay) {
	if o == nil {
		return
	}
	setIf(&dst.TraceRequests, o.TraceRequests)
	setIf(&dst.LogPrompts, o.LogPrompts)
	if len(o.Tags) > 0 {
		if dst.Tags == nil {
			dst.Tags = map[string]string{}
		}
		for k, v := range o.Tags {
			dst.Tags[k] = v
		}
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
