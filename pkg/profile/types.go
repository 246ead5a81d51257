// Package profile resolves layered LLM configuration into a fully
// populated effective profile. Resolution deep-merges system defaults,
// org defaults, a named preset, and per-reference overrides, section by
// section; action params overlay the result per invocation.
package profile

// Config is a fully resolved LLM profile. Every field is populated after
// Resolve; consumers never need nil checks.
type Config struct {
	Provider      ProviderConfig      `json:"provider" yaml:"provider"`
	Generation    GenerationConfig    `json:"generation" yaml:"generation"`
	Embedding     EmbeddingConfig     `json:"embedding" yaml:"embedding"`
	Routing       RoutingConfig       `json:"routing" yaml:"routing"`
	Safety        SafetyConfig        `json:"safety" yaml:"safety"`
	Reliability   ReliabilityConfig   `json:"reliability" yaml:"reliability"`
	Context       ContextConfig       `json:"context" yaml:"context"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// ProviderConfig selects the LLM provider and model.
type ProviderConfig struct {
	Name            string         `json:"name" yaml:"name"`
	Model           string         `json:"model" yaml:"model"`
	FallbackModels  []string       `json:"fallbackModels,omitempty" yaml:"fallback_models,omitempty"`
	EnableFallbacks bool           `json:"enableFallbacks" yaml:"enable_fallbacks"`
	Params          map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// GenerationConfig controls sampling and output shape.
type GenerationConfig struct {
	Temperature    float64  `json:"temperature" yaml:"temperature"`
	TopP           float64  `json:"topP" yaml:"top_p"`
	MaxTokens      int      `json:"maxTokens" yaml:"max_tokens"`
	ResponseFormat string   `json:"responseFormat" yaml:"response_format"` // "text" or "json"
	StopSequences  []string `json:"stopSequences,omitempty" yaml:"stop_sequences,omitempty"`
}

// EmbeddingConfig selects the embedding model and cache behavior.
type EmbeddingConfig struct {
	Provider        string `json:"provider" yaml:"provider"`
	Model           string `json:"model" yaml:"model"`
	Dimensions      int    `json:"dimensions" yaml:"dimensions"`
	CacheEmbeddings bool   `json:"cacheEmbeddings" yaml:"cache_embeddings"`
	CacheSize       int    `json:"cacheSize" yaml:"cache_size"`
}

// RoutingConfig picks the inter-assistant routing strategy.
type RoutingConfig struct {
	Strategy            string  `json:"strategy" yaml:"strategy"` // rules, embedding, llm, hybrid
	ConfidenceThreshold float64 `json:"confidenceThreshold" yaml:"confidence_threshold"`
	SimilarityThreshold float64 `json:"similarityThreshold" yaml:"similarity_threshold"`
}

// SafetyConfig bounds inputs before they reach a provider.
type SafetyConfig struct {
	RedactPII         bool     `json:"redactPii" yaml:"redact_pii"`
	BlockedCategories []string `json:"blockedCategories,omitempty" yaml:"blocked_categories,omitempty"`
	MaxInputChars     int      `json:"maxInputChars" yaml:"max_input_chars"`
}

// ReliabilityConfig sets retry and deadline behavior for LLM actions.
type ReliabilityConfig struct {
	MaxRetries       int     `json:"maxRetries" yaml:"max_retries"`
	TimeoutMs        int     `json:"timeoutMs" yaml:"timeout_ms"`
	BackoffInitialMs int     `json:"backoffInitialMs" yaml:"backoff_initial_ms"`
	BackoffFactor    float64 `json:"backoffFactor" yaml:"backoff_factor"`
	BackoffJitterPct int     `json:"backoffJitterPct" yaml:"backoff_jitter_pct"`
}

// ContextConfig bounds the prompt window.
type ContextConfig struct {
	WindowTokens        int    `json:"windowTokens" yaml:"window_tokens"`
	Truncation          string `json:"truncation" yaml:"truncation"` // sliding_window, summarize, none
	ReserveOutputTokens int    `json:"reserveOutputTokens" yaml:"reserve_output_tokens"`
}

// ObservabilityConfig controls per-call tracing and tagging.
type ObservabilityConfig struct {
	TraceRequests bool              `json:"traceRequests" yaml:"trace_requests"`
	LogPrompts    bool              `json:"logPrompts" yaml:"log_prompts"`
	Tags          map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Ref is a profile reference as stored on an assistant: a preset name
// plus partial overrides. Preset "custom" (or empty) applies overrides
// directly on the default stack.
type Ref struct {
	Preset    string   `json:"preset,omitempty" yaml:"preset,omitempty"`
	Overrides *Overlay `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// Overlay is a partial profile. Nil section pointers and nil field
// pointers mean "absent"; absent values never override.
type Overlay struct {
	Provider      *ProviderOverlay      `json:"provider,omitempty" yaml:"provider,omitempty"`
	Generation    *GenerationOverlay    `json:"generation,omitempty" yaml:"generation,omitempty"`
	Embedding     *EmbeddingOverlay     `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	Routing       *RoutingOverlay       `json:"routing,omitempty" yaml:"routing,omitempty"`
	Safety        *SafetyOverlay        `json:"safety,omitempty" yaml:"safety,omitempty"`
	Reliability   *ReliabilityOverlay   `json:"reliability,omitempty" yaml:"reliability,omitempty"`
	Context       *ContextOverlay       `json:"context,omitempty" yaml:"context,omitempty"`
	Observability *ObservabilityOverlay `json:"observability,omitempty" yaml:"observability,omitempty"`
}

// ProviderOverlay overrides provider selection fields.
type ProviderOverlay struct {
	Name            *string        `json:"name,omitempty" yaml:"name,omitempty"`
	Model           *string        `json:"model,omitempty" yaml:"model,omitempty"`
	FallbackModels  []string       `json:"fallbackModels,omitempty" yaml:"fallback_models,omitempty"`
	EnableFallbacks *bool          `json:"enableFallbacks,omitempty" yaml:"enable_fallbacks,omitempty"`
	Params          map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// GenerationOverlay overrides generation fields.
type GenerationOverlay struct {
	Temperature    *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP           *float64 `json:"topP,omitempty" yaml:"top_p,omitempty"`
	MaxTokens      *int     `json:"maxTokens,omitempty" yaml:"max_tokens,omitempty"`
	ResponseFormat *string  `json:"responseFormat,omitempty" yaml:"response_format,omitempty"`
	StopSequences  []string `json:"stopSequences,omitempty" yaml:"stop_sequences,omitempty"`
}

// EmbeddingOverlay overrides embedding fields.
type EmbeddingOverlay struct {
	Provider        *string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model           *string `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions      *int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	CacheEmbeddings *bool   `json:"cacheEmbeddings,omitempty" yaml:"cache_embeddings,omitempty"`
	CacheSize       *int    `json:"cacheSize,omitempty" yaml:"cache_size,omitempty"`
}

// RoutingOverlay overrides routing fields.
type RoutingOverlay struct {
	Strategy            *string  `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	ConfidenceThreshold *float64 `json:"confidenceThreshold,omitempty" yaml:"confidence_threshold,omitempty"`
	SimilarityThreshold *float64 `json:"similarityThreshold,omitempty" yaml:"similarity_threshold,omitempty"`
}

// SafetyOverlay overrides safety fields.
type SafetyOverlay struct {
	RedactPII         *bool    `json:"redactPii,omitempty" yaml:"redact_pii,omitempty"`
	BlockedCategories []string `json:"blockedCategories,omitempty" yaml:"blocked_categories,omitempty"`
	MaxInputChars     *int     `json:"maxInputChars,omitempty" yaml:"max_input_chars,omitempty"`
}

// ReliabilityOverlay overrides reliability fields.
type ReliabilityOverlay struct {
	MaxRetries       *int     `json:"maxRetries,omitempty" yaml:"max_retries,omitempty"`
	TimeoutMs        *int     `json:"timeoutMs,omitempty" yaml:"timeout_ms,omitempty"`
	BackoffInitialMs *int     `json:"backoffInitialMs,omitempty" yaml:"backoff_initial_ms,omitempty"`
	BackoffFactor    *float64 `json:"backoffFactor,omitempty" yaml:"backoff_factor,omitempty"`
	BackoffJitterPct *int     `json:"backoffJitterPct,omitempty" yaml:"backoff_jitter_pct,omitempty"`
}

// ContextOverlay overrides context-window fields.
type ContextOverlay struct {
	WindowTokens        *int    `json:"windowTokens,omitempty" yaml:"window_tokens,omitempty"`
	Truncation          *string `json:"truncation,omitempty" yaml:"truncation,omitempty"`
	ReserveOutputTokens *int    `json:"reserveOutputTokens,omitempty" yaml:"reserve_output_tokens,omitempty"`
}

// ObservabilityOverlay overrides observability fields.
type ObservabilityOverlay struct {
	TraceRequests *bool             `json:"traceRequests,omitempty" yaml:"trace_requests,omitempty"`
	LogPrompts    *bool             `json:"logPrompts,omitempty" yaml:"log_prompts,omitempty"`
	Tags          map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Routing strategy values.
const (
	StrategyRules     = "rules"
	StrategyEmbedding = "embedding"
	StrategyLLM       = "llm"
	StrategyHybrid    = "hybrid"
)

// PresetCustom marks a reference whose overrides apply directly on the
// default stack without a preset layer.
const PresetCustom = "custom"
