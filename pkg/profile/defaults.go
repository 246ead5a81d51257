package profile

// SystemDefaults returns the base layer every resolution starts from.
// Every field is populated so a resolved profile never has gaps.
func SystemDefaults() Config {
	return Config{
		Provider: ProviderConfig{
			Name:            "openai",
			Model:           "gpt-4o-mini",
			EnableFallbacks: true,
		},
		Generation: GenerationConfig{
			Temperature:    0.7,
			TopP:           1.0,
			MaxTokens:      1024,
			ResponseFormat: "text",
		},
		Embedding: EmbeddingConfig{
			Provider:        "openai",
			Model:           "text-embedding-3-small",
			Dimensions:      1536,
			CacheEmbeddings: true,
			CacheSize:       1024,
		},
		Routing: RoutingConfig{
			Strategy:            StrategyHybrid,
			ConfidenceThreshold: 0.85,
			SimilarityThreshold: 0.78,
		},
		Safety: SafetyConfig{
			MaxInputChars: 32000,
		},
		Reliability: ReliabilityConfig{
			MaxRetries:       2,
			TimeoutMs:        45000,
			BackoffInitialMs: 250,
			BackoffFactor:    2.0,
			BackoffJitterPct: 20,
		},
		Context: ContextConfig{
			WindowTokens:        8192,
			Truncation:          "sliding_window",
			ReserveOutputTokens: 1024,
		},
		Observability: ObservabilityConfig{
			TraceRequests: true,
		},
	}
}
