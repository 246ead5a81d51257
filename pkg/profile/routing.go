package profile

// ShouldUseEmbeddingRouting reports whether the routing strategy wants
// an embedding similarity pass.
func ShouldUseEmbeddingRouting(c Config) bool {
	switch c.Routing.Strategy {
	case StrategyEmbedding, StrategyHybrid:
		return true
	}
	return false
}

// ShouldUseLLMFallback reports whether a routing decision should fall
// through to an LLM call. For the hybrid strategy the answer depends on
// the best embedding similarity seen so far; pass nil when no embedding
// pass ran.
func ShouldUseLLMFallback(c Config, similarity *float64) bool {
	switch c.Routing.Strategy {
	case StrategyEmbedding, StrategyRules:
		return false
	case StrategyHybrid:
		if similarity == nil {
			return true
		}
		return *similarity < c.Routing.ConfidenceThreshold
	default:
		// llm strategy, and anything unrecognised, goes to the model
		return true
	}
}
