package profile

func ptr[T any](v T) *T { return &v }

// presets maps preset names to their overlay on top of the default
// stack. Unknown names resolve to no overlay at all.
var presets = map[string]Overlay{
	// Low-temperature JSON output with a tight window and a short
	// deadline, tuned for structured routing decisions.
	"routing": {
		Generation: &GenerationOverlay{
			Temperature:    ptr(0.1),
			MaxTokens:      ptr(512),
			ResponseFormat: ptr("json"),
		},
		Context: &ContextOverlay{
			WindowTokens: ptr(4096),
		},
		Reliability: &ReliabilityOverlay{
			MaxRetries: ptr(2),
			TimeoutMs:  ptr(10000),
		},
	},
	"conversational": {
		Generation: &GenerationOverlay{
			Temperature:    ptr(0.7),
			ResponseFormat: ptr("text"),
		},
		Provider: &ProviderOverlay{
			EnableFallbacks: ptr(true),
		},
	},
	"code": {
		Generation: &GenerationOverlay{
			Temperature: ptr(0.2),
		},
		Context: &ContextOverlay{
			WindowTokens: ptr(16384),
			Truncation:   ptr("sliding_window"),
		},
	},
	// Reasoning models require temperature 1 and do not tolerate
	// mid-stream model swaps.
	"reasoning": {
		Generation: &GenerationOverlay{
			Temperature: ptr(1.0),
		},
		Provider: &ProviderOverlay{
			EnableFallbacks: ptr(false),
		},
		Context: &ContextOverlay{
			Truncation: ptr("summarize"),
		},
		Reliability: &ReliabilityOverlay{
			TimeoutMs: ptr(120000),
		},
	},
}

// PresetOverlay returns the overlay for a named preset. The boolean is
// false for unknown names, which callers treat as "defaults only".
func PresetOverlay(name string) (Overlay, bool) {
	o, ok := presets[name]
	return o, ok
}

// PresetNames lists the recognised preset names.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	return names
}
