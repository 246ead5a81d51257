package profile

// ActionConfig produces the per-invocation profile for one action by
// overlaying recognised action params on the resolved generation and
// provider sections. The resolved profile is not mutated. Reliability
// params are honoured too so a single action can tighten its own
// deadline without a profile edit.
func ActionConfig(resolved Config, params map[string]any) Config {
	out := resolved
	if len(params) == 0 {
		return out
	}

	if v, ok := paramString(params, "provider"); ok {
		out.Provider.Name = v
	}
	if v, ok := paramString(params, "model"); ok {
		out.Provider.Model = v
	}
	if v, ok := paramStringSlice(params, "fallbackModels"); ok {
		out.Provider.FallbackModels = v
	}
	if v, ok := paramBool(params, "enableFallbacks"); ok {
		out.Provider.EnableFallbacks = v
	}

	if v, ok := paramFloat(params, "temperature"); ok {
		out.Generation.Temperature = v
	}
	if v, ok := paramFloat(params, "topP"); ok {
		out.Generation.TopP = v
	}
	if v, ok := paramInt(params, "maxTokens"); ok {
		out.Generation.MaxTokens = v
	}
	if v, ok := paramString(params, "responseFormat"); ok {
		out.Generation.ResponseFormat = v
	}
	if v, ok := paramStringSlice(params, "stopSequences"); ok {
		out.Generation.StopSequences = v
	}

	if v, ok := paramInt(params, "timeoutMs"); ok {
		out.Reliability.TimeoutMs = v
	}
	if v, ok := paramInt(params, "maxRetries"); ok {
		out.Reliability.MaxRetries = v
	}
	return out
}

func paramString(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok && v != ""
}

func paramBool(params map[string]any, key string) (bool, bool) {
	v, ok := params[key].(bool)
	return v, ok
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func paramInt(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func paramStringSlice(params map[string]any, key string) ([]string, bool) {
	switch v := params[key].(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
