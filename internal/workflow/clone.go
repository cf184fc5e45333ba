package workflow

// cloneMap returns a deep copy of m. Nested maps and slices are copied;
// other values are copied by assignment. A nil map stays nil.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

func cloneResult(r StepResult) StepResult {
	r.OutputData = cloneMap(r.OutputData)
	return r
}

func cloneResults(rs []StepResult) []StepResult {
	out := make([]StepResult, len(rs))
	for i, r := range rs {
		out[i] = cloneResult(r)
	}
	return out
}

func cloneSignal(s ApprovalSignal) ApprovalSignal {
	s.EditedData = cloneMap(s.EditedData)
	return s
}

// Clone returns a copy of s whose config maps share nothing with s.
func (s StepConfig) Clone() StepConfig {
	s.ValidationConfig = cloneMap(s.ValidationConfig)
	s.PromotionCriteria = cloneMap(s.PromotionCriteria)
	s.MonitoringConfig = cloneMap(s.MonitoringConfig)
	return s
}
