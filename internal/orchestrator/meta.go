package orchestrator

import (
	"encoding/json"

	"github.com/skillsenselab/scribeflow/internal/analysis"
)

// Metadata values can arrive either as native Go values (memory bus path)
// or as JSON-decoded values (float64, []any) after a Kafka round trip, so
// the readers accept both shapes.

func metaBool(m map[string]any, key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}

func metaString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func metaInt64(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

func metaFloat64(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

func metaStrings(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func speakersReport(result *analysis.Result) ([]byte, error) {
	return json.MarshalIndent(struct {
		Speakers []analysis.Speaker `json:"speakers"`
		Degraded bool               `json:"degraded,omitempty"`
	}{
		Speakers: result.Speakers,
		Degraded: result.Degraded,
	}, "", "  ")
}
