package aiclient

import (
	"log/slog"
	"strconv"
)

// NormalizeVerdicts implements the single normalization step spec.md §9
// calls for: the AI response's `issues` field may be an ordered array of
// verdict objects or a string-keyed map ("0", "1", ...) of the same
// objects. Both shapes are equivalent; any other shape yields an empty
// sequence and a logged warning (spec.md §4.3, §9).
func NormalizeVerdicts(resp AiAnalysisResponse, logger *slog.Logger) []Verdict {
	if logger == nil {
		logger = slog.Default()
	}

	raw, ok := resp["issues"]
	if !ok || raw == nil {
		return nil
	}

	switch v := raw.(type) {
	case []any:
		verdicts := make([]Verdict, 0, len(v))
		for _, entry := range v {
			if m, ok := entry.(map[string]any); ok {
				verdicts = append(verdicts, verdictFromMap(m))
			}
		}
		return verdicts
	case map[string]any:
		// Keyed map: "0", "1", ... — order by numeric key isn't guaranteed
		// by the source, and the spec treats the two shapes as equivalent
		// sets of verdicts, so iteration order here doesn't matter.
		verdicts := make([]Verdict, 0, len(v))
		for _, entry := range v {
			if m, ok := entry.(map[string]any); ok {
				verdicts = append(verdicts, verdictFromMap(m))
			}
		}
		return verdicts
	default:
		logger.Warn("ai response issues field had an unrecognized shape", "type", v)
		return nil
	}
}

func verdictFromMap(m map[string]any) Verdict {
	v := Verdict{}

	if id, ok := m["issueId"]; ok {
		v.IssueID = stringify(id)
	} else if id, ok := m["id"]; ok {
		v.IssueID = stringify(id)
	}

	if resolved, ok := m["isResolved"].(bool); ok {
		v.IsResolved = resolved
	} else if status, ok := m["status"].(string); ok {
		v.IsResolved = status == "resolved"
	}

	if reason, ok := m["reason"].(string); ok {
		v.Reason = reason
	}

	return v
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// encoding/json decodes bare numbers as float64; issue ids in this
		// codebase are UUID strings, but tolerate a numeric id defensively.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
