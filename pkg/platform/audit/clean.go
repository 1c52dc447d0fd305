package audit

import "strings"

// CleanText makes a request-derived string storable in any backend: invalid UTF-8 sequences
// become U+FFFD and NUL bytes are dropped. PostgreSQL rejects both in TEXT and JSONB.
func CleanText(s string) string {
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

// CleanFields returns a copy of f with CleanText applied to every key and string value,
// nested maps and slices included.
func CleanFields(f Fields) Fields {
	if f == nil {
		return nil
	}
	return Fields(cleanMap(f))
}

func cleanMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[CleanText(k)] = cleanValue(v)
	}
	return out
}

func cleanValue(v any) any {
	switch t := v.(type) {
	case string:
		return CleanText(t)
	case Fields:
		return cleanMap(t)
	case map[string]any:
		return cleanMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cleanValue(item)
		}
		return out
	default:
		return v
	}
}
