package policy

import (
	"fmt"
	"strings"

	audit "storefront/pkg/platform/audit"
)

// Classification is an ordered sensitivity tier.
type Classification int

const (
	Public Classification = iota
	Internal
	Confidential
	Restricted
)

func (c Classification) String() string {
	switch c {
	case Public:
		return "PUBLIC"
	case Internal:
		return "INTERNAL"
	case Confidential:
		return "CONFIDENTIAL"
	case Restricted:
		return "RESTRICTED"
	default:
		return fmt.Sprintf("Classification(%d)", int(c))
	}
}

// Classify derives a classification from field names only, never from
// values. Nested keys count.
func (e *Engine) Classify(data audit.Fields) Classification {
	if len(data) == 0 {
		return Public
	}
	return e.classifyMap(data, Internal)
}

func (e *Engine) classifyMap(m map[string]any, floor Classification) Classification {
	c := floor
	for key, v := range m {
		switch {
		case e.isSensitive(key):
			return Restricted
		case e.isPII(key):
			c = max(c, Confidential)
		}
		c = max(c, e.classifyValue(v, floor))
		if c == Restricted {
			return c
		}
	}
	return c
}

func (e *Engine) classifyValue(v any, floor Classification) Classification {
	switch t := v.(type) {
	case audit.Fields:
		return e.classifyMap(t, floor)
	case map[string]any:
		return e.classifyMap(t, floor)
	case []any:
		c := floor
		for _, item := range t {
			c = max(c, e.classifyValue(item, floor))
		}
		return c
	default:
		return floor
	}
}

// Sanitize returns a copy of data with sensitive fields redacted and PII
// fields masked. Redaction applies whatever the payload's classification.
// The input is not modified and the operation is idempotent.
func (e *Engine) Sanitize(data audit.Fields) audit.Fields {
	if data == nil {
		return nil
	}
	return audit.Fields(e.sanitizeMap(data))
}

func (e *Engine) sanitizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, v := range m {
		switch {
		case e.isSensitive(key):
			out[key] = RedactionMarker
		case e.isPII(key):
			out[key] = maskValue(key, v)
		default:
			out[key] = e.sanitizeValue(v)
		}
	}
	return out
}

func (e *Engine) sanitizeValue(v any) any {
	switch t := v.(type) {
	case audit.Fields:
		return e.sanitizeMap(t)
	case map[string]any:
		return e.sanitizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = e.sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func (e *Engine) isSensitive(key string) bool {
	return matchesAny(normalizeKey(key), e.sensitive)
}

func (e *Engine) isPII(key string) bool {
	return matchesAny(normalizeKey(key), e.pii)
}

func matchesAny(key string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}

// maskValue masks every leaf under a PII key.
func maskValue(key string, v any) any {
	switch t := v.(type) {
	case nil, bool:
		return v
	case string:
		if strings.Contains(normalizeKey(key), "email") {
			return MaskEmail(t)
		}
		return maskKeep(t, 2)
	case audit.Fields:
		return maskMap(key, t)
	case map[string]any:
		return maskMap(key, t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = maskValue(key, item)
		}
		return out
	default:
		return maskKeep(fmt.Sprint(t), 2)
	}
}

func maskMap(key string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = maskValue(key, v)
	}
	return out
}

// MaskEmail keeps the first two characters of the local part and of the
// domain and masks the rest, e.g. "john.doe@example.com" becomes
// "jo******@ex*********". Values without "@" keep their first two characters.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return maskKeep(email, 2)
	}
	return maskKeep(email[:at], 2) + "@" + maskKeep(email[at+1:], 2)
}

// maskKeep keeps the first n runes and replaces the rest one-for-one with '*',
// which is what makes masking idempotent. At least one rune is always masked,
// so a short value is never returned in full.
func maskKeep(s string, n int) string {
	runes := []rune(s)
	n = min(n, len(runes)-1)
	for i := max(n, 0); i < len(runes); i++ {
		runes[i] = '*'
	}
	return string(runes)
}

func normalizeKey(key string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "", ".", "").Replace(strings.ToLower(key))
}

func normalizeAll(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if n := normalizeKey(k); n != "" {
			out = append(out, n)
		}
	}
	return out
}
