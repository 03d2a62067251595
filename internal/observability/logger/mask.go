package logger

import "strings"

var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"authorization",
	"wallet_reference",
}

// MaskIP hides the host part of an address, keeping enough for operators
// to correlate fraud findings without logging full client IPs.
func MaskIP(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if idx := strings.LastIndex(value, "."); idx >= 0 {
		return value[:idx] + ".xxx"
	}
	if idx := strings.LastIndex(value, ":"); idx >= 0 {
		return value[:idx] + ":xxxx"
	}
	return maskLast4(value)
}

// MaskJSON masks known-sensitive keys in a payload, recursing into
// nested maps. The input map is not modified.
func MaskJSON(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	masked := make(map[string]any, len(payload))
	for key, value := range payload {
		switch typed := value.(type) {
		case map[string]any:
			masked[key] = MaskJSON(typed)
		case string:
			if isSensitiveKey(key) {
				masked[key] = maskLast4(typed)
			} else {
				masked[key] = typed
			}
		default:
			masked[key] = value
		}
	}
	return masked
}

func isSensitiveKey(key string) bool {
	lowered := strings.ToLower(strings.TrimSpace(key))
	for _, candidate := range sensitiveKeys {
		if strings.Contains(lowered, candidate) {
			return true
		}
	}
	return false
}

func maskLast4(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****" + value
	}
	return "****" + value[len(value)-4:]
}
