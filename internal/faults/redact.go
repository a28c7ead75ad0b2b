package faults

import (
	"fmt"
	"strings"
)

// maxLoggedArrayLen bounds array sizes in logged payloads; longer arrays
// are truncated with a residual-count marker.
const maxLoggedArrayLen = 10

var secretKeys = map[string]struct{}{
	"apikey":   {},
	"api_key":  {},
	"secret":   {},
	"token":    {},
	"auth":     {},
	"password": {},
}

// Redact returns a deep copy of the payload with secret-bearing fields
// replaced by "***" and long arrays truncated. Safe to log.
func Redact(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if _, secret := secretKeys[strings.ToLower(k)]; secret {
			out[k] = "***"
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return Redact(val)
	case []interface{}:
		if len(val) <= maxLoggedArrayLen {
			out := make([]interface{}, len(val))
			for i, item := range val {
				out[i] = redactValue(item)
			}
			return out
		}
		out := make([]interface{}, 0, maxLoggedArrayLen+1)
		for i := 0; i < maxLoggedArrayLen; i++ {
			out = append(out, redactValue(val[i]))
		}
		out = append(out, fmt.Sprintf("...(+%d more)", len(val)-maxLoggedArrayLen))
		return out
	default:
		return v
	}
}
