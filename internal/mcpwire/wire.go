// Package mcpwire holds the opaque JSON-RPC line codec shared by both bridge
// directions. Payloads stay raw bytes end to end; the bridge never interprets
// method names or rewrites message bodies.
package mcpwire

import (
	"bytes"
	"encoding/json"
)

// IsObject reports whether body parses as a single JSON object. Local stdin
// lines only need to be JSON objects to be forwarded; no JSON-RPC fields are
// required.
func IsObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}

// ValidateEnvelope checks a basic JSON-RPC 2.0 envelope: a request or
// notification carries a string method; a response carries a string or number
// id plus result or error. Inbound SSE data that fails this check is dropped
// so non-protocol JSON blobs never reach the local client.
func ValidateEnvelope(body []byte) bool {
	var env struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  json.RawMessage `json:"method"`
		Result  json.RawMessage `json:"result"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil {
		return false
	}
	if env.JSONRPC != "2.0" {
		return false
	}
	if env.Method != nil {
		return len(env.Method) > 0 && env.Method[0] == '"'
	}
	// Responses need a string or number id; null id is rejected on purpose.
	if len(env.ID) == 0 {
		return false
	}
	switch c := env.ID[0]; {
	case c == '"':
	case c == '-' || (c >= '0' && c <= '9'):
	default:
		return false
	}
	return env.Result != nil || env.Error != nil
}
