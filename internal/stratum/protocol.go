// Package stratum implements the per-connection Stratum v1 JSON-RPC
// session: subscribe/authorize/configure/submit, keepalive nudging,
// and disconnect cleanup.
package stratum

import (
	"encoding/json"
	"fmt"

	"github.com/radiant-proxy/rxdproxy/internal/shares"
)

// Stratum v1 error codes this package can raise directly. The codes a
// rejected submission carries (20-23) come from internal/shares, which
// owns the validation logic that produces them.
const (
	ErrOther         = shares.ErrOther
	ErrStaleJob      = shares.ErrStaleJob
	ErrDuplicate     = shares.ErrDuplicate
	ErrLowDifficulty = shares.ErrLowDifficulty
	ErrUnauthorized  = 24
	ErrNotSubscribed = 25
)

// Request is a JSON-RPC request from a miner.
type Request struct {
	ID     interface{}       `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// rawRequest mirrors Request but leaves params as raw JSON so
// UnmarshalJSON can accept both the positional-array form the spec
// names and a named-object form some mining software sends instead.
type rawRequest struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// UnmarshalJSON accepts params as either a JSON array (positional) or a
// JSON object (named); the object form is normalized to a single-element
// Params slice so paramNamed can still pick fields out of it.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw rawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.ID = raw.ID
	r.Method = raw.Method

	if len(raw.Params) == 0 {
		r.Params = nil
		return nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw.Params, &arr); err == nil {
		r.Params = arr
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw.Params, &obj); err == nil {
		r.Params = []json.RawMessage{raw.Params}
		return nil
	}

	return fmt.Errorf("stratum: params is neither an array nor an object")
}

// Response is a JSON-RPC response sent to a miner.
type Response struct {
	ID     interface{}   `json:"id"`
	Result interface{}   `json:"result"`
	Error  *StratumError `json:"error"`
}

// Notification is a server-initiated message; id is always null.
type Notification struct {
	ID     interface{} `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// StratumError is the three-element error array a rejected request
// carries back to the miner.
type StratumError struct {
	Code    int
	Message string
}

func (e *StratumError) Error() string {
	return fmt.Sprintf("stratum error %d: %s", e.Code, e.Message)
}

// MarshalJSON encodes a StratumError as the [code, message, null] array
// the Stratum v1 wire format expects.
func (e *StratumError) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Code, e.Message, nil})
}

func newError(code int, msg string) *StratumError {
	return &StratumError{Code: code, Message: msg}
}

// ParseRequest parses a single newline-delimited JSON-RPC line.
func ParseRequest(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("stratum: invalid JSON-RPC: %w", err)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("stratum: missing method")
	}
	return &req, nil
}

// EncodeResponse marshals a response with a trailing newline.
func EncodeResponse(id interface{}, result interface{}, stratumErr *StratumError) []byte {
	resp := Response{ID: id, Result: result, Error: stratumErr}
	data, _ := json.Marshal(resp)
	return append(data, '\n')
}

// EncodeNotification marshals a server notification with a trailing
// newline.
func EncodeNotification(method string, params interface{}) []byte {
	notif := Notification{ID: nil, Method: method, Params: params}
	data, _ := json.Marshal(notif)
	return append(data, '\n')
}

// paramString extracts the positional string parameter at index. It
// does not look at named fields; callers that accept the named form
// fall back to paramNamed/firstParamNamed themselves.
func paramString(params []json.RawMessage, index int) (string, error) {
	if index >= len(params) {
		return "", fmt.Errorf("param index %d out of range (have %d)", index, len(params))
	}
	var s string
	if err := json.Unmarshal(params[index], &s); err != nil {
		return "", fmt.Errorf("param %d not a string: %w", index, err)
	}
	return s, nil
}

// paramNamed extracts a field from the last params entry if it decodes
// as a JSON object, used for named-parameter submit/authorize variants.
func paramNamed(params []json.RawMessage, field string) (string, bool) {
	if len(params) == 0 {
		return "", false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(params[len(params)-1], &obj); err != nil {
		return "", false
	}
	raw, ok := obj[field]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// firstParamNamed tries each field name in order, returning the first
// one present — mining software disagrees on names like
// extranonce2/extranonce2_hex for the same value.
func firstParamNamed(params []json.RawMessage, fields ...string) (string, bool) {
	for _, f := range fields {
		if v, ok := paramNamed(params, f); ok {
			return v, true
		}
	}
	return "", false
}
