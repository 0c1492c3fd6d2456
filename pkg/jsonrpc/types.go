package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

// Error represents a JSON-RPC 2.0 error
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// NewError creates a new JSON-RPC error
func NewError(code int, message string, data interface{}) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest creates a JSON-RPC request with marshalled params
func NewRequest(id interface{}, method string, params interface{}) (*Request, error) {
	req := &Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      id,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = raw
	}
	return req, nil
}

// NewResponse creates a successful JSON-RPC response
func NewResponse(id interface{}, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{
		JSONRPC: "2.0",
		Result:  raw,
		ID:      id,
	}, nil
}

// NewErrorResponse creates an error JSON-RPC response
func NewErrorResponse(id interface{}, err *Error) *Response {
	return &Response{
		JSONRPC: "2.0",
		Error:   err,
		ID:      id,
	}
}

// ResultString unmarshals the response result as a JSON string.
// Upstream hex quantities (gas price, balances, estimates) arrive this way.
func (r *Response) ResultString() (string, bool) {
	if r == nil || r.Error != nil || len(r.Result) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(r.Result, &s); err != nil {
		return "", false
	}
	return s, true
}

// PositionalParams unmarshals the request params as a positional array.
func (r *Request) PositionalParams() ([]json.RawMessage, error) {
	if len(r.Params) == 0 {
		return nil, nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return nil, fmt.Errorf("params are not a positional array: %w", err)
	}
	return params, nil
}
