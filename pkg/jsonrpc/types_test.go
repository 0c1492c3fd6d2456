package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(1, "eth_getBalance", []interface{}{"0xabc", "latest"})
	require.NoError(t, err)

	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, "eth_getBalance", req.Method)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"eth_getBalance","params":["0xabc","latest"],"id":1}`, string(data))
}

func TestNewResponse(t *testing.T) {
	resp, err := NewResponse(7, "0x1")
	require.NoError(t, err)

	result, ok := resp.ResultString()
	require.True(t, ok)
	assert.Equal(t, "0x1", result)
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(7, NewError(InternalError, "boom", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, InternalError, resp.Error.Code)
	assert.Equal(t, "boom", resp.Error.Message)

	_, ok := resp.ResultString()
	assert.False(t, ok)
}

func TestResponse_ResultString(t *testing.T) {
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","result":"0x5208","id":1}`), &resp))

	result, ok := resp.ResultString()
	require.True(t, ok)
	assert.Equal(t, "0x5208", result)

	// Non-string results are not coerced.
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","result":{"a":1},"id":1}`), &resp))
	_, ok = resp.ResultString()
	assert.False(t, ok)
}

func TestRequest_PositionalParams(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"m","params":[{"from":"0x1"},"latest"],"id":1}`), &req))

	params, err := req.PositionalParams()
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.JSONEq(t, `{"from":"0x1"}`, string(params[0]))

	req.Params = json.RawMessage(`{"named":"params"}`)
	_, err = req.PositionalParams()
	assert.Error(t, err)

	req.Params = nil
	params, err = req.PositionalParams()
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestError_Error(t *testing.T) {
	err := NewError(ParseError, "bad json", nil)
	assert.Contains(t, err.Error(), "bad json")
}
