package jsonrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatchRequest(t *testing.T) {
	reqs, isBatch, err := ParseBatchRequest([]byte(`  {"jsonrpc":"2.0","method":"batch_stats","id":1}`))
	require.NoError(t, err)
	assert.False(t, isBatch)
	require.Len(t, reqs, 1)
	assert.Equal(t, "batch_stats", reqs[0].Method)
	assert.NoError(t, reqs[0].Validate())

	reqs, isBatch, err = ParseBatchRequest([]byte(`[{"jsonrpc":"2.0","method":"a","id":1},{"jsonrpc":"2.0","method":"b","id":"x"}]`))
	require.NoError(t, err)
	assert.True(t, isBatch)
	require.Len(t, reqs, 2)
	assert.Equal(t, "x", reqs[1].ID.Value())

	_, _, err = ParseBatchRequest([]byte(`[]`))
	assert.Error(t, err)

	_, _, err = ParseBatchRequest([]byte(`   `))
	assert.Error(t, err)
}

func TestRequest_Validate(t *testing.T) {
	assert.Error(t, (&Request{JSONRPC: "1.0", Method: "m"}).Validate())
	assert.Error(t, (&Request{JSONRPC: Version}).Validate())
}

func TestRequest_PositionalParams(t *testing.T) {
	req := &Request{Params: []byte(`["users.delete", {"id": 7}]`)}
	params, err := req.PositionalParams()
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.JSONEq(t, `{"id": 7}`, string(params[1]))

	req = &Request{}
	params, err = req.PositionalParams()
	require.NoError(t, err)
	assert.Empty(t, params)

	req = &Request{Params: []byte(`{"name": "x"}`)}
	_, err = req.PositionalParams()
	assert.Error(t, err)
}

func TestParseBatchRequest_NullElement(t *testing.T) {
	reqs, isBatch, err := ParseBatchRequest([]byte(`[{"jsonrpc":"2.0","method":"a","id":1}, null]`))
	require.NoError(t, err)
	assert.True(t, isBatch)
	require.Len(t, reqs, 2)
	assert.NotNil(t, reqs[0])
	assert.Nil(t, reqs[1])
}

func TestRequest_IsNotification(t *testing.T) {
	req, err := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"batch_stats"}`))
	require.NoError(t, err)
	assert.True(t, req.IsNotification())

	req, err = ParseRequest([]byte(`{"jsonrpc":"2.0","method":"batch_stats","id":0}`))
	require.NoError(t, err)
	assert.False(t, req.IsNotification())
}

func TestResponse_KeepsID(t *testing.T) {
	var id ID
	require.NoError(t, id.UnmarshalJSON([]byte(`"abc"`)))

	resp, err := NewResponse(id, map[string]int{"pending": 2})
	require.NoError(t, err)
	assert.False(t, resp.HasError())

	data, err := resp.Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"abc","result":{"pending":2}}`, string(data))

	data, err = NewErrorResponse(NewIDNull(), ErrInvalidRequest).Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"Invalid Request"}}`, string(data))
}
