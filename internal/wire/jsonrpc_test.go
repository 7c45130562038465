package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDRoundTrip(t *testing.T) {
	for _, id := range []ID{NewIntID(42), NewStringID("abc"), NullID()} {
		raw, err := json.Marshal(id)
		require.NoError(t, err)

		var out ID
		require.NoError(t, json.Unmarshal(raw, &out))
		assert.Equal(t, id.String(), out.String())
	}
}

func TestNullIDIsNotification(t *testing.T) {
	req := Request{JSONRPC: Version, ID: NullID(), Method: "notifications/ignored"}
	assert.True(t, req.IsNotification())

	req.ID = NewIntID(1)
	assert.False(t, req.IsNotification())
}

func TestZeroValueIDIsNull(t *testing.T) {
	var id ID
	assert.True(t, id.IsNull())
	assert.Equal(t, "null", string(id.Raw()))
}

func TestNewResultResponseAndErrorResponse(t *testing.T) {
	resp := NewResultResponse(NewIntID(1), map[string]string{"ok": "yes"})
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)

	errResp := NewErrorResponse(NewIntID(1), CodeMethodNotFound, "nope", nil)
	require.NotNil(t, errResp.Error)
	assert.Equal(t, CodeMethodNotFound, errResp.Error.Code)
}
