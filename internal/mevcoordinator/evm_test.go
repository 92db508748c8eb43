package mevcoordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rpcHandler(t *testing.T, handle func(method string) (interface{}, *string)) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, errMsg := handle(req.Method)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if errMsg != nil {
			resp["error"] = map[string]string{"message": *errMsg}
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func TestEVMClient_SubmitBundle_Success(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(method string) (interface{}, *string) {
		assert.Equal(t, "eth_sendBundle", method)
		return "0xbundle123", nil
	}))
	defer srv.Close()

	client := NewEVMClient(map[string]string{"ethereum": srv.URL}, zap.NewNop())
	result, err := client.SubmitBundle(context.Background(), "ethereum", EVMSubmission{Txs: []string{"0xsignedtx"}})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "0xbundle123", result.BundleID)
}

func TestEVMClient_SubmitBundle_RelayErrorIsNotSuccess(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(method string) (interface{}, *string) {
		msg := "bundle malformed"
		return nil, &msg
	}))
	defer srv.Close()

	client := NewEVMClient(map[string]string{"ethereum": srv.URL}, zap.NewNop())
	result, err := client.SubmitBundle(context.Background(), "ethereum", EVMSubmission{Txs: []string{"0xsignedtx"}})

	require.NoError(t, err, "a relay-level error is reported in the result, not as a Go error")
	assert.False(t, result.Success)
}

func TestEVMClient_SubmitBundle_UnconfiguredChainIsPolicyRejection(t *testing.T) {
	client := NewEVMClient(map[string]string{"ethereum": "http://unused"}, zap.NewNop())
	result, err := client.SubmitBundle(context.Background(), "polygon", EVMSubmission{})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "no MEV builder configured")
}

func TestEVMClient_WaitForInclusion_ReportsLanded(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(method string) (interface{}, *string) {
		assert.Equal(t, "flashbots_getBundleStats", method)
		bn := uint64(555)
		return bundleStats{IsLanded: true, BlockNumber: &bn}, nil
	}))
	defer srv.Close()

	client := NewEVMClient(map[string]string{"ethereum": srv.URL}, zap.NewNop())
	result, err := client.WaitForInclusion(context.Background(), "ethereum", "0xbundle123")

	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.BlockNumber)
	assert.EqualValues(t, 555, *result.BlockNumber)
}
