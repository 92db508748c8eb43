package chaingateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/executor"
)

// dataErr implements rpc.DataError, the go-ethereum convention for an RPC
// error that carries ABI-encoded revert data.
type dataErr struct {
	msg  string
	data interface{}
}

func (e dataErr) Error() string          { return e.msg }
func (e dataErr) ErrorData() interface{} { return e.data }

func TestIsRevert_DistinguishesDataErrorFromPlainError(t *testing.T) {
	assert.True(t, isRevert(dataErr{msg: "execution reverted", data: "insufficient liquidity"}))
	assert.False(t, isRevert(errors.New("connection refused")))
	assert.False(t, isRevert(dataErr{msg: "execution reverted", data: nil}), "a DataError with nil data is not a revert")
}

func TestRevertReason_PrefersStringErrorData(t *testing.T) {
	assert.Equal(t, "insufficient liquidity", revertReason(dataErr{msg: "execution reverted", data: "insufficient liquidity"}))
}

func TestRevertReason_FallsBackToErrorStringForNonStringData(t *testing.T) {
	err := dataErr{msg: "execution reverted: 0xdead", data: []byte{0xde, 0xad}}
	assert.Equal(t, err.Error(), revertReason(err))
}

// An unregistered chain name is rejected before any network call is made.
func TestGateway_UnknownChainIsPolicyRejection(t *testing.T) {
	g := &Gateway{handles: map[string]*chainHandle{}, log: zap.NewNop(), retries: 1}

	_, err := g.GetBlockNumber(context.Background(), "unknownchain")

	var policy *executor.PolicyRejection
	require.ErrorAs(t, err, &policy)
}

func TestGateway_ChainID_UnknownChainIsPolicyRejection(t *testing.T) {
	g := &Gateway{handles: map[string]*chainHandle{}, log: zap.NewNop(), retries: 1}

	_, err := g.ChainID("unknownchain")

	var policy *executor.PolicyRejection
	require.ErrorAs(t, err, &policy)
}
