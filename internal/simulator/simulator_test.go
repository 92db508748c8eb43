package simulator

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/chaingateway"
	"github.com/flashloan-executor/executor/internal/executor"
)

type fakeCaller struct {
	result []byte
	err    error
}

func (f *fakeCaller) SimulateCall(ctx context.Context, chain string, msg chaingateway.CallMsg) ([]byte, error) {
	return f.result, f.err
}

func newTestSimulator(t *testing.T, caller ChainCaller) *Simulator {
	t.Helper()
	sim, err := New([]ContractBinding{{ChainName: "ethereum", ContractAddress: common.HexToAddress("0xC0A")}}, caller, zap.NewNop())
	require.NoError(t, err)
	return sim
}

func profitableEncodedOutput(t *testing.T, sim *Simulator) []byte {
	t.Helper()
	method := sim.arbABI.Methods["executeCrossDexArbitrage"]
	packed, err := method.Outputs.Pack(decimal.NewFromInt(100).BigInt())
	require.NoError(t, err)
	return packed
}

// Scenario 1 (spec §8): Profitable CrossDex, net = 600 - 25 - 9 = 566.
func TestSimulate_ProfitableCrossDex(t *testing.T) {
	caller := &fakeCaller{}
	sim := newTestSimulator(t, caller)
	caller.result = profitableEncodedOutput(t, sim)

	o := executor.Opportunity{
		ChainName:      "ethereum",
		Asset:          "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		Amount:         decimal.NewFromInt(10000),
		Strategy:       executor.StrategyCrossDex,
		SourceDex:      "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		TargetDex:      "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F",
		MinProfit:      decimal.NewFromInt(500),
		ExpectedProfit: decimal.NewFromInt(600),
	}
	bid := executor.GasBid{GasPriceGwei: decimal.NewFromInt(50), GasLimit: 300000, EstimatedCostUSD: decimal.NewFromInt(25)}

	outcome, _, err := sim.Simulate(context.Background(), o, bid)
	require.NoError(t, err)

	assert.True(t, outcome.Feasible)
	assert.True(t, outcome.EstimatedNetProfitUSD.Equal(decimal.NewFromFloat(566)), "got %s", outcome.EstimatedNetProfitUSD)
}

// Scenario 2 (spec §8): Unprofitable MultiHop, net = 5 - 40 - 0.09 = -35.09.
func TestSimulate_UnprofitableMultiHop(t *testing.T) {
	caller := &fakeCaller{}
	sim := newTestSimulator(t, caller)
	method := sim.arbABI.Methods["executeMultiHopArbitrage"]
	packed, err := method.Outputs.Pack(decimal.NewFromInt(1).BigInt())
	require.NoError(t, err)
	caller.result = packed

	o := executor.Opportunity{
		ChainName:      "ethereum",
		Asset:          "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		Amount:         decimal.NewFromInt(100),
		Strategy:       executor.StrategyMultiHop,
		Path:           []string{"0xWETH0000000000000000000000000000000001", "0xUSDC0000000000000000000000000000000002", "0xWETH0000000000000000000000000000000001"},
		MinProfit:      decimal.NewFromInt(5),
		ExpectedProfit: decimal.NewFromInt(5),
	}
	bid := executor.GasBid{GasPriceGwei: decimal.NewFromInt(80), GasLimit: 400000, EstimatedCostUSD: decimal.NewFromInt(40)}

	outcome, _, err := sim.Simulate(context.Background(), o, bid)
	require.NoError(t, err)

	assert.False(t, outcome.Feasible)
	assert.True(t, outcome.EstimatedNetProfitUSD.Equal(decimal.NewFromFloat(-35.09)), "got %s", outcome.EstimatedNetProfitUSD)
}

// Scenario 3 (spec §8): revert at simulation.
func TestSimulate_Revert(t *testing.T) {
	caller := &fakeCaller{err: &executor.RevertError{Reason: "insufficient liquidity"}}
	sim := newTestSimulator(t, caller)

	o := executor.Opportunity{
		ChainName:      "ethereum",
		Asset:          "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		Amount:         decimal.NewFromInt(100),
		Strategy:       executor.StrategyCrossDex,
		SourceDex:      "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		TargetDex:      "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F",
		ExpectedProfit: decimal.NewFromInt(50),
	}
	bid := executor.GasBid{GasPriceGwei: decimal.NewFromInt(50), GasLimit: 300000, EstimatedCostUSD: decimal.NewFromInt(10)}

	outcome, _, err := sim.Simulate(context.Background(), o, bid)
	require.NoError(t, err)

	assert.False(t, outcome.Feasible)
	assert.NotEmpty(t, outcome.RevertReason)
}

// The open question resolved in DESIGN.md: an empty/unparseable successful
// call result is treated as a revert, not a profit.
func TestSimulate_EmptyResultTreatedAsRevert(t *testing.T) {
	caller := &fakeCaller{result: []byte{}}
	sim := newTestSimulator(t, caller)

	o := executor.Opportunity{
		ChainName:      "ethereum",
		Asset:          "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		Strategy:       executor.StrategyCrossDex,
		SourceDex:      "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		TargetDex:      "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F",
		Amount:         decimal.NewFromInt(10),
		ExpectedProfit: decimal.NewFromInt(1000),
	}
	bid := executor.GasBid{GasPriceGwei: decimal.NewFromInt(1), GasLimit: 21000, EstimatedCostUSD: decimal.NewFromInt(1)}

	outcome, _, err := sim.Simulate(context.Background(), o, bid)
	require.NoError(t, err)

	assert.False(t, outcome.Feasible)
}

func TestSimulate_UnknownStrategyRejected(t *testing.T) {
	caller := &fakeCaller{}
	sim := newTestSimulator(t, caller)

	o := executor.Opportunity{ChainName: "ethereum", Strategy: "Unknown"}
	_, _, err := sim.Simulate(context.Background(), o, executor.GasBid{GasPriceGwei: decimal.NewFromInt(1), GasLimit: 1, EstimatedCostUSD: decimal.NewFromInt(1)})

	var policy *executor.PolicyRejection
	require.ErrorAs(t, err, &policy)
}
