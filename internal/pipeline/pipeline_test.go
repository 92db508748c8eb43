package pipeline

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/executor"
	"github.com/flashloan-executor/executor/internal/mevcoordinator"
)

// --- fakes -----------------------------------------------------------------

type fakeBidder struct {
	bid executor.GasBid
	err error
}

func (f *fakeBidder) GetBid(ctx context.Context, o executor.Opportunity) (executor.GasBid, error) {
	return f.bid, f.err
}

type fakeSimulator struct {
	outcome  executor.SimulationOutcome
	callData []byte
	err      error
	called   bool
}

func (f *fakeSimulator) Simulate(ctx context.Context, o executor.Opportunity, bid executor.GasBid) (executor.SimulationOutcome, []byte, error) {
	f.called = true
	return f.outcome, f.callData, f.err
}

type fakeContracts struct {
	addr common.Address
	ok   bool
}

func (f *fakeContracts) ContractAddress(chain string) (common.Address, bool) {
	return f.addr, f.ok
}

type fakeTxBuilder struct {
	tx     *types.Transaction
	err    error
	called bool
}

func (f *fakeTxBuilder) BuildAndSign(ctx context.Context, chain string, to common.Address, data []byte, bid executor.GasBid) (*types.Transaction, error) {
	f.called = true
	return f.tx, f.err
}

type fakeChain struct {
	sendHash string
	sendErr  error
	receipt  *types.Receipt
	recvErr  error
	sendCalled bool
}

func (f *fakeChain) SendRawTransaction(ctx context.Context, chain string, tx *types.Transaction) (string, error) {
	f.sendCalled = true
	return f.sendHash, f.sendErr
}

func (f *fakeChain) GetReceipt(ctx context.Context, chain, txHash string) (*types.Receipt, error) {
	return f.receipt, f.recvErr
}

type fakeMev struct {
	outcome   mevcoordinator.Outcome
	available bool
	called    bool
}

func (f *fakeMev) SubmitAndAwait(ctx context.Context, o executor.Opportunity, signedTxHex string) mevcoordinator.Outcome {
	f.called = true
	return f.outcome
}

func (f *fakeMev) Available(chain string) bool {
	return f.available
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	result executor.Result
}

func (r *recordingPublisher) PublishStatus(ctx context.Context, update executor.StatusUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "status:"+string(update.StatusTag))
}

func (r *recordingPublisher) PublishResult(ctx context.Context, res executor.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "result")
	r.result = res
}

func (r *recordingPublisher) resultCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == "result" {
			n++
		}
	}
	return n
}

func sampleOpportunity() executor.Opportunity {
	return executor.Opportunity{
		ID:             "opp-1",
		ChainName:      "ethereum",
		Strategy:       executor.StrategyCrossDex,
		Amount:         decimal.NewFromInt(10000),
		ExpectedProfit: decimal.NewFromInt(600),
		Deadline:       time.Now().Add(time.Hour),
	}
}

// P5: a deadline already in the past is rejected before any bid is requested.
func TestPipeline_RejectsOnDeadlineExceeded(t *testing.T) {
	o := sampleOpportunity()
	o.Deadline = time.Now().Add(-time.Minute)

	bidder := &fakeBidder{}
	sim := &fakeSimulator{}
	pub := &recordingPublisher{}

	p := &Pipeline{GasBidder: bidder, Simulator: sim, Log: zap.NewNop(), Results: pub}
	p.Run(context.Background(), o)

	assert.False(t, sim.called, "simulator must not be invoked once the deadline has passed")
	assert.Equal(t, 1, pub.resultCount(), "P1: exactly one Result is published")
	assert.False(t, pub.result.Success)
	assert.Equal(t, "deadline exceeded", pub.result.Reason)
}

// P3: an unprofitable simulation is rejected and never reaches tx building/submission.
func TestPipeline_RejectsUnprofitableSimulation(t *testing.T) {
	o := sampleOpportunity()

	bidder := &fakeBidder{bid: executor.GasBid{GasPriceGwei: decimal.NewFromInt(50), GasLimit: 300000, EstimatedCostUSD: decimal.NewFromInt(40)}}
	sim := &fakeSimulator{outcome: executor.SimulationOutcome{Feasible: false}}
	contracts := &fakeContracts{ok: true}
	txb := &fakeTxBuilder{}
	chain := &fakeChain{}
	pub := &recordingPublisher{}

	p := &Pipeline{GasBidder: bidder, Simulator: sim, Contracts: contracts, TxBuilder: txb, Chain: chain, Log: zap.NewNop(), Results: pub}
	p.Run(context.Background(), o)

	assert.False(t, txb.called, "P3: no transaction is built for an infeasible simulation")
	assert.False(t, chain.sendCalled)
	assert.Equal(t, 1, pub.resultCount())
	assert.False(t, pub.result.Success)
	assert.Equal(t, "unprofitable", pub.result.Reason)
}

// P1/P2: the Result is published exactly once, strictly before the terminal
// StatusUpdate (confirmed), for a successful standard submission.
func TestPipeline_StandardSuccess_ResultBeforeTerminalStatus(t *testing.T) {
	o := sampleOpportunity()

	bidder := &fakeBidder{bid: executor.GasBid{GasPriceGwei: decimal.NewFromInt(50), GasLimit: 300000, EstimatedCostUSD: decimal.NewFromInt(25)}}
	sim := &fakeSimulator{outcome: executor.SimulationOutcome{Feasible: true, EstimatedNetProfitUSD: decimal.NewFromInt(566)}}
	contracts := &fakeContracts{ok: true, addr: common.HexToAddress("0xC0A")}
	tx := types.NewTransaction(0, common.HexToAddress("0xC0A"), nil, 21000, nil, nil)
	txb := &fakeTxBuilder{tx: tx}
	chain := &fakeChain{
		sendHash: "0xabc",
		receipt:  &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)},
	}
	pub := &recordingPublisher{}
	mev := &fakeMev{available: false}

	p := &Pipeline{GasBidder: bidder, Simulator: sim, Contracts: contracts, TxBuilder: txb, Chain: chain, Mev: mev, Log: zap.NewNop(), Results: pub}
	p.Run(context.Background(), o)

	require.Equal(t, 1, pub.resultCount())
	assert.True(t, pub.result.Success)
	assert.Equal(t, "0xabc", *pub.result.TransactionHash)

	resultIdx, terminalStatusIdx := -1, -1
	for i, e := range pub.events {
		if e == "result" {
			resultIdx = i
		}
		if e == "status:confirmed" {
			terminalStatusIdx = i
		}
	}
	require.NotEqual(t, -1, resultIdx)
	require.NotEqual(t, -1, terminalStatusIdx)
	assert.Less(t, resultIdx, terminalStatusIdx, "P2: Result must be published before the terminal status update")
}

// The MEV path is taken only when the opportunity opts in and a provider is
// available for the chain; otherwise the standard path runs (spec §4.7).
func TestPipeline_MevPath_UsedWhenOptedInAndAvailable(t *testing.T) {
	o := sampleOpportunity()
	o.UseMev = true

	bidder := &fakeBidder{bid: executor.GasBid{GasPriceGwei: decimal.NewFromInt(50), GasLimit: 300000, EstimatedCostUSD: decimal.NewFromInt(25)}}
	sim := &fakeSimulator{outcome: executor.SimulationOutcome{Feasible: true, EstimatedNetProfitUSD: decimal.NewFromInt(566)}}
	contracts := &fakeContracts{ok: true, addr: common.HexToAddress("0xC0A")}
	tx := types.NewTransaction(0, common.HexToAddress("0xC0A"), nil, 21000, nil, nil)
	txb := &fakeTxBuilder{tx: tx}
	chain := &fakeChain{}
	bn := uint64(42)
	mev := &fakeMev{available: true, outcome: mevcoordinator.Outcome{Success: true, Provider: executor.MevProviderSuave, BundleID: "bundle-1", BlockNumber: &bn}}
	pub := &recordingPublisher{}

	p := &Pipeline{GasBidder: bidder, Simulator: sim, Contracts: contracts, TxBuilder: txb, Chain: chain, Mev: mev, Log: zap.NewNop(), Results: pub}
	p.Run(context.Background(), o)

	assert.True(t, mev.called)
	assert.False(t, chain.sendCalled, "standard submission must not run once the MEV path is taken")
	require.Equal(t, 1, pub.resultCount())
	assert.True(t, pub.result.Success)
	assert.True(t, pub.result.UsedMev)
	assert.Equal(t, executor.MevProviderSuave, pub.result.MevProvider)
}

// spec §7: no exception escapes the pipeline — a downstream error becomes a
// terminal Failed Result instead of a panic or a propagated error.
func TestPipeline_GasBidderError_BecomesFailedResult(t *testing.T) {
	o := sampleOpportunity()

	bidder := &fakeBidder{err: &executor.TransportError{Op: "gasbidder.GetBid", Err: assertErr{"rpc down"}}}
	sim := &fakeSimulator{}
	pub := &recordingPublisher{}

	p := &Pipeline{GasBidder: bidder, Simulator: sim, Log: zap.NewNop(), Results: pub}
	p.Run(context.Background(), o)

	assert.False(t, sim.called)
	require.Equal(t, 1, pub.resultCount())
	assert.False(t, pub.result.Success)
	assert.Contains(t, pub.events, "status:failed")
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
