// Package pipeline implements the Opportunity Pipeline (spec §4.7, C7): the
// per-opportunity state machine that enforces deadlines, dispatches to the
// Gas Bidder, Simulator, Tx Builder/Signer, Chain Gateway, and MEV
// Coordinator, and records PipelineRun timing.
//
// Grounded on the redesign of crypto-wallet/internal/blockchain/
// transaction_manager.go's shared-mutex anti-pattern (DESIGN.md Open
// Question 1) and on smart_contract_engine.go's call-sequencing shape.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/executor"
	"github.com/flashloan-executor/executor/internal/mevcoordinator"
	"github.com/flashloan-executor/executor/internal/metrics"
)

const (
	receiptPollInterval    = 2 * time.Second
	receiptPollMaxAttempts = 60
)

// GasBidder is the subset of internal/gasbidder the pipeline needs.
type GasBidder interface {
	GetBid(ctx context.Context, o executor.Opportunity) (executor.GasBid, error)
}

// Simulator is the subset of internal/simulator the pipeline needs.
type Simulator interface {
	Simulate(ctx context.Context, o executor.Opportunity, bid executor.GasBid) (executor.SimulationOutcome, []byte, error)
}

// ContractResolver maps an opportunity's chain to its on-chain target.
type ContractResolver interface {
	ContractAddress(chain string) (common.Address, bool)
}

// TxBuilder is the subset of internal/txbuilder the pipeline needs.
type TxBuilder interface {
	BuildAndSign(ctx context.Context, chain string, to common.Address, data []byte, bid executor.GasBid) (*types.Transaction, error)
}

// ChainSubmitter is the subset of internal/chaingateway the pipeline needs
// for the standard (non-MEV) submission branch.
type ChainSubmitter interface {
	SendRawTransaction(ctx context.Context, chain string, tx *types.Transaction) (string, error)
	GetReceipt(ctx context.Context, chain, txHash string) (*types.Receipt, error)
}

// MevSubmitter is the subset of internal/mevcoordinator the pipeline needs.
type MevSubmitter interface {
	SubmitAndAwait(ctx context.Context, o executor.Opportunity, signedTxHex string) mevcoordinator.Outcome
	Available(chain string) bool
}

// ResultPublisher is the subset of internal/resultpublisher the pipeline needs.
type ResultPublisher interface {
	PublishStatus(ctx context.Context, update executor.StatusUpdate)
	PublishResult(ctx context.Context, r executor.Result)
}

// Pipeline wires the components above into the per-opportunity state
// machine. All fields are immutable, shared read-only references
// (spec §5 shared state); no field here is ever mutated after construction.
type Pipeline struct {
	GasBidder GasBidder
	Simulator Simulator
	Contracts ContractResolver
	TxBuilder TxBuilder
	Chain     ChainSubmitter
	Mev       MevSubmitter
	Results   ResultPublisher
	Log       *zap.Logger

	// Metrics is optional; a nil Metrics disables recording.
	Metrics *metrics.Recorder
}

// Run executes one opportunity end to end, creating a fresh PipelineRun that
// lives only for the duration of this call — no state survives it, and no
// mutex protects it, because nothing else ever touches it (spec §9 redesign,
// DESIGN.md Open Question 1).
func (p *Pipeline) Run(ctx context.Context, o executor.Opportunity) {
	run := &executor.PipelineRun{
		Opportunity: o,
		State:       executor.StateReceived,
		Timestamps:  executor.RunTimestamps{Received: time.Now().UnixNano()},
	}
	p.transition(ctx, run, executor.StateReceived, "")

	if err := p.execute(ctx, run); err != nil {
		p.fail(ctx, run, err)
	}
}

func (p *Pipeline) execute(ctx context.Context, run *executor.PipelineRun) error {
	o := run.Opportunity

	if deadlinePassed(o) {
		return p.reject(ctx, run, "deadline exceeded")
	}

	p.transition(ctx, run, executor.StateBidding, "")
	bid, err := p.GasBidder.GetBid(ctx, o)
	if err != nil {
		return err
	}
	run.GasBid = &bid

	p.transition(ctx, run, executor.StateSimulating, "")
	run.Timestamps.SimStarted = time.Now().UnixNano()
	outcome, callData, err := p.Simulator.Simulate(ctx, o, bid)
	run.Timestamps.SimCompleted = time.Now().UnixNano()
	if err != nil {
		return err
	}
	run.Simulation = &outcome

	if !outcome.Feasible {
		reason := "unprofitable"
		if outcome.RevertReason != "" {
			reason = "reverted: " + outcome.RevertReason
		}
		return p.reject(ctx, run, reason)
	}

	if deadlinePassed(o) {
		return p.reject(ctx, run, "deadline exceeded")
	}

	to, ok := p.Contracts.ContractAddress(o.ChainName)
	if !ok {
		return p.reject(ctx, run, "no contract binding for chain")
	}

	useMev := o.UseMev && p.Mev.Available(o.ChainName)

	if useMev {
		return p.runMev(ctx, run, to, callData, bid)
	}
	return p.runStandard(ctx, run, to, callData, bid)
}

func (p *Pipeline) runStandard(ctx context.Context, run *executor.PipelineRun, to common.Address, callData []byte, bid executor.GasBid) error {
	p.transition(ctx, run, executor.StateSubmittingStandard, "")

	tx, err := p.TxBuilder.BuildAndSign(ctx, run.Opportunity.ChainName, to, callData, bid)
	if err != nil {
		return err
	}

	txHash, err := p.Chain.SendRawTransaction(ctx, run.Opportunity.ChainName, tx)
	if err != nil {
		return err
	}
	run.TxHash = txHash
	run.Timestamps.Submitted = time.Now().UnixNano()

	p.transition(ctx, run, executor.StatePending, "")

	receipt, err := p.pollReceipt(ctx, run.Opportunity.ChainName, txHash)
	if err != nil {
		return err
	}
	if receipt == nil {
		run.State = executor.StateTimedOut
		run.FailureReason = "receipt not found within poll budget"
		p.publishTerminal(ctx, run, false, nil)
		return nil
	}

	run.Timestamps.Confirmed = time.Now().UnixNano()
	blockNumber := receipt.BlockNumber.Uint64()
	run.BlockNumber = &blockNumber

	success := receipt.Status == types.ReceiptStatusSuccessful
	if success {
		run.State = executor.StateConfirmed
	} else {
		run.State = executor.StateFailed
		run.FailureReason = "transaction reverted on-chain"
	}
	p.publishTerminal(ctx, run, success, &blockNumber)
	return nil
}

func (p *Pipeline) runMev(ctx context.Context, run *executor.PipelineRun, to common.Address, callData []byte, bid executor.GasBid) error {
	p.transition(ctx, run, executor.StateSubmittingMev, "")

	tx, err := p.TxBuilder.BuildAndSign(ctx, run.Opportunity.ChainName, to, callData, bid)
	if err != nil {
		return err
	}
	signedHex, err := txToHex(tx)
	if err != nil {
		return err
	}
	run.SignedTxHex = signedHex
	run.Timestamps.Submitted = time.Now().UnixNano()

	p.transition(ctx, run, executor.StateBundlePending, "")

	outcome := p.Mev.SubmitAndAwait(ctx, run.Opportunity, signedHex)
	run.Provider = outcome.Provider
	run.BundleID = outcome.BundleID

	run.Timestamps.Confirmed = time.Now().UnixNano()
	if outcome.Success {
		run.State = executor.StateConfirmed
		run.BlockNumber = outcome.BlockNumber
	} else {
		run.State = executor.StateFailed
		run.FailureReason = outcome.Reason
	}
	p.publishTerminal(ctx, run, outcome.Success, outcome.BlockNumber)
	return nil
}

// pollReceipt implements spec §4.7's "every 2 seconds, up to 60 attempts"
// receipt polling for the standard branch.
func (p *Pipeline) pollReceipt(ctx context.Context, chain, txHash string) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < receiptPollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
			receipt, err := p.Chain.GetReceipt(ctx, chain, txHash)
			if err != nil {
				var transportErr *executor.TransportError
				if errors.As(err, &transportErr) {
					p.Log.Warn("receipt poll transport error, continuing", zap.Error(err))
					continue
				}
				return nil, err
			}
			if receipt != nil {
				return receipt, nil
			}
		}
	}
	return nil, nil
}

func deadlinePassed(o executor.Opportunity) bool {
	return time.Now().After(o.ExpiresAt())
}

// reject transitions to Rejected and publishes the terminal Result with
// success=false and no transaction hash (spec §7.5 PolicyRejection, P3).
func (p *Pipeline) reject(ctx context.Context, run *executor.PipelineRun, reason string) error {
	run.State = executor.StateRejected
	run.FailureReason = reason
	p.publishTerminal(ctx, run, false, nil)
	return nil
}

// fail converts any escaping error into a terminal Failed Result (spec §7:
// "No exception escapes C7; faults are converted into Result records").
// A PolicyRejection is not a fault and ends the run in Rejected instead.
func (p *Pipeline) fail(ctx context.Context, run *executor.PipelineRun, err error) {
	var policy *executor.PolicyRejection
	if errors.As(err, &policy) {
		_ = p.reject(ctx, run, policy.Reason)
		return
	}
	run.State = executor.StateFailed
	run.FailureReason = err.Error()
	p.publishTerminal(ctx, run, false, nil)
}

// publishTerminal implements P1/P2: exactly one Result publish per
// opportunity, with the terminal StatusUpdate published strictly after it.
func (p *Pipeline) publishTerminal(ctx context.Context, run *executor.PipelineRun, success bool, blockNumber *uint64) {
	result := buildResult(run, success, blockNumber)
	p.Results.PublishResult(ctx, result)
	p.transition(ctx, run, run.State, run.FailureReason)
	p.record(run)
}

func (p *Pipeline) record(run *executor.PipelineRun) {
	if p.Metrics == nil {
		return
	}
	p.Metrics.RunsTotal.WithLabelValues(run.Opportunity.ChainName, string(run.State)).Inc()
	if run.Timestamps.Confirmed > 0 && run.Timestamps.Received > 0 {
		latency := float64(run.Timestamps.Confirmed-run.Timestamps.Received) / 1e9
		p.Metrics.RunLatency.WithLabelValues(run.Opportunity.ChainName).Observe(latency)
	}
	if run.Timestamps.SimCompleted > 0 && run.Timestamps.SimStarted > 0 {
		p.Metrics.SimLatency.Observe(float64(run.Timestamps.SimCompleted-run.Timestamps.SimStarted) / 1e9)
	}
	if run.Provider != "" {
		outcome := "failed"
		if run.State == executor.StateConfirmed {
			outcome = "confirmed"
		}
		p.Metrics.MevSubmissions.WithLabelValues(string(run.Provider), outcome).Inc()
	}
}

func buildResult(run *executor.PipelineRun, success bool, blockNumber *uint64) executor.Result {
	var txHash *string
	if run.TxHash != "" {
		h := run.TxHash
		txHash = &h
	}
	result := executor.Result{
		OpportunityID:   run.Opportunity.ID,
		ChainName:       run.Opportunity.ChainName,
		Success:         success,
		TransactionHash: txHash,
		BlockNumber:     blockNumber,
		UsedMev:         run.Provider != "",
		MevProvider:     run.Provider,
		BundleID:        run.BundleID,
		WasFrontrun:     run.WasFrontrun,
		WasBackrun:      run.WasBackrun,
		Reason:          run.FailureReason,
		Timestamps:      run.Timestamps,
	}
	if run.Simulation != nil {
		result.EstimatedProfitUSD = run.Simulation.EstimatedNetProfitUSD
		result.GasCostUSD = run.Simulation.CostBreakdown.GasUSD
		result.FlashLoanFeeUSD = run.Simulation.CostBreakdown.FlashLoanFeeUSD
	}
	return result
}

// transition publishes a StatusUpdate for the new state (spec §4.7/§5: every
// transition from Received to terminal emits a status update, published
// before the transition completes observably).
func (p *Pipeline) transition(ctx context.Context, run *executor.PipelineRun, state executor.RunState, detail string) {
	run.State = state
	p.Results.PublishStatus(ctx, executor.StatusUpdate{
		OpportunityID: run.Opportunity.ID,
		StatusTag:     state,
		Timestamp:     time.Now(),
		Detail:        detail,
	})
}

func txToHex(tx *types.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return "0x" + common.Bytes2Hex(raw), nil
}
