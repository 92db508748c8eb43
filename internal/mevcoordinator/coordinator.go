package mevcoordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/executor"
)

// Outcome is the chain-agnostic result of one MEV submission attempt, used
// by the Opportunity Pipeline to populate Result (spec §4.5/§4.7).
type Outcome struct {
	Success     bool
	Provider    executor.MevProvider
	BundleID    string
	Reason      string
	BlockNumber *uint64
}

// TipOracle fetches the Solana tip distribution from the bidding oracle.
type TipOracle interface {
	GetTipEstimate(ctx context.Context) (TipEstimate, error)
}

// BlockNumberGetter fetches the chain's current block number, satisfied by
// *chaingateway.Gateway. Narrowed to an interface so tests can fake it
// without standing up a real RPC node.
type BlockNumberGetter interface {
	GetBlockNumber(ctx context.Context, chain string) (uint64, error)
}

// Coordinator dispatches to the EVM or Solana bundle path based on the
// opportunity's chain, per spec §4.5.
type Coordinator struct {
	evm         *EVMClient
	solana      *SolanaClient
	tipOracle   TipOracle
	blockNumber BlockNumberGetter
	log         *zap.Logger
}

// New builds a Coordinator. Either client may be nil if that family of
// chains is not configured; SubmitAndAwait returns an unsuccessful Outcome
// with a "no ... MEV client configured" reason if the chain's family has no
// client.
func New(evm *EVMClient, solana *SolanaClient, tipOracle TipOracle, blockNumber BlockNumberGetter, log *zap.Logger) *Coordinator {
	return &Coordinator{evm: evm, solana: solana, tipOracle: tipOracle, blockNumber: blockNumber, log: log}
}

// SubmitAndAwait submits the opportunity's bundle through the selected
// provider and blocks until a terminal status or the provider's deadline.
func (c *Coordinator) SubmitAndAwait(ctx context.Context, o executor.Opportunity, signedTxHex string) Outcome {
	provider := SelectProvider(o)

	if o.ChainName == "solana" {
		return c.submitSolana(ctx, o, signedTxHex, provider)
	}
	return c.submitEVM(ctx, o, signedTxHex, provider)
}

func (c *Coordinator) submitEVM(ctx context.Context, o executor.Opportunity, signedTxHex string, provider executor.MevProvider) Outcome {
	if c.evm == nil {
		return Outcome{Success: false, Provider: provider, Reason: "no EVM MEV client configured"}
	}

	submission := EVMSubmission{Txs: []string{signedTxHex}}
	if c.blockNumber != nil {
		current, err := c.blockNumber.GetBlockNumber(ctx, o.ChainName)
		if err != nil {
			return Outcome{Success: false, Provider: provider, Reason: err.Error()}
		}
		// Bundles target the next block (spec §4.5: block_number = current+1).
		submission.BlockNumber = fmt.Sprintf("0x%x", current+1)
	}

	result, err := c.evm.SubmitBundle(ctx, o.ChainName, submission)
	if err != nil {
		return Outcome{Success: false, Provider: provider, Reason: err.Error()}
	}
	if !result.Success {
		return Outcome{Success: false, Provider: provider, Reason: result.Reason}
	}

	waited, err := c.evm.WaitForInclusion(ctx, o.ChainName, result.BundleID)
	if err != nil {
		return Outcome{Success: false, Provider: provider, BundleID: result.BundleID, Reason: err.Error()}
	}
	return Outcome{
		Success:     waited.Success,
		Provider:    provider,
		BundleID:    waited.BundleID,
		Reason:      waited.Reason,
		BlockNumber: waited.BlockNumber,
	}
}

func (c *Coordinator) submitSolana(ctx context.Context, o executor.Opportunity, signedTxHex string, provider executor.MevProvider) Outcome {
	if c.solana == nil {
		return Outcome{Success: false, Provider: provider, Reason: "no Solana MEV client configured"}
	}

	tip := TipEstimate{}
	if c.tipOracle != nil {
		est, err := c.tipOracle.GetTipEstimate(ctx)
		if err != nil {
			c.log.Warn("tip oracle unavailable, using zero tip", zap.Error(err))
		} else {
			tip = est
		}
	}
	tipLamports := SizeSolanaTip(o, tip)
	c.log.Debug("solana tip sized", zap.String("opportunity", o.ID), zap.String("tipLamports", tipLamports.String()))

	result, err := c.solana.SubmitBundle(ctx, SolanaSubmission{
		TransactionsBase64: []string{signedTxHex},
		MaxRetries:         3,
		TipLamports:        tipLamports,
	})
	if err != nil {
		return Outcome{Success: false, Provider: provider, Reason: err.Error()}
	}
	if !result.Success {
		return Outcome{Success: false, Provider: provider, Reason: result.Reason}
	}

	waited, err := c.solana.WaitForInclusion(ctx, result.BundleID)
	if err != nil {
		return Outcome{Success: false, Provider: provider, BundleID: result.BundleID, Reason: err.Error()}
	}
	return Outcome{
		Success:     waited.Success,
		Provider:    provider,
		BundleID:    waited.BundleID,
		Reason:      waited.Reason,
		BlockNumber: waited.Slot,
	}
}

// Available reports whether MEV submission is possible at all for chain,
// used by the pipeline's routing decision (spec §4.7: use_mev=true AND
// mev_available(chain) routes to the MEV branch).
func (c *Coordinator) Available(chain string) bool {
	if chain == "solana" {
		return c.solana != nil
	}
	return c.evm != nil
}
