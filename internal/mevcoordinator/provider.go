// Package mevcoordinator selects an MEV provider, sizes the tip/bid, submits
// the bundle, and polls for inclusion (spec §4.5, C5).
//
// Grounded on crypto-wallet/internal/defi/flashbots_client.go's
// SubmitBundle/GetBundleStats/SimulateBundle (EVM path) and
// crypto-wallet/internal/defi/mev_protection.go's multi-provider composition
// pattern (provider selection). The Solana path is a structural sibling —
// no Solana SDK exists anywhere in the retrieval pack, so it is built the
// same "raw JSON-RPC over http.Client" way the teacher builds its own
// relay clients.
package mevcoordinator

import (
	"github.com/shopspring/decimal"

	"github.com/flashloan-executor/executor/internal/executor"
)

// chainProviderDefaults is the static chain→provider map (spec §4.5).
var chainProviderDefaults = map[string]executor.MevProvider{
	"solana":    executor.MevProviderJito,
	"ethereum":  executor.MevProviderSuave,
	"polygon":   executor.MevProviderSuave,
	"arbitrum":  executor.MevProviderSuave,
	"base":      executor.MevProviderSuave,
	"optimism":  executor.MevProviderSuave,
	"avalanche": executor.MevProviderSuave,
	"bsc":       executor.MevProviderSuave,
}

// SelectProvider implements spec §4.5's select_provider: explicit preference
// wins, else the chain map, else suave as the default for unknown chains.
func SelectProvider(o executor.Opportunity) executor.MevProvider {
	if o.PreferredMevProvider != "" {
		return o.PreferredMevProvider
	}
	if p, ok := chainProviderDefaults[o.ChainName]; ok {
		return p
	}
	return executor.MevProviderSuave
}

// TipEstimate is the oracle's tip distribution for the Solana bundle path.
type TipEstimate struct {
	MinLamports         decimal.Decimal
	MedianLamports      decimal.Decimal
	P75Lamports         decimal.Decimal
	P95Lamports         decimal.Decimal
	RecommendedLamports decimal.Decimal
}

// defaultAoiMultiplier is the AOI-absent default (spec §4.5: "0.75 when absent").
var defaultAoiMultiplier = decimal.NewFromFloat(0.75)

// lamportsPerSOL converts a SOL-denominated amount (max_mev_tip,
// expected_profit on Solana opportunities) into lamports.
var lamportsPerSOL = decimal.New(1, 9)

// SizeSolanaTip implements spec §4.5's tip sizing: scale the oracle's
// recommended tip by 0.5 + 0.5*aoi_score (0.75 absent), then clamp to
// [min, max_mev_tip ?? expected_profit/10].
func SizeSolanaTip(o executor.Opportunity, est TipEstimate) decimal.Decimal {
	multiplier := defaultAoiMultiplier
	if o.AoiScore > 0 {
		multiplier = decimal.NewFromFloat(0.5).Add(decimal.NewFromFloat(0.5 * o.AoiScore))
	}

	scaled := est.RecommendedLamports.Mul(multiplier)

	// max_mev_tip is expressed in SOL (as expected_profit is, in the same
	// scenario); both are converted to lamports so the clamp bound is in the
	// same unit as the oracle's estimate (spec §8 scenario 4: 0.5 SOL ->
	// 500_000_000 lamports).
	maxTip := o.ExpectedProfit.Div(decimal.NewFromInt(10)).Mul(lamportsPerSOL)
	if o.MaxMevTip.Valid {
		maxTip = o.MaxMevTip.Decimal.Mul(lamportsPerSOL)
	}

	if scaled.LessThan(est.MinLamports) {
		return est.MinLamports
	}
	if scaled.GreaterThan(maxTip) {
		return maxTip
	}
	return scaled
}
