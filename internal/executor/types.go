// Package executor holds the data model shared by every pipeline component:
// the inbound Opportunity, the intermediate GasBid/SimulationOutcome values,
// the per-run PipelineRun state, and the outbound Result/StatusUpdate.
package executor

import (
	"time"

	"github.com/shopspring/decimal"
)

// Strategy is the tagged variant of arbitrage strategy an Opportunity carries.
type Strategy string

const (
	StrategyCrossDex    Strategy = "CrossDex"
	StrategyMultiHop    Strategy = "MultiHop"
	StrategyTriangular  Strategy = "Triangular"
	StrategyMevRouted   Strategy = "MevRouted"
)

// MevProvider identifies a bundle relay.
type MevProvider string

const (
	MevProviderJito  MevProvider = "jito"
	MevProviderSuave MevProvider = "suave"
)

// Opportunity is the immutable message consumed from the bus (spec §3).
type Opportunity struct {
	ID       string   `json:"id"`
	ChainName string  `json:"chainName"`
	Asset    string   `json:"asset"`
	Amount   decimal.Decimal `json:"amount"`
	Strategy Strategy `json:"strategy"`

	// CrossDex / MevRouted-with-dex-pair fields.
	SourceDex string `json:"sourceDex"`
	TargetDex string `json:"targetDex"`

	// MultiHop / Triangular fields.
	Path []string `json:"path"`

	MinProfit       decimal.Decimal `json:"minProfit"`
	ExpectedProfit  decimal.Decimal `json:"expectedProfit"`
	ConfidenceScore float64         `json:"confidenceScore"`

	Deadline        time.Time `json:"deadline"`
	ExpiresAtNanos  int64     `json:"expiresAtNanos"`

	SpreadBps          decimal.Decimal `json:"spreadBps"`
	OrderBookImbalance float64         `json:"orderBookImbalance"`
	VolatilityPercent  float64         `json:"volatilityPercent"`
	AoiScore           float64         `json:"aoiScore"`
	MarketRegime       string          `json:"marketRegime"`

	UseMev               bool            `json:"useMev"`
	PreferredMevProvider MevProvider     `json:"preferredMevProvider"`
	MaxMevTip            decimal.NullDecimal `json:"maxMevTip"`
	TargetBundlePosition int             `json:"targetBundlePosition"`

	MaxSlippageBps  decimal.Decimal `json:"maxSlippageBps"`
	MaxGasPriceGwei decimal.Decimal `json:"maxGasPriceGwei"`
	AllowPartialFill bool           `json:"allowPartialFill"`

	SignalID       string `json:"signalId"`
	StrategyName   string `json:"strategyName"`
	SourceExchange string `json:"sourceExchange"`
	TargetExchange string `json:"targetExchange"`
}

// ExpiresAt resolves the opportunity's effective deadline, preferring the
// explicit nanosecond field when set and falling back to Deadline.
func (o Opportunity) ExpiresAt() time.Time {
	if o.ExpiresAtNanos > 0 {
		return time.Unix(0, o.ExpiresAtNanos)
	}
	return o.Deadline
}

// GasBid is the result of the Gas Bidder (C2).
type GasBid struct {
	GasPriceGwei     decimal.Decimal `json:"gasPriceGwei"`
	GasLimit         uint64          `json:"gasLimit"`
	EstimatedCostUSD decimal.Decimal `json:"estimatedCostUsd"`
}

// Valid reports whether the bid's fields are all positive finite, per spec §3.
func (b GasBid) Valid() bool {
	return b.GasPriceGwei.IsPositive() && b.GasLimit > 0 && b.EstimatedCostUSD.IsPositive()
}

// CostBreakdown itemizes a SimulationOutcome's deductions.
type CostBreakdown struct {
	GasUSD         decimal.Decimal `json:"gasUsd"`
	FlashLoanFeeUSD decimal.Decimal `json:"flashLoanFeeUsd"`
}

// SimulationOutcome is the result of the Simulator (C3).
type SimulationOutcome struct {
	Feasible             bool            `json:"feasible"`
	EstimatedNetProfitUSD decimal.Decimal `json:"estimatedNetProfitUsd"`
	CostBreakdown        CostBreakdown   `json:"costBreakdown"`
	RevertReason          string          `json:"revertReason,omitempty"`
}

// RunState is the PipelineRun state machine's current node (spec §4.7).
type RunState string

const (
	StateReceived          RunState = "received"
	StateBidding            RunState = "bidding"
	StateSimulating         RunState = "simulating"
	StateRejected           RunState = "rejected"
	StateSubmittingStandard RunState = "submitting"
	StateSubmittingMev      RunState = "submitting_mev"
	StatePending            RunState = "pending"
	StateBundlePending      RunState = "bundle_pending"
	StateConfirmed          RunState = "confirmed"
	StateFailed             RunState = "failed"
	StateTimedOut           RunState = "timed_out"
)

// RunTimestamps holds the monotonic-nanosecond clock points a run passes
// through, read at the end to populate Result and to check P8.
type RunTimestamps struct {
	Received int64
	SimStarted int64
	SimCompleted int64
	Submitted int64
	Confirmed int64
}

// PipelineRun is ephemeral, per-opportunity, local state. It is never shared
// across goroutines and carries no mutex: spec §9's redesign instruction
// against a shared transaction-manager's mutable field state is satisfied by
// construction, not by synchronization.
type PipelineRun struct {
	Opportunity Opportunity
	State       RunState
	Timestamps  RunTimestamps

	GasBid        *GasBid
	Simulation    *SimulationOutcome
	SignedTxHex   string
	TxHash        string
	BundleID      string
	Provider      MevProvider
	BlockNumber   *uint64
	WasFrontrun   bool
	WasBackrun    bool
	FailureReason string
}

// Result is the durable, published outcome of one PipelineRun (spec §3, §6.2).
type Result struct {
	OpportunityID      string          `json:"opportunityId"`
	ChainName          string          `json:"chainName"`
	Success            bool            `json:"success"`
	TransactionHash    *string         `json:"transactionHash"`
	BlockNumber        *uint64         `json:"blockNumber"`
	EstimatedProfitUSD decimal.Decimal `json:"estimatedProfitUsd"`
	GasCostUSD         decimal.Decimal `json:"gasCostUsd"`
	FlashLoanFeeUSD    decimal.Decimal `json:"flashLoanFeeUsd"`
	UsedMev            bool            `json:"usedMev"`
	MevProvider        MevProvider     `json:"mevProvider,omitempty"`
	BundleID           string          `json:"bundleId,omitempty"`
	WasFrontrun        bool            `json:"wasFrontrun"`
	WasBackrun         bool            `json:"wasBackrun"`
	Reason             string          `json:"reason,omitempty"`
	Timestamps         RunTimestamps   `json:"timestamps"`
}

// StatusUpdate is the low-cardinality, non-durable progress notification
// published alongside every state transition (spec §3, §6.2).
type StatusUpdate struct {
	OpportunityID string    `json:"opportunityId"`
	StatusTag     RunState  `json:"statusTag"`
	Timestamp     time.Time `json:"timestamp"`
	Detail        string    `json:"detail,omitempty"`
}

// LearningFeedProjection is the flat, analyst-friendly shape published to
// mloptimizer.training.flashloan (spec §4.6).
type LearningFeedProjection struct {
	OpportunityID        string          `json:"opportunityId"`
	ChainName            string          `json:"chainName"`
	Success              bool            `json:"success"`
	EstimatedProfitUSD   decimal.Decimal `json:"estimatedProfitUsd"`
	TotalLatencyMs       float64         `json:"totalLatencyMs"`
	SimulationLatencyMs  float64         `json:"simulationLatencyMs"`
	UsedMev              bool            `json:"usedMev"`
}

// ProjectForLearning derives the flattened, latency-annotated record fed to
// the ML optimizer's training subject.
func ProjectForLearning(r Result) LearningFeedProjection {
	var total, sim float64
	if r.Timestamps.Confirmed > 0 && r.Timestamps.Received > 0 {
		total = float64(r.Timestamps.Confirmed-r.Timestamps.Received) / 1e6
	}
	if r.Timestamps.SimCompleted > 0 && r.Timestamps.SimStarted > 0 {
		sim = float64(r.Timestamps.SimCompleted-r.Timestamps.SimStarted) / 1e6
	}
	return LearningFeedProjection{
		OpportunityID:       r.OpportunityID,
		ChainName:           r.ChainName,
		Success:             r.Success,
		EstimatedProfitUSD:  r.EstimatedProfitUSD,
		TotalLatencyMs:      total,
		SimulationLatencyMs: sim,
		UsedMev:             r.UsedMev,
	}
}
