// Package simulator builds strategy call-data, runs a read-only chain
// simulation through the Chain Gateway, and computes net profit after gas
// and the flash-loan fee (spec §4.3, C3).
//
// Grounded on crypto-wallet/internal/blockchain/smart_contract_engine.go's
// ExecuteTransaction/CallContract orchestration shape and on
// crypto-wallet/internal/defi/flash_loan_arbitrage.go's net-profit math.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/chaingateway"
	"github.com/flashloan-executor/executor/internal/executor"
)

// flashLoanFeeRate is the protocol's flash-loan fee, 9 basis points
// (spec §3: flash_loan_fee_usd = amount * 0.0009).
var flashLoanFeeRate = decimal.NewFromFloat(0.0009)

// weiPerToken assumes 18-decimal ERC-20 tokens for human-scale→wei
// conversion, matching the teacher's own flash-loan engine convention.
var weiPerToken, _ = new(big.Int).SetString("1000000000000000000", 10)

const arbitrageABIJSON = `[
  {"name":"executeCrossDexArbitrage","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},
     {"name":"sourceDex","type":"address"},{"name":"targetDex","type":"address"},
     {"name":"minProfit","type":"uint256"}],
   "outputs":[{"name":"profit","type":"uint256"}]},
  {"name":"executeMultiHopArbitrage","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},
     {"name":"path","type":"address[]"},{"name":"minProfit","type":"uint256"}],
   "outputs":[{"name":"profit","type":"uint256"}]},
  {"name":"executeTriangularArbitrage","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},
     {"name":"path","type":"address[]"},{"name":"minProfit","type":"uint256"}],
   "outputs":[{"name":"profit","type":"uint256"}]}
]`

// ContractBinding is the configured on-chain target for one chain
// (spec §6.4 smartContracts[]).
type ContractBinding struct {
	ChainName       string
	ContractAddress common.Address
}

// Simulator decides feasibility and net profit for an Opportunity.
type Simulator struct {
	arbABI   abi.ABI
	bindings map[string]ContractBinding
	gateway  ChainCaller
	log      *zap.Logger
}

// ChainCaller is the subset of the Chain Gateway the Simulator needs,
// narrowed to an interface so tests can substitute a fake.
type ChainCaller interface {
	SimulateCall(ctx context.Context, chain string, msg chaingateway.CallMsg) ([]byte, error)
}

// New parses the arbitrage contract ABI and indexes contract bindings by chain.
func New(bindings []ContractBinding, gateway ChainCaller, log *zap.Logger) (*Simulator, error) {
	parsed, err := abi.JSON(strings.NewReader(arbitrageABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse arbitrage abi: %w", err)
	}
	byChain := make(map[string]ContractBinding, len(bindings))
	for _, b := range bindings {
		byChain[b.ChainName] = b
	}
	return &Simulator{arbABI: parsed, bindings: byChain, gateway: gateway, log: log}, nil
}

// encode builds (selector+args, method) for the opportunity's strategy, per
// spec §4.3's per-variant entry point table.
func (s *Simulator) encode(o executor.Opportunity) ([]byte, abi.Method, error) {
	amountWei := toWei(o.Amount)
	minProfitWei := toWei(o.MinProfit)
	asset := common.HexToAddress(o.Asset)

	switch o.Strategy {
	case executor.StrategyCrossDex, executor.StrategyMevRouted:
		if o.SourceDex == "" || o.TargetDex == "" {
			return nil, abi.Method{}, &executor.PolicyRejection{Reason: "missing sourceDex/targetDex for CrossDex strategy"}
		}
		method := s.arbABI.Methods["executeCrossDexArbitrage"]
		data, err := s.arbABI.Pack("executeCrossDexArbitrage", asset, amountWei,
			common.HexToAddress(o.SourceDex), common.HexToAddress(o.TargetDex), minProfitWei)
		return data, method, err

	case executor.StrategyMultiHop:
		if len(o.Path) < 2 {
			return nil, abi.Method{}, &executor.PolicyRejection{Reason: "MultiHop path must have at least 2 addresses"}
		}
		method := s.arbABI.Methods["executeMultiHopArbitrage"]
		data, err := s.arbABI.Pack("executeMultiHopArbitrage", asset, amountWei, toAddresses(o.Path), minProfitWei)
		return data, method, err

	case executor.StrategyTriangular:
		if len(o.Path) < 3 || o.Path[0] != o.Path[len(o.Path)-1] {
			return nil, abi.Method{}, &executor.PolicyRejection{Reason: "Triangular path must have >=3 addresses with first == last"}
		}
		method := s.arbABI.Methods["executeTriangularArbitrage"]
		data, err := s.arbABI.Pack("executeTriangularArbitrage", asset, amountWei, toAddresses(o.Path), minProfitWei)
		return data, method, err

	default:
		return nil, abi.Method{}, &executor.PolicyRejection{Reason: fmt.Sprintf("unknown strategy: %s", o.Strategy)}
	}
}

// Simulate runs the read-only chain call and computes feasibility/net profit
// (spec §4.3 algorithm, steps 1–5).
func (s *Simulator) Simulate(ctx context.Context, o executor.Opportunity, bid executor.GasBid) (executor.SimulationOutcome, []byte, error) {
	binding, ok := s.bindings[o.ChainName]
	if !ok {
		return executor.SimulationOutcome{}, nil, &executor.PolicyRejection{Reason: fmt.Sprintf("no contract binding for chain %s", o.ChainName)}
	}

	data, method, err := s.encode(o)
	if err != nil {
		return executor.SimulationOutcome{}, nil, err
	}

	gasPriceWei := gweiToWei(bid.GasPriceGwei)
	result, callErr := s.gateway.SimulateCall(ctx, o.ChainName, chaingateway.CallMsg{
		To:       binding.ContractAddress,
		Data:     data,
		Gas:      bid.GasLimit,
		GasPrice: gasPriceWei,
	})

	var revert *executor.RevertError
	if errors.As(callErr, &revert) {
		return executor.SimulationOutcome{Feasible: false, RevertReason: revert.Reason}, data, nil
	}
	if callErr != nil {
		return executor.SimulationOutcome{}, nil, callErr
	}

	// Open question (spec §9) resolved: a successful call that does not
	// unpack against the method's declared outputs is treated as a revert,
	// not a success — an empty or malformed result is not evidence of profit.
	if _, err := method.Outputs.Unpack(result); err != nil {
		return executor.SimulationOutcome{Feasible: false, RevertReason: "empty or unparseable call result"}, data, nil
	}

	flashLoanFeeUSD := o.Amount.Mul(flashLoanFeeRate)
	net := o.ExpectedProfit.Sub(bid.EstimatedCostUSD).Sub(flashLoanFeeUSD)

	return executor.SimulationOutcome{
		Feasible:              net.IsPositive(),
		EstimatedNetProfitUSD: net,
		CostBreakdown: executor.CostBreakdown{
			GasUSD:          bid.EstimatedCostUSD,
			FlashLoanFeeUSD: flashLoanFeeUSD,
		},
	}, data, nil
}

func toWei(amount decimal.Decimal) *big.Int {
	wei := amount.Mul(decimal.NewFromBigInt(weiPerToken, 0))
	return wei.BigInt()
}

func gweiToWei(gwei decimal.Decimal) *big.Int {
	return gwei.Mul(decimal.New(1, 9)).BigInt()
}

func toAddresses(path []string) []common.Address {
	out := make([]common.Address, len(path))
	for i, p := range path {
		out[i] = common.HexToAddress(p)
	}
	return out
}
