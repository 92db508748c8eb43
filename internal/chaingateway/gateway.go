// Package chaingateway provides the per-chain JSON-RPC handle registry
// (spec §4.1, C1): block number, simulated calls, raw-transaction submission,
// and receipt lookup, with transport failures distinguished from on-chain
// reverts.
//
// Grounded on crypto-wallet/internal/blockchain/rpc/client.go's
// executeWithRetry-wrapped ethclient facade and
// crypto-wallet/internal/blockchain/rpc/node_manager.go's per-chain
// NodeConfig registry.
package chaingateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/executor"
)

// NodeConfig describes one configured chain endpoint (spec §6.4 nodes[]).
type NodeConfig struct {
	ChainName string
	RPCURL    string
	ChainID   int64
}

// chainHandle bundles a live client pair for one chain.
type chainHandle struct {
	name    string
	chainID *big.Int
	eth     *ethclient.Client
	rpc     *rpc.Client
}

// Gateway is the registry of per-chain handles, built once at startup and
// shared read-only across every PipelineRun (spec §5 shared state).
type Gateway struct {
	handles map[string]*chainHandle
	log     *zap.Logger
	retries int
	backoff time.Duration
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithRetries overrides the default retry count for transient transport errors.
func WithRetries(n int, backoff time.Duration) Option {
	return func(g *Gateway) {
		g.retries = n
		g.backoff = backoff
	}
}

// New dials every configured node and builds the registry. Dial failures are
// fatal (ConfigError) since the gateway's handles are assumed immutable and
// ready once constructed.
func New(ctx context.Context, nodes []NodeConfig, log *zap.Logger, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		handles: make(map[string]*chainHandle, len(nodes)),
		log:     log,
		retries: 3,
		backoff: 250 * time.Millisecond,
	}
	for _, o := range opts {
		o(g)
	}

	for _, n := range nodes {
		rc, err := rpc.DialContext(ctx, n.RPCURL)
		if err != nil {
			return nil, &executor.ConfigError{Key: fmt.Sprintf("nodes[%s].rpcUrl", n.ChainName), Err: err}
		}
		g.handles[n.ChainName] = &chainHandle{
			name:    n.ChainName,
			chainID: big.NewInt(n.ChainID),
			eth:     ethclient.NewClient(rc),
			rpc:     rc,
		}
	}
	return g, nil
}

func (g *Gateway) handle(chain string) (*chainHandle, error) {
	h, ok := g.handles[chain]
	if !ok {
		return nil, &executor.PolicyRejection{Reason: fmt.Sprintf("no chain registered: %s", chain)}
	}
	return h, nil
}

// ChainID returns the configured numeric chain id for a chain name, used by
// the Tx Builder/Signer to pick the correct EIP-155 signer.
func (g *Gateway) ChainID(chain string) (*big.Int, error) {
	h, err := g.handle(chain)
	if err != nil {
		return nil, err
	}
	return h.chainID, nil
}

func (g *Gateway) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &executor.TransportError{Op: op, Err: ctx.Err()}
			case <-time.After(g.backoff * time.Duration(attempt)):
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var revert *executor.RevertError
		if errors.As(lastErr, &revert) {
			return lastErr
		}
		g.log.Warn("chain gateway call failed, retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(lastErr))
	}
	return &executor.TransportError{Op: op, Err: lastErr}
}

// GetBlockNumber returns the current block height for a chain.
func (g *Gateway) GetBlockNumber(ctx context.Context, chain string) (uint64, error) {
	h, err := g.handle(chain)
	if err != nil {
		return 0, err
	}
	var n uint64
	err = g.withRetry(ctx, "GetBlockNumber", func(ctx context.Context) error {
		v, err := h.eth.BlockNumber(ctx)
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

// CallMsg describes a simulated call (mirrors ethereum.CallMsg's fields the
// executor actually needs).
type CallMsg struct {
	From     common.Address
	To       common.Address
	Data     []byte
	Gas      uint64
	GasPrice *big.Int
}

// SimulateCall performs a read-only eth_call. A revert is distinguished from
// a transport failure per spec §4.1: an RPC error carrying ABI-encoded
// revert data becomes a RevertError, everything else a TransportError.
func (g *Gateway) SimulateCall(ctx context.Context, chain string, msg CallMsg) ([]byte, error) {
	h, err := g.handle(chain)
	if err != nil {
		return nil, err
	}
	var out []byte
	callErr := g.withRetry(ctx, "SimulateCall", func(ctx context.Context) error {
		res, err := h.eth.CallContract(ctx, ethereum.CallMsg{
			From:     msg.From,
			To:       &msg.To,
			Data:     msg.Data,
			Gas:      msg.Gas,
			GasPrice: msg.GasPrice,
		}, nil)
		if err != nil {
			if isRevert(err) {
				return &executor.RevertError{Reason: revertReason(err)}
			}
			return err
		}
		out = res
		return nil
	})
	return out, callErr
}

// isRevert reports whether err is a JSON-RPC error carrying revert data,
// per go-ethereum's rpc.DataError convention.
func isRevert(err error) bool {
	var de rpc.DataError
	return errors.As(err, &de) && de.ErrorData() != nil
}

func revertReason(err error) string {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			return s
		}
	}
	return err.Error()
}

// SendRawTransaction broadcasts a signed transaction.
func (g *Gateway) SendRawTransaction(ctx context.Context, chain string, tx *types.Transaction) (string, error) {
	h, err := g.handle(chain)
	if err != nil {
		return "", err
	}
	err = g.withRetry(ctx, "SendRawTransaction", func(ctx context.Context) error {
		return h.eth.SendTransaction(ctx, tx)
	})
	if err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

// GetReceipt looks up a transaction receipt; a not-found receipt returns
// (nil, nil) rather than an error, per spec §4.1's "Receipt | null" contract.
func (g *Gateway) GetReceipt(ctx context.Context, chain, txHash string) (*types.Receipt, error) {
	h, err := g.handle(chain)
	if err != nil {
		return nil, err
	}
	var receipt *types.Receipt
	callErr := g.withRetry(ctx, "GetReceipt", func(ctx context.Context) error {
		r, err := h.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return nil
			}
			return err
		}
		receipt = r
		return nil
	})
	return receipt, callErr
}

// SuggestNonce returns the next pending nonce for from on chain, fetched
// single-flight per call per spec §4.4 (no cross-pipeline nonce manager).
func (g *Gateway) SuggestNonce(ctx context.Context, chain string, from common.Address) (uint64, error) {
	h, err := g.handle(chain)
	if err != nil {
		return 0, err
	}
	var nonce uint64
	callErr := g.withRetry(ctx, "SuggestNonce", func(ctx context.Context) error {
		n, err := h.eth.PendingNonceAt(ctx, from)
		if err != nil {
			return err
		}
		nonce = n
		return nil
	})
	return nonce, callErr
}
