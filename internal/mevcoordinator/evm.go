package mevcoordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/executor"
)

// EVMSubmission is the eth_sendBundle-shaped payload (spec §4.5/§6.3).
type EVMSubmission struct {
	Txs                []string `json:"txs"`
	BlockNumber        string   `json:"blockNumber"`
	MinTimestamp       *uint64  `json:"minTimestamp,omitempty"`
	MaxTimestamp       *uint64  `json:"maxTimestamp,omitempty"`
	RevertingTxHashes  []string `json:"revertingTxHashes,omitempty"`
}

// EVMResult is the outcome of an EVM bundle submission.
type EVMResult struct {
	Success     bool
	BundleID    string
	Reason      string
	BlockNumber *uint64
}

const (
	evmPollInterval = 1000 * time.Millisecond
	evmDeadline     = 60 * time.Second
)

// EVMClient submits Flashbots/Jito/SUAVE-style bundles over JSON-RPC,
// grounded on flashbots_client.go's makeRequest retry pattern.
type EVMClient struct {
	builderURLs map[string]string // chain -> builder endpoint
	client      *http.Client
	log         *zap.Logger
}

// NewEVMClient builds a client keyed by chain's configured builder URL
// (spec §6.4 jito.*/suave.* per-chain builder URLs).
func NewEVMClient(builderURLs map[string]string, log *zap.Logger) *EVMClient {
	return &EVMClient{
		builderURLs: builderURLs,
		client:      &http.Client{Timeout: 20 * time.Second},
		log:         log,
	}
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *EVMClient) call(ctx context.Context, chain, method string, params []interface{}) (json.RawMessage, error) {
	url, ok := c.builderURLs[chain]
	if !ok {
		return nil, &executor.PolicyRejection{Reason: fmt.Sprintf("no MEV builder configured for chain %s", chain)}
	}

	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal bundle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build bundle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &executor.TransportError{Op: "mev.evm." + method, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &executor.TransportError{Op: "mev.evm.read_body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &executor.ProtocolError{Op: "mev.evm." + method, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))}
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, &executor.ProtocolError{Op: "mev.evm.decode", Err: err}
	}
	if rpcResp.Error != nil {
		return nil, &executor.ProtocolError{Op: "mev.evm." + method, Err: fmt.Errorf("%s", rpcResp.Error.Message)}
	}
	return rpcResp.Result, nil
}

// SubmitBundle sends the bundle and returns its assigned id (the returned
// hash or an assigned id, per spec §4.5).
func (c *EVMClient) SubmitBundle(ctx context.Context, chain string, submission EVMSubmission) (EVMResult, error) {
	result, err := c.call(ctx, chain, "eth_sendBundle", []interface{}{submission})
	if err != nil {
		return EVMResult{Success: false, Reason: err.Error()}, nil
	}
	var bundleID string
	if err := json.Unmarshal(result, &bundleID); err != nil {
		// Some relays return an object with a bundleHash field instead of a bare string.
		var obj struct {
			BundleHash string `json:"bundleHash"`
		}
		if err2 := json.Unmarshal(result, &obj); err2 == nil {
			bundleID = obj.BundleHash
		}
	}
	return EVMResult{Success: true, BundleID: bundleID}, nil
}

// bundleStats is the flashbots_getBundleStats-shaped response used to poll
// for inclusion.
type bundleStats struct {
	IsLanded    bool    `json:"isLanded"`
	IsFailed    bool    `json:"isFailed"`
	BlockNumber *uint64 `json:"blockNumber"`
}

// WaitForInclusion polls flashbots_getBundleStats on a fixed 1000ms cadence
// for up to 60s (spec §4.5 EVM deadline).
func (c *EVMClient) WaitForInclusion(ctx context.Context, chain, bundleID string) (EVMResult, error) {
	deadline := time.Now().Add(evmDeadline)
	ticker := time.NewTicker(evmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return EVMResult{Success: false, Reason: "Confirmation timeout", BundleID: bundleID}, nil
		case <-ticker.C:
			if time.Now().After(deadline) {
				return EVMResult{Success: false, Reason: "Confirmation timeout", BundleID: bundleID}, nil
			}
			raw, err := c.call(ctx, chain, "flashbots_getBundleStats", []interface{}{bundleID})
			if err != nil {
				c.log.Warn("bundle stats poll failed, continuing", zap.Error(err))
				continue
			}
			var stats bundleStats
			if err := json.Unmarshal(raw, &stats); err != nil {
				continue
			}
			if stats.IsFailed {
				return EVMResult{Success: false, Reason: "bundle failed", BundleID: bundleID}, nil
			}
			if stats.IsLanded {
				return EVMResult{Success: true, BundleID: bundleID, BlockNumber: stats.BlockNumber}, nil
			}
		}
	}
}
