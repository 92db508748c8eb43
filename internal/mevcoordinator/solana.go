package mevcoordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/executor"
)

const (
	solanaPollInterval = 500 * time.Millisecond
	solanaDeadline      = 30 * time.Second
)

// SolanaSubmission is the sendBundle-shaped payload (spec §4.5/§6.3).
//
// TipLamports is the tip sized by SizeSolanaTip. A real Jito bundle pays the
// tip through a transfer instruction to one of GetTipAccounts appended as
// its own transaction inside the bundle, which needs a Solana transaction
// builder/signer this tree does not have (no Solana SDK anywhere in the
// pack); until that exists, the relay is told the intended tip out of band
// on the submission payload itself rather than silently dropping it.
type SolanaSubmission struct {
	TransactionsBase64 []string        `json:"transactions"`
	SkipPreflight       bool           `json:"skipPreflight"`
	MaxRetries          int            `json:"maxRetries"`
	TipLamports         decimal.Decimal `json:"tipLamports"`
}

// SolanaResult mirrors EVMResult for the Solana bundle path.
type SolanaResult struct {
	Success  bool
	BundleID string
	Reason   string
	Slot     *uint64
}

// SolanaClient submits bundles to a Jito-style block-engine endpoint. Built
// as a structural sibling of EVMClient: the pack carries no Solana SDK, so
// this follows the teacher's own idiom of raw JSON-RPC over http.Client
// rather than introducing an unretrieved dependency.
type SolanaClient struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

// NewSolanaClient builds a client for the configured jito.* bundle endpoint.
func NewSolanaClient(endpoint string, log *zap.Logger) *SolanaClient {
	return &SolanaClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 20 * time.Second},
		log:      log,
	}
}

func (c *SolanaClient) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal solana bundle request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build solana bundle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &executor.TransportError{Op: "mev.solana." + method, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &executor.TransportError{Op: "mev.solana.read_body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &executor.ProtocolError{Op: "mev.solana." + method, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))}
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, &executor.ProtocolError{Op: "mev.solana.decode", Err: err}
	}
	if rpcResp.Error != nil {
		return nil, &executor.ProtocolError{Op: "mev.solana." + method, Err: fmt.Errorf("%s", rpcResp.Error.Message)}
	}
	return rpcResp.Result, nil
}

// SubmitBundle sends the Solana bundle.
func (c *SolanaClient) SubmitBundle(ctx context.Context, submission SolanaSubmission) (SolanaResult, error) {
	result, err := c.call(ctx, "sendBundle", []interface{}{submission})
	if err != nil {
		return SolanaResult{Success: false, Reason: err.Error()}, nil
	}
	var bundleID string
	_ = json.Unmarshal(result, &bundleID)
	return SolanaResult{Success: true, BundleID: bundleID}, nil
}

type solanaBundleStatus struct {
	Value []struct {
		ConfirmationStatus string  `json:"confirmationStatus"`
		Slot                *uint64 `json:"slot"`
		Err                 interface{} `json:"err"`
	} `json:"value"`
}

// WaitForInclusion polls getBundleStatuses every 500ms for up to 30s
// (spec §4.5 Solana deadline).
func (c *SolanaClient) WaitForInclusion(ctx context.Context, bundleID string) (SolanaResult, error) {
	deadline := time.Now().Add(solanaDeadline)
	ticker := time.NewTicker(solanaPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return SolanaResult{Success: false, Reason: "Confirmation timeout", BundleID: bundleID}, nil
		case <-ticker.C:
			if time.Now().After(deadline) {
				return SolanaResult{Success: false, Reason: "Confirmation timeout", BundleID: bundleID}, nil
			}
			raw, err := c.call(ctx, "getBundleStatuses", []interface{}{[]string{bundleID}})
			if err != nil {
				c.log.Warn("bundle status poll failed, continuing", zap.Error(err))
				continue
			}
			var status solanaBundleStatus
			if err := json.Unmarshal(raw, &status); err != nil || len(status.Value) == 0 {
				continue
			}
			entry := status.Value[0]
			if entry.Err != nil {
				return SolanaResult{Success: false, Reason: "bundle failed", BundleID: bundleID}, nil
			}
			if entry.ConfirmationStatus == "confirmed" || entry.ConfirmationStatus == "finalized" {
				return SolanaResult{Success: true, BundleID: bundleID, Slot: entry.Slot}, nil
			}
		}
	}
}

// GetTipAccounts fetches the relay's rotating tip accounts (getTipAccounts).
func (c *SolanaClient) GetTipAccounts(ctx context.Context) ([]string, error) {
	raw, err := c.call(ctx, "getTipAccounts", nil)
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, &executor.ProtocolError{Op: "mev.solana.getTipAccounts.decode", Err: err}
	}
	return accounts, nil
}
