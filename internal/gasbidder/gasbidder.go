// Package gasbidder round-trips to the ML gas-bidding oracle (spec §4.2, C2).
//
// Grounded on crypto-wallet/internal/defi/flashbots_client.go's
// makeRequest/retry HTTP pattern, reused here for a plain REST call instead
// of a bundle-relay JSON-RPC call.
package gasbidder

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
	"golang.org/x/time/rate"

	"github.com/flashloan-executor/executor/internal/executor"
)

// Bidder calls the configured oracle endpoint.
type Bidder struct {
	baseURL string
	path    string
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// New builds a Bidder for the configured mlOptimizer.baseUrl/gasBiddingEndpoint.
func New(baseURL, path string, log *zap.Logger) *Bidder {
	return &Bidder{
		baseURL: baseURL,
		path:    path,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(50), 10),
		log:     log,
	}
}

type bidRequest struct {
	ChainName      string          `json:"chainName"`
	Asset          string          `json:"asset"`
	Amount         decimal.Decimal `json:"amount"`
	ExpectedProfit decimal.Decimal `json:"expectedProfit"`
}

// GetBid requests a gas bid for an opportunity. Any non-2xx response or
// deserialization failure is a fatal, non-retryable GasBidError for the
// current opportunity (spec §4.2) — modeled here as a ProtocolError, which
// the pipeline treats as terminating the run with a Failed result.
func (b *Bidder) GetBid(ctx context.Context, o executor.Opportunity) (executor.GasBid, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return executor.GasBid{}, &executor.TransportError{Op: "gasbidder.rate_limit", Err: err}
	}

	body, err := json.Marshal(bidRequest{
		ChainName:      o.ChainName,
		Asset:          o.Asset,
		Amount:         o.Amount,
		ExpectedProfit: o.ExpectedProfit,
	})
	if err != nil {
		return executor.GasBid{}, fmt.Errorf("marshal bid request: %w", err)
	}

	url := b.baseURL + b.path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return executor.GasBid{}, fmt.Errorf("build bid request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return executor.GasBid{}, &executor.TransportError{Op: "gasbidder.POST", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return executor.GasBid{}, &executor.TransportError{Op: "gasbidder.read_body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.log.Warn("gas oracle returned non-2xx", zap.Int("status", resp.StatusCode), zap.String("opportunity", o.ID))
		return executor.GasBid{}, &executor.ProtocolError{Op: "gasbidder.status", Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))}
	}

	var bid executor.GasBid
	if err := executor.DecodeLoose(respBody, &bid); err != nil {
		return executor.GasBid{}, &executor.ProtocolError{Op: "gasbidder.decode", Err: err}
	}
	if !bid.Valid() {
		return executor.GasBid{}, &executor.ProtocolError{Op: "gasbidder.validate", Err: fmt.Errorf("non-positive bid fields: %+v", bid)}
	}
	return bid, nil
}
