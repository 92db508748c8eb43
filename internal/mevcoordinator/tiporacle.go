package mevcoordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flashloan-executor/executor/internal/executor"
)

// HTTPTipOracle calls the configured jito.tipEstimateEndpoint for the
// current tip distribution, the same net/http request/response shape
// gasbidder.Bidder uses against the ML gas-bidding oracle.
type HTTPTipOracle struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTipOracle builds a TipOracle for the configured endpoint. An empty
// endpoint is valid: GetTipEstimate then always fails with a ConfigError,
// and Coordinator.submitSolana falls back to a zero tip, same as when no
// oracle is wired at all.
func NewHTTPTipOracle(endpoint string) *HTTPTipOracle {
	return &HTTPTipOracle{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type tipEstimateResponse struct {
	MinLamports         string `json:"minLamports"`
	MedianLamports      string `json:"medianLamports"`
	P75Lamports         string `json:"p75Lamports"`
	P95Lamports         string `json:"p95Lamports"`
	RecommendedLamports string `json:"recommendedLamports"`
}

// GetTipEstimate fetches the tip distribution used by SizeSolanaTip.
func (o *HTTPTipOracle) GetTipEstimate(ctx context.Context) (TipEstimate, error) {
	if o.endpoint == "" {
		return TipEstimate{}, &executor.ConfigError{Key: "jito.tipEstimateEndpoint", Err: fmt.Errorf("not configured")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint, nil)
	if err != nil {
		return TipEstimate{}, fmt.Errorf("build tip estimate request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return TipEstimate{}, &executor.TransportError{Op: "mev.tiporacle.GET", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TipEstimate{}, &executor.TransportError{Op: "mev.tiporacle.read_body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TipEstimate{}, &executor.ProtocolError{Op: "mev.tiporacle.status", Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var raw tipEstimateResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return TipEstimate{}, &executor.ProtocolError{Op: "mev.tiporacle.decode", Err: err}
	}

	min, err1 := decimal.NewFromString(raw.MinLamports)
	median, err2 := decimal.NewFromString(raw.MedianLamports)
	p75, err3 := decimal.NewFromString(raw.P75Lamports)
	p95, err4 := decimal.NewFromString(raw.P95Lamports)
	recommended, err5 := decimal.NewFromString(raw.RecommendedLamports)
	if err := firstErr(err1, err2, err3, err4, err5); err != nil {
		return TipEstimate{}, &executor.ProtocolError{Op: "mev.tiporacle.decode.lamports", Err: err}
	}

	return TipEstimate{
		MinLamports:         min,
		MedianLamports:      median,
		P75Lamports:         p75,
		P95Lamports:         p95,
		RecommendedLamports: recommended,
	}, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
