package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"binfleet-backend/internal/metrics"
)

// ErrOracleUnavailable marks a failed prediction call for one bin
var ErrOracleUnavailable = errors.New("prediction oracle unavailable")

// OracleRequest is the prediction oracle's input for one bin
type OracleRequest struct {
	BinID                string `json:"binId"`
	LatestFillPercentage int    `json:"latestFillPercentage"`
	CycleDurationDays    int    `json:"cycleDurationDays"`
	CycleStartMonth      int    `json:"cycleStartMonth"`
}

type oracleResponse struct {
	PredictedNextAvgDailyGrowth *float64 `json:"predictedNextAvgDailyGrowth"`
}

// GrowthOracle predicts the next average daily growth for a bin
type GrowthOracle interface {
	Predict(ctx context.Context, req OracleRequest) (float64, error)
}

// OracleClient calls the external HTTP prediction endpoint
type OracleClient struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOracleClient creates a client limited to rps calls per second
func NewOracleClient(url string, timeout time.Duration, rps float64) (*OracleClient, error) {
	if url == "" {
		return nil, fmt.Errorf("ORACLE_URL environment variable is required")
	}
	burst := max(1, int(rps))
	return &OracleClient{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// Predict posts one request. Any non-2xx status or a body without
// predictedNextAvgDailyGrowth is reported as ErrOracleUnavailable.
func (c *OracleClient) Predict(ctx context.Context, req OracleRequest) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("oracle rate limit wait: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to encode oracle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build oracle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.OracleLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return 0, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()
	metrics.OracleLatency.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return 0, fmt.Errorf("%w: status %d: %s", ErrOracleUnavailable, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out oracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: failed to decode response: %v", ErrOracleUnavailable, err)
	}
	if out.PredictedNextAvgDailyGrowth == nil {
		return 0, fmt.Errorf("%w: response missing predictedNextAvgDailyGrowth", ErrOracleUnavailable)
	}
	return *out.PredictedNextAvgDailyGrowth, nil
}
