// Package ml talks to the external anomaly-detection service. The core
// consumes only the scalar score; it sets the ml_warning flag and never
// alters severities.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/extrusight/extrusight/internal/models"
)

// Request is the scoring payload.
type Request struct {
	MachineID     string                            `json:"machine_id"`
	SensorID      string                            `json:"sensor_id,omitempty"`
	Timestamp     time.Time                         `json:"timestamp"`
	Readings      map[string]float64                `json:"readings"`
	ProfileID     string                            `json:"profile_id,omitempty"`
	MaterialID    string                            `json:"material_id,omitempty"`
	BaselineStats map[string]RequestBaseline        `json:"baseline_stats,omitempty"`
}

// RequestBaseline is the per-metric baseline shipped with a request.
type RequestBaseline struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	P05  float64 `json:"p05"`
	P95  float64 `json:"p95"`
}

// Response is the service's verdict.
type Response struct {
	Score         float64            `json:"score"`
	Confidence    float64            `json:"confidence"`
	Contributions map[string]float64 `json:"contributions,omitempty"`
}

// Client is a thin HTTP client for the anomaly service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client; timeout bounds each scoring call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Score posts a scoring request. Any failure returns an error; callers
// treat a missing score as "no warning".
func (c *Client) Score(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode scoring request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scoring request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anomaly service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anomaly service returned %d", resp.StatusCode)
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode scoring response: %w", err)
	}
	return &out, nil
}

// BuildRequest assembles a scoring request from the evaluation inputs.
func BuildRequest(reading models.Reading, profile *models.Profile, derived models.DerivedMetrics, baseline map[string]models.BaselineStats) Request {
	req := Request{
		MachineID:  reading.MachineID,
		Timestamp:  reading.Timestamp,
		Readings:   make(map[string]float64),
		MaterialID: reading.Material,
	}
	for _, metric := range models.ExpectedBaselineMetrics {
		var v *float64
		switch metric {
		case models.MetricTempAvg:
			v = derived.TempAvg
		case models.MetricTempSpread:
			v = derived.TempSpread
		default:
			v = reading.Metric(metric)
		}
		if v != nil {
			req.Readings[metric] = *v
		}
	}
	if profile != nil {
		req.ProfileID = profile.ID
		req.MaterialID = profile.MaterialID
	}
	if len(baseline) > 0 {
		req.BaselineStats = make(map[string]RequestBaseline, len(baseline))
		for metric, st := range baseline {
			req.BaselineStats[metric] = RequestBaseline{Mean: st.Mean, Std: st.Std, P05: st.P05, P95: st.P95}
		}
	}
	return req
}
