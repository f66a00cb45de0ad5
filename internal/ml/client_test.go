package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extrusight/extrusight/internal/models"
)

func TestScore(t *testing.T) {
	var received Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/score", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(Response{Score: 0.73, Confidence: 0.9})
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	resp, err := c.Score(context.Background(), Request{
		MachineID: "ex-01",
		Readings:  map[string]float64{models.MetricScrewRPM: 85},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.73, resp.Score)
	assert.Equal(t, "ex-01", received.MachineID)
	assert.Equal(t, 85.0, received.Readings[models.MetricScrewRPM])
}

func TestScoreNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	_, err := c.Score(context.Background(), Request{MachineID: "ex-01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestScoreRespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewClient(server.URL, time.Second)
	_, err := c.Score(ctx, Request{MachineID: "ex-01"})
	assert.Error(t, err)
}

func TestBuildRequest(t *testing.T) {
	reading := models.Reading{
		MachineID: "ex-01",
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Material:  "PP-H350",
		ScrewRPM:  models.Float(85),
		TempZones: [models.TempZoneCount]*float64{
			models.Float(230), models.Float(231), nil, nil,
		},
	}
	derived := models.DerivedMetrics{
		TempAvg:    models.Float(230.5),
		TempSpread: models.Float(1),
	}
	machine := "ex-01"
	profile := &models.Profile{ID: "profile-1", MachineID: &machine, MaterialID: "PP-H350"}
	baseline := map[string]models.BaselineStats{
		models.MetricScrewRPM: {Mean: 85, Std: 0.5, P05: 84, P95: 86},
	}

	req := BuildRequest(reading, profile, derived, baseline)
	assert.Equal(t, "ex-01", req.MachineID)
	assert.Equal(t, "profile-1", req.ProfileID)
	assert.Equal(t, "PP-H350", req.MaterialID)

	// Absent sensors are omitted rather than sent as zero.
	assert.Equal(t, 85.0, req.Readings[models.MetricScrewRPM])
	assert.Equal(t, 230.5, req.Readings[models.MetricTempAvg])
	assert.NotContains(t, req.Readings, models.MetricPressure)
	assert.NotContains(t, req.Readings, models.MetricTempZone3)

	require.Contains(t, req.BaselineStats, models.MetricScrewRPM)
	assert.Equal(t, 85.0, req.BaselineStats[models.MetricScrewRPM].Mean)
}
