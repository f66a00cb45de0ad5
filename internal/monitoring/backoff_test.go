package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelayGrowsAndCaps(t *testing.T) {
	cfg := defaultBackoff()
	cfg.Jitter = 0 // deterministic

	assert.Equal(t, 2*time.Second, cfg.nextDelay(0, 0.5))
	assert.Equal(t, 4*time.Second, cfg.nextDelay(1, 0.5))
	assert.Equal(t, 8*time.Second, cfg.nextDelay(2, 0.5))
	assert.Equal(t, 32*time.Second, cfg.nextDelay(4, 0.5))
	// Capped at the maximum from attempt 5 onwards.
	assert.Equal(t, 60*time.Second, cfg.nextDelay(5, 0.5))
	assert.Equal(t, 60*time.Second, cfg.nextDelay(20, 0.5))
}

func TestNextDelayJitterBounds(t *testing.T) {
	cfg := defaultBackoff()

	// rng 0.5 lands exactly on the nominal delay; the extremes stay within
	// +-20%.
	assert.Equal(t, 2*time.Second, cfg.nextDelay(0, 0.5))
	assert.Equal(t, time.Duration(float64(2*time.Second)*0.8), cfg.nextDelay(0, 0))
	lo := cfg.nextDelay(0, 0)
	hi := cfg.nextDelay(0, 0.999999)
	assert.Less(t, lo, hi)
	assert.GreaterOrEqual(t, lo, time.Duration(float64(2*time.Second)*0.8))
	assert.LessOrEqual(t, hi, time.Duration(float64(2*time.Second)*1.2))
}

func TestNextDelayZeroConfig(t *testing.T) {
	cfg := backoffConfig{}
	// A zero-valued config still produces usable delays.
	assert.Equal(t, 2*time.Second, cfg.nextDelay(-3, 0.5))
	assert.Equal(t, 4*time.Second, cfg.nextDelay(1, 0.5))
}
