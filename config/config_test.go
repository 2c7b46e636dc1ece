package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerConfigTimeoutsFromEnv(t *testing.T) {
	t.Setenv("ACQUIRE_TIMEOUT", "2s")
	t.Setenv("PROVIDER_TIMEOUT", "4s")
	t.Setenv("FRAME_SKIP", "3")
	t.Setenv("MAX_CONSECUTIVE_FAILURES", "7")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	wc := cfg.WorkerConfig()
	assert.Equal(t, 2*time.Second, wc.AcquireTimeout)
	assert.Equal(t, 4*time.Second, wc.ProviderTimeout)
	assert.Equal(t, 3, wc.FrameSkip)
	assert.Equal(t, 7, wc.MaxConsecutiveFailures)
}

func TestWorkerConfigTimeoutDefaults(t *testing.T) {
	t.Setenv("ACQUIRE_TIMEOUT", "")
	t.Setenv("PROVIDER_TIMEOUT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	wc := cfg.WorkerConfig()
	assert.Equal(t, 5*time.Second, wc.AcquireTimeout)
	assert.Equal(t, 10*time.Second, wc.ProviderTimeout)
}

func TestWorkerConfigRejectsInvalidTimeout(t *testing.T) {
	t.Setenv("ACQUIRE_TIMEOUT", "not-a-duration")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.WorkerConfig().AcquireTimeout)
}
