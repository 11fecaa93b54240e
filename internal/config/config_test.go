package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"localhost:19092"}, cfg.KafkaBrokers)
	assert.Equal(t, 1800, cfg.WorkflowMetadataTTLSeconds)
	assert.Equal(t, 1800*time.Second, cfg.WorkflowMetadataTTL())
	assert.Equal(t, 270*time.Second, cfg.SequentialBudget)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("SEQUENTIAL_EXECUTION", "true")
	t.Setenv("WORKFLOW_METADATA_TTL_SECONDS", "600")
	t.Setenv("RETRY_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.SequentialExecution)
	assert.Equal(t, 600*time.Second, cfg.WorkflowMetadataTTL())
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
}

func TestStageBudget(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.StageBudget("ai_parsing"))
	assert.Equal(t, 10*time.Second, cfg.StageBudget("database_save"))
	assert.Equal(t, 20*time.Second, cfg.StageBudget("product_draft_creation"))
	assert.Equal(t, 40*time.Second, cfg.StageBudget("image_attachment"))
	assert.Equal(t, 60*time.Second, cfg.StageBudget("shopify_sync"))
	assert.Equal(t, 5*time.Second, cfg.StageBudget("status_update"))
	assert.Equal(t, 30*time.Second, cfg.StageBudget("unknown"))
}

func TestIsDevIsProdIsTest(t *testing.T) {
	cfg := Config{AppEnv: "prod"}
	assert.True(t, cfg.IsProd())
	assert.False(t, cfg.IsDev())
	assert.False(t, cfg.IsTest())
}
