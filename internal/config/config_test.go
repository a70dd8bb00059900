package config

import (
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.Set("database.path", "/tmp/spice-test.db")
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Matching.MinConfidence)
	assert.Equal(t, 95, cfg.Matching.PrelabelConfidence)
	assert.InDelta(t, 0.60, cfg.Matching.AmountWeight, 1e-9)
	assert.InDelta(t, 0.25, cfg.Matching.DateWeight, 1e-9)
	assert.InDelta(t, 0.15, cfg.Matching.TextWeight, 1e-9)
	assert.Equal(t, 3, cfg.Enrichment.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Jobs.PollInterval)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	retail := cfg.Matching.Kinds[model.KindRetailOrder]
	assert.InDelta(t, 0.01, retail.AmountTolerance, 1e-9)
	assert.Equal(t, 5, retail.DaysBefore)
	assert.Equal(t, 2, retail.DaysAfter)

	receipts := cfg.Matching.Kinds[model.KindReceiptEmail]
	assert.InDelta(t, 3.0, receipts.AmountTolerancePercent, 1e-9)
	assert.Len(t, cfg.Matching.Kinds, len(model.AllSourceKinds()))
}

func TestLoad_Overrides(t *testing.T) {
	v := newViper()
	v.Set("matching.min_confidence", 70)
	v.Set("matching.kinds.app_purchase.days_before", 10)
	v.Set("jobs.workers", 4)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 70, cfg.Matching.MinConfidence)
	assert.Equal(t, 10, cfg.Matching.Kinds[model.KindAppPurchase].DaysBefore)
	assert.Equal(t, 4, cfg.Jobs.Workers)
}

func TestLoad_APIKeyFallsBackToEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	v := newViper()
	v.Set("llm.provider", "openai")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		mutate func(v *viper.Viper)
		name   string
	}{
		{name: "confidence above 100", mutate: func(v *viper.Viper) { v.Set("matching.min_confidence", 101) }},
		{name: "prelabel below minimum", mutate: func(v *viper.Viper) { v.Set("matching.prelabel_confidence", 10) }},
		{name: "negative weight", mutate: func(v *viper.Viper) { v.Set("matching.weights.text", -1) }},
		{name: "zero weights", mutate: func(v *viper.Viper) {
			v.Set("matching.weights.amount", 0)
			v.Set("matching.weights.date", 0)
			v.Set("matching.weights.text", 0)
		}},
		{name: "negative window", mutate: func(v *viper.Viper) { v.Set("matching.kinds.manual.days_after", -1) }},
		{name: "no retries", mutate: func(v *viper.Viper) { v.Set("enrichment.max_retries", 0) }},
		{name: "no workers", mutate: func(v *viper.Viper) { v.Set("jobs.workers", 0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			tt.mutate(v)
			_, err := Load(v)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrInvalidConfig))
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("SPICE_TEST_DIR", "/data")
	assert.Equal(t, "/data/spice.db", ExpandPath("$SPICE_TEST_DIR/spice.db"))
	assert.Equal(t, "", ExpandPath(""))
	assert.NotContains(t, ExpandPath("~/x"), "~")
	assert.Equal(t, "relative/~", ExpandPath("relative/~"))
}

func TestXDGDirs(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/etc/xdg")
	t.Setenv("XDG_DATA_HOME", "/srv/data")
	assert.Equal(t, "/etc/xdg/spice", ConfigDir())
	assert.Equal(t, "/srv/data/spice", DataDir())

	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/srv/data/spice/spice.db", cfg.Database.Path)
	assert.Equal(t, "/etc/xdg/spice/certs", cfg.Server.CertDir)

	t.Setenv("XDG_DATA_HOME", "relative")
	assert.NotEqual(t, "relative/spice", DataDir())
}

func TestBindEnv(t *testing.T) {
	t.Setenv("SPICE_MATCHING_MIN_CONFIDENCE", "70")
	t.Setenv("SPICE_JOBS_WORKERS", "4")

	v := newViper()
	BindEnv(v)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 70, cfg.Matching.MinConfidence)
	assert.Equal(t, 4, cfg.Jobs.Workers)
}
