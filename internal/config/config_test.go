package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "USD", cfg.Ledger.Currency)
	assert.Equal(t, 3, cfg.Ledger.MaxRevisions)
	assert.Equal(t, 50, cfg.Dispatch.DefaultLimit)
}

func TestLimitsForFallsBackToDefault(t *testing.T) {
	cfg := Default()

	upwork := cfg.LimitsFor("upwork", "proposals")
	assert.Equal(t, 1, upwork.PerMinute)
	assert.Equal(t, 10, upwork.PerHour)

	unknown := cfg.LimitsFor("toptal", "proposals")
	assert.Equal(t, cfg.RateLimits.Default, unknown)

	unknownAction := cfg.LimitsFor("upwork", "withdrawals")
	assert.Equal(t, cfg.RateLimits.Default, unknownAction)
}

func TestFromYAMLRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"missing currency": `ledger:
  max_revisions: 3
`,
		"bad currency": `ledger:
  currency: DOLLARS
`,
		"negative window": `ledger:
  currency: USD
rate_limits:
  platforms:
    upwork:
      proposals:
        per_minute: -1
`,
		"zero-weight experiment": `ledger:
  currency: USD
experiments:
  tone:
    variants:
      a: 0
      b: 0
`,
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(yml))
			require.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "gigledger.yml"), []byte(GenerateDefault()), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "USD", cfg.Ledger.Currency)
}
