package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicy_DefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	policy, err := LoadPolicy(Config{})
	require.NoError(t, err)

	assert.True(t, policy.IncludeZeroAmount)
	assert.Equal(t, "Track", policy.TrackSaleMarker)
	assert.True(t, policy.ArtistRate().Equal(decimal.RequireFromString("0.5")))
	assert.True(t, policy.FallbackTable()["USD"].Equal(decimal.RequireFromString("5.50")))
}

func TestLoadPolicy_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yml")
	content := []byte(`policy:
  include_zero_amount: false
  default_artist_rate: "0.35"
  fallback_rates:
    USD: "5.10"
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	policy, err := LoadPolicy(Config{PolicyFile: path})
	require.NoError(t, err)

	assert.False(t, policy.IncludeZeroAmount)
	assert.True(t, policy.ArtistRate().Equal(decimal.RequireFromString("0.35")))
	assert.True(t, policy.FallbackTable()["USD"].Equal(decimal.RequireFromString("5.10")))
	assert.NotEmpty(t, policy.SummaryKeywords)
	assert.Equal(t, "Track", policy.TrackSaleMarker)
	assert.Equal(t, DefaultPolicy().BandcampItemTypes, policy.BandcampItemTypes)
	assert.Equal(t, 4, policy.MinPopulatedColumns)
	assert.True(t, policy.FallbackTable()["EUR"].Equal(decimal.RequireFromString("6.00")))
	assert.Len(t, policy.FallbackTable(), 4)
}

func TestLoadPolicy_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yml")
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  include_zero_amount: false\n"), 0o600))

	policy, err := LoadPolicy(Config{PolicyFile: path})
	require.NoError(t, err)

	want := DefaultPolicy()
	want.IncludeZeroAmount = false
	assert.Equal(t, want, policy)
}

func TestLoadPolicy_OverridesLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yml")
	content := []byte(`policy:
  track_sale_marker: "Single"
  summary_keywords: ["total"]
  min_populated_columns: 2
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	policy, err := LoadPolicy(Config{PolicyFile: path})
	require.NoError(t, err)

	assert.Equal(t, "Single", policy.TrackSaleMarker)
	assert.Equal(t, []string{"total"}, policy.SummaryKeywords)
	assert.Equal(t, 2, policy.MinPopulatedColumns)
	assert.Equal(t, DefaultPolicy().ExchangeMarkers, policy.ExchangeMarkers)
}

func TestLoadPolicy_RejectsInvalidRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yml")
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  default_artist_rate: \"1.5\"\n"), 0o600))

	_, err := LoadPolicy(Config{PolicyFile: path})
	assert.Error(t, err)
}

func TestLoadPolicy_ExplicitMissingFileFails(t *testing.T) {
	_, err := LoadPolicy(Config{PolicyFile: filepath.Join(t.TempDir(), "absent.yml")})
	assert.Error(t, err)
}
