package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgquorum/walbroadcast/internal/config"
)

func TestParseDefaultsQuorum(t *testing.T) {
	cfg, err := config.Parse([]string{
		"-s", "sk1:6401,sk2:6401,sk3:6401",
		"-h", "primary.internal",
	})
	require.NoError(t, err)
	require.Len(t, cfg.Safekeepers, 3)
	require.Equal(t, 2, cfg.Quorum)
	require.Equal(t, 5432, cfg.Port)
	require.Equal(t, "primary.internal", cfg.Host)
}

func TestParseExplicitQuorum(t *testing.T) {
	cfg, err := config.Parse([]string{"-s", "a:1,b:2,c:3,d:4,e:5", "-q", "4"})
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Quorum)
}

func TestParseRejectsOutOfRangeQuorum(t *testing.T) {
	_, err := config.Parse([]string{"-s", "a:1,b:2,c:3", "-q", "1"})
	require.Error(t, err)

	_, err = config.Parse([]string{"-s", "a:1,b:2,c:3", "-q", "4"})
	require.Error(t, err)
}

func TestParseRequiresSafekeepers(t *testing.T) {
	_, err := config.Parse([]string{"-h", "primary"})
	require.Error(t, err)
}

func TestParseRejectsTooManySafekeepers(t *testing.T) {
	_, err := config.Parse([]string{"-s", "a:1,b:2,c:3", "--max-safekeepers", "2"})
	require.Error(t, err)
}

func TestParseRejectsMalformedAddress(t *testing.T) {
	_, err := config.Parse([]string{"-s", "no-port-here"})
	require.Error(t, err)
}

func TestParseHelpAndVersionSkipValidation(t *testing.T) {
	cfg, err := config.Parse([]string{"--help"})
	require.NoError(t, err)
	require.True(t, cfg.Help)

	cfg, err = config.Parse([]string{"-V"})
	require.NoError(t, err)
	require.True(t, cfg.Version)
}
