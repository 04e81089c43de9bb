package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/config"
)

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	limits, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), limits)
}

func TestLoadMissingConfigFileIsNotAnError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.NoError(t, err)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osmupload.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_tags_per_element: 5\n"), 0o644))

	limits, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, limits.MaxTagsPerElement)
	assert.Equal(t, config.Defaults().MaxWayNodes, limits.MaxWayNodes)
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	l := config.Defaults()
	l.MaxTagsPerElement = 0
	assert.Error(t, l.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, config.Defaults().Validate())
}
