package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigPathPrefersPositionalArg(t *testing.T) {
	t.Setenv(configPathEnvVar, "/from/env")
	path, err := resolveConfigPath([]string{"/from/arg"})
	require.NoError(t, err)
	assert.Equal(t, "/from/arg", path)
}

func TestResolveConfigPathFallsBackToEnv(t *testing.T) {
	t.Setenv(configPathEnvVar, "/from/env")
	path, err := resolveConfigPath(nil)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", path)
}

func TestResolveConfigPathEmptyEnvStillCounts(t *testing.T) {
	t.Setenv(configPathEnvVar, "")
	path, err := resolveConfigPath(nil)
	require.NoError(t, err)
	assert.Equal(t, "", path)
}

func TestResolveConfigPathErrorsWithNeither(t *testing.T) {
	require.NoError(t, os.Unsetenv(configPathEnvVar))
	_, err := resolveConfigPath(nil)
	require.Error(t, err)
}
