package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
}

// The result cache lives in the process, so a detached run's output is
// unreachable after exit. Blocking must be the default.
func TestGenerateWaitsByDefault(t *testing.T) {
	flag := generateCmd.Flags().Lookup("wait")
	require.NotNil(t, flag)
	assert.Equal(t, "true", flag.DefValue)
}

func TestLoadPriorities(t *testing.T) {
	t.Run("flags override file", func(t *testing.T) {
		file := t.TempDir() + "/priorities.yaml"
		writeFile(t, file, "auto_points: 2\ndefense_rating: 1\n")

		got, err := loadPriorities([]string{"auto_points=5"}, file)
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"auto_points": 5, "defense_rating": 1}, got)
	})

	t.Run("malformed pair", func(t *testing.T) {
		_, err := loadPriorities([]string{"auto_points"}, "")
		assert.ErrorContains(t, err, "metric=weight")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadPriorities(nil, "/nonexistent/priorities.yaml")
		assert.ErrorContains(t, err, "read priorities file")
	})
}
