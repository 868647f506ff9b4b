package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutline/picklist/internal/domain"
)

const validSnapshot = `{
  "year": 2026,
  "event_key": "2026wasno",
  "teams": {
    "254": {"nickname": "The Cheesy Poofs", "metrics": {"auto_points": 42.5, "defense_rating": 3}, "notes": "fast cycles"},
    "1114": {"nickname": "Simbotics", "metrics": {"auto_points": 39.1}}
  },
  "game_context": "High goals and a climb."
}`

func writeSnapshot(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileProviderLoad(t *testing.T) {
	path := writeSnapshot(t, validSnapshot)
	provider := NewFileProvider(path)
	assert.Equal(t, path, provider.Ref())

	ds, err := provider.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2026, ds.Year)
	assert.Equal(t, "2026wasno", ds.EventKey)
	assert.Equal(t, "High goals and a climb.", ds.GameContext)
	assert.NotEmpty(t, ds.ID)
	require.Len(t, ds.Teams, 2)

	poofs := ds.Teams[254]
	assert.Equal(t, 254, poofs.Number)
	assert.Equal(t, "The Cheesy Poofs", poofs.Nickname)
	assert.Equal(t, 42.5, poofs.Metrics["auto_points"])
	assert.Equal(t, "fast cycles", poofs.Notes)

	assert.Empty(t, ds.Teams[1114].Notes)
}

func TestFileProviderLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	content := `year: 2026
event_key: 2026wasno
teams:
  "254":
    nickname: The Cheesy Poofs
    metrics:
      auto_points: 42.5
game_context: High goals and a climb.
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	ds, err := NewFileProvider(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2026, ds.Year)
	assert.Equal(t, "2026wasno", ds.EventKey)
	require.Len(t, ds.Teams, 1)
	assert.Equal(t, "The Cheesy Poofs", ds.Teams[254].Nickname)
	assert.Equal(t, 42.5, ds.Teams[254].Metrics["auto_points"])
}

func TestFileProviderIDTracksContent(t *testing.T) {
	first, err := NewFileProvider(writeSnapshot(t, validSnapshot)).Load(context.Background())
	require.NoError(t, err)

	same, err := NewFileProvider(writeSnapshot(t, validSnapshot)).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, same.ID)

	changed, err := NewFileProvider(writeSnapshot(t, validSnapshot+"\n")).Load(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, changed.ID)
}

func TestFileProviderLoadFailures(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{
			name: "missing file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.json") },
		},
		{
			name: "invalid JSON",
			path: func(t *testing.T) string { return writeSnapshot(t, "{not json") },
		},
		{
			name: "non-numeric team key",
			path: func(t *testing.T) string {
				return writeSnapshot(t, `{"year": 2026, "teams": {"abc": {"nickname": "x"}}}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFileProvider(tt.path(t)).Load(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrDatasetUnavailable))

			var unavailable *domain.DatasetUnavailableError
			assert.True(t, errors.As(err, &unavailable))
		})
	}
}

func TestFileProviderLoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileProvider(writeSnapshot(t, validSnapshot)).Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDatasetUnavailable))
}

func TestDatasetMetricNames(t *testing.T) {
	ds, err := NewFileProvider(writeSnapshot(t, validSnapshot)).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"auto_points", "defense_rating"}, ds.MetricNames())
}
