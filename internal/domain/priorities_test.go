package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePriorities(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]float64
		want    map[string]float64
		wantErr bool
	}{
		{
			name: "scales to unit sum",
			raw:  map[string]float64{"auto_points": 5, "teleop_points": 3, "endgame_points": 2},
			want: map[string]float64{"auto_points": 0.5, "teleop_points": 0.3, "endgame_points": 0.2},
		},
		{
			name: "already normalized stays put",
			raw:  map[string]float64{"auto_points": 0.6, "defense_rating": 0.4},
			want: map[string]float64{"auto_points": 0.6, "defense_rating": 0.4},
		},
		{
			name: "single metric takes full weight",
			raw:  map[string]float64{"auto_points": 42},
			want: map[string]float64{"auto_points": 1},
		},
		{
			name: "case variants fold and accumulate",
			raw:  map[string]float64{"Auto_Points": 1, "auto_points": 1, "defense": 2},
			want: map[string]float64{"auto_points": 0.5, "defense": 0.5},
		},
		{
			name: "zero weight metric survives with zero share",
			raw:  map[string]float64{"auto_points": 4, "climb": 0},
			want: map[string]float64{"auto_points": 1, "climb": 0},
		},
		{
			name:    "empty input rejected",
			raw:     map[string]float64{},
			wantErr: true,
		},
		{
			name:    "nil input rejected",
			raw:     nil,
			wantErr: true,
		},
		{
			name:    "negative weight rejected",
			raw:     map[string]float64{"auto_points": 3, "defense": -1},
			wantErr: true,
		},
		{
			name:    "all zero weights rejected",
			raw:     map[string]float64{"auto_points": 0, "defense": 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePriorities(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPriority))
				var invalid *InvalidPriorityError
				assert.True(t, errors.As(err, &invalid))
				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for name, weight := range tt.want {
				assert.InDelta(t, weight, got[name], 1e-12, "metric %s", name)
			}
			assert.InDelta(t, 1.0, got.Sum(), WeightSumTolerance)
		})
	}
}

func TestNormalizePrioritiesDeterministic(t *testing.T) {
	raw := map[string]float64{"a": 1, "b": 2, "c": 3, "d": 4}
	first, err := NormalizePriorities(raw)
	require.NoError(t, err)
	second, err := NormalizePriorities(raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b", "c", "d"}, first.Metrics())
}

func TestCanonicalMetricName(t *testing.T) {
	assert.Equal(t, CanonicalMetricName("auto_points"), CanonicalMetricName("AUTO_POINTS"))
	assert.Equal(t, CanonicalMetricName("Défense"), CanonicalMetricName("défense"))
	assert.NotEqual(t, CanonicalMetricName("auto"), CanonicalMetricName("teleop"))
}

func TestSuggestMetric(t *testing.T) {
	known := []string{"auto_points", "teleop_points", "defense_rating", "endgame_points"}

	tests := []struct {
		name    string
		unknown string
		want    string
		ok      bool
	}{
		{name: "near miss", unknown: "auto_point", want: "auto_points", ok: true},
		{name: "case difference only", unknown: "Defense_Rating", want: "defense_rating", ok: true},
		{name: "transposition", unknown: "telepo_points", want: "teleop_points", ok: true},
		{name: "too far", unknown: "cycle_time", ok: false},
		{name: "no candidates", unknown: "anything", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates := known
			if tt.name == "no candidates" {
				candidates = nil
			}
			got, ok := SuggestMetric(tt.unknown, candidates)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestUnknownMetrics(t *testing.T) {
	weights, err := NormalizePriorities(map[string]float64{
		"auto_points": 1,
		"cycle_time":  1,
		"zz_custom":   1,
	})
	require.NoError(t, err)

	unknown := UnknownMetrics(weights, []string{"auto_points", "teleop_points"})
	assert.Equal(t, []string{"cycle_time", "zz_custom"}, unknown)

	assert.Empty(t, UnknownMetrics(weights, []string{"auto_points", "cycle_time", "ZZ_Custom"}))
}

func TestPriorityWeightsSum(t *testing.T) {
	w := PriorityWeights{"a": 0.25, "b": 0.75}
	assert.True(t, math.Abs(w.Sum()-1.0) < WeightSumTolerance)
}
