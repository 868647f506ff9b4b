package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scoutline/picklist/internal/domain"
	"github.com/scoutline/picklist/internal/testutils"
)

// stubProvider serves a fixed in-memory dataset.
type stubProvider struct {
	ds  *domain.Dataset
	err error
}

func (p *stubProvider) Load(ctx context.Context) (*domain.Dataset, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.ds, nil
}

func (p *stubProvider) Ref() string { return "stub" }

func stubDataset(teamNumbers ...int) *domain.Dataset {
	teams := make(map[int]domain.Team, len(teamNumbers))
	for _, num := range teamNumbers {
		teams[num] = domain.Team{
			Number:   num,
			Nickname: fmt.Sprintf("team-%d", num),
			Metrics:  map[string]float64{"auto_points": float64(num % 100)},
		}
	}
	return &domain.Dataset{
		ID:          "ds-test",
		Year:        2026,
		EventKey:    "2026test",
		Teams:       teams,
		GameContext: "test game",
	}
}

func newTestService(t *testing.T, provider *stubProvider, mock *testutils.MockLLMClient) *Service {
	t.Helper()
	orchestrator := newTestOrchestrator(t, mock, BatchConfig{TokenBudget: 100000})
	svc, err := NewService(provider, orchestrator, NewResultCache(zap.NewNop()), 3, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func scoreByNumber(mock *testutils.MockLLMClient) {
	mock.SetReplyFunc(func(prompt string) (string, error) {
		return rankingReplyFor(prompt, func(team int) float64 { return float64(team % 100) }), nil
	})
}

func validRequest() GenerateRequest {
	return GenerateRequest{
		Position:   domain.PickFirst,
		Priorities: map[string]float64{"auto_points": 1},
		OwnTeam:    930,
		Wait:       true,
	}
}

func TestGeneratePicklist(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	scoreByNumber(mock)
	svc := newTestService(t, &stubProvider{ds: stubDataset(101, 102, 103, 104, 105, 106, 107, 108)}, mock)

	resp, err := svc.GeneratePicklist(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, resp.Status)
	assert.NotEmpty(t, resp.RunID)
	assert.NotEmpty(t, resp.CacheKey)
	assert.Equal(t, 8, resp.TotalTeams)
	assert.False(t, resp.Degraded)
	require.Len(t, resp.Ranking, 8)

	// Reply scores follow team number, so the ranking is descending.
	for i := 0; i < len(resp.Ranking)-1; i++ {
		assert.GreaterOrEqual(t, resp.Ranking[i].Score, resp.Ranking[i+1].Score)
	}
	assert.Equal(t, 108, resp.Ranking[0].TeamNumber)
	assert.Equal(t, 101, resp.Ranking[7].TeamNumber)
}

func TestGeneratePicklistInvalidInput(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	svc := newTestService(t, &stubProvider{ds: stubDataset(101, 102)}, mock)

	tests := []struct {
		name     string
		mutate   func(*GenerateRequest)
		sentinel error
	}{
		{
			name:     "unknown position",
			mutate:   func(r *GenerateRequest) { r.Position = "fourth" },
			sentinel: domain.ErrInvalidPickPosition,
		},
		{
			name:     "empty priorities",
			mutate:   func(r *GenerateRequest) { r.Priorities = nil },
			sentinel: domain.ErrInvalidPriority,
		},
		{
			name:     "negative weight",
			mutate:   func(r *GenerateRequest) { r.Priorities = map[string]float64{"auto_points": -1} },
			sentinel: domain.ErrInvalidPriority,
		},
		{
			name:     "all zero weights",
			mutate:   func(r *GenerateRequest) { r.Priorities = map[string]float64{"auto_points": 0, "defense": 0} },
			sentinel: domain.ErrInvalidPriority,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := svc.GeneratePicklist(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel))
			assert.Equal(t, 0, mock.CallCount())
		})
	}
}

func TestGeneratePicklistDatasetUnavailable(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	provider := &stubProvider{err: &domain.DatasetUnavailableError{Ref: "stub", Err: errors.New("gone")}}
	svc := newTestService(t, provider, mock)

	_, err := svc.GeneratePicklist(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDatasetUnavailable))

	resp := ResponseFromError(err)
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, CategoryDataset, resp.Error.Category)
}

func TestGeneratePicklistExcludesTeams(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	scoreByNumber(mock)
	svc := newTestService(t, &stubProvider{ds: stubDataset(101, 102, 103, 104, 105, 106)}, mock)

	req := validRequest()
	req.ExcludedTeams = []int{106, 103}
	resp, err := svc.GeneratePicklist(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, 4, resp.TotalTeams)
	for _, ranked := range resp.Ranking {
		assert.NotContains(t, []int{103, 106}, ranked.TeamNumber)
	}
}

func TestGeneratePicklistAllTeamsExcluded(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	svc := newTestService(t, &stubProvider{ds: stubDataset(101, 102)}, mock)

	req := validRequest()
	req.ExcludedTeams = []int{101, 102}
	resp, err := svc.GeneratePicklist(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CategoryInvalidInput, resp.Error.Category)
}

func TestGeneratePicklistSharedComputation(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	scoreByNumber(mock)
	svc := newTestService(t, &stubProvider{ds: stubDataset(101, 102, 103, 104, 105)}, mock)

	first, err := svc.GeneratePicklist(context.Background(), validRequest())
	require.NoError(t, err)
	calls := mock.CallCount()

	second, err := svc.GeneratePicklist(context.Background(), validRequest())
	require.NoError(t, err)

	// The second request attached to the cached result: same run, no new
	// LLM traffic.
	assert.Equal(t, calls, mock.CallCount())
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, first.CacheKey, second.CacheKey)

	// A different position is a different fingerprint.
	req := validRequest()
	req.Position = domain.PickSecond
	third, err := svc.GeneratePicklist(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.CacheKey, third.CacheKey)
}

func TestGeneratePicklistAsync(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	scoreByNumber(mock)
	svc := newTestService(t, &stubProvider{ds: stubDataset(101, 102, 103, 104, 105)}, mock)

	req := validRequest()
	req.Wait = false
	resp, err := svc.GeneratePicklist(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StatusInProgress, resp.Status)
	require.NotEmpty(t, resp.CacheKey)

	assert.Eventually(t, func() bool {
		return svc.GetBatchStatus(resp.CacheKey).Status == StatusSuccess
	}, 5*time.Second, 10*time.Millisecond)

	final := svc.GetBatchStatus(resp.CacheKey)
	assert.Len(t, final.Ranking, 5)
	assert.InDelta(t, 1.0, final.Progress, 1e-9)
}

func TestGeneratePicklistAllBatchesFailed(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	mock.SetReplyFunc(func(prompt string) (string, error) {
		return "no JSON here", nil
	})
	svc := newTestService(t, &stubProvider{ds: stubDataset(101, 102, 103, 104, 105)}, mock)

	resp, err := svc.GeneratePicklist(context.Background(), validRequest())
	require.NoError(t, err)

	// A single malformed batch degrades; every batch failing is an error.
	assert.Equal(t, StatusFailed, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CategoryLLM, resp.Error.Category)
}

func TestRankMissingTeams(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	scoreByNumber(mock)
	svc := newTestService(t, &stubProvider{ds: stubDataset(101, 102, 103, 104, 105, 106, 107, 108)}, mock)

	resp, err := svc.RankMissingTeams(context.Background(),
		[]int{101, 102, 103, 104, 105, 106}, domain.PickFirst,
		map[string]float64{"auto_points": 1}, 930)
	require.NoError(t, err)

	require.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, 2, resp.TotalTeams)
	got := make([]int, len(resp.Ranking))
	for i, ranked := range resp.Ranking {
		got[i] = ranked.TeamNumber
	}
	assert.ElementsMatch(t, []int{107, 108}, got)
}

func TestRankMissingTeamsNothingMissing(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	svc := newTestService(t, &stubProvider{ds: stubDataset(101, 102)}, mock)

	resp, err := svc.RankMissingTeams(context.Background(),
		[]int{101, 102}, domain.PickFirst, map[string]float64{"auto_points": 1}, 930)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Empty(t, resp.Ranking)
	assert.Equal(t, 0, mock.CallCount())
}

func TestMergeAndUpdatePicklist(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	svc := newTestService(t, &stubProvider{ds: stubDataset(101)}, mock)

	existing := []domain.ScoredTeam{
		{Team: domain.Team{Number: 1}, Score: 90},
		{Team: domain.Team{Number: 2}, Score: 50},
	}
	updated := []domain.ScoredTeam{
		{Team: domain.Team{Number: 3}, Score: 70},
	}

	merged := svc.MergeAndUpdatePicklist(existing, updated)
	require.Len(t, merged, 3)
	assert.Equal(t, 1, merged[0].Team.Number)
	assert.Equal(t, 3, merged[1].Team.Number)
	assert.Equal(t, 2, merged[2].Team.Number)
}

func TestGetBatchStatusUnknownKey(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	svc := newTestService(t, &stubProvider{ds: stubDataset(101)}, mock)

	resp := svc.GetBatchStatus("no-such-key")
	assert.Equal(t, StatusNotFound, resp.Status)
	require.NotNil(t, resp.Error)
}

func TestClearCache(t *testing.T) {
	mock := testutils.NewMockLLMClient("mock-model")
	scoreByNumber(mock)
	svc := newTestService(t, &stubProvider{ds: stubDataset(101, 102, 103, 104)}, mock)

	first, err := svc.GeneratePicklist(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, svc.ClearCache(first.CacheKey))
	assert.Equal(t, 0, svc.ClearCache(first.CacheKey))

	// A cleared key recomputes instead of attaching.
	calls := mock.CallCount()
	again, err := svc.GeneratePicklist(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Greater(t, mock.CallCount(), calls)
	assert.NotEqual(t, first.RunID, again.RunID)
}
