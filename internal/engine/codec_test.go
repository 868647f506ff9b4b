package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scoutline/picklist/infrastructure/llm"
	"github.com/scoutline/picklist/internal/domain"
)

// The provider client feeds the codec directly; no adapter sits between.
var _ TokenEstimator = (*llm.Client)(nil)

// wordEstimator counts whitespace-separated words, mirroring the client's
// default estimator closely enough for sizing assertions.
type wordEstimator struct{}

func (wordEstimator) EstimateTokens(text string) (int, error) {
	return len(strings.Fields(text)), nil
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec(wordEstimator{}, zap.NewNop())
	require.NoError(t, err)
	return codec
}

func testWeights(t *testing.T) domain.PriorityWeights {
	t.Helper()
	weights, err := domain.NormalizePriorities(map[string]float64{
		"auto_points":    3,
		"defense_rating": 1,
	})
	require.NoError(t, err)
	return weights
}

func scoredTeam(number int, nickname string, auto, defense float64) domain.ScoredTeam {
	return domain.ScoredTeam{
		Team: domain.Team{
			Number:   number,
			Nickname: nickname,
			Metrics:  map[string]float64{"auto_points": auto, "defense_rating": defense},
		},
		Score:     auto + defense,
		StatScore: auto + defense,
	}
}

func TestCodecEncode(t *testing.T) {
	codec := newTestCodec(t)
	weights := testWeights(t)

	teams := []domain.ScoredTeam{
		scoredTeam(254, "The Cheesy Poofs", 42, 3),
		scoredTeam(1114, "Simbotics", 39, 5),
	}

	prompt, err := codec.Encode(EncodeRequest{
		Teams:       teams,
		OwnTeam:     930,
		Position:    domain.PickSecond,
		Weights:     weights,
		GameContext: "High goal scoring with endgame climb.",
	})
	require.NoError(t, err)

	assert.Equal(t, []int{254, 1114}, prompt.IndexToTeam)
	assert.Greater(t, prompt.Tokens, 0)

	assert.Contains(t, prompt.Prompt, "second pick")
	assert.Contains(t, prompt.Prompt, "Our own team is 930")
	assert.Contains(t, prompt.Prompt, "auto_points")
	assert.Contains(t, prompt.Prompt, "0: The Cheesy Poofs (#254)")
	assert.Contains(t, prompt.Prompt, "1: Simbotics (#1114)")
	assert.Contains(t, prompt.Prompt, "High goal scoring with endgame climb.")
	assert.Contains(t, prompt.Prompt, `{"ranking": [{"index":`)
}

func TestCodecEncodeEmptyBatch(t *testing.T) {
	codec := newTestCodec(t)
	_, err := codec.Encode(EncodeRequest{Weights: testWeights(t)})
	assert.Error(t, err)
}

func TestCodecEncodeBudgetExceeded(t *testing.T) {
	codec := newTestCodec(t)
	weights := testWeights(t)

	team := scoredTeam(1, "wordy", 1, 1)
	team.Team.Notes = strings.Repeat("lots of scouting narrative ", 40)

	_, err := codec.Encode(EncodeRequest{
		Teams:       []domain.ScoredTeam{team},
		OwnTeam:     930,
		Position:    domain.PickFirst,
		Weights:     weights,
		TokenBudget: 50,
	})
	require.Error(t, err)
	var budgetErr *TokenBudgetError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, 50, budgetErr.Budget)
	assert.Greater(t, budgetErr.Tokens, 50)
}

func TestCodecEncodeZeroBudgetUnbounded(t *testing.T) {
	codec := newTestCodec(t)
	weights := testWeights(t)

	// Planned batches arrive with no budget set; the prompt renders no
	// matter how large it is.
	team := scoredTeam(1, "wordy", 1, 1)
	team.Team.Notes = strings.Repeat("lots of scouting narrative ", 900)

	prompt, err := codec.Encode(EncodeRequest{
		Teams:    []domain.ScoredTeam{team},
		OwnTeam:  930,
		Position: domain.PickFirst,
		Weights:  weights,
	})
	require.NoError(t, err)
	assert.Greater(t, prompt.Tokens, DefaultTokenBudget)
}

func TestCodecDecode(t *testing.T) {
	codec := newTestCodec(t)
	indexToTeam := []int{254, 1114, 2056}

	tests := []struct {
		name        string
		raw         string
		wantStatus  ParseStatus
		wantTeams   []int
		wantDropped []int
	}{
		{
			name:       "clean reply",
			raw:        `{"ranking": [{"index": 0, "score": 95, "reasoning": "strong auto"}, {"index": 1, "score": 88, "reasoning": "solid"}, {"index": 2, "score": 75, "reasoning": "ok"}]}`,
			wantStatus: ParseOK,
			wantTeams:  []int{254, 1114, 2056},
		},
		{
			name:       "markdown fenced reply",
			raw:        "Here is the ranking:\n```json\n{\"ranking\": [{\"index\": 0, \"score\": 90, \"reasoning\": \"a\"}, {\"index\": 1, \"score\": 80, \"reasoning\": \"b\"}, {\"index\": 2, \"score\": 70, \"reasoning\": \"c\"}]}\n```\nHope that helps!",
			wantStatus: ParseOK,
			wantTeams:  []int{254, 1114, 2056},
		},
		{
			name:       "prose around bare JSON",
			raw:        `Sure! {"ranking": [{"index": 0, "score": 90, "reasoning": "a"}, {"index": 1, "score": 80, "reasoning": "b"}, {"index": 2, "score": 70, "reasoning": "c"}]} Let me know.`,
			wantStatus: ParseOK,
			wantTeams:  []int{254, 1114, 2056},
		},
		{
			name:       "missing reasoning tolerated",
			raw:        `{"ranking": [{"index": 0, "score": 90}, {"index": 1, "score": 80}, {"index": 2, "score": 70}]}`,
			wantStatus: ParseOK,
			wantTeams:  []int{254, 1114, 2056},
		},
		{
			name:        "omitted index dropped",
			raw:         `{"ranking": [{"index": 0, "score": 90, "reasoning": "a"}, {"index": 2, "score": 70, "reasoning": "c"}]}`,
			wantStatus:  ParsePartial,
			wantTeams:   []int{254, 2056},
			wantDropped: []int{1},
		},
		{
			name:        "out of range index dropped",
			raw:         `{"ranking": [{"index": 0, "score": 90}, {"index": 7, "score": 80}, {"index": 2, "score": 70}]}`,
			wantStatus:  ParsePartial,
			wantTeams:   []int{254, 2056},
			wantDropped: []int{1},
		},
		{
			name:        "entry without score dropped",
			raw:         `{"ranking": [{"index": 0, "score": 90}, {"index": 1, "reasoning": "no score"}, {"index": 2, "score": 70}]}`,
			wantStatus:  ParsePartial,
			wantTeams:   []int{254, 2056},
			wantDropped: []int{1},
		},
		{
			name:       "not JSON at all",
			raw:        "I cannot rank these teams.",
			wantStatus: ParseFailed,
		},
		{
			name:       "JSON without ranking array",
			raw:        `{"teams": [1, 2, 3]}`,
			wantStatus: ParseFailed,
		},
		{
			name:       "empty ranking array",
			raw:        `{"ranking": []}`,
			wantStatus: ParseFailed,
		},
		{
			name:       "every entry invalid",
			raw:        `{"ranking": [{"index": 9, "score": 1}, {"score": 2}]}`,
			wantStatus: ParseFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := codec.Decode(tt.raw, indexToTeam)
			require.Equal(t, tt.wantStatus, result.Status, "reason: %s", result.Reason)

			if tt.wantStatus == ParseFailed {
				assert.NotEmpty(t, result.Reason)
				return
			}

			got := make([]int, len(result.Entries))
			for i, e := range result.Entries {
				got[i] = e.TeamNumber
			}
			assert.Equal(t, tt.wantTeams, got)
			assert.Equal(t, tt.wantDropped, result.DroppedIndices)
		})
	}
}

func TestCodecDecodeDuplicateIndexLastWins(t *testing.T) {
	codec := newTestCodec(t)
	result := codec.Decode(
		`{"ranking": [{"index": 0, "score": 10, "reasoning": "first"}, {"index": 0, "score": 99, "reasoning": "second"}]}`,
		[]int{254},
	)
	require.Equal(t, ParseOK, result.Status)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, 99.0, result.Entries[0].Score)
	assert.Equal(t, "second", result.Entries[0].Reasoning)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare object", in: `{"a": 1}`, want: `{"a": 1}`},
		{name: "nested braces", in: `{"a": {"b": 2}} trailing`, want: `{"a": {"b": 2}}`},
		{name: "brace inside string", in: `{"a": "}{"} end`, want: `{"a": "}{"}`},
		{name: "json fence", in: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "plain fence", in: "```\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "no object", in: "nothing here", want: ""},
		{name: "unbalanced", in: `{"a": 1`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestEstimateTeamTokens(t *testing.T) {
	codec := newTestCodec(t)
	weights := testWeights(t)

	small := codec.EstimateTeamTokens(scoredTeam(1, "x", 1, 1), weights)
	assert.Greater(t, small, 0)

	noisy := scoredTeam(2, "y", 1, 1)
	noisy.Team.Notes = strings.Repeat("note ", 100)
	assert.Greater(t, codec.EstimateTeamTokens(noisy, weights), small)
}
