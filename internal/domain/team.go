// Package domain contains the core value types and pure logic of the
// picklist engine: teams and their metrics, priority weights, statistical
// scoring, reference-team selection, and ranking assembly. Nothing in this
// package performs I/O; all functions are deterministic for identical inputs.
package domain

import (
	"sort"
	"time"
)

// Team is a single competition team as loaded from a dataset snapshot.
// Metrics is sparse; a team missing a metric is scored as zero for it.
// Teams are immutable within a ranking run and shared by reference across
// all downstream components.
type Team struct {
	// Number is the unique team identifier.
	Number int `json:"team_number"`

	// Nickname is the team's display name.
	Nickname string `json:"nickname"`

	// Metrics maps metric names to numeric values.
	Metrics map[string]float64 `json:"metrics"`

	// Notes carries optional narrative scouting context used to enrich
	// LLM prompts. May be empty.
	Notes string `json:"notes,omitempty"`
}

// Dataset is a per-event snapshot of teams plus game context.
// ID is a content hash of the snapshot used for cache fingerprinting.
type Dataset struct {
	// ID is the deterministic identity of this snapshot's content.
	ID string `json:"id"`

	// Year is the game season the snapshot belongs to.
	Year int `json:"year"`

	// EventKey identifies the competition event.
	EventKey string `json:"event_key"`

	// Teams maps team numbers to their data.
	Teams map[int]Team `json:"teams"`

	// GameContext is optional free text describing the game, included in
	// prompts so the model can reason about metric semantics.
	GameContext string `json:"game_context,omitempty"`
}

// MetricNames returns the sorted union of metric names across all teams.
func (d *Dataset) MetricNames() []string {
	seen := make(map[string]struct{})
	for _, t := range d.Teams {
		for name := range t.Metrics {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PickPosition is the alliance-selection round a ranking is produced for.
// It shifts scoring emphasis: later picks weight defense and consistency
// oriented metrics more heavily.
type PickPosition string

// Valid pick positions.
const (
	PickFirst  PickPosition = "first"
	PickSecond PickPosition = "second"
	PickThird  PickPosition = "third"
)

// Valid reports whether p is one of the known pick positions.
func (p PickPosition) Valid() bool {
	switch p {
	case PickFirst, PickSecond, PickThird:
		return true
	}
	return false
}

// ScoredTeam is a Team plus its derived score. The statistical score is
// produced by the Scorer; Score and Reasoning are later overwritten by the
// LLM pass when it succeeds for the team's batch.
type ScoredTeam struct {
	// Team is the underlying team, shared by reference with the dataset.
	Team Team `json:"team"`

	// Score is the team's current score. After a successful LLM pass this
	// is the calibrated LLM score; otherwise it is the statistical score.
	Score float64 `json:"score"`

	// StatScore always holds the deterministic statistical score,
	// regardless of whether the LLM pass succeeded.
	StatScore float64 `json:"stat_score"`

	// Reasoning is the short qualitative justification from the LLM.
	// Empty for teams scored by statistical fallback.
	Reasoning string `json:"reasoning,omitempty"`

	// IsReference marks teams injected into every batch for cross-batch
	// score calibration.
	IsReference bool `json:"is_reference,omitempty"`

	// Fallback marks teams whose batch failed the LLM pass and which
	// therefore carry statistical-only scores.
	Fallback bool `json:"fallback,omitempty"`
}

// BatchSummary records the outcome of one dispatched batch for result
// metadata and progress reporting.
type BatchSummary struct {
	// Index is the batch's sequence position.
	Index int `json:"index"`

	// TeamCount is the number of ranked (non-reference) teams in the batch.
	TeamCount int `json:"team_count"`

	// Status is the terminal batch state, "done" or "failed".
	Status string `json:"status"`

	// Error holds the failure reason for failed batches.
	Error string `json:"error,omitempty"`
}

// RankingResult is the final ordered ranking for one request.
// Ordering is strictly by descending score with ascending team number
// breaking ties.
type RankingResult struct {
	// RunID uniquely identifies the ranking run that produced this result.
	RunID string `json:"run_id"`

	// Ranking is the ordered team sequence, best pick first.
	Ranking []ScoredTeam `json:"ranking"`

	// TotalTeams is the number of teams ranked.
	TotalTeams int `json:"total_teams"`

	// Degraded is true when one or more batches fell back to
	// statistical-only scoring.
	Degraded bool `json:"degraded,omitempty"`

	// FallbackTeams lists the team numbers that used fallback scoring.
	FallbackTeams []int `json:"fallback_teams,omitempty"`

	// Batches summarizes each dispatched batch.
	Batches []BatchSummary `json:"batches,omitempty"`

	// ProcessingTime is the wall-clock duration of the run.
	ProcessingTime time.Duration `json:"processing_time"`
}

// SortRanking orders teams by descending score, breaking ties by ascending
// team number so equal-score orderings are deterministic.
func SortRanking(teams []ScoredTeam) {
	sort.SliceStable(teams, func(i, j int) bool {
		if teams[i].Score != teams[j].Score {
			return teams[i].Score > teams[j].Score
		}
		return teams[i].Team.Number < teams[j].Team.Number
	})
}

// MergeRankings unions two rankings by team number. Entries from updated
// replace entries from existing for duplicate teams, and the merged sequence
// is re-sorted by the standard ordering rule. Merging a ranking with itself
// returns an equal ranking.
func MergeRankings(existing, updated []ScoredTeam) []ScoredTeam {
	byNumber := make(map[int]ScoredTeam, len(existing)+len(updated))
	order := make([]int, 0, len(existing)+len(updated))

	for _, st := range existing {
		if _, ok := byNumber[st.Team.Number]; !ok {
			order = append(order, st.Team.Number)
		}
		byNumber[st.Team.Number] = st
	}
	for _, st := range updated {
		if _, ok := byNumber[st.Team.Number]; !ok {
			order = append(order, st.Team.Number)
		}
		byNumber[st.Team.Number] = st
	}

	merged := make([]ScoredTeam, 0, len(order))
	for _, num := range order {
		merged = append(merged, byNumber[num])
	}
	SortRanking(merged)
	return merged
}
