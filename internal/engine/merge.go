package engine

import (
	"sort"

	"go.uber.org/zap"

	"github.com/scoutline/picklist/internal/domain"
)

// merge combines per-batch results into one ranked sequence.
//
// Recalibration: the LLM scores each batch independently, so its absolute
// scale drifts batch to batch. Every batch shares the reference team set;
// the first successful batch anchors the scale, and each later batch is
// shifted by the mean score delta of the reference teams it shares with the
// anchor before the final sort. Teams from failed batches, and teams the
// LLM dropped from a partial reply, keep their statistical scores and are
// flagged as fallback.
func (o *BatchOrchestrator) merge(batches []*batch, input RunInput) *RunOutput {
	output := &RunOutput{}

	anchor := anchorBatch(batches)

	byNumber := make(map[int]domain.ScoredTeam, len(input.Pool)+len(input.References))
	for _, st := range input.Pool {
		byNumber[st.Team.Number] = st
	}
	for _, st := range input.References {
		st.IsReference = true
		byNumber[st.Team.Number] = st
	}

	ranked := make([]domain.ScoredTeam, 0, len(byNumber))
	fallback := make(map[int]bool)

	for _, b := range batches {
		summary := domain.BatchSummary{Index: b.index, TeamCount: len(b.teams), Status: string(b.status)}
		if b.err != nil {
			summary.Error = b.err.Error()
		}
		output.Batches = append(output.Batches, summary)

		if b.status != batchDone {
			// Whole batch falls back to statistical scoring.
			for _, st := range b.teams {
				st.Fallback = true
				st.Score = st.StatScore
				ranked = append(ranked, st)
				fallback[st.Team.Number] = true
			}
			continue
		}

		offset := o.batchOffset(b, anchor)
		for _, entry := range b.entries {
			st, ok := byNumber[entry.TeamNumber]
			if !ok {
				continue
			}
			st.Score = entry.Score + offset
			st.Reasoning = entry.Reasoning
			ranked = append(ranked, st)
		}
		for _, teamNumber := range b.dropped {
			st, ok := byNumber[teamNumber]
			if !ok {
				continue
			}
			st.Fallback = true
			st.Score = st.StatScore
			ranked = append(ranked, st)
			fallback[teamNumber] = true
		}
	}

	// Reference teams take their anchor-batch scores; their own reasoning
	// comes from the anchor reply when present.
	if anchor != nil {
		for _, ref := range input.References {
			st := byNumber[ref.Team.Number]
			score, ok := anchor.refScores[ref.Team.Number]
			if !ok {
				st.Fallback = true
				st.Score = st.StatScore
				fallback[st.Team.Number] = true
			} else {
				st.Score = score
			}
			ranked = append(ranked, st)
		}
	} else {
		for _, ref := range input.References {
			st := byNumber[ref.Team.Number]
			st.Fallback = true
			st.Score = st.StatScore
			ranked = append(ranked, st)
			fallback[st.Team.Number] = true
		}
	}

	domain.SortRanking(ranked)
	output.Ranked = ranked

	for teamNumber := range fallback {
		output.FallbackTeams = append(output.FallbackTeams, teamNumber)
	}
	sort.Ints(output.FallbackTeams)
	output.Degraded = len(output.FallbackTeams) > 0
	return output
}

// anchorBatch returns the first successful batch, which fixes the score
// scale all later batches are shifted onto. Nil when every batch failed;
// the caller has already handled the total-failure path, so nil only
// happens transiently in tests.
func anchorBatch(batches []*batch) *batch {
	for _, b := range batches {
		if b.status == batchDone {
			return b
		}
	}
	return nil
}

// batchOffset computes the additive calibration offset for a batch: the
// mean, over reference teams scored by both this batch and the anchor, of
// (anchor score - batch score). The anchor itself gets 0.
func (o *BatchOrchestrator) batchOffset(b, anchor *batch) float64 {
	if anchor == nil || b == anchor {
		return 0
	}

	var sum float64
	var shared int
	for teamNumber, anchorScore := range anchor.refScores {
		batchScore, ok := b.refScores[teamNumber]
		if !ok {
			continue
		}
		sum += anchorScore - batchScore
		shared++
	}
	if shared == 0 {
		o.logger.Warn("no shared reference scores; batch left uncalibrated", zap.Int("batch", b.index))
		return 0
	}

	offset := sum / float64(shared)
	o.logger.Debug("batch calibrated",
		zap.Int("batch", b.index),
		zap.Int("shared_references", shared),
		zap.Float64("offset", offset))
	return offset
}
