package domain

import (
	"math"
	"strings"
)

// positionEmphasis maps pick positions to metric-name fragments whose
// weighted contribution is boosted for that round. First pick uses the
// weights as given; later rounds emphasize defense and consistency, which
// matter more for second and third robots.
var positionEmphasis = map[PickPosition]map[string]float64{
	PickSecond: {
		"defense":     1.25,
		"consistency": 1.15,
	},
	PickThird: {
		"defense":     1.4,
		"consistency": 1.25,
		"endgame":     1.1,
	},
}

// Scorer computes deterministic statistical scores for teams from
// normalized priority weights. It performs no I/O and holds no mutable
// state, so a single instance is safe for concurrent use.
type Scorer struct {
	weights  PriorityWeights
	position PickPosition
}

// NewScorer creates a Scorer for the given normalized weights and pick
// position. The weights must already be normalized; the Scorer does not
// re-validate them.
func NewScorer(weights PriorityWeights, position PickPosition) *Scorer {
	return &Scorer{weights: weights, position: position}
}

// Score returns the weighted sum of the team's metrics over all weighted
// metric names, treating a missing metric as zero. A team with no weighted
// metrics scores 0 and still participates in ranking; the tie-break rule
// orders it after any team with a positive contribution of equal score by
// team number.
func (s *Scorer) Score(team Team) float64 {
	var total float64
	for metric, weight := range s.weights {
		value, ok := lookupMetric(team.Metrics, metric)
		if !ok {
			continue
		}
		total += s.emphasis(metric) * weight * value
	}
	return total
}

// ScoreAll scores every team and returns them unsorted. Callers that need
// ranking order apply SortRanking.
func (s *Scorer) ScoreAll(teams []Team) []ScoredTeam {
	scored := make([]ScoredTeam, len(teams))
	for i, team := range teams {
		sc := s.Score(team)
		scored[i] = ScoredTeam{Team: team, Score: sc, StatScore: sc}
	}
	return scored
}

// Similarity returns a similarity measure in (0, 1] between two teams over
// the weighted metric vector: 1/(1+d) where d is the Euclidean distance of
// the weight-scaled metric values. Identical teams yield 1.
func (s *Scorer) Similarity(a, b Team) float64 {
	var sumSq float64
	for metric, weight := range s.weights {
		av, _ := lookupMetric(a.Metrics, metric)
		bv, _ := lookupMetric(b.Metrics, metric)
		d := weight * (av - bv)
		sumSq += d * d
	}
	return 1 / (1 + math.Sqrt(sumSq))
}

// emphasis returns the pick-position multiplier for a metric, 1.0 when the
// position or metric carries no emphasis. A metric matching several
// fragments takes the largest multiplier, which keeps the result
// independent of map iteration order.
func (s *Scorer) emphasis(metric string) float64 {
	table, ok := positionEmphasis[s.position]
	if !ok {
		return 1
	}
	mult := 1.0
	for fragment, m := range table {
		if strings.Contains(metric, fragment) && m > mult {
			mult = m
		}
	}
	return mult
}

// lookupMetric resolves a canonical metric name against a team's metric map,
// which may carry un-canonicalized names from the snapshot.
func lookupMetric(metrics map[string]float64, canonical string) (float64, bool) {
	if v, ok := metrics[canonical]; ok {
		return v, true
	}
	for name, v := range metrics {
		if CanonicalMetricName(name) == canonical {
			return v, true
		}
	}
	return 0, false
}
