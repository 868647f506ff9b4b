package domain

import (
	"sort"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// WeightSumTolerance is the permitted deviation from 1.0 for a normalized
// weight vector.
const WeightSumTolerance = 1e-9

// maxSuggestionDistance bounds how far a "did you mean" metric-name
// suggestion may be from the unknown name.
const maxSuggestionDistance = 3

// PriorityWeights maps canonical metric names to normalized weights.
// A valid instance always sums to 1.0 within WeightSumTolerance and is
// immutable after creation.
type PriorityWeights map[string]float64

// Sum returns the total of all weights.
func (w PriorityWeights) Sum() float64 {
	var total float64
	for _, v := range w {
		total += v
	}
	return total
}

// Metrics returns the sorted metric names carried by the weight vector.
// The sorted order makes downstream serialization deterministic.
func (w PriorityWeights) Metrics() []string {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CanonicalMetricName normalizes a metric name for weighting and lookup:
// NFC unicode normalization followed by case folding. Dataset importers and
// the normalizer both apply it, so user input like "Auto" matches a dataset
// metric named "auto".
func CanonicalMetricName(name string) string {
	return cases.Fold().String(norm.NFC.String(name))
}

// NormalizePriorities validates a raw metric-to-weight mapping and scales it
// so the weights sum to 1.0. Raw weights may have any non-negative
// magnitude. It returns an InvalidPriorityError when the mapping is empty,
// contains a negative weight, or sums to zero.
//
// Metric names unknown to the dataset schema are passed through untouched;
// the Scorer treats a team's missing metric as zero, which keeps priority
// inputs forward compatible with metrics added to the dataset later.
func NormalizePriorities(raw map[string]float64) (PriorityWeights, error) {
	if len(raw) == 0 {
		return nil, &InvalidPriorityError{Reason: "no metrics supplied"}
	}

	canonical := make(PriorityWeights, len(raw))
	var total float64
	for name, weight := range raw {
		if weight < 0 {
			return nil, &InvalidPriorityError{Reason: "negative weight", Metric: name}
		}
		// Duplicate names that fold to the same canonical form accumulate.
		canonical[CanonicalMetricName(name)] += weight
		total += weight
	}

	if total == 0 {
		return nil, &InvalidPriorityError{Reason: "weights sum to zero"}
	}

	for name := range canonical {
		canonical[name] /= total
	}
	return canonical, nil
}

// SuggestMetric returns the known metric name closest to the given unknown
// name, for diagnostics such as "unknown metric X, did you mean Y". The
// second return is false when no known name is within edit distance 3.
// Both sides are compared in canonical form; ties resolve to the
// lexicographically smallest candidate so suggestions are deterministic.
func SuggestMetric(unknown string, known []string) (string, bool) {
	target := CanonicalMetricName(unknown)

	best := ""
	bestDist := maxSuggestionDistance + 1
	for _, candidate := range known {
		d := levenshtein.ComputeDistance(target, CanonicalMetricName(candidate))
		if d < bestDist || (d == bestDist && best != "" && candidate < best) {
			best = candidate
			bestDist = d
		}
	}
	if bestDist > maxSuggestionDistance {
		return "", false
	}
	return best, true
}

// UnknownMetrics returns the weighted metric names absent from the dataset
// schema, sorted for stable logging.
func UnknownMetrics(weights PriorityWeights, schema []string) []string {
	known := make(map[string]struct{}, len(schema))
	for _, name := range schema {
		known[CanonicalMetricName(name)] = struct{}{}
	}

	var unknown []string
	for name := range weights {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}
