package domain

// DefaultReferenceCount is the number of reference teams injected into
// every batch when the caller does not configure one.
const DefaultReferenceCount = 3

// referenceSimilarityCeiling is the similarity above which two candidate
// reference teams are considered interchangeable. A candidate that close to
// an already chosen reference adds no calibration signal, so the selector
// walks to a neighbor instead.
const referenceSimilarityCeiling = 0.97

// SelectReferenceTeams picks k teams spread evenly across the score
// distribution of the scored set. The chosen teams are injected into every
// batch so the merge step can measure per-batch score drift against a shared
// anchor. Selection is deterministic for identical input: the scored set is
// ranked with the standard ordering rule and picks fall at evenly spaced
// rank positions (top, middle, bottom for k=3).
//
// When the scored set has fewer than k teams the selector soft-fails and
// returns the whole set. The scorer's similarity measure nudges picks off
// near-duplicate teams, preferring references that are distinct from each
// other.
func SelectReferenceTeams(scored []ScoredTeam, k int, scorer *Scorer) []ScoredTeam {
	if k <= 0 {
		return nil
	}

	ranked := make([]ScoredTeam, len(scored))
	copy(ranked, scored)
	SortRanking(ranked)

	if len(ranked) <= k {
		return ranked
	}

	taken := make(map[int]bool, k)
	refs := make([]ScoredTeam, 0, k)
	for i := 0; i < k; i++ {
		var pos int
		if k == 1 {
			pos = 0
		} else {
			pos = i * (len(ranked) - 1) / (k - 1)
		}
		pos = adjustReferencePick(ranked, refs, taken, pos, scorer)
		taken[pos] = true
		refs = append(refs, ranked[pos])
	}
	return refs
}

// adjustReferencePick walks outward from the target rank position until it
// finds an unused team that is not nearly identical to an already chosen
// reference. It gives up after a short walk and accepts the nearest unused
// position, so selection always succeeds.
func adjustReferencePick(ranked, chosen []ScoredTeam, taken map[int]bool, pos int, scorer *Scorer) int {
	acceptable := func(p int) bool {
		if p < 0 || p >= len(ranked) || taken[p] {
			return false
		}
		for _, ref := range chosen {
			if scorer.Similarity(ranked[p].Team, ref.Team) > referenceSimilarityCeiling {
				return false
			}
		}
		return true
	}

	if acceptable(pos) {
		return pos
	}
	for delta := 1; delta < len(ranked); delta++ {
		if acceptable(pos + delta) {
			return pos + delta
		}
		if acceptable(pos - delta) {
			return pos - delta
		}
	}
	// Every remaining position is a near-duplicate; fall back to the
	// nearest unused rank.
	for delta := 0; delta < len(ranked); delta++ {
		if p := pos + delta; p < len(ranked) && !taken[p] {
			return p
		}
		if p := pos - delta; p >= 0 && !taken[p] {
			return p
		}
	}
	return pos
}
