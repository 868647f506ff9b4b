package llm

import (
	"strings"
	"sync"
)

// WordEstimator estimates tokens from the word count. Fast and close
// enough for batch-size planning, where overestimating slightly is safer
// than underestimating.
type WordEstimator struct {
	// TokensPerWord is the conversion ratio, ~0.75 for English prose.
	TokensPerWord float64
}

// NewWordEstimator creates a word-based estimator. Non-positive ratios
// fall back to the English default of 0.75.
func NewWordEstimator(tokensPerWord float64) *WordEstimator {
	if tokensPerWord <= 0 {
		tokensPerWord = 0.75
	}
	return &WordEstimator{TokensPerWord: tokensPerWord}
}

// EstimateTokens splits on whitespace and applies the ratio.
func (e *WordEstimator) EstimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * e.TokensPerWord)
}

// CharEstimator estimates tokens from the character count. Better than
// word counting for the numeric metric tables that dominate ranking
// prompts, where "words" are short.
type CharEstimator struct {
	charsPerToken float64
}

// NewCharEstimator creates a character-based estimator. Non-positive
// ratios fall back to 4 characters per token.
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &CharEstimator{charsPerToken: charsPerToken}
}

// EstimateTokens divides the character count by the ratio.
func (e *CharEstimator) EstimateTokens(text string) int {
	return int(float64(len(text)) / e.charsPerToken)
}

// CachingEstimator memoizes another estimator's results. Batch planning
// estimates the same team lines repeatedly across runs against the same
// dataset, so the hit rate is high. Safe for concurrent use.
type CachingEstimator struct {
	underlying TokenEstimator

	mu      sync.RWMutex
	cache   map[string]int
	maxSize int
}

// NewCachingEstimator wraps an estimator with a bounded memo cache.
// Non-positive sizes fall back to 1000 entries.
func NewCachingEstimator(underlying TokenEstimator, maxSize int) *CachingEstimator {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &CachingEstimator{
		underlying: underlying,
		cache:      make(map[string]int),
		maxSize:    maxSize,
	}
}

// EstimateTokens returns the cached count, computing and storing it on a
// miss while the cache has room.
func (e *CachingEstimator) EstimateTokens(text string) int {
	e.mu.RLock()
	tokens, ok := e.cache[text]
	e.mu.RUnlock()
	if ok {
		return tokens
	}

	tokens = e.underlying.EstimateTokens(text)

	e.mu.Lock()
	if len(e.cache) < e.maxSize {
		e.cache[text] = tokens
	}
	e.mu.Unlock()
	return tokens
}

// ClearCache drops all memoized results.
func (e *CachingEstimator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]int)
	e.mu.Unlock()
}

// CacheSize reports the current number of memoized results.
func (e *CachingEstimator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
