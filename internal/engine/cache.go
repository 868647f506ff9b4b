package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scoutline/picklist/internal/domain"
)

// EntryStatus is the lifecycle state of a cached ranking.
type EntryStatus string

// Cache entry states.
const (
	StatusProcessing EntryStatus = "processing"
	StatusCompleted  EntryStatus = "completed"
	StatusError      EntryStatus = "error"
)

// CacheEntry tracks one ranking computation from acceptance to completion.
// It is created in processing state, mutated only by the worker performing
// the ranking, and read concurrently by polling callers through Snapshot.
type CacheEntry struct {
	mu sync.RWMutex

	fingerprint  string
	status       EntryStatus
	result       *domain.RankingResult
	batchesDone  int
	batchesTotal int
	errCategory  string
	errMessage   string
	createdAt    time.Time
}

// EntrySnapshot is a consistent read of a CacheEntry for polling callers.
type EntrySnapshot struct {
	Fingerprint   string
	Status        EntryStatus
	Result        *domain.RankingResult
	Progress      float64
	BatchesDone   int
	BatchesTotal  int
	ErrorCategory string
	ErrorMessage  string
	Elapsed       time.Duration
}

// Snapshot returns a consistent copy of the entry's current state.
func (e *CacheEntry) Snapshot() EntrySnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	progress := 0.0
	if e.batchesTotal > 0 {
		progress = float64(e.batchesDone) / float64(e.batchesTotal)
	}
	if e.status == StatusCompleted {
		progress = 1.0
	}
	return EntrySnapshot{
		Fingerprint:   e.fingerprint,
		Status:        e.status,
		Result:        e.result,
		Progress:      progress,
		BatchesDone:   e.batchesDone,
		BatchesTotal:  e.batchesTotal,
		ErrorCategory: e.errCategory,
		ErrorMessage:  e.errMessage,
		Elapsed:       time.Since(e.createdAt),
	}
}

// setBatchProgress updates the completed/total batch counters.
func (e *CacheEntry) setBatchProgress(done, total int) {
	e.mu.Lock()
	e.batchesDone, e.batchesTotal = done, total
	e.mu.Unlock()
}

// complete transitions the entry to completed with its result.
func (e *CacheEntry) complete(result *domain.RankingResult) {
	e.mu.Lock()
	e.status = StatusCompleted
	e.result = result
	e.mu.Unlock()
}

// fail transitions the entry to error with a category and message.
func (e *CacheEntry) fail(category, message string) {
	e.mu.Lock()
	e.status = StatusError
	e.errCategory = category
	e.errMessage = message
	e.mu.Unlock()
}

// ResultCache memoizes completed and in-flight rankings by fingerprint.
// It is process-local shared mutable state across concurrent ranking
// requests and guarantees at most one in-flight computation per
// fingerprint: a second request for an identical fingerprint attaches to
// the existing entry instead of triggering duplicate LLM calls.
//
// Entries are never evicted automatically; Clear is the only removal path.
// The cache is constructed once at process start and injected into the
// service rather than hanging off package state.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
	logger  *zap.Logger
}

// NewResultCache creates an empty cache. A nil logger disables logging.
func NewResultCache(logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{entries: make(map[string]*CacheEntry), logger: logger}
}

// GetOrCreate returns the entry for the fingerprint, creating it in
// processing state when absent. The second return is true when this call
// created the entry, meaning the caller owns the computation.
func (c *ResultCache) GetOrCreate(fingerprint string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[fingerprint]; ok {
		c.logger.Debug("cache hit", zap.String("fingerprint", fingerprint), zap.String("status", string(entry.status)))
		return entry, false
	}

	entry := &CacheEntry{
		fingerprint: fingerprint,
		status:      StatusProcessing,
		createdAt:   time.Now(),
	}
	c.entries[fingerprint] = entry
	return entry, true
}

// Get returns the entry for the fingerprint or a *domain.CacheStateError
// when none exists.
func (c *ResultCache) Get(fingerprint string) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		return nil, &domain.CacheStateError{Key: fingerprint, Operation: "get"}
	}
	return entry, nil
}

// Clear removes the named entries, or every entry when no keys are given.
// It returns the number of entries removed.
func (c *ResultCache) Clear(keys ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(keys) == 0 {
		removed := len(c.entries)
		c.entries = make(map[string]*CacheEntry)
		c.logger.Info("cache cleared", zap.Int("removed", removed))
		return removed
	}

	removed := 0
	for _, key := range keys {
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			removed++
		}
	}
	c.logger.Info("cache entries removed", zap.Int("removed", removed), zap.Int("requested", len(keys)))
	return removed
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Fingerprint derives the deterministic cache key for a ranking request
// from every input that affects its outcome: dataset identity, normalized
// priorities, pick position, excluded teams, and the optional explicit key
// override.
func Fingerprint(datasetID string, weights domain.PriorityWeights, position domain.PickPosition, excluded []int, overrideKey string) string {
	var b strings.Builder
	b.WriteString("dataset=")
	b.WriteString(datasetID)
	b.WriteString(";position=")
	b.WriteString(string(position))

	b.WriteString(";weights=")
	for _, name := range weights.Metrics() {
		fmt.Fprintf(&b, "%s:%.12f,", name, weights[name])
	}

	sorted := make([]int, len(excluded))
	copy(sorted, excluded)
	sort.Ints(sorted)
	b.WriteString(";excluded=")
	for _, num := range sorted {
		fmt.Fprintf(&b, "%d,", num)
	}

	if overrideKey != "" {
		b.WriteString(";key=")
		b.WriteString(overrideKey)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
