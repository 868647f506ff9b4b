package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scoutline/picklist/internal/domain"
	"github.com/scoutline/picklist/internal/ports"
)

// Response status values returned to callers.
const (
	StatusSuccess    = "success"
	StatusInProgress = "processing"
	StatusFailed     = "error"
	StatusNotFound   = "not_found"
)

// Error categories carried by error responses.
const (
	CategoryInvalidInput = "invalid_input"
	CategoryDataset      = "dataset_unavailable"
	CategoryLLM          = "llm_error"
	CategoryCancelled    = "cancelled"
	CategoryInternal     = "internal"
)

// RankedTeamView is the caller-facing shape of one ranked team.
type RankedTeamView struct {
	TeamNumber int     `json:"team_number"`
	Nickname   string  `json:"name"`
	Score      float64 `json:"score"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Fallback   bool    `json:"fallback,omitempty"`
}

// BatchInfo aggregates per-batch progress for a response.
type BatchInfo struct {
	Total     int                   `json:"total"`
	Completed int                   `json:"completed"`
	Summaries []domain.BatchSummary `json:"summaries,omitempty"`
}

// ErrorDetail is the machine-readable error payload of an error response.
type ErrorDetail struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Response is the envelope every service operation returns.
type Response struct {
	Status            string           `json:"status"`
	Ranking           []RankedTeamView `json:"ranking,omitempty"`
	CacheKey          string           `json:"cache_key,omitempty"`
	RunID             string           `json:"run_id,omitempty"`
	TotalTeams        int              `json:"total_teams,omitempty"`
	Degraded          bool             `json:"degraded,omitempty"`
	FallbackTeams     []int            `json:"fallback_teams,omitempty"`
	BatchInfo         *BatchInfo       `json:"batch_info,omitempty"`
	Progress          float64          `json:"progress,omitempty"`
	RemainingEstimate time.Duration    `json:"remaining_estimate,omitempty"`
	ProcessingTime    time.Duration    `json:"processing_time,omitempty"`
	Error             *ErrorDetail     `json:"error,omitempty"`
}

// GenerateRequest carries the inputs of one picklist generation.
type GenerateRequest struct {
	// Position is the pick position to rank for.
	Position domain.PickPosition

	// Priorities is the raw metric-to-weight mapping from the user.
	Priorities map[string]float64

	// OwnTeam is the requesting team's number.
	OwnTeam int

	// ExcludedTeams are left out of the ranking entirely (already picked
	// or unavailable teams).
	ExcludedTeams []int

	// CacheKey optionally overrides part of the fingerprint so callers
	// can partition the cache explicitly.
	CacheKey string

	// Wait blocks until the ranking completes instead of returning a
	// processing handle.
	Wait bool
}

// Service is the generation orchestrator, the only entry point other
// subsystems call. It sequences normalization, scoring, reference
// selection, batching, and caching.
type Service struct {
	provider     ports.DatasetProvider
	orchestrator *BatchOrchestrator
	cache        *ResultCache
	refCount     int
	logger       *zap.Logger
}

// NewService wires the generation orchestrator. refCount <= 0 uses
// domain.DefaultReferenceCount. A nil logger disables logging.
func NewService(provider ports.DatasetProvider, orchestrator *BatchOrchestrator, cache *ResultCache, refCount int, logger *zap.Logger) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("dataset provider cannot be nil")
	}
	if orchestrator == nil {
		return nil, fmt.Errorf("batch orchestrator cannot be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("result cache cannot be nil")
	}
	if refCount <= 0 {
		refCount = domain.DefaultReferenceCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		provider:     provider,
		orchestrator: orchestrator,
		cache:        cache,
		refCount:     refCount,
		logger:       logger,
	}, nil
}

// GeneratePicklist produces a ranked picklist for the request. Identical
// requests share one computation: the first caller owns the work, later
// callers attach to the same cache entry and poll it. With Wait set the
// call blocks until the ranking finishes; otherwise it returns a
// processing-handle response carrying the cache key.
//
// Invalid input and dataset failures return an error; batch-level LLM
// failures never do; they degrade the result instead.
func (s *Service) GeneratePicklist(ctx context.Context, req GenerateRequest) (*Response, error) {
	if !req.Position.Valid() {
		return nil, eris.Wrap(domain.ErrInvalidPickPosition, string(req.Position))
	}

	weights, err := domain.NormalizePriorities(req.Priorities)
	if err != nil {
		return nil, err
	}

	ds, err := s.provider.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "generate picklist")
	}
	s.warnUnknownMetrics(weights, ds)

	fingerprint := Fingerprint(ds.ID, weights, req.Position, req.ExcludedTeams, req.CacheKey)
	entry, created := s.cache.GetOrCreate(fingerprint)
	if !created {
		// Attach to the existing computation or result.
		return s.responseFromEntry(entry.Snapshot()), nil
	}

	if req.Wait {
		s.runRanking(ctx, entry, ds, weights, req)
		return s.responseFromEntry(entry.Snapshot()), nil
	}

	go s.runRanking(ctx, entry, ds, weights, req)
	snap := entry.Snapshot()
	return &Response{Status: StatusInProgress, CacheKey: snap.Fingerprint}, nil
}

// RankMissingTeams ranks the dataset teams absent from an existing ranking,
// reusing the same pipeline and reference calibration. It always runs
// synchronously and bypasses the cache: the caller is patching a known
// ranking, not starting a pollable job.
func (s *Service) RankMissingTeams(ctx context.Context, existing []int, position domain.PickPosition, priorities map[string]float64, ownTeam int) (*Response, error) {
	if !position.Valid() {
		return nil, eris.Wrap(domain.ErrInvalidPickPosition, string(position))
	}

	weights, err := domain.NormalizePriorities(priorities)
	if err != nil {
		return nil, err
	}

	ds, err := s.provider.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "rank missing teams")
	}
	s.warnUnknownMetrics(weights, ds)

	ranked := make(map[int]bool, len(existing))
	for _, num := range existing {
		ranked[num] = true
	}
	var missing []int
	for num := range ds.Teams {
		if !ranked[num] {
			missing = append(missing, num)
		}
	}
	sort.Ints(missing)

	if len(missing) == 0 {
		return &Response{Status: StatusSuccess, TotalTeams: 0}, nil
	}

	start := time.Now()
	result, runErr := s.rank(ctx, ds, weights, position, ownTeam, missing, nil)
	if runErr != nil {
		return nil, runErr
	}
	result.ProcessingTime = time.Since(start)
	return s.responseFromResult(result, ""), nil
}

// MergeAndUpdatePicklist unions an existing ranking with newly ranked
// teams. New entries override old ones for duplicate team numbers and the
// merged sequence is re-sorted by descending score with the team-number
// tie-break.
func (s *Service) MergeAndUpdatePicklist(existing, updated []domain.ScoredTeam) []domain.ScoredTeam {
	return domain.MergeRankings(existing, updated)
}

// GetBatchStatus reports the state of a cached ranking: status, progress
// fraction, and a remaining-time estimate extrapolated from completed
// batches. An unknown key yields a not_found response, not an error.
func (s *Service) GetBatchStatus(cacheKey string) *Response {
	entry, err := s.cache.Get(cacheKey)
	if err != nil {
		return &Response{
			Status: StatusNotFound,
			Error:  &ErrorDetail{Category: CategoryInvalidInput, Message: err.Error()},
		}
	}

	snap := entry.Snapshot()
	resp := s.responseFromEntry(snap)
	resp.Progress = snap.Progress
	if snap.Status == StatusProcessing && snap.BatchesDone > 0 {
		perBatch := snap.Elapsed / time.Duration(snap.BatchesDone)
		resp.RemainingEstimate = perBatch * time.Duration(snap.BatchesTotal-snap.BatchesDone)
	}
	return resp
}

// ClearCache removes the named cache entries, or all entries when no keys
// are given, and returns the number removed.
func (s *Service) ClearCache(keys ...string) int {
	return s.cache.Clear(keys...)
}

// runRanking executes a full generation into the cache entry owned by this
// call. All failures land on the entry; nothing is returned.
func (s *Service) runRanking(ctx context.Context, entry *CacheEntry, ds *domain.Dataset, weights domain.PriorityWeights, req GenerateRequest) {
	start := time.Now()

	excluded := make(map[int]bool, len(req.ExcludedTeams))
	for _, num := range req.ExcludedTeams {
		excluded[num] = true
	}
	var eligible []int
	for num := range ds.Teams {
		if !excluded[num] {
			eligible = append(eligible, num)
		}
	}
	sort.Ints(eligible)

	if len(eligible) == 0 {
		entry.fail(CategoryInvalidInput, "no eligible teams after exclusions")
		return
	}

	result, err := s.rank(ctx, ds, weights, req.Position, req.OwnTeam, eligible, entry)
	if err != nil {
		entry.fail(categorize(err), err.Error())
		return
	}
	result.ProcessingTime = time.Since(start)
	entry.complete(result)

	s.logger.Info("picklist generated",
		zap.String("run_id", result.RunID),
		zap.String("event", ds.EventKey),
		zap.Int("teams", result.TotalTeams),
		zap.Bool("degraded", result.Degraded),
		zap.Duration("elapsed", result.ProcessingTime))
}

// rank runs scoring, reference selection, and the batch pipeline over the
// given team numbers. entry may be nil for uncached runs.
func (s *Service) rank(ctx context.Context, ds *domain.Dataset, weights domain.PriorityWeights, position domain.PickPosition, ownTeam int, teamNumbers []int, entry *CacheEntry) (*domain.RankingResult, error) {
	teams := make([]domain.Team, 0, len(teamNumbers))
	for _, num := range teamNumbers {
		if team, ok := ds.Teams[num]; ok {
			teams = append(teams, team)
		}
	}

	scorer := domain.NewScorer(weights, position)
	scored := scorer.ScoreAll(teams)

	references := domain.SelectReferenceTeams(scored, s.refCount, scorer)
	refNumbers := make(map[int]bool, len(references))
	for _, ref := range references {
		refNumbers[ref.Team.Number] = true
	}
	pool := make([]domain.ScoredTeam, 0, len(scored))
	for _, st := range scored {
		if !refNumbers[st.Team.Number] {
			pool = append(pool, st)
		}
	}

	var onProgress func(done, total int)
	if entry != nil {
		onProgress = entry.setBatchProgress
	}

	output, err := s.orchestrator.Run(ctx, RunInput{
		Pool:        pool,
		References:  references,
		OwnTeam:     ownTeam,
		Position:    position,
		Weights:     weights,
		GameContext: ds.GameContext,
	}, onProgress)
	if err != nil {
		return nil, err
	}

	return &domain.RankingResult{
		RunID:         uuid.NewString(),
		Ranking:       output.Ranked,
		TotalTeams:    len(output.Ranked),
		Degraded:      output.Degraded,
		FallbackTeams: output.FallbackTeams,
		Batches:       output.Batches,
	}, nil
}

// warnUnknownMetrics logs weighted metric names absent from the dataset
// schema, with a nearest-name suggestion when one is close. Unknown metrics
// are not an error; they score zero until the dataset grows them.
func (s *Service) warnUnknownMetrics(weights domain.PriorityWeights, ds *domain.Dataset) {
	schema := ds.MetricNames()
	for _, name := range domain.UnknownMetrics(weights, schema) {
		fields := []zap.Field{zap.String("metric", name), zap.String("event", ds.EventKey)}
		if suggestion, ok := domain.SuggestMetric(name, schema); ok {
			fields = append(fields, zap.String("did_you_mean", suggestion))
		}
		s.logger.Warn("priority metric not in dataset schema", fields...)
	}
}

// responseFromEntry converts a cache entry snapshot into a response
// envelope.
func (s *Service) responseFromEntry(snap EntrySnapshot) *Response {
	switch snap.Status {
	case StatusCompleted:
		return s.responseFromResult(snap.Result, snap.Fingerprint)
	case StatusError:
		return &Response{
			Status:   StatusFailed,
			CacheKey: snap.Fingerprint,
			Error:    &ErrorDetail{Category: snap.ErrorCategory, Message: snap.ErrorMessage},
		}
	default:
		return &Response{
			Status:   StatusInProgress,
			CacheKey: snap.Fingerprint,
			Progress: snap.Progress,
			BatchInfo: &BatchInfo{
				Total:     snap.BatchesTotal,
				Completed: snap.BatchesDone,
			},
		}
	}
}

// responseFromResult converts a completed ranking into a success envelope.
func (s *Service) responseFromResult(result *domain.RankingResult, cacheKey string) *Response {
	views := make([]RankedTeamView, len(result.Ranking))
	for i, st := range result.Ranking {
		views[i] = RankedTeamView{
			TeamNumber: st.Team.Number,
			Nickname:   st.Team.Nickname,
			Score:      st.Score,
			Reasoning:  st.Reasoning,
			Fallback:   st.Fallback,
		}
	}
	return &Response{
		Status:         StatusSuccess,
		Ranking:        views,
		CacheKey:       cacheKey,
		RunID:          result.RunID,
		TotalTeams:     result.TotalTeams,
		Degraded:       result.Degraded,
		FallbackTeams:  result.FallbackTeams,
		ProcessingTime: result.ProcessingTime,
		BatchInfo: &BatchInfo{
			Total:     len(result.Batches),
			Completed: len(result.Batches),
			Summaries: result.Batches,
		},
	}
}

// ResponseFromError builds the error envelope for a request that was
// rejected outright (invalid input or dataset failure). API layers use it
// to keep the error shape uniform with cached errors.
func ResponseFromError(err error) *Response {
	return &Response{
		Status: StatusFailed,
		Error:  &ErrorDetail{Category: categorize(err), Message: err.Error()},
	}
}

// categorize maps an error to its response category string.
func categorize(err error) string {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return CategoryCancelled
	case errors.Is(err, domain.ErrInvalidPriority), errors.Is(err, domain.ErrInvalidPickPosition):
		return CategoryInvalidInput
	case errors.Is(err, domain.ErrDatasetUnavailable):
		return CategoryDataset
	case errors.Is(err, ErrAllBatchesFailed):
		return CategoryLLM
	default:
		return CategoryInternal
	}
}
