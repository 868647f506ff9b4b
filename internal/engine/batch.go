package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scoutline/picklist/internal/domain"
	"github.com/scoutline/picklist/internal/ports"
)

// Orchestrator defaults.
const (
	// DefaultMaxConcurrency bounds simultaneous LLM calls per ranking run.
	DefaultMaxConcurrency = 3

	// DefaultResponseMaxTokens bounds the reply length requested per batch.
	DefaultResponseMaxTokens = 2000

	// DefaultTemperature keeps batch scoring as consistent as the provider
	// allows.
	DefaultTemperature = 0.0
)

// ErrAllBatchesFailed indicates that no batch produced usable LLM output.
// Partial failure degrades to statistical fallback instead.
var ErrAllBatchesFailed = errors.New("all batches failed")

// runState is the orchestrator's position in its lifecycle, for logging and
// debugging. Transitions are linear: created, dispatching, awaiting,
// merging, then completed or failed.
type runState string

const (
	stateCreated           runState = "created"
	stateDispatching       runState = "dispatching"
	stateAwaitingResponses runState = "awaiting_responses"
	stateMerging           runState = "merging"
	stateCompleted         runState = "completed"
	stateFailed            runState = "failed"
)

// batchStatus is the completion state of one batch.
type batchStatus string

const (
	batchPending    batchStatus = "pending"
	batchInProgress batchStatus = "in_progress"
	batchDone       batchStatus = "done"
	batchFailed     batchStatus = "failed"
)

// batch is one ordered subset of the scored team pool plus the injected
// reference set, sized to the token budget. Batches never leave the
// orchestrator; callers observe them only through aggregated progress and
// summaries.
type batch struct {
	index  int
	teams  []domain.ScoredTeam
	status batchStatus
	err    error

	// entries holds decoded non-reference scores; refScores the decoded
	// scores of reference teams, keyed by team number, used by the merge
	// step for recalibration.
	entries   []RankedEntry
	refScores map[int]float64

	// dropped lists non-reference teams the LLM reply omitted; they fall
	// back to statistical scores without failing the batch.
	dropped []int
}

// BatchConfig tunes the orchestrator.
type BatchConfig struct {
	// TokenBudget caps each batch prompt's estimated size. Zero uses
	// DefaultTokenBudget.
	TokenBudget int

	// MaxConcurrency bounds simultaneous LLM calls. Zero uses
	// DefaultMaxConcurrency.
	MaxConcurrency int

	// ResponseMaxTokens is the per-batch reply budget passed to the
	// provider. Zero uses DefaultResponseMaxTokens.
	ResponseMaxTokens int

	// Temperature is passed to the provider; scoring wants 0.
	Temperature float64
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.TokenBudget <= 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.ResponseMaxTokens <= 0 {
		c.ResponseMaxTokens = DefaultResponseMaxTokens
	}
	return c
}

// RunInput is one ranking run's worth of work for the orchestrator.
type RunInput struct {
	// Pool is the scored candidate set, references excluded.
	Pool []domain.ScoredTeam

	// References are the teams injected into every batch.
	References []domain.ScoredTeam

	// OwnTeam, Position, Weights, and GameContext flow into every prompt.
	OwnTeam     int
	Position    domain.PickPosition
	Weights     domain.PriorityWeights
	GameContext string
}

// RunOutput is the merged, recalibrated outcome of one run.
type RunOutput struct {
	// Ranked is the full ranked team set, references included, sorted by
	// the standard ordering rule.
	Ranked []domain.ScoredTeam

	// Batches summarizes each batch's terminal state.
	Batches []domain.BatchSummary

	// Degraded is true when any team carries fallback scoring.
	Degraded bool

	// FallbackTeams lists team numbers that used statistical fallback.
	FallbackTeams []int
}

// BatchOrchestrator partitions scored team sets into token-budgeted
// batches, dispatches them concurrently through the codec and LLM client,
// and merges the per-batch results into one calibrated ranking.
type BatchOrchestrator struct {
	llm      ports.LLMClient
	codec    *Codec
	config   BatchConfig
	logger   *zap.Logger
	metrics  ports.MetricsCollector
	progress ports.ProgressSink
}

// NewBatchOrchestrator wires an orchestrator. The metrics collector and
// progress sink may be nil; a nil logger disables logging.
func NewBatchOrchestrator(
	llm ports.LLMClient,
	codec *Codec,
	config BatchConfig,
	logger *zap.Logger,
	metrics ports.MetricsCollector,
	progress ports.ProgressSink,
) (*BatchOrchestrator, error) {
	if llm == nil {
		return nil, fmt.Errorf("LLM client cannot be nil")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchOrchestrator{
		llm:      llm,
		codec:    codec,
		config:   config.withDefaults(),
		logger:   logger,
		metrics:  metrics,
		progress: progress,
	}, nil
}

// Run executes the batch pipeline for one ranking run. onProgress, when
// non-nil, receives (completed, total) after each batch finishes and is
// used by the service to update the cache entry for polling callers.
//
// Cancellation semantics: batches already dispatched run to completion
// (their cost is already incurred), but once ctx is cancelled no further
// batch is dispatched and Run returns ctx.Err() after in-flight work
// drains.
func (o *BatchOrchestrator) Run(ctx context.Context, input RunInput, onProgress func(done, total int)) (*RunOutput, error) {
	runStart := time.Now()
	state := stateCreated
	batches := o.plan(input)
	total := len(batches)
	o.logger.Info("batch run planned",
		zap.Int("batches", total),
		zap.Int("pool", len(input.Pool)),
		zap.Int("references", len(input.References)),
		zap.String("position", string(input.Position)))

	state = stateDispatching
	var done atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(o.config.MaxConcurrency)

	// Detached context for calls already committed: a dispatched LLM call
	// is never aborted mid-flight.
	callCtx := context.WithoutCancel(ctx)

	for _, b := range batches {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				b.status = batchFailed
				b.err = fmt.Errorf("not dispatched: %w", err)
				return nil
			}

			b.status = batchInProgress
			o.dispatch(callCtx, b, input)

			completed := int(done.Add(1))
			if onProgress != nil {
				onProgress(completed, total)
			}
			if o.progress != nil {
				o.progress.ReportProgress(completed, total, fmt.Sprintf("batch %d/%d finished", completed, total))
			}
			return nil
		})
	}

	state = stateAwaitingResponses
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		state = stateFailed
		o.logger.Warn("batch run cancelled", zap.Int("completed", int(done.Load())), zap.Int("total", total))
		return nil, err
	}

	failed := 0
	for _, b := range batches {
		if b.status == batchFailed {
			failed++
		}
	}
	if failed == total {
		state = stateFailed
		o.logger.Error("batch run failed", zap.Int("batches", total))
		return nil, fmt.Errorf("%w: %d batches", ErrAllBatchesFailed, total)
	}

	state = stateMerging
	output := o.merge(batches, input)
	state = stateCompleted
	if o.metrics != nil {
		o.metrics.RecordLatency("ranking_run", time.Since(runStart), map[string]string{
			"position": string(input.Position),
			"status":   string(state),
		})
	}
	o.logger.Info("batch run merged",
		zap.String("state", string(state)),
		zap.Int("ranked", len(output.Ranked)),
		zap.Bool("degraded", output.Degraded),
		zap.Int("fallback_teams", len(output.FallbackTeams)))
	return output, nil
}

// plan partitions the pool into batches whose estimated prompt size stays
// under the token budget once the reference set and instruction overhead
// are accounted for. Every batch gets the full reference set appended.
func (o *BatchOrchestrator) plan(input RunInput) []*batch {
	refTokens := 0
	for _, ref := range input.References {
		refTokens += o.codec.EstimateTeamTokens(ref, input.Weights)
	}
	available := o.config.TokenBudget - promptOverheadTokens - refTokens
	if available < 1 {
		available = 1
	}

	var batches []*batch
	current := &batch{index: 0, status: batchPending}
	used := 0
	for _, st := range input.Pool {
		cost := o.codec.EstimateTeamTokens(st, input.Weights)
		if used > 0 && used+cost > available {
			batches = append(batches, current)
			current = &batch{index: len(batches), status: batchPending}
			used = 0
		}
		current.teams = append(current.teams, st)
		used += cost
	}
	if len(current.teams) > 0 || len(batches) == 0 {
		batches = append(batches, current)
	}
	return batches
}

// dispatch runs one batch end to end: encode, complete, decode. Failures
// are recorded on the batch, never propagated; the merge step resolves them
// via statistical fallback.
func (o *BatchOrchestrator) dispatch(ctx context.Context, b *batch, input RunInput) {
	start := time.Now()

	prompt, err := o.codec.Encode(EncodeRequest{
		Teams:       append(append([]domain.ScoredTeam{}, b.teams...), input.References...),
		OwnTeam:     input.OwnTeam,
		Position:    input.Position,
		Weights:     input.Weights,
		GameContext: input.GameContext,
	})
	if err != nil {
		o.failBatch(b, fmt.Errorf("encode: %w", err))
		return
	}

	options := map[string]any{
		"temperature": o.config.Temperature,
		"max_tokens":  o.config.ResponseMaxTokens,
	}
	raw, err := o.llm.Complete(ctx, prompt.Prompt, options)
	if err != nil {
		o.failBatch(b, fmt.Errorf("LLM call: %w", err))
		return
	}

	refNumbers := make(map[int]bool, len(input.References))
	for _, ref := range input.References {
		refNumbers[ref.Team.Number] = true
	}

	result := o.codec.Decode(raw, prompt.IndexToTeam)
	switch result.Status {
	case ParseFailed:
		o.failBatch(b, &ResponseFormatError{Reason: result.Reason})
		return
	case ParsePartial:
		// A reference dropped here is resolved against the anchor batch
		// during merge, so only pool teams need per-team fallback.
		for _, idx := range result.DroppedIndices {
			if teamNumber := prompt.IndexToTeam[idx]; !refNumbers[teamNumber] {
				b.dropped = append(b.dropped, teamNumber)
			}
		}
		o.logger.Warn("batch decoded partially",
			zap.Int("batch", b.index),
			zap.Ints("dropped_teams", b.dropped))
	}
	b.refScores = make(map[int]float64, len(input.References))
	for _, entry := range result.Entries {
		if refNumbers[entry.TeamNumber] {
			b.refScores[entry.TeamNumber] = entry.Score
			continue
		}
		b.entries = append(b.entries, entry)
	}
	b.status = batchDone

	if o.metrics != nil {
		o.metrics.RecordLatency("batch_dispatch", time.Since(start), map[string]string{
			"status": string(b.status),
		})
		o.metrics.RecordCounter("ranking_batches_total", 1, map[string]string{"status": "done"})
	}
	o.logger.Debug("batch done",
		zap.Int("batch", b.index),
		zap.Int("teams", len(b.teams)),
		zap.Int("prompt_tokens", prompt.Tokens),
		zap.Duration("elapsed", time.Since(start)))
}

func (o *BatchOrchestrator) failBatch(b *batch, err error) {
	b.status = batchFailed
	b.err = err
	o.logger.Warn("batch failed, teams fall back to statistical scores",
		zap.Int("batch", b.index),
		zap.Int("teams", len(b.teams)),
		zap.Error(err))
	if o.metrics != nil {
		o.metrics.RecordCounter("ranking_batches_total", 1, map[string]string{"status": "failed"})
	}
}
