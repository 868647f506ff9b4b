// Package engine implements the picklist generation pipeline: prompt
// encoding and response decoding, token-budget batch planning and dispatch,
// cross-batch score recalibration, result caching, and the top-level
// generation service.
package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/scoutline/picklist/internal/domain"
)

// Defaults for codec construction.
const (
	// DefaultTokenBudget bounds the serialized prompt size for one batch.
	DefaultTokenBudget = 3000

	// promptOverheadTokens reserves room for the instruction preamble when
	// the batch planner sizes batches from per-team estimates.
	promptOverheadTokens = 400
)

// promptTemplate renders the ranking request. Teams are referenced by
// position index rather than repeated team data to economize tokens; the
// codec keeps the index-to-team-number mapping for decoding.
const promptTemplate = `You are an expert alliance-selection strategist ranking teams for the {{.Position}} pick.
Our own team is {{.OwnTeam}}. Rank every candidate below as an alliance partner for us.

Scoring priorities (weight, metric):
{{- range .Priorities}}
  {{printf "%.3f" .Weight}}  {{.Name}}
{{- end}}
{{- if .GameContext}}

Game context:
{{.GameContext}}
{{- end}}

Candidates (index: name | weighted statistical score | metrics{{if .HasNotes}} | notes{{end}}):
{{- range .Teams}}
{{.Index}}: {{.Line}}
{{- end}}

Score each candidate from 0 to 100 for this pick position, using the
priorities above and the statistical scores as a starting point. Keep
reasoning to one short sentence per team.

IMPORTANT: You must respond with valid JSON in exactly this format:
{"ranking": [{"index": <candidate index>, "score": <0-100>, "reasoning": "<one sentence>"}]}
Include every candidate index exactly once.`

// TokenEstimator approximates token counts for prompt sizing.
// ports.LLMClient satisfies it.
type TokenEstimator interface {
	EstimateTokens(text string) (int, error)
}

// ResponseFormatError indicates that an LLM reply could not be parsed as
// structured data at all. It is not retryable; the offending batch falls
// back to statistical scoring.
type ResponseFormatError struct {
	// Reason describes what made the reply unusable.
	Reason string
}

// Error implements the error interface for ResponseFormatError.
func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("malformed LLM response: %s", e.Reason)
}

// TokenBudgetError indicates an encoded prompt exceeded the budget the
// caller set on its request. Planned batches never carry one; the planner
// already sized them.
type TokenBudgetError struct {
	// Tokens is the estimated size of the offending prompt.
	Tokens int

	// Budget is the configured limit.
	Budget int
}

// Error implements the error interface for TokenBudgetError.
func (e *TokenBudgetError) Error() string {
	return fmt.Sprintf("prompt of %d tokens exceeds budget of %d", e.Tokens, e.Budget)
}

// EncodeRequest carries everything the codec needs to build one batch
// prompt.
type EncodeRequest struct {
	// Teams is the batch content, reference teams included.
	Teams []domain.ScoredTeam

	// OwnTeam is the requesting team's number, included so the model ranks
	// candidates as partners for it.
	OwnTeam int

	// Position is the pick position the ranking targets.
	Position domain.PickPosition

	// Weights is the normalized priority vector.
	Weights domain.PriorityWeights

	// GameContext is optional free text about the game.
	GameContext string

	// TokenBudget, when positive, caps the encoded prompt size. The batch
	// orchestrator leaves it zero because its planner has already sized
	// the batch; only callers encoding unplanned batches set it.
	TokenBudget int
}

// EncodedPrompt is a rendered batch prompt plus the index mapping needed to
// decode the reply.
type EncodedPrompt struct {
	// Prompt is the request body for the LLM.
	Prompt string

	// Tokens is the estimated prompt size.
	Tokens int

	// IndexToTeam maps candidate indices used in the prompt back to team
	// numbers.
	IndexToTeam []int
}

// ParseStatus tags the outcome of decoding an LLM reply.
type ParseStatus int

// Decoding outcomes. Call sites must switch on the status: ParsePartial
// results carry usable entries and dropped indices to resolve via fallback.
const (
	// ParseOK means every batch team decoded cleanly.
	ParseOK ParseStatus = iota

	// ParsePartial means some entries decoded and the rest were dropped.
	ParsePartial

	// ParseFailed means the reply was not structured data at all.
	ParseFailed
)

// RankedEntry is one decoded (team, score, reasoning) tuple.
type RankedEntry struct {
	TeamNumber int
	Score      float64
	Reasoning  string
}

// ParseResult is the tagged outcome of decoding one reply.
type ParseResult struct {
	// Status tags the variant; Entries is valid for ParseOK and
	// ParsePartial, Reason for ParseFailed.
	Status ParseStatus

	// Entries holds the decoded tuples, one per resolved team.
	Entries []RankedEntry

	// DroppedIndices lists prompt indices the reply omitted or mangled.
	DroppedIndices []int

	// Reason explains a ParseFailed outcome.
	Reason string
}

// Codec builds LLM request prompts from scored batches and parses the
// structured replies back into team rankings. It is stateless apart from
// the compiled template and safe for concurrent use.
type Codec struct {
	tmpl      *template.Template
	estimator TokenEstimator
	logger    *zap.Logger
}

// NewCodec creates a Codec using the given token estimator. A nil logger
// disables logging.
func NewCodec(estimator TokenEstimator, logger *zap.Logger) (*Codec, error) {
	if estimator == nil {
		return nil, fmt.Errorf("token estimator cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tmpl, err := template.New("picklistPrompt").Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &Codec{tmpl: tmpl, estimator: estimator, logger: logger}, nil
}

// promptPriority and promptTeam are the template's view of the request.
type promptPriority struct {
	Name   string
	Weight float64
}

type promptTeam struct {
	Index int
	Line  string
}

// Encode renders the batch prompt, verifying it fits the request's token
// budget when one is set.
func (c *Codec) Encode(req EncodeRequest) (*EncodedPrompt, error) {
	if len(req.Teams) == 0 {
		return nil, fmt.Errorf("cannot encode an empty batch")
	}

	priorities := make([]promptPriority, 0, len(req.Weights))
	for _, name := range req.Weights.Metrics() {
		priorities = append(priorities, promptPriority{Name: name, Weight: req.Weights[name]})
	}

	indexToTeam := make([]int, len(req.Teams))
	teams := make([]promptTeam, len(req.Teams))
	hasNotes := false
	for i, st := range req.Teams {
		indexToTeam[i] = st.Team.Number
		if st.Team.Notes != "" {
			hasNotes = true
		}
		teams[i] = promptTeam{Index: i, Line: teamLine(st, req.Weights)}
	}

	data := struct {
		Position    domain.PickPosition
		OwnTeam     int
		Priorities  []promptPriority
		GameContext string
		Teams       []promptTeam
		HasNotes    bool
	}{req.Position, req.OwnTeam, priorities, req.GameContext, teams, hasNotes}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute prompt template: %w", err)
	}
	prompt := buf.String()

	tokens, err := c.estimator.EstimateTokens(prompt)
	if err != nil {
		return nil, fmt.Errorf("estimate prompt tokens: %w", err)
	}
	if req.TokenBudget > 0 && tokens > req.TokenBudget {
		return nil, &TokenBudgetError{Tokens: tokens, Budget: req.TokenBudget}
	}

	return &EncodedPrompt{Prompt: prompt, Tokens: tokens, IndexToTeam: indexToTeam}, nil
}

// EstimateTeamTokens returns the estimated token cost of one team's line in
// a prompt. The batch planner uses it to size batches.
func (c *Codec) EstimateTeamTokens(st domain.ScoredTeam, weights domain.PriorityWeights) int {
	tokens, err := c.estimator.EstimateTokens(teamLine(st, weights))
	if err != nil || tokens <= 0 {
		// A team line is never free; keep the planner moving.
		return 16
	}
	return tokens
}

// teamLine renders one candidate's compact representation. Only weighted
// metrics are included, in sorted order, to keep lines short and
// deterministic.
func teamLine(st domain.ScoredTeam, weights domain.PriorityWeights) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (#%d) | %.2f | ", st.Team.Nickname, st.Team.Number, st.StatScore)
	first := true
	for _, metric := range weights.Metrics() {
		value, ok := lookupTeamMetric(st.Team, metric)
		if !ok {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%.2f", metric, value)
		first = false
	}
	if first {
		b.WriteString("no weighted metrics")
	}
	if st.Team.Notes != "" {
		fmt.Fprintf(&b, " | %s", st.Team.Notes)
	}
	return b.String()
}

func lookupTeamMetric(team domain.Team, canonical string) (float64, bool) {
	if v, ok := team.Metrics[canonical]; ok {
		return v, true
	}
	for name, v := range team.Metrics {
		if domain.CanonicalMetricName(name) == canonical {
			return v, true
		}
	}
	return 0, false
}

// rankingReply is the expected JSON structure of an LLM reply. Pointer
// fields distinguish missing values from zero values so partial entries can
// be dropped instead of misread.
type rankingReply struct {
	Ranking []replyEntry `json:"ranking"`
}

type replyEntry struct {
	Index     *int     `json:"index"`
	Score     *float64 `json:"score"`
	Reasoning string   `json:"reasoning"`
}

// Decode parses a raw LLM reply into ranked entries, mapping prompt indices
// back to team numbers via the mapping produced by Encode.
//
// Tolerated malformations: a missing reasoning field decodes as an empty
// string; an entry with a missing or out-of-range index is dropped and the
// team resolved later via fallback; duplicate entries for one index keep the
// last occurrence. A reply with no extractable JSON, or JSON without a
// ranking array, yields ParseFailed.
func (c *Codec) Decode(raw string, indexToTeam []int) ParseResult {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return ParseResult{Status: ParseFailed, Reason: "no JSON object found in response"}
	}

	var reply rankingReply
	if err := json.Unmarshal([]byte(jsonStr), &reply); err != nil {
		return ParseResult{Status: ParseFailed, Reason: fmt.Sprintf("JSON decode: %v", err)}
	}
	if len(reply.Ranking) == 0 {
		return ParseResult{Status: ParseFailed, Reason: "response carries no ranking entries"}
	}

	// Last occurrence wins for duplicate indices.
	byIndex := make(map[int]replyEntry, len(indexToTeam))
	for _, entry := range reply.Ranking {
		if entry.Index == nil || *entry.Index < 0 || *entry.Index >= len(indexToTeam) {
			c.logger.Warn("dropping ranking entry with bad index",
				zap.Any("index", entry.Index),
				zap.Int("batch_size", len(indexToTeam)))
			continue
		}
		if entry.Score == nil {
			c.logger.Warn("dropping ranking entry without score",
				zap.Int("index", *entry.Index),
				zap.Int("team", indexToTeam[*entry.Index]))
			continue
		}
		byIndex[*entry.Index] = entry
	}

	entries := make([]RankedEntry, 0, len(byIndex))
	var dropped []int
	for i, teamNumber := range indexToTeam {
		entry, ok := byIndex[i]
		if !ok {
			dropped = append(dropped, i)
			continue
		}
		entries = append(entries, RankedEntry{
			TeamNumber: teamNumber,
			Score:      *entry.Score,
			Reasoning:  entry.Reasoning,
		})
	}

	if len(entries) == 0 {
		return ParseResult{Status: ParseFailed, Reason: "no usable ranking entries after validation"}
	}
	if len(dropped) > 0 {
		return ParseResult{Status: ParsePartial, Entries: entries, DroppedIndices: dropped}
	}
	return ParseResult{Status: ParseOK, Entries: entries}
}

// extractJSON pulls a JSON object out of a reply that may wrap it in
// markdown fences or surrounding prose. It returns "" when no balanced
// object is found.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```json"); idx != -1 {
		rest := response[idx+7:]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(response, "```"); idx != -1 {
		rest := response[idx+3:]
		if nl := strings.Index(rest, "\n"); nl != -1 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end != -1 {
			candidate := strings.TrimSpace(rest[:end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}
