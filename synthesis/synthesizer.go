// Package synthesis combines reasoning step results into a final
// ranked, conflict-annotated answer.
package synthesis

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/internal/metrics"
	"github.com/BaSui01/queryflow/types"
)

// contradictionPairs drive keyword-level conflict detection. Each pair
// marks two texts as conflicting when one side appears in each.
var contradictionPairs = [][2]string{
	{"yes", "no"},
	{"true", "false"},
	{"always", "never"},
	{"increase", "decrease"},
	{"positive", "negative"},
	{"agree", "disagree"},
	{"support", "oppose"},
}

// Synthesizer builds answers from step results.
type Synthesizer struct {
	cfg     config.SynthesizerConfig
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option customizes a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the synthesizer's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synthesizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Synthesizer) { s.metrics = collector }
}

// New creates a Synthesizer from the given configuration.
func New(cfg config.SynthesizerConfig, opts ...Option) *Synthesizer {
	s := &Synthesizer{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "synthesizer"))
	return s
}

// SynthesizeResults pools every step's records, ranks them, detects
// conflicts, and renders the final answer.
func (s *Synthesizer) SynthesizeResults(stepResults []types.StepResult, originalQuery string) (*types.SynthesizedAnswer, error) {
	if len(stepResults) == 0 {
		return nil, types.NewError(types.ErrSynthesis, "step results cannot be empty")
	}
	if originalQuery == "" {
		return nil, types.NewError(types.ErrSynthesis, "original query must be a non-empty string")
	}

	var pooled []types.ResultRecord
	var sources []string
	for _, step := range stepResults {
		if len(step.Results) == 0 {
			continue
		}
		pooled = append(pooled, step.Results...)
		if step.Query.SubQueryText != "" {
			sources = append(sources, step.Query.SubQueryText)
		}
	}

	ranked := s.RankResults(pooled)
	conflicts := s.detectConflicts(ranked)
	for range conflicts {
		s.metrics.RecordConflictDetected()
	}

	answer := &types.SynthesizedAnswer{
		OriginalQuery:     originalQuery,
		Sources:           sources,
		Confidence:        overallConfidence(ranked),
		ReasoningSteps:    stepResults,
		ConflictsDetected: conflicts,
	}
	answer.Answer = s.FormatAnswer(answer)

	s.logger.Debug("synthesized answer",
		zap.Int("pooled_results", len(pooled)),
		zap.Int("conflicts", len(conflicts)),
		zap.Float64("confidence", answer.Confidence))
	return answer, nil
}

// RankResults orders records by relevance score, highest first. Equal
// scores keep their input order.
func (s *Synthesizer) RankResults(results []types.ResultRecord) []types.ResultRecord {
	if len(results) == 0 {
		return nil
	}

	ranked := make([]types.ResultRecord, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		return relevanceScore(ranked[i]) > relevanceScore(ranked[j])
	})
	return ranked
}

// ResolveConflicts picks the highest-confidence record out of a
// conflicting set and annotates it with how it was chosen.
func (s *Synthesizer) ResolveConflicts(conflicting []types.ResultRecord) types.ResultRecord {
	if len(conflicting) == 0 {
		return types.ResultRecord{}
	}

	best := conflicting[0]
	bestConf := rawConfidence(best)
	for _, r := range conflicting[1:] {
		if c := rawConfidence(r); c > bestConf {
			best = r
			bestConf = c
		}
	}

	resolved := best.Clone()
	resolved["resolution_method"] = StrategyHighestConfidence
	resolved["conflicting_count"] = len(conflicting)
	return resolved
}

// FormatAnswer renders a human-readable answer: the top-ranked text,
// up to two supporting texts, a length cap, and caveats for low
// confidence or detected conflicts.
func (s *Synthesizer) FormatAnswer(answer *types.SynthesizedAnswer) string {
	if answer == nil || len(answer.ReasoningSteps) == 0 {
		return "No results found for your query."
	}

	var pooled []types.ResultRecord
	for _, step := range answer.ReasoningSteps {
		pooled = append(pooled, step.Results...)
	}
	if len(pooled) == 0 {
		return "No results found for your query."
	}

	ranked := s.RankResults(pooled)

	var parts []string
	if top := ranked[0].Text(); top != "" {
		parts = append(parts, top)
	}
	for _, r := range ranked[1:min(3, len(ranked))] {
		if text := supportingText(r); text != "" {
			parts = append(parts, "Additionally: "+text)
		}
	}

	text := strings.Join(parts, " ")
	if len(text) > s.cfg.MaxAnswerLength {
		text = text[:s.cfg.MaxAnswerLength] + "..."
	}

	if answer.Confidence < s.cfg.LowConfidenceThreshold {
		text += fmt.Sprintf("\n\n[Note: This answer has moderate confidence (%.1f%%)]", answer.Confidence*100)
	}
	if len(answer.ConflictsDetected) > 0 {
		text += fmt.Sprintf("\n\n[Note: %d potential conflicts detected in sources]", len(answer.ConflictsDetected))
	}
	return text
}

// detectConflicts scans adjacent ranked texts for contradictory
// keyword pairs, capped at the configured maximum.
func (s *Synthesizer) detectConflicts(results []types.ResultRecord) []string {
	if len(results) < 2 {
		return nil
	}

	var texts []string
	for _, r := range results {
		if text := r.Text(); text != "" {
			texts = append(texts, strings.ToLower(text))
		}
	}
	if len(texts) < 2 {
		return nil
	}

	var conflicts []string
	for i := 0; i < len(texts)-1; i++ {
		a, b := texts[i], texts[i+1]
		for _, pair := range contradictionPairs {
			if strings.Contains(a, pair[0]) && strings.Contains(b, pair[1]) {
				conflicts = append(conflicts, fmt.Sprintf("Conflicting information: '%s' vs '%s'", pair[0], pair[1]))
			} else if strings.Contains(a, pair[1]) && strings.Contains(b, pair[0]) {
				conflicts = append(conflicts, fmt.Sprintf("Conflicting information: '%s' vs '%s'", pair[1], pair[0]))
			}
		}
	}

	if len(conflicts) > s.cfg.MaxConflicts {
		conflicts = conflicts[:s.cfg.MaxConflicts]
	}
	return conflicts
}

// relevanceScore weighs confidence against structural completeness.
func relevanceScore(r types.ResultRecord) float64 {
	score := r.Confidence() * 0.6

	if r.HasText() {
		score += 0.2
	}
	if _, ok := r["source"]; ok {
		score += 0.1
	} else if _, ok := r["timestamp"]; ok {
		score += 0.1
	}
	if _, ok := r["entities"]; ok {
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// overallConfidence averages record confidences; no records means no
// confidence.
func overallConfidence(results []types.ResultRecord) float64 {
	return types.MeanConfidence(results)
}

// supportingText probes only the primary text fields, so bare answer
// fragments are not promoted to supporting evidence.
func supportingText(r types.ResultRecord) string {
	for _, field := range []string{"text", "content"} {
		if v, ok := r[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// rawConfidence reads confidence without the 0.5 default, so records
// with no stated confidence lose resolution ties.
func rawConfidence(r types.ResultRecord) float64 {
	v, ok := r["confidence"]
	if !ok {
		return 0.0
	}
	switch c := v.(type) {
	case float64:
		return c
	case float32:
		return float64(c)
	case int:
		return float64(c)
	case int64:
		return float64(c)
	default:
		return 0.0
	}
}
