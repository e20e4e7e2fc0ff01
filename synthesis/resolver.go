package synthesis

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/internal/metrics"
	"github.com/BaSui01/queryflow/types"
)

// Resolution strategies accepted by ResolveConflict.
const (
	StrategyHighestConfidence = "highest_confidence"
	StrategyMostRecent        = "most_recent"
	StrategyConsensus         = "consensus"
)

// Conflict describes contradictory information between two records.
type Conflict struct {
	ID          string               `json:"id"`
	Type        string               `json:"type"`
	Results     []types.ResultRecord `json:"conflicting_results"`
	Severity    string               `json:"severity"`
	Description string               `json:"description"`
}

// ResolutionOption is one candidate resolution offered to a caller.
type ResolutionOption struct {
	Method      string             `json:"method"`
	Description string             `json:"description"`
	Result      types.ResultRecord `json:"result"`
	Confidence  float64            `json:"confidence,omitempty"`
	Timestamp   string             `json:"timestamp,omitempty"`
	Frequency   float64            `json:"frequency,omitempty"`
}

// AuditEntry records one conflict-handling action.
type AuditEntry struct {
	Timestamp string         `json:"timestamp"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}

// ConflictResolver detects contradictions between result records and
// resolves them under a chosen strategy, keeping a bounded audit trail.
type ConflictResolver struct {
	cfg     config.SynthesizerConfig
	logger  *zap.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	audit []AuditEntry
}

// ResolverOption customizes a ConflictResolver.
type ResolverOption func(*ConflictResolver)

// WithResolverLogger sets the resolver's logger.
func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *ConflictResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolverMetrics attaches a metrics collector.
func WithResolverMetrics(collector *metrics.Collector) ResolverOption {
	return func(r *ConflictResolver) { r.metrics = collector }
}

// NewConflictResolver creates a ConflictResolver from the given
// configuration.
func NewConflictResolver(cfg config.SynthesizerConfig, opts ...ResolverOption) *ConflictResolver {
	r := &ConflictResolver{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "conflict_resolver"))
	return r
}

// DetectConflicts compares every pair of records for contradictory
// keywords and returns the detected conflicts in pair order.
func (r *ConflictResolver) DetectConflicts(results []types.ResultRecord) []Conflict {
	if len(results) < 2 {
		return nil
	}

	var conflicts []Conflict
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if c, ok := checkConflict(results[i], results[j]); ok {
				conflicts = append(conflicts, c)
				r.metrics.RecordConflictDetected()
			}
		}
	}
	return conflicts
}

// ResolveConflict applies a strategy to a conflict and returns the
// winning record annotated with resolution metadata. The resolution is
// recorded in the audit trail.
func (r *ConflictResolver) ResolveConflict(conflict Conflict, strategy string) (types.ResultRecord, error) {
	if len(conflict.Results) == 0 {
		return nil, types.NewError(types.ErrSynthesis, "conflict must have conflicting results")
	}
	if strategy == "" {
		return nil, types.NewError(types.ErrSynthesis, "resolution method must be a non-empty string")
	}

	var winner types.ResultRecord
	switch strategy {
	case StrategyHighestConfidence:
		winner = resolveByConfidence(conflict.Results)
	case StrategyMostRecent:
		winner = resolveByRecency(conflict.Results)
	case StrategyConsensus:
		winner = resolveByConsensus(conflict.Results)
	default:
		return nil, types.Errorf(types.ErrSynthesis, "unknown resolution method: %s", strategy)
	}

	resolved := winner.Clone()
	resolved["resolution_method"] = strategy
	resolved["conflict_id"] = conflict.ID
	resolved["resolution_timestamp"] = time.Now().Format(time.RFC3339)

	r.recordAudit("conflict_resolved", map[string]any{
		"conflict_id": conflict.ID,
		"method":      strategy,
		"result_id":   resolved.ID(),
	})
	r.metrics.RecordConflictResolved(strategy)
	r.logger.Debug("resolved conflict",
		zap.String("conflict_id", conflict.ID),
		zap.String("strategy", strategy))

	return resolved, nil
}

// PresentResolutionOptions lists each strategy's outcome for a
// conflict. The consensus option appears only when at least three
// records are in play.
func (r *ConflictResolver) PresentResolutionOptions(conflict Conflict) ([]ResolutionOption, error) {
	if len(conflict.Results) == 0 {
		return nil, types.NewError(types.ErrSynthesis, "conflict must have conflicting results")
	}

	byConfidence := resolveByConfidence(conflict.Results)
	options := []ResolutionOption{
		{
			Method:      StrategyHighestConfidence,
			Description: "Use result with highest confidence score",
			Result:      byConfidence,
			Confidence:  rawConfidence(byConfidence),
		},
	}

	byRecency := resolveByRecency(conflict.Results)
	timestamp := byRecency.Timestamp()
	if timestamp == "" {
		timestamp = "unknown"
	}
	options = append(options, ResolutionOption{
		Method:      StrategyMostRecent,
		Description: "Use most recently updated result",
		Result:      byRecency,
		Timestamp:   timestamp,
	})

	if len(conflict.Results) >= 3 {
		byConsensus := resolveByConsensus(conflict.Results)
		options = append(options, ResolutionOption{
			Method:      StrategyConsensus,
			Description: "Use result that appears most frequently",
			Result:      byConsensus,
			Frequency:   consensusFrequency(conflict.Results, byConsensus),
		})
	}

	return options, nil
}

// RecordAction appends a caller-defined entry to the audit trail.
func (r *ConflictResolver) RecordAction(action string, details map[string]any) error {
	if action == "" {
		return types.NewError(types.ErrSynthesis, "action must be a non-empty string")
	}
	r.recordAudit(action, details)
	return nil
}

// AuditTrail returns a copy of the audit trail, oldest first.
func (r *ConflictResolver) AuditTrail() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AuditEntry, len(r.audit))
	copy(out, r.audit)
	return out
}

// ClearAuditTrail drops every audit entry.
func (r *ConflictResolver) ClearAuditTrail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = nil
}

func (r *ConflictResolver) recordAudit(action string, details map[string]any) {
	entry := AuditEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Action:    action,
		Details:   details,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, entry)
	if len(r.audit) > r.cfg.MaxAuditEntries {
		r.audit = r.audit[len(r.audit)-r.cfg.MaxAuditEntries:]
	}
}

// checkConflict reports whether two records contradict each other via
// the shared keyword table.
func checkConflict(a, b types.ResultRecord) (Conflict, bool) {
	textA, textB := a.Text(), b.Text()
	if textA == "" || textB == "" {
		return Conflict{}, false
	}

	lowerA, lowerB := strings.ToLower(textA), strings.ToLower(textB)
	for _, pair := range contradictionPairs {
		forward := strings.Contains(lowerA, pair[0]) && strings.Contains(lowerB, pair[1])
		backward := strings.Contains(lowerA, pair[1]) && strings.Contains(lowerB, pair[0])
		if forward || backward {
			return Conflict{
				ID:          fmt.Sprintf("%s_vs_%s", a.ID(), b.ID()),
				Type:        "contradiction",
				Results:     []types.ResultRecord{a, b},
				Severity:    "high",
				Description: fmt.Sprintf("Contradictory information: '%s' vs '%s'", pair[0], pair[1]),
			}, true
		}
	}
	return Conflict{}, false
}

// resolveByConfidence keeps the first record on ties so resolution is
// deterministic.
func resolveByConfidence(results []types.ResultRecord) types.ResultRecord {
	best := results[0]
	bestConf := rawConfidence(best)
	for _, r := range results[1:] {
		if c := rawConfidence(r); c > bestConf {
			best = r
			bestConf = c
		}
	}
	return best
}

// resolveByRecency compares timestamps lexically; records without one
// sort last. Ties keep the earlier record.
func resolveByRecency(results []types.ResultRecord) types.ResultRecord {
	best := results[0]
	bestTS := best.Timestamp()
	for _, r := range results[1:] {
		if ts := r.Timestamp(); ts > bestTS {
			best = r
			bestTS = ts
		}
	}
	return best
}

// resolveByConsensus picks the text that appears most often, breaking
// count ties in favor of the text seen first. The returned record is
// the last one carrying the winning text.
func resolveByConsensus(results []types.ResultRecord) types.ResultRecord {
	counts := make(map[string]int)
	lastWithText := make(map[string]types.ResultRecord)
	var order []string

	for _, r := range results {
		text := r.Text()
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
		lastWithText[key] = r
	}
	if len(order) == 0 {
		return results[0]
	}

	winner := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[winner] {
			winner = key
		}
	}
	return lastWithText[winner]
}

// consensusFrequency reports the share of records matching the
// consensus text.
func consensusFrequency(results []types.ResultRecord, consensus types.ResultRecord) float64 {
	text := consensus.Text()
	if text == "" || len(results) == 0 {
		return 0.0
	}

	lower := strings.ToLower(text)
	count := 0
	for _, r := range results {
		if strings.ToLower(r.Text()) == lower {
			count++
		}
	}
	return float64(count) / float64(len(results))
}
