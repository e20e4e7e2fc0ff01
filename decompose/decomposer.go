// Package decompose analyzes natural-language queries and breaks them
// into atomic sub-queries with extracted entities and dependencies.
package decompose

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/types"
)

// complexKeywords signal a query made of multiple independent parts.
var complexKeywords = []string{
	"and", "or", "but", "however", "also", "additionally",
	"furthermore", "moreover", "meanwhile", "then", "after",
	"before", "while", "during", "compare", "contrast",
	"relationship", "connection", "impact", "effect", "cause",
}

// multiStepKeywords signal a query needing chained reasoning.
var multiStepKeywords = []string{
	"how", "why", "what if", "explain", "analyze", "evaluate",
	"determine", "calculate", "predict", "forecast", "estimate",
}

// entityPattern binds a named entity type to its recognizer.
type entityPattern struct {
	entityType string
	re         *regexp.Regexp
}

// entityPatterns are applied in order so extraction is deterministic.
var entityPatterns = []entityPattern{
	{"PERSON", regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)},
	{"ORGANIZATION", regexp.MustCompile(`\b(?:Inc|Corp|Ltd|LLC|Company|Organization|Department|Agency)\b`)},
	{"LOCATION", regexp.MustCompile(`\b(?:City|Country|State|Region|Area|Place|Location)\b`)},
	{"DATE", regexp.MustCompile(`\b(?:\d{1,2}[-/]\d{1,2}[-/]\d{2,4}|(?:January|February|March|April|May|June|July|August|September|October|November|December))\b`)},
	{"NUMBER", regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)},
}

var (
	conjunctionSplit = regexp.MustCompile(`(?i)\s+(?:and|or|but|however|also|additionally|furthermore|moreover)\s+`)
	punctuationSplit = regexp.MustCompile(`[,;]`)
)

const patternConfidence = 0.7

// Decomposer splits queries into sub-queries and extracts entities.
type Decomposer struct {
	cfg    config.DecomposerConfig
	logger *zap.Logger
}

// Option customizes a Decomposer.
type Option func(*Decomposer)

// WithLogger sets the decomposer's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Decomposer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Decomposer from the given configuration.
func New(cfg config.DecomposerConfig, opts ...Option) *Decomposer {
	d := &Decomposer{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("component", "decomposer"))
	return d
}

// Decompose validates query and breaks it into sub-queries. Simple
// queries yield exactly one sub-query; complex queries yield one per
// independent part; multi-step queries additionally chain each part
// onto its predecessor.
func (d *Decomposer) Decompose(query string) ([]types.SubQuery, error) {
	if err := d.Validate(query); err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	queryType := d.IdentifyQueryType(query)

	if queryType == types.QuerySimple {
		return []types.SubQuery{d.newSubQuery(query, query, queryType)}, nil
	}

	subQueries := d.decomposeComplex(query, queryType)
	if len(subQueries) == 0 {
		// Splitting produced nothing usable, fall back to one simple
		// sub-query over the full text.
		return []types.SubQuery{d.newSubQuery(query, query, types.QuerySimple)}, nil
	}

	d.logger.Debug("decomposed query",
		zap.String("query_type", string(queryType)),
		zap.Int("sub_queries", len(subQueries)))
	return subQueries, nil
}

// Validate rejects queries that are empty, whitespace-only, over the
// length limit, or carry unbalanced brackets.
func (d *Decomposer) Validate(query string) error {
	if query == "" {
		return types.NewError(types.ErrInvalidArgument, "query cannot be empty")
	}
	if strings.TrimSpace(query) == "" {
		return types.NewError(types.ErrInvalidArgument, "query cannot be only whitespace")
	}
	if len(query) > d.cfg.MaxQueryLength {
		return types.Errorf(types.ErrInvalidArgument,
			"query exceeds maximum length of %d characters", d.cfg.MaxQueryLength)
	}
	if !balancedBrackets(query) {
		return types.NewError(types.ErrInvalidArgument, "query has unbalanced brackets or parentheses")
	}
	return nil
}

// IdentifyQueryType classifies a query. Multi-step indicators win over
// complex indicators, and an unsplittable long query still counts as
// complex.
func (d *Decomposer) IdentifyQueryType(query string) types.QueryType {
	if query == "" {
		return types.QueryUnknown
	}

	lower := strings.ToLower(query)

	for _, kw := range multiStepKeywords {
		if strings.Contains(lower, kw) {
			return types.QueryMultiStep
		}
	}

	complexCount := 0
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			complexCount++
		}
	}
	if complexCount >= 2 || strings.ContainsAny(query, ",;") {
		return types.QueryComplex
	}

	if len(strings.Fields(query)) > 15 {
		return types.QueryComplex
	}

	return types.QuerySimple
}

// ExtractEntities finds named entities in query text via the built-in
// pattern set, deduplicated case-insensitively per type.
func (d *Decomposer) ExtractEntities(query string) []types.Entity {
	if query == "" {
		return nil
	}

	var entities []types.Entity
	seen := make(map[string]struct{})

	for _, p := range entityPatterns {
		for _, match := range p.re.FindAllString(query, -1) {
			key := strings.ToLower(match) + "\x00" + p.entityType
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			entities = append(entities, types.Entity{
				Name:       match,
				Type:       p.entityType,
				Confidence: patternConfidence,
			})
		}
	}
	return entities
}

// IdentifyRelationships links consecutive entities, inferring the
// relationship type from the entity type pair.
func (d *Decomposer) IdentifyRelationships(entities []types.Entity) []types.Relationship {
	if len(entities) < 2 {
		return nil
	}

	relationships := make([]types.Relationship, 0, len(entities)-1)
	for i := 0; i < len(entities)-1; i++ {
		source, target := entities[i], entities[i+1]
		relationships = append(relationships, types.Relationship{
			SourceEntity: source.Name,
			TargetEntity: target.Name,
			Type:         inferRelationshipType(source.Type, target.Type),
			Confidence:   0.6,
		})
	}
	return relationships
}

// DetectAmbiguity reports interpretation hazards in a query: mixed
// conjunctions, pronoun pileups, and under-specified how/why openers.
func (d *Decomposer) DetectAmbiguity(query string) (bool, []string) {
	if query == "" {
		return false, nil
	}

	var ambiguities []string
	lower := strings.ToLower(query)

	if strings.Contains(lower, "or") && strings.Contains(lower, "and") {
		ambiguities = append(ambiguities, "Query contains both 'and' and 'or' - order of operations may be ambiguous")
	}

	padded := " " + lower + " "
	pronounCount := 0
	for _, p := range []string{"it", "they", "them", "this", "that"} {
		if strings.Contains(padded, " "+p+" ") {
			pronounCount++
		}
	}
	if pronounCount > 2 {
		ambiguities = append(ambiguities, "Query contains multiple pronouns - referents may be ambiguous")
	}

	if strings.HasPrefix(query, "how") || strings.HasPrefix(query, "why") {
		if len(strings.Fields(query)) < 4 {
			ambiguities = append(ambiguities, "Query may lack sufficient context for proper interpretation")
		}
	}

	return len(ambiguities) > 0, ambiguities
}

// SuggestClarifications proposes rewrites for vague or sprawling
// queries.
func (d *Decomposer) SuggestClarifications(query string) []string {
	if query == "" {
		return nil
	}

	var suggestions []string
	lower := strings.ToLower(query)
	padded := " " + lower + " "

	if strings.Contains(padded, " it ") {
		suggestions = append(suggestions, "Consider replacing 'it' with a specific noun for clarity")
	}

	for _, term := range []string{"thing", "stuff", "something", "anything", "everything"} {
		if strings.Contains(lower, term) {
			suggestions = append(suggestions, "Consider replacing vague terms with specific nouns")
			break
		}
	}

	if len(strings.Fields(query)) > 30 {
		suggestions = append(suggestions, "Consider breaking this complex query into simpler sub-queries")
	}

	conjunctionCount := 0
	for _, conj := range []string{"and", "or", "but"} {
		if strings.Contains(padded, " "+conj+" ") {
			conjunctionCount++
		}
	}
	if conjunctionCount > 3 {
		suggestions = append(suggestions, "Query has many conjunctions - consider simplifying")
	}

	return suggestions
}

func (d *Decomposer) decomposeComplex(query string, queryType types.QueryType) []types.SubQuery {
	var subQueries []types.SubQuery

	for _, part := range splitQuery(query) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sq := d.newSubQuery(query, part, queryType)
		sq.Priority = len(subQueries)
		// Multi-step parts form a linear chain, each waiting on its
		// predecessor's results.
		if queryType == types.QueryMultiStep && len(subQueries) > 0 {
			sq.Dependencies = []string{subQueries[len(subQueries)-1].ID}
		}
		subQueries = append(subQueries, sq)
	}

	return subQueries
}

func (d *Decomposer) newSubQuery(original, text string, queryType types.QueryType) types.SubQuery {
	return types.SubQuery{
		ID:            uuid.NewString(),
		OriginalQuery: original,
		SubQueryText:  text,
		QueryType:     queryType,
		Entities:      d.ExtractEntities(text),
	}
}

// splitQuery splits on conjunctions first, then on punctuation when no
// conjunction was present.
func splitQuery(query string) []string {
	parts := conjunctionSplit.Split(query, -1)
	if len(parts) == 1 {
		parts = punctuationSplit.Split(query, -1)
	}
	return parts
}

func inferRelationshipType(sourceType, targetType string) string {
	switch {
	case sourceType == "PERSON" && targetType == "ORGANIZATION":
		return "works_at"
	case sourceType == "ORGANIZATION" && targetType == "LOCATION":
		return "located_in"
	case sourceType == "PERSON" && targetType == "LOCATION":
		return "from"
	default:
		return "related_to"
	}
}

func balancedBrackets(query string) bool {
	pairs := map[rune]rune{'(': ')', '[': ']', '{': '}'}
	closers := map[rune]struct{}{')': {}, ']': {}, '}': {}}

	var stack []rune
	for _, ch := range query {
		if _, open := pairs[ch]; open {
			stack = append(stack, ch)
			continue
		}
		if _, closer := closers[ch]; closer {
			if len(stack) == 0 || pairs[stack[len(stack)-1]] != ch {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}
