package types

import "context"

// QueryType classifies how much reasoning a query needs.
type QueryType string

const (
	// QuerySimple is answerable with a single retrieval.
	QuerySimple QueryType = "simple"
	// QueryComplex contains multiple independent parts.
	QueryComplex QueryType = "complex"
	// QueryMultiStep requires chained reasoning where later steps
	// depend on earlier results.
	QueryMultiStep QueryType = "multi_step"
	// QueryUnknown is used when classification fails.
	QueryUnknown QueryType = "unknown"
)

// Entity is a named entity extracted from query text.
type Entity struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Relationship links two extracted entities.
type Relationship struct {
	SourceEntity string  `json:"source_entity"`
	TargetEntity string  `json:"target_entity"`
	Type         string  `json:"relationship_type"`
	Confidence   float64 `json:"confidence"`
}

// SubQuery is one atomic, independently retrievable fragment of a
// decomposed user query. A SubQuery never lists itself as a dependency,
// and every dependency ID must resolve within the same plan. Once placed
// into a RetrievalPlan it is treated as immutable.
type SubQuery struct {
	ID            string    `json:"id"`
	OriginalQuery string    `json:"original_query"`
	SubQueryText  string    `json:"sub_query_text"`
	QueryType     QueryType `json:"query_type"`
	Entities      []Entity  `json:"entities,omitempty"`
	// Priority breaks scheduling ties; lower runs earlier.
	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// RetrievalPlan is a validated set of sub-queries together with a
// topological execution order and a cost estimate. Plans are replaced
// wholesale by optimizer and adapter calls, never mutated in place.
type RetrievalPlan struct {
	ID             string     `json:"id"`
	SubQueries     []SubQuery `json:"sub_queries"`
	ExecutionOrder []string   `json:"execution_order"`
	EstimatedSteps int        `json:"estimated_steps"`
	EstimatedCost  float64    `json:"estimated_cost"`
}

// SubQueryByID returns the sub-query with the given ID, or false when the
// plan does not contain it.
func (p *RetrievalPlan) SubQueryByID(id string) (SubQuery, bool) {
	for _, sq := range p.SubQueries {
		if sq.ID == id {
			return sq, true
		}
	}
	return SubQuery{}, false
}

// ReasoningContext carries state between the steps of one reasoning
// chain. It is scoped to a single ExecuteChain call and never shared
// across concurrent queries.
type ReasoningContext struct {
	QueryID            string         `json:"query_id"`
	StepNumber         int            `json:"step_number"`
	PreviousResults    []ResultRecord `json:"previous_results,omitempty"`
	AccumulatedContext string         `json:"accumulated_context"`
	ReasoningChain     []string       `json:"reasoning_chain,omitempty"`
}

// StepResult is the immutable outcome of one retrieval step.
type StepResult struct {
	StepNumber      int            `json:"step_number"`
	Query           SubQuery       `json:"query"`
	Results         []ResultRecord `json:"results"`
	ExecutionTimeMS float64        `json:"execution_time_ms"`
	Success         bool           `json:"success"`
	ErrorMessage    string         `json:"error_message,omitempty"`
}

// SynthesizedAnswer is the sole externally consumed artifact of the
// pipeline. It is a plain record tree with no internal references so it
// renders directly to JSON.
type SynthesizedAnswer struct {
	OriginalQuery     string       `json:"original_query"`
	Answer            string       `json:"answer"`
	Sources           []string     `json:"sources,omitempty"`
	Confidence        float64      `json:"confidence"`
	ReasoningSteps    []StepResult `json:"reasoning_steps,omitempty"`
	ConflictsDetected []string     `json:"conflicts_detected,omitempty"`
}

// RetrievalFunc is the caller-supplied callback that resolves one
// sub-query into result records. The pipeline treats it as a black box:
// it may block, and a returned error is fatal to the reasoning chain.
type RetrievalFunc func(ctx context.Context, sq SubQuery) ([]ResultRecord, error)
