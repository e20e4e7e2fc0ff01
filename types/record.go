package types

// DefaultConfidence is assumed for records that carry no usable
// confidence field.
const DefaultConfidence = 0.5

// ResultRecord is an open record produced by a retrieval callback.
// Records should carry a text-like field (text/content/answer) and a
// numeric confidence in [0,1]; the accessors below degrade gracefully
// when either is missing so ranking and synthesis never fail on shape.
type ResultRecord map[string]any

// textFields are probed in order by Text.
var textFields = [...]string{"text", "content", "answer"}

// Text returns the first non-empty text-like field, or "".
func (r ResultRecord) Text() string {
	for _, field := range textFields {
		if v, ok := r[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// HasText reports whether the record carries any text-like field.
func (r ResultRecord) HasText() bool {
	for _, field := range textFields {
		if _, ok := r[field]; ok {
			return true
		}
	}
	return false
}

// Confidence returns the record's confidence field, or
// DefaultConfidence when the field is missing or non-numeric.
func (r ResultRecord) Confidence() float64 {
	v, ok := r["confidence"]
	if !ok {
		return DefaultConfidence
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
		return DefaultConfidence
	}
}

// ID returns the record's id field, or "unknown" when absent.
func (r ResultRecord) ID() string {
	if v, ok := r["id"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "unknown"
}

// Timestamp returns the record's timestamp field, or "" when absent.
// Timestamps are compared lexically, so callers should use a sortable
// format such as RFC 3339.
func (r ResultRecord) Timestamp() string {
	if v, ok := r["timestamp"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Clone returns a shallow copy of the record.
func (r ResultRecord) Clone() ResultRecord {
	out := make(ResultRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// MeanConfidence averages the confidence of all records, with missing
// confidence counted as DefaultConfidence. An empty slice yields 0.
func MeanConfidence(records []ResultRecord) float64 {
	if len(records) == 0 {
		return 0.0
	}
	total := 0.0
	for _, r := range records {
		total += r.Confidence()
	}
	return total / float64(len(records))
}
