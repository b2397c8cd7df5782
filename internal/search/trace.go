package search

import (
	"time"
)

// tracePreviewSize caps how many results each stage boundary records.
const tracePreviewSize = 20

// Trace is the structured capture of one query's pipeline run.
type Trace struct {
	Query         string        `json:"query"`
	ExpandedQuery string        `json:"expanded_query,omitempty"`
	Stages        []*StageTrace `json:"stages"`
	TotalMs       float64       `json:"total_ms"`
}

// StageTrace records one stage boundary.
type StageTrace struct {
	// Stage is the boundary's ordinal in the run: 1 retrieval, 2 chunk_dedup,
	// 3 score_threshold, 4 status_filter, 5 type_filter, 6 rerank,
	// 7 time_boost, 8 top_k. Because chunk dedup gets its own number, stages
	// after it are one higher than the stage numbers in the pipeline comments.
	Stage       int     `json:"stage"`
	Name        string  `json:"name"`
	InputCount  int     `json:"input_count"`
	OutputCount int     `json:"output_count"`
	DurationMs  float64 `json:"duration_ms"`

	// Preview lists the top results after the stage with their current
	// score fields (shallow copies; the cost is a small constant).
	Preview []PreviewItem `json:"preview,omitempty"`

	// Metadata holds stage-specific detail: expansion terms, fusion
	// parameters, removal reasons, per-item rank deltas.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PreviewItem is one result snapshot inside a stage preview.
type PreviewItem struct {
	Rank   int                `json:"rank"`
	Path   string             `json:"path"`
	Scores map[string]float64 `json:"scores"`
}

// tracer observes stage boundaries. A nil *tracer is valid and free:
// every method no-ops.
type tracer struct {
	trace *Trace
	start time.Time
}

// newTracer returns an active tracer, or nil when tracing is off.
func newTracer(enabled bool, query string) *tracer {
	if !enabled {
		return nil
	}
	return &tracer{
		trace: &Trace{Query: query},
		start: time.Now(),
	}
}

// observe records one stage boundary.
func (t *tracer) observe(stage int, name string, inputCount int, results []*Result, started time.Time, metadata map[string]any) {
	if t == nil {
		return
	}

	st := &StageTrace{
		Stage:       stage,
		Name:        name,
		InputCount:  inputCount,
		OutputCount: len(results),
		DurationMs:  float64(time.Since(started).Microseconds()) / 1000.0,
		Metadata:    metadata,
	}

	n := len(results)
	if n > tracePreviewSize {
		n = tracePreviewSize
	}
	for i := 0; i < n; i++ {
		scores := make(map[string]float64, len(results[i].Scores))
		for k, v := range results[i].Scores {
			scores[k] = v
		}
		st.Preview = append(st.Preview, PreviewItem{
			Rank:   i + 1,
			Path:   results[i].RelativePath,
			Scores: scores,
		})
	}

	t.trace.Stages = append(t.trace.Stages, st)
}

// setExpandedQuery records the Stage 0 outcome.
func (t *tracer) setExpandedQuery(q string) {
	if t == nil {
		return
	}
	t.trace.ExpandedQuery = q
}

// finish closes the trace and returns it.
func (t *tracer) finish() *Trace {
	if t == nil {
		return nil
	}
	t.trace.TotalMs = float64(time.Since(t.start).Microseconds()) / 1000.0
	return t.trace
}
