// Package perf tracks per-model call outcomes and ranks models for
// failover and initial selection. Records are keyed by the canonical model
// id so rankings survive restarts of local provider instances.
package perf

import (
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Record accumulates outcomes for one canonical model id.
type Record struct {
	Successes    int
	Failures     int
	TotalLatency time.Duration
	LastFailure  time.Time
}

// Calls returns the total number of recorded calls.
func (r *Record) Calls() int {
	return r.Successes + r.Failures
}

// Score is the success ratio damped by mean latency. A model that always
// succeeds instantly scores 1.0; latency pulls it toward zero.
func (r *Record) Score() float64 {
	calls := r.Calls()
	if calls == 0 {
		return 0
	}
	ratio := float64(r.Successes) / float64(calls)
	meanSeconds := r.TotalLatency.Seconds() / float64(calls)
	return ratio / (1 + meanSeconds)
}

// RankedModel is one entry of the ranking.
type RankedModel struct {
	Model     string
	Score     float64
	Calls     int
	ParamSize float64
}

// paramSizePattern extracts the parameter count in billions from a model
// id, e.g. "llama3-8b", "qwen2_7b", "llama3:70b", "phi-3.5b".
var paramSizePattern = regexp.MustCompile(`(?i)[-_:](\d+(?:\.\d+)?)b`)

// ParamSize returns the parameter count in billions embedded in the model
// id, or 0 when none is found.
func ParamSize(model string) float64 {
	m := paramSizePattern.FindStringSubmatch(model)
	if m == nil {
		return 0
	}
	size, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return size
}

// Tracker records call outcomes per canonical model id.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

type Option func(*Tracker)

func WithNowFunc(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		records: make(map[string]*Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) record(model string) *Record {
	r, ok := t.records[model]
	if !ok {
		r = &Record{}
		t.records[model] = r
	}
	return r
}

// RecordSuccess logs one successful call.
func (t *Tracker) RecordSuccess(model string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.record(model)
	r.Successes++
	r.TotalLatency += latency
}

// RecordFailure logs one failed call.
func (t *Tracker) RecordFailure(model string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.record(model)
	r.Failures++
	r.TotalLatency += latency
	r.LastFailure = t.now()
}

// Snapshot returns a copy of one model's record.
func (t *Tracker) Snapshot(model string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[model]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// RankedModels returns models with at least minCalls recorded calls,
// sorted by score descending. Ties break by parameter size descending, so
// among equally reliable models the larger one wins.
func (t *Tracker) RankedModels(minCalls int) []RankedModel {
	t.mu.Lock()
	defer t.mu.Unlock()

	ranked := make([]RankedModel, 0, len(t.records))
	for model, r := range t.records {
		if r.Calls() < minCalls {
			continue
		}
		ranked = append(ranked, RankedModel{
			Model:     model,
			Score:     r.Score(),
			Calls:     r.Calls(),
			ParamSize: ParamSize(model),
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].ParamSize != ranked[j].ParamSize {
			return ranked[i].ParamSize > ranked[j].ParamSize
		}
		return ranked[i].Model < ranked[j].Model
	})

	return ranked
}
