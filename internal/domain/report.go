package domain

import (
	"errors"
	"sort"
	"sync"
)

// maxSamplesPerKind bounds how many example errors a report keeps for each kind.
const maxSamplesPerKind = 20

// ErrorSample is a serialisable example of a record-level failure.
type ErrorSample struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StageCounts tallies record-level outcomes for one pipeline stage.
type StageCounts struct {
	Accepted int            `json:"accepted"`
	Rejected map[string]int `json:"rejected,omitempty"`
	Notes    map[string]int `json:"notes,omitempty"`
}

// RunReport aggregates per-record outcomes across stages. It is safe for
// concurrent use so parallel batches can record into it directly.
type RunReport struct {
	mu      sync.Mutex
	stages  map[string]*StageCounts
	samples map[string][]ErrorSample
}

// NewRunReport returns an empty report.
func NewRunReport() *RunReport {
	return &RunReport{
		stages:  make(map[string]*StageCounts),
		samples: make(map[string][]ErrorSample),
	}
}

// Accept records n accepted records for stage.
func (r *RunReport) Accept(stage string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage(stage).Accepted += n
}

// Note increments a named counter that is neither an accept nor a rejection.
func (r *RunReport) Note(stage, name string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stage(stage)
	if s.Notes == nil {
		s.Notes = make(map[string]int)
	}
	s.Notes[name] += n
}

// Reject counts err against stage and keeps it as a sample while room remains.
func (r *RunReport) Reject(stage string, err error) {
	if err == nil {
		return
	}
	kind := KindName(err)
	var recErr *RecordError
	if errors.As(err, &recErr) && recErr.Stage != "" {
		stage = recErr.Stage
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stage(stage)
	if s.Rejected == nil {
		s.Rejected = make(map[string]int)
	}
	s.Rejected[kind]++
	key := stage + "/" + kind
	if len(r.samples[key]) < maxSamplesPerKind {
		r.samples[key] = append(r.samples[key], ErrorSample{Stage: stage, Kind: kind, Message: err.Error()})
	}
}

// Rejected returns how many records stage rejected with the given kind name.
func (r *RunReport) Rejected(stage, kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stages[stage]; ok {
		return s.Rejected[kind]
	}
	return 0
}

// Noted returns a named counter for stage.
func (r *RunReport) Noted(stage, name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stages[stage]; ok {
		return s.Notes[name]
	}
	return 0
}

// TotalRejected sums rejections across stages and kinds.
func (r *RunReport) TotalRejected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, s := range r.stages {
		for _, n := range s.Rejected {
			total += n
		}
	}
	return total
}

// Summary is the serialisable form of a report.
type Summary struct {
	Stages  map[string]StageCounts `json:"stages"`
	Samples []ErrorSample          `json:"samples,omitempty"`
}

// Summary snapshots the report. Samples are ordered by stage and kind.
func (r *RunReport) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Summary{Stages: make(map[string]StageCounts, len(r.stages))}
	for name, s := range r.stages {
		cp := StageCounts{Accepted: s.Accepted}
		if len(s.Rejected) > 0 {
			cp.Rejected = make(map[string]int, len(s.Rejected))
			for k, v := range s.Rejected {
				cp.Rejected[k] = v
			}
		}
		if len(s.Notes) > 0 {
			cp.Notes = make(map[string]int, len(s.Notes))
			for k, v := range s.Notes {
				cp.Notes[k] = v
			}
		}
		out.Stages[name] = cp
	}
	keys := make([]string, 0, len(r.samples))
	for k := range r.samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Samples = append(out.Samples, r.samples[k]...)
	}
	return out
}

func (r *RunReport) stage(name string) *StageCounts {
	s, ok := r.stages[name]
	if !ok {
		s = &StageCounts{}
		r.stages[name] = s
	}
	return s
}
