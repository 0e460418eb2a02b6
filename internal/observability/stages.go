// Package observability records where a run spends its time.
package observability

import (
	"sort"
	"sync"
	"time"
)

// StageStats is the accumulated time of one named stage.
type StageStats struct {
	Stage    string        `json:"stage"`
	Calls    int           `json:"calls"`
	Duration time.Duration `json:"duration"`
	// Order is the position of the stage's first call.
	Order int `json:"-"`
}

// StageTimer accumulates durations per stage. It is safe for concurrent use.
type StageTimer struct {
	mu     sync.Mutex
	stages map[string]*StageStats
	now    func() time.Time
}

// NewStageTimer creates an empty timer.
func NewStageTimer() *StageTimer {
	return &StageTimer{
		stages: make(map[string]*StageStats),
		now:    time.Now,
	}
}

// Start begins timing stage and returns the function that stops it.
//
//	defer timer.Start("merge")()
func (t *StageTimer) Start(stage string) func() {
	started := t.now()
	return func() {
		t.Record(stage, t.now().Sub(started))
	}
}

// Record adds d to stage.
func (t *StageTimer) Record(stage string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stages[stage]
	if !ok {
		s = &StageStats{Stage: stage, Order: len(t.stages)}
		t.stages[stage] = s
	}
	s.Calls++
	s.Duration += d
}

// Stages returns a copy of the stats in first-call order.
func (t *StageTimer) Stages() []StageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]StageStats, 0, len(t.stages))
	for _, s := range t.stages {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Fields flattens the stats into zap key/value pairs ("<stage>Ms", millis).
func (t *StageTimer) Fields() []interface{} {
	stages := t.Stages()
	fields := make([]interface{}, 0, 2*len(stages))
	for _, s := range stages {
		fields = append(fields, s.Stage+"Ms", s.Duration.Milliseconds())
	}
	return fields
}
