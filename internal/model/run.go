package model

import (
	"sort"
	"sync"
	"time"
)

// ModelStats counts page outcomes for one content model during a run.
type ModelStats struct {
	Attempted int `json:"attempted"`
	Fetched   int `json:"fetched"`
	Failed    int `json:"failed"`
	Stored    int `json:"stored"`
	Found     int `json:"found"`
	New       int `json:"new"`
}

// CategoryPass summarizes one Resume pass over a category.
type CategoryPass struct {
	Category string    `json:"category"`
	Path     string    `json:"path"`
	Pass     int       `json:"pass"`
	Window   int       `json:"window"`
	Listings int       `json:"listings"`
	Finished time.Time `json:"finished"`
}

// Run is the summary of crawling one market.
//
// Chunk workers update it concurrently, so every mutator takes the lock.
// All mutators are no-ops on a nil *Run, which lets strategies run without a summary.
type Run struct {
	mu sync.Mutex

	Market         string                 `json:"market"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
	Models         map[string]*ModelStats `json:"models"`
	Categories     []CategoryPass         `json:"categories,omitempty"`
	Steps          []string               `json:"steps,omitempty"`
	Recalculations int                    `json:"recalculations"`
	Error          error                  `json:"-"`
	ErrorMessage   string                 `json:"error,omitempty"`
}

// NewRun creates a run summary for market.
func NewRun(market string) *Run {
	return &Run{
		Market:    market,
		StartedAt: time.Now(),
		Models:    make(map[string]*ModelStats),
	}
}

func (r *Run) stats(model string) *ModelStats {
	s, ok := r.Models[model]
	if !ok {
		s = &ModelStats{}
		r.Models[model] = s
	}
	return s
}

// Attempt records one fetch attempt for model.
func (r *Run) Attempt(model string, fetched bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats(model)
	s.Attempted++
	if fetched {
		s.Fetched++
	} else {
		s.Failed++
	}
}

// Stored records n pages persisted for model.
func (r *Run) Stored(model string, n int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats(model).Stored += n
}

// Checked records the result of an existence check for model.
func (r *Run) Checked(model string, found, fresh int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats(model)
	s.Found += found
	s.New += fresh
}

// AddCategoryPass appends a finished category pass.
func (r *Run) AddCategoryPass(pass CategoryPass) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Categories = append(r.Categories, pass)
}

// AddStep records that a pipeline step ran.
func (r *Run) AddStep(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Steps = append(r.Steps, name)
}

// Fail records err as the reason the run stopped.
func (r *Run) Fail(err error) {
	if r == nil || err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Error = err
	r.ErrorMessage = err.Error()
}

// Finish stamps the finish time.
func (r *Run) Finish(recalculations int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now()
	r.Recalculations = recalculations
}

// ModelNames returns the models seen during the run, sorted.
func (r *Run) ModelNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.Models))
	for name := range r.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the stats for model.
func (r *Run) Snapshot(model string) ModelStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.Models[model]; ok {
		return *s
	}
	return ModelStats{}
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
