package chart

import "sync"

// GuardState is the caller-owned fetch guard. LastLength is the dataset
// length recorded when the most recent fetch started.
type GuardState struct {
	Refetching bool `json:"refetching"`
	Capped     bool `json:"capped"`
	LastLength int  `json:"last_length"`
}

// Suppress reports whether a fetch must not be triggered for a dataset of
// datasetLen bars. The same predicate is checked when a range notification
// arrives and again when the debounce timer fires.
func (g GuardState) Suppress(datasetLen int) bool {
	return g.Refetching || g.Capped || g.LastLength == datasetLen
}

// Reason names the first condition that suppresses a fetch.
func (g GuardState) Reason(datasetLen int) string {
	switch {
	case g.Refetching:
		return "refetching"
	case g.Capped:
		return "capped"
	case g.LastLength == datasetLen:
		return "length_unchanged"
	}
	return ""
}

// GuardCell is a mutable holder for the current guard and dataset length.
// The debounce timer reads it at fire time, so updating the guard never
// requires a surface rebuild.
type GuardCell struct {
	mu         sync.Mutex
	guard      GuardState
	datasetLen int
}

// NewGuardCell returns a cell whose LastLength never matches a real dataset
// until the caller records a fetch.
func NewGuardCell() *GuardCell {
	return &GuardCell{guard: GuardState{LastLength: -1}}
}

func (c *GuardCell) SetGuard(g GuardState) {
	c.mu.Lock()
	c.guard = g
	c.mu.Unlock()
}

func (c *GuardCell) SetDatasetLen(n int) {
	c.mu.Lock()
	c.datasetLen = n
	c.mu.Unlock()
}

// Load returns a consistent snapshot of the guard and dataset length.
func (c *GuardCell) Load() (GuardState, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guard, c.datasetLen
}
