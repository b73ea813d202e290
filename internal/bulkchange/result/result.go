package result

import (
	"sync"
	"time"
)

// Result is the outcome of a bulk operation task.
type Result struct {
	Errors *Aggregator

	mu           sync.Mutex
	fatalMessage string
	elapsed      time.Duration
}

func New(displayCap int) *Result {
	return &Result{Errors: NewAggregator(displayCap)}
}

// Fail marks the result as terminated by an unexpected error. message is shown to users as is.
func (r *Result) Fail(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatalMessage = message
}

func (r *Result) FatalMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatalMessage
}

func (r *Result) SetElapsed(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elapsed = d
}

func (r *Result) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// IsSuccessful is true if the task neither failed fatally nor recorded any per-entity error.
// The display cap on errors has no bearing on this.
func (r *Result) IsSuccessful() bool {
	return r.FatalMessage() == "" && r.Errors.Count() == 0
}

// Summary is a point in time view of a Result, suitable for serialising.
type Summary struct {
	Successful   bool           `json:"successful"`
	FatalMessage string         `json:"fatalMessage,omitempty"`
	ErrorCount   int            `json:"errorCount"`
	Limited      bool           `json:"limited"`
	Errors       []EntityErrors `json:"errors,omitempty"`
	ElapsedMs    int64          `json:"elapsedMs"`
}

func (r *Result) Summary() *Summary {
	return &Summary{
		Successful:   r.IsSuccessful(),
		FatalMessage: r.FatalMessage(),
		ErrorCount:   r.Errors.Count(),
		Limited:      r.Errors.IsLimited(),
		Errors:       r.Errors.Capped(),
		ElapsedMs:    r.Elapsed().Milliseconds(),
	}
}
