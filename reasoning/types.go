package reasoning

import (
	"log"
	"time"
)

// Analysis is the live intent and retrieval query of a run.
type Analysis struct {
	Intent string `json:"intent"`
	Query  string `json:"query"`
}

// Refinement is the refiner's proposal for the next round.
type Refinement struct {
	Intent      string `json:"intent"`
	Description string `json:"description"`
}

// Options configures the model calls shared by the decomposer, judge and refiner.
type Options struct {
	// Model is used when a call does not name one.
	Model   string
	Timeout time.Duration
	Logger  *log.Logger
}

func (o Options) logger() *log.Logger {
	if o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}
