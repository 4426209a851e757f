package pipeline

import (
	"time"
)

// Round is one retrieve-and-judge pass. Rounds are not modified after they are appended.
type Round struct {
	Iteration  int      `json:"iteration"`
	Intent     string   `json:"intent"`
	Query      string   `json:"query"`
	Passages   []string `json:"passages"`
	Sufficient bool     `json:"sufficient"`
}

// Trace is the append-only record of a run's rounds.
type Trace struct {
	rounds []Round
}

func (t *Trace) Append(round Round) {
	round.Passages = clonePassages(round.Passages)
	t.rounds = append(t.rounds, round)
}

func (t *Trace) Len() int {
	return len(t.rounds)
}

// Rounds returns a copy of the recorded rounds.
func (t *Trace) Rounds() []Round {
	out := make([]Round, len(t.rounds))
	for i, round := range t.rounds {
		round.Passages = clonePassages(round.Passages)
		out[i] = round
	}
	return out
}

// clonePassages copies passages; a nil or empty list becomes an empty, non-nil slice.
func clonePassages(passages []string) []string {
	out := make([]string, len(passages))
	copy(out, passages)
	return out
}

// Result is a finished run. Err is set only when answer synthesis failed, in
// which case Answer carries the error marker text.
type Result struct {
	RunID      string
	Question   string
	DocumentID string
	Model      string
	Answer     string
	Trace      []Round
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}
