package remap

import (
	"fmt"
	"io"
	"sync"
)

// Outcome is one line of the restore report: what happened to one entity.
// NewID is 0 unless the entity was created or matched.
type Outcome struct {
	Kind   string
	OldID  int64
	NewID  int64
	Key    string
	Status Resolution
	Err    string
}

// Report is the ordered log of per-entity outcomes. It is the single source
// of truth for what a restore run did: every entity in the snapshot appears
// exactly once with a terminal status.
type Report struct {
	mu       sync.Mutex
	outcomes []Outcome
}

// Add appends one outcome.
func (r *Report) Add(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

// Outcomes returns a copy of the log in append order.
func (r *Report) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Count returns how many outcomes carry the given status.
func (r *Report) Count(status Resolution) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Len returns the number of recorded outcomes.
func (r *Report) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

// Write prints a per-kind summary followed by every non-successful outcome.
func (r *Report) Write(w io.Writer) {
	type tally struct {
		created, matched, skipped, failed int
	}
	byKind := map[string]*tally{}
	var order []string
	for _, o := range r.Outcomes() {
		t, ok := byKind[o.Kind]
		if !ok {
			t = &tally{}
			byKind[o.Kind] = t
			order = append(order, o.Kind)
		}
		switch o.Status {
		case Created:
			t.created++
		case MatchedExisting:
			t.matched++
		case SkippedMissingDependency:
			t.skipped++
		case Failed:
			t.failed++
		}
	}

	fmt.Fprintln(w, "Restore summary:")
	for _, kind := range order {
		t := byKind[kind]
		fmt.Fprintf(w, "  %-16s created %d, matched %d, skipped %d, failed %d\n",
			kind, t.created, t.matched, t.skipped, t.failed)
	}
	for _, o := range r.Outcomes() {
		switch o.Status {
		case SkippedMissingDependency:
			fmt.Fprintf(w, "  SKIPPED %s %d (%s): %s\n", o.Kind, o.OldID, o.Key, o.Err)
		case Failed:
			fmt.Fprintf(w, "  FAILED  %s %d (%s): %s\n", o.Kind, o.OldID, o.Key, o.Err)
		}
	}
}
