package runner

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/clarin-eric/oai-harvest-manager-sub001/overview"
)

// Status of an endpoint at the end of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusBlocked endpoints are never harvested.
	StatusBlocked Status = "blocked"
	// StatusSkipped endpoints were not admitted in this mode.
	StatusSkipped Status = "skipped"
	// StatusDeferred endpoints found no free worker under the skip policy.
	StatusDeferred Status = "deferred"
	StatusCanceled Status = "canceled"
)

// Outcome is the result of one endpoint in a run.
type Outcome struct {
	URI         string
	Group       string
	Status      Status
	Scenario    overview.Scenario
	Incremental bool
	Count       int
	Increment   int
	Prefixes    []string
	Err         error
	Elapsed     time.Duration
}

// Summary collects the outcomes of a run. Adding is safe for concurrent use.
type Summary struct {
	RunID    string
	Mode     overview.Mode
	Started  time.Time
	Finished time.Time

	mu       sync.Mutex
	outcomes []Outcome
}

func (s *Summary) add(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}

// Outcomes returns all outcomes ordered by endpoint.
func (s *Summary) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := append([]Outcome(nil), s.outcomes...)
	sort.Slice(result, func(i, j int) bool { return result[i].URI < result[j].URI })
	return result
}

// Outcome returns the outcome of uri.
func (s *Summary) Outcome(uri string) (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.outcomes {
		if o.URI == uri {
			return o, true
		}
	}
	return Outcome{}, false
}

// Counts returns the number of endpoints per status.
func (s *Summary) Counts() map[Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Status]int)
	for _, o := range s.outcomes {
		counts[o.Status]++
	}
	return counts
}

// Render writes the summary as a table.
func (s *Summary) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("run %s (%s)", s.RunID, s.Mode)
	t.AppendHeader(table.Row{"Endpoint", "Group", "Status", "Scenario", "Incremental", "Count", "Increment", "Elapsed", "Error"})
	var total, increment int
	for _, o := range s.Outcomes() {
		var msg string
		if o.Err != nil {
			msg = o.Err.Error()
		}
		t.AppendRow(table.Row{
			o.URI, o.Group, o.Status, o.Scenario, o.Incremental,
			o.Count, o.Increment, o.Elapsed.Round(time.Millisecond), msg,
		})
		total += o.Count
		increment += o.Increment
	}
	t.AppendFooter(table.Row{"", "", "", "", "", total, increment, s.Finished.Sub(s.Started).Round(time.Millisecond), ""})
	t.Render()
}
