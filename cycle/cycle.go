// Package cycle decides, per endpoint and run, whether and how to harvest,
// and records the outcome. The run mode is always passed in explicitly.
package cycle

import (
	"time"

	"github.com/clarin-eric/oai-harvest-manager-sub001/oai"
	"github.com/clarin-eric/oai-harvest-manager-sub001/overview"
)

// Epoch stands for "never succeeded". Harvesting from the epoch is a full
// harvest.
var Epoch = oai.Epoch

// Parameters of the first request of an endpoint's harvest.
type Parameters struct {
	From     time.Time
	Scenario overview.Scenario
}

// Incremental reports whether only changes are requested.
func (p Parameters) Incremental() bool {
	return p.From.After(Epoch)
}

// DoHarvest is the admission gate, consulted before any network activity.
func DoHarvest(state *overview.EndpointState, mode overview.Mode) bool {
	if state.Blocked {
		return false
	}
	if mode == overview.ModeRetry {
		return state.AllowRetry
	}
	return true
}

// RequestParameters computes where the next harvest starts.
func RequestParameters(state *overview.EndpointState, mode overview.Mode, refreshFrom time.Time) Parameters {
	p := Parameters{From: Epoch, Scenario: state.Scenario}
	switch mode {
	case overview.ModeRefresh:
		p.From = refreshFrom
	case overview.ModeRetry:
	default:
		if state.AllowIncremental && !state.LastSucceeded.IsZero() {
			p.From = state.LastSucceeded
		}
	}
	return p
}

// RecordOutcome stores the result of an attempt. A failed attempt keeps
// lastSucceeded, so the next normal run starts from the last good date.
func RecordOutcome(state *overview.EndpointState, success bool, count, increment int, now time.Time) {
	now = overview.Normalize(now)
	state.LastAttempted = now
	if success {
		state.LastSucceeded = now
	}
	if count < 0 {
		count = 0
	}
	state.RecordCount = count
	state.RecordIncrement = min(max(increment, 0), count)
}

// State is the position of an endpoint in the harvest state machine.
type State string

const (
	NeverHarvested State = "never"
	Succeeded      State = "succeeded"
	Failed         State = "failed"
)

// Status derives the state from the timestamps: an attempt later than the
// last success is a failure.
func Status(state *overview.EndpointState) State {
	switch {
	case state.LastAttempted.IsZero():
		return NeverHarvested
	case state.LastSucceeded.Equal(state.LastAttempted):
		return Succeeded
	default:
		return Failed
	}
}
