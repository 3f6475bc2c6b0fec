// Package overview holds the persisted scheduling facts of every endpoint and
// the global cycle settings, and stores them in an XML file.
package overview

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfig marks problems with the overview or the run settings. A run must
// not start harvesting when it sees one.
var ErrConfig = errors.New("configuration error")

// Scenario is the verb sequence used for an endpoint.
type Scenario string

const (
	ScenarioListPrefixes    Scenario = "ListPrefixes"
	ScenarioListIdentifiers Scenario = "ListIdentifiers"
	ScenarioListRecords     Scenario = "ListRecords"
)

// ParseScenario accepts the canonical names in any case, with or without
// underscores.
func ParseScenario(s string) (Scenario, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "listprefixes":
		return ScenarioListPrefixes, nil
	case "listidentifiers":
		return ScenarioListIdentifiers, nil
	case "listrecords", "":
		return ScenarioListRecords, nil
	}
	return "", fmt.Errorf("%w: unknown scenario %q", ErrConfig, s)
}

// Mode is the global run policy.
type Mode string

const (
	// ModeNormal harvests incrementally where allowed.
	ModeNormal Mode = "normal"
	// ModeRetry harvests only endpoints that allow retry, always in full.
	ModeRetry Mode = "retry"
	// ModeRefresh harvests everything from an explicit date.
	ModeRefresh Mode = "refresh"
)

// ParseMode parses a mode name, case-insensitive. The empty string is normal.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeNormal, nil
	case ModeNormal, ModeRetry, ModeRefresh:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrConfig, s)
}

// EndpointState is the record of one endpoint's scheduling facts. Zero
// timestamps mean absent.
type EndpointState struct {
	URI              string
	Group            string
	Blocked          bool
	AllowRetry       bool
	AllowIncremental bool
	LastAttempted    time.Time
	LastSucceeded    time.Time
	RecordCount      int
	RecordIncrement  int
	Scenario         Scenario
}

// NewEndpointState returns a state with the defaults for an endpoint that was
// never seen before.
func NewEndpointState(uri, group string) *EndpointState {
	return &EndpointState{
		URI:              uri,
		Group:            group,
		AllowIncremental: true,
		Scenario:         ScenarioListRecords,
	}
}

// Validate checks the invariants of the record.
func (s EndpointState) Validate() error {
	switch {
	case strings.TrimSpace(s.URI) == "":
		return fmt.Errorf("%w: endpoint without uri", ErrConfig)
	case s.RecordCount < 0 || s.RecordIncrement < 0:
		return fmt.Errorf("%w: %s: negative record count", ErrConfig, s.URI)
	case s.RecordIncrement > s.RecordCount:
		return fmt.Errorf("%w: %s: increment %d exceeds count %d", ErrConfig, s.URI, s.RecordIncrement, s.RecordCount)
	case !s.LastSucceeded.IsZero() && s.LastSucceeded.After(s.LastAttempted):
		return fmt.Errorf("%w: %s: harvested after last attempt", ErrConfig, s.URI)
	}
	if _, err := ParseScenario(string(s.Scenario)); err != nil {
		return fmt.Errorf("%s: %w", s.URI, err)
	}
	return nil
}

// Normalize reduces a timestamp to what the overview file can represent:
// UTC with second precision.
func Normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Second)
}
