// Package scenario runs the verb sequence of one endpoint: format discovery,
// then listing identifiers or records, handing every item to an Output.
package scenario

import (
	"context"
	"time"
)

// Metadata is one harvested record on its way to the output.
type Metadata struct {
	id string

	Payload     []byte
	EndpointURI string
	Group       string
	Prefix      string
	Datestamp   string
	Sets        []string
	// From is the lower bound of the harvest the record belongs to.
	From time.Time
}

// NewMetadata returns a record with the given OAI identifier.
func NewMetadata(id string, payload []byte) Metadata {
	return Metadata{id: id, Payload: payload}
}

// ID returns the OAI identifier.
func (m Metadata) ID() string { return m.id }

// Output receives harvested records. A nil error from Put acknowledges the
// record and lets it count towards the endpoint's totals.
type Output interface {
	Put(ctx context.Context, m Metadata) error
	Close() error
}

// Finisher is implemented by outputs that want to know when an endpoint is
// done, e.g. to close its files early.
type Finisher interface {
	Finish(endpoint string, success bool) error
}
