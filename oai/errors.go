package oai

import (
	"errors"
	"fmt"
)

// CodeNoRecordsMatch is the OAI error code for an empty result set.
const CodeNoRecordsMatch = "noRecordsMatch"

var (
	// ErrNotOAI is returned for a well-formed document that is not an
	// OAI-PMH response, e.g. an HTML error page.
	ErrNotOAI = errors.New("not an OAI-PMH response")
	// ErrTokenLoop is returned when a server hands out a resumption token
	// it already sent in the same list request.
	ErrTokenLoop = errors.New("resumption token repeated")
	// ErrTooManyRequests guards against broken resumptionToken
	// implementations that never end.
	ErrTooManyRequests = errors.New("too many requests")
	// ErrRetriesExhausted wraps the last transient failure of a request.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// OAIError wraps OAI error codes and messages.
type OAIError struct {
	Code    string
	Message string
}

// Error to satisfy interface.
func (e OAIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNoRecordsMatch reports whether err is the noRecordsMatch condition.
func IsNoRecordsMatch(err error) bool {
	var oerr OAIError
	return errors.As(err, &oerr) && oerr.Code == CodeNoRecordsMatch
}

// RequestError describes a failed HTTP exchange. Transient errors are worth
// retrying with the same request.
type RequestError struct {
	URL        string
	StatusCode int
	Err        error
	Transient  bool
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsTransient reports whether err may go away when the request is repeated.
func IsTransient(err error) bool {
	var rerr *RequestError
	return errors.As(err, &rerr) && rerr.Transient
}
