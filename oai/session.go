package oai

import (
	"context"
	"fmt"

	"github.com/clarin-eric/oai-harvest-manager-sub001/logger"
)

// Session drives one list verb against one endpoint, hiding the resumption
// token handling behind a sequence of pages. Use it like a bufio.Scanner:
//
//	s := h.Open(req)
//	for s.Next(ctx) {
//		page := s.Page()
//	}
//	if err := s.Err(); err != nil { ... }
//
// A session cannot be restarted; once Next returned false, open a new one.
type Session struct {
	h        *Harvester
	req      Request
	page     *Page
	seen     map[string]bool
	requests int
	done     bool
	err      error
}

// Next fetches the next page. It returns false at the end of the list or on
// a terminal failure, which Err reports.
func (s *Session) Next(ctx context.Context) bool {
	if s.done {
		return false
	}
	req := s.req
	if s.page != nil {
		if s.page.Token.Empty() {
			return s.finish(nil)
		}
		req = s.req.Continue(s.page.Token.Value)
	}
	if err := ctx.Err(); err != nil {
		return s.finish(err)
	}
	if s.h.maxRequests > 0 && s.requests >= s.h.maxRequests {
		return s.finish(fmt.Errorf("%w: %d", ErrTooManyRequests, s.requests))
	}

	s.requests++
	resp, err := s.h.do(ctx, req)
	if err != nil {
		if IsNoRecordsMatch(err) {
			// An empty result set is a regular, final page.
			s.page = &Page{Verb: req.Verb}
			return true
		}
		return s.finish(err)
	}

	page := newPage(req.Verb, resp)
	if !page.Token.Empty() {
		if s.seen[page.Token.Value] {
			return s.finish(fmt.Errorf("%w: %q", ErrTokenLoop, page.Token.Value))
		}
		s.seen[page.Token.Value] = true
	}
	s.page = page
	s.h.log.Debug("page",
		logger.String("endpoint", req.Endpoint),
		logger.String("verb", req.Verb),
		logger.Int("items", page.Len()),
		logger.String("token", page.Token.Value))
	return true
}

func (s *Session) finish(err error) bool {
	s.done = true
	s.err = err
	return false
}

// Page returns the page fetched by the last successful call to Next.
func (s *Session) Page() *Page {
	return s.page
}

// Err returns the terminal failure, nil if the list ended regularly.
func (s *Session) Err() error {
	return s.err
}

// Requests returns the number of list requests issued, not counting retries.
func (s *Session) Requests() int {
	return s.requests
}
