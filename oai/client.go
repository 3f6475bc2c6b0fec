//  Copyright 2015 by Leipzig University Library, http://ub.uni-leipzig.de
//                    The Finc Authors, http://finc.info
//                    Martin Czygan, <martin.czygan@uni-leipzig.de>
//
// This file is part of some open source application.
//
// Some open source application is free software: you can redistribute
// it and/or modify it under the terms of the GNU General Public
// License as published by the Free Software Foundation, either
// version 3 of the License, or (at your option) any later version.
//
// Some open source application is distributed in the hope that it will
// be useful, but WITHOUT ANY WARRANTY; without even the implied warranty
// of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Foobar.  If not, see <http://www.gnu.org/licenses/>.
//
// @license GPL-3.0+ <http://spdx.org/licenses/GPL-3.0+>
//
package oai

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sethgrid/pester"
)

// HttpRequestDoer lets us use pester, DefaultClient or other HTTP client
// implementations interchangably.
type HttpRequestDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client is a simple client, that can turn a OAI request into a OAI response.
// It performs exactly one HTTP exchange per call and classifies failures;
// repeating transient failures is up to the caller.
type Client struct {
	// doer is a delegate for HTTP requests.
	doer HttpRequestDoer
}

// NewClientDoer creates a new OAI client with a user supplied http client, e.g.
// http.DefaultClient or a test server client.
func NewClientDoer(doer HttpRequestDoer) Client {
	return Client{doer: doer}
}

// NewClient creates a client backed by pester. Pester is limited to a single
// attempt, since a Session counts attempts itself.
func NewClient(timeout time.Duration) Client {
	c := pester.New()
	c.Timeout = timeout
	c.MaxRetries = 1
	c.Backoff = pester.ExponentialBackoff
	return Client{doer: c}
}

// Do takes an OAI request and turns it into at most one single OAI response.
func (c Client) Do(ctx context.Context, req Request) (*Response, error) {
	link, err := req.URL()
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, &RequestError{URL: link, Err: err}
	}
	hreq.Header.Set("User-Agent", UserAgent)

	resp, err := c.doer.Do(hreq)
	if err != nil {
		// The caller gave up; repeating would not help.
		transient := !errors.Is(err, context.Canceled)
		return nil, &RequestError{URL: link, Err: err, Transient: transient}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &RequestError{
			URL:        link,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(b))),
			Transient:  retryableStatus(resp.StatusCode),
		}
	}

	var response Response
	if err := xml.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, &RequestError{URL: link, Err: err, Transient: truncated(err)}
	}
	if response.XMLName.Local != "OAI-PMH" {
		return nil, &RequestError{URL: link, Err: fmt.Errorf("%w: root element %q", ErrNotOAI, response.XMLName.Local)}
	}
	if len(response.Errors) > 0 {
		e := response.Errors[0]
		return &response, OAIError{Code: e.Code, Message: strings.TrimSpace(e.Message)}
	}
	return &response, nil
}

// retryableStatus covers server side trouble and flow control (503 is what
// OAI servers send together with Retry-After).
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// truncated reports decode errors that hint at an interrupted transfer rather
// than at a broken document. A complete but malformed document is fatal.
func truncated(err error) bool {
	var serr *xml.SyntaxError
	if errors.As(err, &serr) {
		return serr.Msg == "unexpected EOF"
	}
	var nerr net.Error
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &nerr) && nerr.Timeout())
}
