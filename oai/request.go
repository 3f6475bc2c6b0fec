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
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Version of the harvester, reported in the User-Agent.
const Version = "0.2.0"

// Protocol verbs (4. Protocol Requests and Responses).
const (
	VerbIdentify            = "Identify"
	VerbListMetadataFormats = "ListMetadataFormats"
	VerbListSets            = "ListSets"
	VerbListIdentifiers     = "ListIdentifiers"
	VerbListRecords         = "ListRecords"
	VerbGetRecord           = "GetRecord"
)

// DateLayout is the day granularity used for from and until.
const DateLayout = "2006-01-02"

var (
	ErrNoEndpoint = errors.New("request: an endpoint is required")
	ErrNoVerb     = errors.New("no verb")
	ErrBadVerb    = errors.New("bad verb")

	// UserAgent to use for requests.
	UserAgent = fmt.Sprintf("oaiharvest/%s", Version)

	// Epoch is the date of a harvest that never succeeded. Requests from the
	// epoch or earlier carry no from argument, which asks for everything.
	Epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

	verbs = map[string]bool{
		VerbIdentify:            true,
		VerbListIdentifiers:     true,
		VerbListSets:            true,
		VerbListMetadataFormats: true,
		VerbListRecords:         true,
		VerbGetRecord:           true,
	}
)

// Request can hold any parameter, that you want to send to an OAI server.
type Request struct {
	Endpoint        string
	Verb            string
	From            time.Time
	Until           time.Time
	Set             string
	Prefix          string
	Identifier      string
	ResumptionToken string
}

// Continue returns the request that fetches the next page. Per protocol it
// carries nothing but the verb and the token.
func (r Request) Continue(token string) Request {
	return Request{Endpoint: r.Endpoint, Verb: r.Verb, ResumptionToken: token}
}

// URL returns the absolute URL for a given request. Catches basic errors like
// missing endpoint or bad verb.
func (r Request) URL() (s string, err error) {
	if r.Endpoint == "" {
		return s, ErrNoEndpoint
	}
	if r.Verb == "" {
		return s, ErrNoVerb
	}
	if _, found := verbs[r.Verb]; !found {
		return s, ErrBadVerb
	}

	values := url.Values{}
	values.Add("verb", r.Verb)

	// Collectively these requests are called list requests (3.5):
	// ListIdentifiers, ListRecords, ListSets
	if r.ResumptionToken != "" {
		// An exclusive argument with a value that is the flow control token.
		values.Add("resumptionToken", r.ResumptionToken)
		return fmt.Sprintf("%s?%s", r.Endpoint, values.Encode()), nil
	}

	maybeAdd := func(k, v string) {
		if v != "" {
			values.Add(k, v)
		}
	}
	switch r.Verb {
	case VerbListRecords, VerbListIdentifiers:
		if r.From.After(Epoch) {
			maybeAdd("from", r.From.UTC().Format(DateLayout))
		}
		if !r.Until.IsZero() {
			maybeAdd("until", r.Until.UTC().Format(DateLayout))
		}
		maybeAdd("set", r.Set)
		maybeAdd("metadataPrefix", r.Prefix)
	case VerbGetRecord:
		maybeAdd("identifier", r.Identifier)
		maybeAdd("metadataPrefix", r.Prefix)
	case VerbListMetadataFormats:
		maybeAdd("identifier", r.Identifier)
	}
	return fmt.Sprintf("%s?%s", r.Endpoint, values.Encode()), nil
}
