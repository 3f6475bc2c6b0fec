package oai

import (
	"testing"
	"time"
)

func TestRequestURL(t *testing.T) {
	var tests = []struct {
		req Request
		url string
		err error
	}{
		{Request{}, "", ErrNoEndpoint},
		{Request{Endpoint: "Hello"}, "", ErrNoVerb},
		{Request{Endpoint: "Hello", Verb: "x"}, "", ErrBadVerb},
		{Request{Endpoint: "Hello", Verb: "Identify"}, "Hello?verb=Identify", nil},
		{Request{Endpoint: "http://example.com/oai", Verb: "Identify"}, "http://example.com/oai?verb=Identify", nil},
		{Request{Endpoint: "http://example.com/oai",
			Verb: "Identify",
			From: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		}, "http://example.com/oai?verb=Identify", nil},
		{Request{Endpoint: "http://example.com/oai", Verb: "ListRecords",
			From:  time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
			Until: time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC)},
			"http://example.com/oai?from=2000-01-01&until=2000-01-02&verb=ListRecords", nil},
		{Request{Endpoint: "http://example.com/oai", Verb: "ListRecords",
			From:            time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
			Until:           time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC),
			ResumptionToken: "1"},
			"http://example.com/oai?resumptionToken=1&verb=ListRecords", nil},
		{Request{Endpoint: "http://example.com/oai",
			Verb: "ListRecords", Set: "X"}, "http://example.com/oai?set=X&verb=ListRecords", nil},
		{Request{Endpoint: "http://example.com/oai",
			Verb: "ListRecords", Set: "X", Prefix: "P"}, "http://example.com/oai?metadataPrefix=P&set=X&verb=ListRecords", nil},
		{Request{Endpoint: "http://example.com/oai",
			Verb: "ListRecords", Set: "X", Prefix: "P", ResumptionToken: "R"},
			"http://example.com/oai?resumptionToken=R&verb=ListRecords", nil},
		{Request{Endpoint: "http://example.com/oai", Verb: "ListIdentifiers",
			From: Epoch, Prefix: "cmdi"},
			"http://example.com/oai?metadataPrefix=cmdi&verb=ListIdentifiers", nil},
		{Request{Endpoint: "http://example.com/oai", Verb: "ListIdentifiers",
			From: time.Date(2014, 7, 21, 13, 5, 0, 0, time.UTC), Prefix: "cmdi"},
			"http://example.com/oai?from=2014-07-21&metadataPrefix=cmdi&verb=ListIdentifiers", nil},
		{Request{Endpoint: "http://example.com/oai", Verb: "GetRecord",
			Identifier: "oai:x:1", Prefix: "oai_dc"},
			"http://example.com/oai?identifier=oai%3Ax%3A1&metadataPrefix=oai_dc&verb=GetRecord", nil},
	}

	for _, test := range tests {
		got, err := test.req.URL()
		if err != test.err {
			t.Errorf("r.URL() got %v, want %v", err, test.err)
		}
		if got != test.url {
			t.Errorf("r.URL() got %v, want %v", got, test.url)
		}
	}
}

func TestContinueDropsArguments(t *testing.T) {
	req := Request{
		Endpoint: "http://example.com/oai",
		Verb:     VerbListRecords,
		From:     time.Date(2014, 7, 21, 0, 0, 0, 0, time.UTC),
		Set:      "s",
		Prefix:   "oai_dc",
	}
	next := req.Continue("T1")
	want := Request{Endpoint: req.Endpoint, Verb: req.Verb, ResumptionToken: "T1"}
	if next != want {
		t.Errorf("Continue got %+v, want %+v", next, want)
	}
}
