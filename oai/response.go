package oai

import (
	"encoding/xml"
	"strings"
)

// ResumptionToken is part of OAI flow control (3.5).
type ResumptionToken struct {
	Value string `xml:",chardata"`
	// A UTCdatetime indicating when the resumptionToken ceases to be valid.
	ExpirationDate string `xml:"expirationDate,attr"`
	// A count of the number of elements of the complete list thus far
	// returned (i.e. cursor starts at 0).
	Cursor string `xml:"cursor,attr"`
	// An estimate of the cardinality of the complete list.
	CompleteListSize string `xml:"completeListSize,attr"`
}

// Empty reports whether the token ends the list. A present but blank token
// is the same as no token.
func (t ResumptionToken) Empty() bool {
	return strings.TrimSpace(t.Value) == ""
}

// Header is the main response of ListIdentifiers requests and also
// transmitted in ListRecords and GetRecord.
type Header struct {
	Status     string   `xml:"status,attr"`
	Identifier string   `xml:"identifier"`
	Datestamp  string   `xml:"datestamp"`
	Sets       []string `xml:"setSpec"`
}

// Deleted reports whether the repository marks the item as deleted.
func (h Header) Deleted() bool {
	return h.Status == "deleted"
}

// Record is a header together with its metadata, kept verbatim.
type Record struct {
	Header   Header `xml:"header"`
	Metadata struct {
		Verbatim string `xml:",innerxml"`
	} `xml:"metadata"`
}

// MetadataFormat is one entry of a ListMetadataFormats response.
type MetadataFormat struct {
	Prefix    string `xml:"metadataPrefix" json:"prefix"`
	Schema    string `xml:"schema" json:"schema"`
	Namespace string `xml:"metadataNamespace" json:"namespace"`
}

// Set is one entry of a ListSets response.
type Set struct {
	Spec string `xml:"setSpec" json:"spec,omitempty"`
	Name string `xml:"setName" json:"name,omitempty"`
}

// Identify response.
type Identify struct {
	Name              string `xml:"repositoryName,omitempty" json:"name,omitempty"`
	URL               string `xml:"baseURL,omitempty" json:"url,omitempty"`
	Version           string `xml:"protocolVersion,omitempty" json:"version,omitempty"`
	AdminEmail        string `xml:"adminEmail,omitempty" json:"email,omitempty"`
	EarliestDatestamp string `xml:"earliestDatestamp,omitempty" json:"earliest,omitempty"`
	DeletePolicy      string `xml:"deletedRecord,omitempty" json:"delete,omitempty"`
	Granularity       string `xml:"granularity,omitempty" json:"granularity,omitempty"`
}

// Response can hold most answers to an request to a OAI server.
type Response struct {
	XMLName xml.Name
	Date    string `xml:"responseDate"`
	Request struct {
		Verb     string `xml:"verb,attr"`
		Endpoint string `xml:",chardata"`
	} `xml:"request"`
	Errors []struct {
		Code    string `xml:"code,attr"`
		Message string `xml:",chardata"`
	} `xml:"error"`
	Identify            Identify `xml:"Identify"`
	ListMetadataFormats struct {
		Formats []MetadataFormat `xml:"metadataFormat"`
	} `xml:"ListMetadataFormats"`
	ListSets struct {
		Sets  []Set           `xml:"set"`
		Token ResumptionToken `xml:"resumptionToken"`
	} `xml:"ListSets"`
	ListIdentifiers struct {
		Headers []Header        `xml:"header"`
		Token   ResumptionToken `xml:"resumptionToken"`
	} `xml:"ListIdentifiers"`
	ListRecords struct {
		Records []Record        `xml:"record"`
		Token   ResumptionToken `xml:"resumptionToken"`
	} `xml:"ListRecords"`
	GetRecord struct {
		Record Record `xml:"record"`
	} `xml:"GetRecord"`
}

// Page is one protocol response of a list verb: the items it carried and
// the token to continue with.
type Page struct {
	Verb    string
	Formats []MetadataFormat
	Sets    []Set
	Headers []Header
	Records []Record
	Token   ResumptionToken
}

// Len returns the number of items on the page.
func (p *Page) Len() int {
	return len(p.Formats) + len(p.Sets) + len(p.Headers) + len(p.Records)
}

// newPage extracts the items and token for verb from a response.
func newPage(verb string, resp *Response) *Page {
	p := &Page{Verb: verb}
	switch verb {
	case VerbListMetadataFormats:
		p.Formats = resp.ListMetadataFormats.Formats
	case VerbListSets:
		p.Sets = resp.ListSets.Sets
		p.Token = resp.ListSets.Token
	case VerbListIdentifiers:
		p.Headers = resp.ListIdentifiers.Headers
		p.Token = resp.ListIdentifiers.Token
	case VerbListRecords:
		p.Records = resp.ListRecords.Records
		p.Token = resp.ListRecords.Token
	}
	p.Token.Value = strings.TrimSpace(p.Token.Value)
	return p
}
