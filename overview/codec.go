package overview

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"
)

type xmlOverview struct {
	XMLName   xml.Name      `xml:"overview"`
	Settings  xmlSettings   `xml:"settings"`
	Endpoints []xmlEndpoint `xml:"endpoint"`
}

type xmlSettings struct {
	Mode        string `xml:"mode,attr,omitempty"`
	RefreshFrom string `xml:"refreshFrom,attr,omitempty"`
}

type xmlEndpoint struct {
	URI         string `xml:"uri,attr"`
	Group       string `xml:"group,attr,omitempty"`
	Block       bool   `xml:"block,attr"`
	Retry       bool   `xml:"retry,attr"`
	Incremental *bool  `xml:"incremental,attr"`
	Scenario    string `xml:"scenario,attr,omitempty"`
	Attempted   string `xml:"attempted,attr,omitempty"`
	Harvested   string `xml:"harvested,attr,omitempty"`
	Count       int    `xml:"count,attr"`
	Increment   int    `xml:"increment,attr"`
}

// parseTime accepts a plain date or an RFC 3339 timestamp; empty is absent.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Normalize(t), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return Normalize(t).Format(time.RFC3339)
}

// Unmarshal decodes an overview document. Whitespace-only input yields a
// fresh overview; every failure is an ErrConfig.
func Unmarshal(b []byte) (*Overview, error) {
	o, err := unmarshal(b)
	if err != nil && !errors.Is(err, ErrConfig) {
		err = fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return o, err
}

func unmarshal(b []byte) (*Overview, error) {
	o := New()
	if len(bytes.TrimSpace(b)) == 0 {
		return o, nil
	}
	var doc xmlOverview
	if err := xml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	mode, err := ParseMode(doc.Settings.Mode)
	if err != nil {
		return nil, err
	}
	o.Settings.Mode = mode
	if o.Settings.RefreshFrom, err = parseTime(doc.Settings.RefreshFrom); err != nil {
		return nil, fmt.Errorf("refreshFrom: %w", err)
	}
	for _, e := range doc.Endpoints {
		uri := strings.TrimSpace(e.URI)
		if _, dup := o.Get(uri); dup {
			return nil, fmt.Errorf("duplicate endpoint %s", uri)
		}
		s := &EndpointState{
			URI:              uri,
			Group:            e.Group,
			Blocked:          e.Block,
			AllowRetry:       e.Retry,
			AllowIncremental: e.Incremental == nil || *e.Incremental,
			RecordCount:      e.Count,
			RecordIncrement:  e.Increment,
		}
		if s.Scenario, err = ParseScenario(e.Scenario); err != nil {
			return nil, err
		}
		if s.LastAttempted, err = parseTime(e.Attempted); err != nil {
			return nil, fmt.Errorf("%s: attempted: %w", e.URI, err)
		}
		if s.LastSucceeded, err = parseTime(e.Harvested); err != nil {
			return nil, fmt.Errorf("%s: harvested: %w", e.URI, err)
		}
		if err := o.Put(s); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Marshal encodes o as an indented document. States that would not load
// again are refused.
func Marshal(o *Overview) ([]byte, error) {
	for _, s := range o.States() {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	doc := xmlOverview{
		Settings: xmlSettings{
			Mode:        string(o.Settings.Mode),
			RefreshFrom: formatTime(o.Settings.RefreshFrom),
		},
	}
	for _, s := range o.States() {
		incremental := s.AllowIncremental
		doc.Endpoints = append(doc.Endpoints, xmlEndpoint{
			URI:         s.URI,
			Group:       s.Group,
			Block:       s.Blocked,
			Retry:       s.AllowRetry,
			Incremental: &incremental,
			Scenario:    string(s.Scenario),
			Attempted:   formatTime(s.LastAttempted),
			Harvested:   formatTime(s.LastSucceeded),
			Count:       s.RecordCount,
			Increment:   s.RecordIncrement,
		})
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
