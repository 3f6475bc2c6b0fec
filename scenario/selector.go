package scenario

import (
	"fmt"
	"strings"

	"github.com/clarin-eric/oai-harvest-manager-sub001/oai"
)

// SelectorType names the field of a metadata format a selector matches.
type SelectorType string

const (
	ByNamespace SelectorType = "namespace"
	ByPrefix    SelectorType = "prefix"
	BySchema    SelectorType = "schema"
)

// priority is the order in which selector types are tried.
var priority = []SelectorType{ByNamespace, ByPrefix, BySchema}

// FormatSelector picks metadata formats advertised by a repository.
type FormatSelector struct {
	Type  SelectorType
	Value string
}

func (s FormatSelector) String() string {
	return string(s.Type) + ":" + s.Value
}

// ParseSelector parses "type:value"; a bare value is a prefix.
func ParseSelector(s string) (FormatSelector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return FormatSelector{}, fmt.Errorf("empty format selector")
	}
	k, v, found := strings.Cut(s, ":")
	if !found {
		return FormatSelector{Type: ByPrefix, Value: s}, nil
	}
	switch t := SelectorType(strings.ToLower(k)); t {
	case ByNamespace, ByPrefix, BySchema:
		if v == "" {
			return FormatSelector{}, fmt.Errorf("format selector %q without value", s)
		}
		return FormatSelector{Type: t, Value: v}, nil
	}
	// Namespaces and schemas are URLs, "http:..." is not a type.
	return FormatSelector{Type: ByPrefix, Value: s}, nil
}

// ParseSelectors parses a list of selectors.
func ParseSelectors(ss []string) ([]FormatSelector, error) {
	var result []FormatSelector
	for _, s := range ss {
		sel, err := ParseSelector(s)
		if err != nil {
			return nil, err
		}
		result = append(result, sel)
	}
	return result, nil
}

func (s FormatSelector) matches(f oai.MetadataFormat) bool {
	var field string
	switch s.Type {
	case ByNamespace:
		field = f.Namespace
	case ByPrefix:
		field = f.Prefix
	case BySchema:
		field = f.Schema
	}
	return strings.TrimSpace(field) == s.Value
}

// SelectPrefixes returns the prefixes of the formats matched by the first
// selector type, in priority order, that matches anything.
func SelectPrefixes(formats []oai.MetadataFormat, selectors []FormatSelector) []string {
	for _, t := range priority {
		var (
			prefixes []string
			seen     = make(map[string]bool)
		)
		for _, sel := range selectors {
			if sel.Type != t {
				continue
			}
			for _, f := range formats {
				if sel.matches(f) && !seen[f.Prefix] {
					seen[f.Prefix] = true
					prefixes = append(prefixes, f.Prefix)
				}
			}
		}
		if len(prefixes) > 0 {
			return prefixes
		}
	}
	return nil
}
