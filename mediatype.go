package entity

import (
	"cmp"
	"fmt"
	"mime"
	"slices"
	"strconv"
	"strings"
)

// MediaType is a parsed media type such as "text/plain; charset=utf-8".
// Type and Subtype are lower case; either may be "*".
type MediaType struct {
	Type    string
	Subtype string
	Params  map[string]string
}

// Common media types.
var (
	MediaAny          = MediaType{Type: "*", Subtype: "*"}
	MediaJSON         = MediaType{Type: "application", Subtype: "json"}
	MediaXML          = MediaType{Type: "application", Subtype: "xml"}
	MediaYAML         = MediaType{Type: "application", Subtype: "yaml"}
	MediaTextPlain    = MediaType{Type: "text", Subtype: "plain"}
	MediaOctetStream  = MediaType{Type: "application", Subtype: "octet-stream"}
	MediaFormData     = MediaType{Type: "multipart", Subtype: "form-data"}
	MediaMultipartAny = MediaType{Type: "multipart", Subtype: "*"}
)

// ParseMediaType parses a Content-Type style value.
func ParseMediaType(s string) (MediaType, error) {
	full, params, err := mime.ParseMediaType(s)
	if err != nil {
		return MediaType{}, fmt.Errorf("parse media type %q: %w", s, err)
	}
	if full == "*" {
		full = "*/*"
	}
	typ, sub, ok := strings.Cut(full, "/")
	if !ok || typ == "" || sub == "" {
		return MediaType{}, fmt.Errorf("parse media type %q: missing subtype", s)
	}
	if len(params) == 0 {
		params = nil
	}
	return MediaType{Type: typ, Subtype: sub, Params: params}, nil
}

// MustMediaType is like ParseMediaType but panics on error. It is meant
// for package-level codec declarations.
func MustMediaType(s string) MediaType {
	mt, err := ParseMediaType(s)
	if err != nil {
		panic(err)
	}
	return mt
}

// Essence returns "type/subtype" without parameters.
func (m MediaType) Essence() string {
	return m.Type + "/" + m.Subtype
}

// String formats the media type with its parameters.
func (m MediaType) String() string {
	if m.Type == "" {
		return ""
	}
	return mime.FormatMediaType(m.Essence(), m.Params)
}

// IsZero reports whether m is unset.
func (m MediaType) IsZero() bool { return m.Type == "" }

// IsWildcard reports whether the type or subtype is "*".
func (m MediaType) IsWildcard() bool {
	return m.Type == "*" || m.Subtype == "*" || strings.HasPrefix(m.Subtype, "*+")
}

// Param returns a parameter value, or "".
func (m MediaType) Param(name string) string {
	return m.Params[strings.ToLower(name)]
}

// With returns a copy of m with the parameter set.
func (m MediaType) With(name, value string) MediaType {
	params := make(map[string]string, len(m.Params)+1)
	for k, v := range m.Params {
		params[k] = v
	}
	params[strings.ToLower(name)] = value
	m.Params = params
	return m
}

// matchLevel ranks how specifically two media types match.
type matchLevel int

const (
	matchNone matchLevel = iota
	matchAny
	matchSubtype
	matchExact
)

// matchMediaType compares a codec's declared media type against a wanted
// one. Wildcards are honoured on either side. A "*+suffix" subtype matches
// any subtype carrying that structured syntax suffix.
func matchMediaType(declared, wanted MediaType) matchLevel {
	if declared.Type == "*" || wanted.Type == "*" {
		return matchAny
	}
	if declared.Type != wanted.Type {
		return matchNone
	}
	switch {
	case declared.Subtype == wanted.Subtype && !declared.IsWildcard():
		return matchExact
	case declared.Subtype == "*" || wanted.Subtype == "*":
		return matchSubtype
	case suffixMatch(declared.Subtype, wanted.Subtype) || suffixMatch(wanted.Subtype, declared.Subtype):
		return matchSubtype
	}
	return matchNone
}

func suffixMatch(pattern, sub string) bool {
	suffix, ok := strings.CutPrefix(pattern, "*")
	if !ok || !strings.HasPrefix(suffix, "+") {
		return false
	}
	return strings.HasSuffix(sub, suffix) || sub == suffix[1:]
}

// acceptRange is one entry of an Accept header.
type acceptRange struct {
	media   MediaType
	quality float64
}

// parseAccept parses an Accept header value into ranges ordered by
// descending quality. Entries with equal quality keep header order.
// Unparsable entries and q=0 entries are dropped. An empty value accepts
// anything.
func parseAccept(accept string) []acceptRange {
	if strings.TrimSpace(accept) == "" {
		return []acceptRange{{media: MediaAny, quality: 1}}
	}

	var ranges []acceptRange
	for part := range strings.SplitSeq(accept, ",") {
		mt, err := ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}

		q := 1.0
		if qs, ok := mt.Params["q"]; ok {
			if parsed, err := strconv.ParseFloat(qs, 64); err == nil {
				q = parsed
			}
			delete(mt.Params, "q")
			if len(mt.Params) == 0 {
				mt.Params = nil
			}
		}
		if q <= 0 {
			continue
		}
		ranges = append(ranges, acceptRange{media: mt, quality: q})
	}

	slices.SortStableFunc(ranges, func(a, b acceptRange) int {
		return cmp.Compare(b.quality, a.quality)
	})
	return ranges
}
