package entity

// ScanResult mirrors scanResult for external tests.
type ScanResult struct {
	Offset   int
	Next     int
	Found    bool
	Terminal bool
}

// ScanBoundary runs the boundary scanner over window.
func ScanBoundary(window []byte, boundary string, atEOF bool) ScanResult {
	r := scanBoundary(window, []byte("\r\n--"+boundary), atEOF)
	return ScanResult{Offset: r.offset, Next: r.next, Found: r.found, Terminal: r.terminal}
}

// AcceptRange mirrors acceptRange for external tests.
type AcceptRange struct {
	Media   string
	Quality float64
}

// Accepts parses an Accept header value.
func Accepts(accept string) []AcceptRange {
	var out []AcceptRange
	for _, r := range parseAccept(accept) {
		out = append(out, AcceptRange{Media: r.media.String(), Quality: r.quality})
	}
	return out
}

// MatchLevel reports how declared matches wanted: 0 none, 1 any, 2
// subtype, 3 exact.
func MatchLevel(declared, wanted string) int {
	return int(matchMediaType(MustMediaType(declared), MustMediaType(wanted)))
}
