package entity

import "bytes"

// maxTransportPadding bounds the linear whitespace accepted between a
// boundary and its line break.
const maxTransportPadding = 64

// scanResult describes the first delimiter occurrence in a window.
//
// When found is true, offset is where the delimiter starts and next is
// where the following header block (or epilogue) begins. When found is
// false and offset is non-negative, the bytes from offset on may be the
// start of a delimiter and must be withheld until more input arrives.
// An offset of -1 means the whole window is content.
type scanResult struct {
	offset   int
	next     int
	found    bool
	terminal bool
}

type tailKind int

const (
	tailNotBoundary tailKind = iota
	tailNeedMore
	tailLine
	tailTerminal
)

// scanBoundary looks for delim ("\r\n--" + boundary) in window. atEOF
// reports that no more bytes will follow the window, which turns
// undecidable tails into plain content.
func scanBoundary(window, delim []byte, atEOF bool) scanResult {
	from := 0
	for {
		i := bytes.Index(window[from:], delim)
		if i < 0 {
			return scanResult{offset: partialDelimiter(window[from:], delim, from, atEOF)}
		}
		i += from

		kind, n := classifyTail(window[i+len(delim):], atEOF)
		switch kind {
		case tailTerminal, tailLine:
			return scanResult{
				offset:   i,
				next:     i + len(delim) + n,
				found:    true,
				terminal: kind == tailTerminal,
			}
		case tailNeedMore:
			return scanResult{offset: i}
		case tailNotBoundary:
			from = i + 1
		}
	}
}

// partialDelimiter returns the start of the longest suffix of window that
// is a proper prefix of delim, offset by base, or -1.
func partialDelimiter(window, delim []byte, base int, atEOF bool) int {
	if atEOF {
		return -1
	}
	start := max(0, len(window)-len(delim)+1)
	for start < len(window) {
		j := bytes.IndexByte(window[start:], delim[0])
		if j < 0 {
			return -1
		}
		start += j
		if bytes.HasPrefix(delim, window[start:]) {
			return base + start
		}
		start++
	}
	return -1
}

// classifyTail inspects the bytes right after a delimiter. A boundary is
// either terminal ("--") or followed by optional spaces or tabs and a line
// break. The returned length covers the consumed tail.
func classifyTail(rest []byte, atEOF bool) (tailKind, int) {
	undecided := tailNeedMore
	if atEOF {
		undecided = tailNotBoundary
	}

	if len(rest) == 0 {
		return undecided, 0
	}
	if rest[0] == '-' {
		switch {
		case len(rest) == 1:
			return undecided, 0
		case rest[1] == '-':
			return tailTerminal, 2
		default:
			return tailNotBoundary, 0
		}
	}

	j := 0
	for j < len(rest) && (rest[j] == ' ' || rest[j] == '\t') {
		j++
		if j > maxTransportPadding {
			return tailNotBoundary, 0
		}
	}
	switch {
	case j == len(rest):
		return undecided, 0
	case rest[j] == '\n':
		return tailLine, j + 1
	case rest[j] != '\r':
		return tailNotBoundary, 0
	case j+1 == len(rest):
		return undecided, 0
	case rest[j+1] == '\n':
		return tailLine, j + 2
	}
	return tailNotBoundary, 0
}
