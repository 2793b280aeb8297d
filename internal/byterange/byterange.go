// Package byterange resolves an HTTP Range header against an object size.
//
// Only a single byte range is ever served. A header carrying several ranges
// is resolved using its first range; a header that cannot be parsed or
// satisfied degrades to the full object. Resolve never fails.
package byterange

import (
	"fmt"
	"strconv"
	"strings"
)

const unitPrefix = "bytes="

// Spec is one parsed range. At least one of Start and End is set:
//
//	bytes=10-20  Start=10 End=20
//	bytes=10-    Start=10 End=nil
//	bytes=-20    Start=nil End=20 (suffix length)
type Spec struct {
	Start *int64
	End   *int64
}

// IsSuffix reports whether s asks for the last *End bytes.
func (s Spec) IsSuffix() bool {
	return s.Start == nil && s.End != nil
}

// Resolved is a range bound to a concrete object size.
type Resolved struct {
	Offset       int64
	Length       int64
	Partial      bool
	ContentRange string // "bytes <offset>-<end>/<total>", empty when !Partial
}

// Full returns the resolution that serves the whole object.
func Full(total int64) Resolved {
	if total < 0 {
		total = 0
	}
	return Resolved{Offset: 0, Length: total}
}

// Parse extracts the first range of raw. ok is false for a missing, blank or
// malformed header.
func Parse(raw string) (Spec, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < len(unitPrefix) || !strings.EqualFold(raw[:len(unitPrefix)], unitPrefix) {
		return Spec{}, false
	}

	first, _, _ := strings.Cut(raw[len(unitPrefix):], ",")
	startStr, endStr, found := strings.Cut(strings.TrimSpace(first), "-")
	if !found {
		return Spec{}, false
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	var spec Spec
	if startStr != "" {
		v, err := parseBound(startStr)
		if err != nil {
			return Spec{}, false
		}
		spec.Start = &v
	}
	if endStr != "" {
		v, err := parseBound(endStr)
		if err != nil {
			return Spec{}, false
		}
		spec.End = &v
	}

	switch {
	case spec.Start == nil && spec.End == nil:
		return Spec{}, false
	case spec.Start != nil && spec.End != nil && *spec.End < *spec.Start:
		return Spec{}, false
	}
	return spec, true
}

// Resolve binds the first range in raw to an object of total bytes.
func Resolve(raw string, total int64) Resolved {
	spec, ok := Parse(raw)
	if !ok || total <= 0 {
		return Full(total)
	}

	last := total - 1
	var start, end int64
	switch {
	case spec.IsSuffix():
		if *spec.End == 0 {
			return Full(total)
		}
		start = max(total-*spec.End, 0)
		end = last
	case spec.End == nil:
		start = *spec.Start
		end = last
	default:
		start = *spec.Start
		end = min(*spec.End, last)
	}

	if start > last {
		return Full(total)
	}

	return Resolved{
		Offset:       start,
		Length:       max(end-start+1, 0),
		Partial:      true,
		ContentRange: fmt.Sprintf("bytes %d-%d/%d", start, end, total),
	}
}

func parseBound(s string) (int64, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid range bound %q", s)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}
