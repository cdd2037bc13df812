package response

import (
	"errors"
	"slices"
	"strconv"
	"strings"
)

// maxRanges bounds the parts of a multipart/byteranges response after coalescing.
const maxRanges = 16

var (
	errUnsatisfiable = errors.New("range not satisfiable")
	// errTooManyRanges means the Range header is ignored and the full payload served.
	errTooManyRanges = errors.New("too many ranges")
)

// byteRange is an inclusive interval [start, end] within a payload.
type byteRange struct {
	start, end int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

func (r byteRange) contentRange(size int64) string {
	return "bytes " + strconv.FormatInt(r.start, 10) + "-" + strconv.FormatInt(r.end, 10) + "/" + strconv.FormatInt(size, 10)
}

// parseRange parses a Range header against a payload of size bytes.
// Unsatisfiable specs are dropped; if none remain, or the header is malformed,
// errUnsatisfiable is returned. Overlapping and adjacent ranges are merged;
// more than maxRanges disjoint ranges yield errTooManyRanges.
func parseRange(header string, size int64) ([]byteRange, error) {
	unit, set, ok := strings.Cut(header, "=")
	if !ok || strings.TrimSpace(unit) != "bytes" {
		return nil, errUnsatisfiable
	}

	var ranges []byteRange
	for _, spec := range strings.Split(set, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		first, last, ok := strings.Cut(spec, "-")
		if !ok {
			return nil, errUnsatisfiable
		}
		first, last = strings.TrimSpace(first), strings.TrimSpace(last)

		if first == "" {
			// suffix range: the final n bytes
			n, err := strconv.ParseInt(last, 10, 64)
			if err != nil || n < 0 {
				return nil, errUnsatisfiable
			}
			if n == 0 || size == 0 {
				continue
			}
			ranges = append(ranges, byteRange{start: max(0, size-n), end: size - 1})
			continue
		}

		start, err := strconv.ParseInt(first, 10, 64)
		if err != nil || start < 0 {
			return nil, errUnsatisfiable
		}

		end := size - 1
		if last != "" {
			end, err = strconv.ParseInt(last, 10, 64)
			if err != nil || end < start {
				return nil, errUnsatisfiable
			}
			end = min(end, size-1)
		}

		if start >= size {
			continue
		}
		ranges = append(ranges, byteRange{start: start, end: end})
	}

	if len(ranges) == 0 {
		return nil, errUnsatisfiable
	}

	ranges = coalesce(ranges)
	if len(ranges) > maxRanges {
		return nil, errTooManyRanges
	}

	return ranges, nil
}

// coalesce sorts ranges by start and merges those that overlap or touch,
// so the parts never add up to more than the payload.
func coalesce(ranges []byteRange) []byteRange {
	slices.SortFunc(ranges, func(a, b byteRange) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		}
		return 0
	})

	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.start <= last.end+1 {
			last.end = max(last.end, r.end)
			continue
		}
		out = append(out, r)
	}
	return out
}
