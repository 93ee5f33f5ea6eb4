/**
 * @description
 * Parsing of the single-range HTTP Range header used by the PDF viewer. Only
 * "bytes=<start>-<end>" with optional bounds is accepted. An empty start means 0,
 * so "bytes=-500" selects bytes 0-500 rather than the last 500 bytes.
 */

package fileserve

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/btaap/library-service/internal/domain"
)

var rangePattern = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// ByteRange is an inclusive byte interval within an object.
type ByteRange struct {
	Start int64
	End   int64
}

// Length is the number of bytes covered.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange resolves header against an object of size bytes. partial is false
// when no header was sent and the whole object should be returned.
func ParseRange(header string, size int64) (r ByteRange, partial bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ByteRange{Start: 0, End: size - 1}, false, nil
	}
	if strings.Contains(header, ",") {
		return ByteRange{}, true, unsatisfiable("Multiple ranges are not supported")
	}

	m := rangePattern.FindStringSubmatch(header)
	if m == nil {
		return ByteRange{}, true, unsatisfiable("Malformed range header")
	}

	start := int64(0)
	if m[1] != "" {
		start = parseBound(m[1])
	}
	end := size - 1
	if m[2] != "" {
		end = parseBound(m[2])
	}

	if start >= size || start > end {
		return ByteRange{}, true, unsatisfiable("Requested range not satisfiable")
	}
	if end > size-1 {
		end = size - 1
	}
	return ByteRange{Start: start, End: end}, true, nil
}

// parseBound reads a run of digits. Values past int64 saturate, so an
// oversized end reads as "to the end" and an oversized start is unsatisfiable.
func parseBound(digits string) int64 {
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return math.MaxInt64
	}
	return v
}

func unsatisfiable(msg string) error {
	return domain.NewError(domain.KindRangeNotSatisfiable, msg)
}
