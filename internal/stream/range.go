package stream

import (
	"strconv"
	"strings"
)

// Plan is the chunk-aligned fetch plan for one request. The four derived
// values (Offset, FirstCut, LastCut, ChunkCount) fully determine the fetch
// sequence and reproduce exactly the bytes [Start, End] of the file.
type Plan struct {
	Start, End int64 // inclusive byte interval
	Size       int64
	ChunkSize  int64

	Offset     int64 // chunk-aligned, Offset <= Start
	FirstCut   int64 // bytes discarded from the front of the first chunk
	LastCut    int64 // bytes kept from the front of the last chunk
	ChunkCount int
}

// Length is the number of body bytes the plan yields (Content-Length).
func (p Plan) Length() int64 { return p.End - p.Start + 1 }

// ParseRange translates a Range header into an inclusive [start, end]
// interval. An absent header means the whole file. The only accepted shape
// is `bytes=<start>-<end>?`; a missing end defaults to size-1. Anything
// unparsable, start < 0, end >= size, or end < start is a 416.
func ParseRange(header string, size int64) (start, end int64, err error) {
	if header == "" {
		return 0, size - 1, nil
	}

	fail := func() (int64, int64, error) {
		return 0, 0, &RangeNotSatisfiableError{Header: header, Size: size}
	}

	if !strings.HasPrefix(header, "bytes=") {
		return fail()
	}
	startStr, endStr, ok := strings.Cut(strings.TrimPrefix(header, "bytes="), "-")
	if !ok {
		return fail()
	}
	start, serr := strconv.ParseInt(startStr, 10, 64)
	if serr != nil {
		return fail()
	}
	end = size - 1
	if endStr != "" {
		if end, serr = strconv.ParseInt(endStr, 10, 64); serr != nil {
			return fail()
		}
	}
	if start < 0 || end >= size || end < start {
		return fail()
	}
	return start, end, nil
}

// BuildPlan derives the chunk-aligned fetch parameters for a valid interval.
// ChunkCount spans the chunk holding Start through the chunk holding End,
// inclusive, so the trimmed concatenation is byte-exact even when End falls
// on a chunk boundary.
func BuildPlan(start, end, size, chunkSize int64) Plan {
	offset := start - (start % chunkSize)
	return Plan{
		Start:      start,
		End:        end,
		Size:       size,
		ChunkSize:  chunkSize,
		Offset:     offset,
		FirstCut:   start - offset,
		LastCut:    (end % chunkSize) + 1,
		ChunkCount: int(end/chunkSize - offset/chunkSize + 1),
	}
}

// Translate is ParseRange + BuildPlan. partial reports whether a Range
// header was present at all (206 vs 200), regardless of the interval it
// selected.
func Translate(header string, size, chunkSize int64) (p Plan, partial bool, err error) {
	start, end, err := ParseRange(header, size)
	if err != nil {
		return Plan{}, false, err
	}
	return BuildPlan(start, end, size, chunkSize), header != "", nil
}
