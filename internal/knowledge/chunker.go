package knowledge

import "strings"

const (
	DefaultChunkSize      = 500
	DefaultChunkOverlap   = 50
	DefaultBoundaryWindow = 50
)

// Window is the raw [Start, End) rune span of one chunk in the source text.
// Consecutive windows overlap by exactly the chunker's overlap.
type Window struct {
	Start int
	End   int
}

// Chunker splits text into overlapping chunks, preferring to cut just after
// the last '.' found within BoundaryWindow runes of the target cut point.
// All offsets are in runes.
type Chunker struct {
	Size           int
	Overlap        int
	BoundaryWindow int
}

// NewChunker returns a Chunker with sane values: size > 0, 0 <= overlap < size.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return Chunker{Size: size, Overlap: overlap, BoundaryWindow: DefaultBoundaryWindow}
}

// Chunk splits text with the given size and overlap.
func Chunk(text string, size, overlap int) []string {
	return NewChunker(size, overlap).Split(text)
}

// Split returns the trimmed chunk texts in source order.
// Windows that are blank after trimming are dropped.
func (c Chunker) Split(text string) []string {
	runes := []rune(text)
	var out []string
	for _, w := range c.windows(runes) {
		s := strings.TrimSpace(string(runes[w.Start:w.End]))
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Windows returns the raw, untrimmed spans that Split would cut.
func (c Chunker) Windows(text string) []Window {
	return c.windows([]rune(text))
}

func (c Chunker) windows(runes []rune) []Window {
	n := len(runes)
	var out []Window
	start := 0
	for start < n {
		end := start + c.Size
		if end < n {
			end = c.snapToSentence(runes, start, end)
		} else {
			end = n
		}
		out = append(out, Window{Start: start, End: end})
		if end >= n {
			break
		}
		start = end - c.Overlap
	}
	return out
}

// snapToSentence moves end to just after the last '.' in [end-w, end+w).
// The lower bound never drops below start+Overlap so the next window
// always begins after the current one.
func (c Chunker) snapToSentence(runes []rune, start, end int) int {
	lo := end - c.BoundaryWindow
	if floor := start + c.Overlap; lo < floor {
		lo = floor
	}
	hi := end + c.BoundaryWindow
	if hi > len(runes) {
		hi = len(runes)
	}
	for p := hi - 1; p >= lo; p-- {
		if runes[p] == '.' {
			return p + 1
		}
	}
	return end
}
