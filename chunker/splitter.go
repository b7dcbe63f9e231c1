// Package chunker partitions document text into overlapping chunks sized
// for embedding and retrieval.
package chunker

import (
	"fmt"
	"unicode"
)

// UnitRunes is the sizing unit recorded on indexed chunks: sizes, offsets,
// and the overlap all count Unicode code points, not bytes.
const UnitRunes = "runes"

// Chunk is one contiguous span of the split text. Text is the exact
// substring covering [Start, End) in rune offsets; nothing is trimmed, so
// the chunks of a document concatenate back to the original text once the
// per-pair overlap is deduplicated.
type Chunk struct {
	Text  string
	Start int
	End   int
	Index int
}

// Splitter slides a fixed-size window over text, preferring to cut at a
// whitespace boundary near the hard cutoff. A Splitter is immutable and
// safe for concurrent use.
type Splitter struct {
	size      int
	overlap   int
	tolerance int
}

// New returns a Splitter with the default boundary tolerance of one fifth
// of the chunk size.
func New(size, overlap int) (*Splitter, error) {
	return NewWithTolerance(size, overlap, size/5)
}

// NewWithTolerance returns a Splitter that looks up to tolerance runes back
// from the hard cutoff for a whitespace boundary before falling back to a
// hard cut. The tolerance is capped below size-overlap so every window
// advances and the overlap invariant holds.
func NewWithTolerance(size, overlap, tolerance int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap cannot be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	if tolerance < 0 {
		return nil, fmt.Errorf("boundary tolerance cannot be negative, got %d", tolerance)
	}
	if max := size - overlap - 1; tolerance > max {
		tolerance = max
	}

	return &Splitter{size: size, overlap: overlap, tolerance: tolerance}, nil
}

// Unit reports the unit chunk sizes and offsets are measured in.
func (s *Splitter) Unit() string { return UnitRunes }

// Split partitions text into an ordered chunk sequence. Every chunk holds
// at most size runes and consecutive chunks share exactly overlap runes;
// the final chunk is truncated to the remaining text. Empty input yields no
// chunks; input no longer than size yields one chunk equal to the whole
// text. Output depends only on the input and the splitter configuration.
func (s *Splitter) Split(text string) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= s.size {
		return []Chunk{{Text: text, Start: 0, End: len(runes), Index: 0}}
	}

	chunks := make([]Chunk, 0, len(runes)/(s.size-s.overlap)+1)
	start := 0
	for {
		if start+s.size >= len(runes) {
			chunks = append(chunks, Chunk{
				Text:  string(runes[start:]),
				Start: start,
				End:   len(runes),
				Index: len(chunks),
			})
			return chunks
		}

		cut := s.cutPoint(runes, start)
		chunks = append(chunks, Chunk{
			Text:  string(runes[start:cut]),
			Start: start,
			End:   cut,
			Index: len(chunks),
		})
		start = cut - s.overlap
	}
}

// cutPoint returns the end of the window starting at start. It walks back
// from the hard cutoff looking for a position just after whitespace and
// falls back to the hard cutoff when no boundary lies within tolerance.
func (s *Splitter) cutPoint(runes []rune, start int) int {
	hard := start + s.size
	for cut := hard; cut > hard-s.tolerance; cut-- {
		if unicode.IsSpace(runes[cut-1]) {
			return cut
		}
	}
	return hard
}
