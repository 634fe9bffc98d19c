// Package segmenter cuts a growing model transcript into complete-sentence
// chunks for speech synthesis.
//
// Only the delta that was just appended is scanned, and only the first
// terminal symbol in it is honored. Text after that symbol is carried over
// to the next delta. Emitted spans are never revisited.
package segmenter

import (
	"strings"
	"unicode/utf8"

	"github.com/streamer-sales/sales-gateway/internal/domain"
)

// DefaultSymbols are the sentence-ending symbols used when none are configured.
var DefaultSymbols = []string{"。", "！", "？", "；", "…", "!", "?", ".", ";"}

// DefaultMinChars is the trimmed rune count a chunk must exceed to be emitted.
const DefaultMinChars = 3

// Config configures a Segmenter.
type Config struct {
	// Symbols are the terminal symbols. Multi-rune symbols are allowed.
	Symbols []string
	// MinChars drops chunks whose trimmed rune count is <= MinChars. Zero
	// means DefaultMinChars; a negative value keeps every sentence.
	MinChars int
}

// Segmenter tracks one request's transcript. It is not safe for concurrent
// use; each request owns its own Segmenter.
type Segmenter struct {
	requestID string
	symbols   []string
	minChars  int

	text        strings.Builder
	lastEmitted int
	nextChunkID int
}

// New creates a Segmenter for requestID.
func New(requestID string, cfg Config) *Segmenter {
	symbols := cfg.Symbols
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	minChars := cfg.MinChars
	switch {
	case minChars == 0:
		minChars = DefaultMinChars
	case minChars < 0:
		minChars = 0
	}
	return &Segmenter{
		requestID:   requestID,
		symbols:     symbols,
		minChars:    minChars,
		nextChunkID: 1,
	}
}

// Push appends delta and returns the chunk it completes, if any.
func (s *Segmenter) Push(delta string) (domain.SentenceChunk, bool) {
	start := s.text.Len()
	s.text.WriteString(delta)

	pos, width := s.firstSymbol(delta)
	if pos < 0 {
		return domain.SentenceChunk{}, false
	}
	return s.cut(start + pos + width)
}

// Drain is called once generation has ended. It returns the complete
// sentences still carried over from deltas that held more than one terminal
// symbol. A trailing fragment with no terminal symbol is never emitted.
func (s *Segmenter) Drain() []domain.SentenceChunk {
	var chunks []domain.SentenceChunk
	for {
		rest := s.text.String()[s.lastEmitted:]
		pos, width := s.firstSymbol(rest)
		if pos < 0 {
			return chunks
		}
		if chunk, ok := s.cut(s.lastEmitted + pos + width); ok {
			chunks = append(chunks, chunk)
		}
	}
}

// Text returns the accumulated transcript.
func (s *Segmenter) Text() string {
	return s.text.String()
}

// Emitted returns how many chunks have been emitted so far.
func (s *Segmenter) Emitted() int {
	return s.nextChunkID - 1
}

// cut closes the span ending at end and advances the offset whether or not
// the span is long enough to emit.
func (s *Segmenter) cut(end int) (domain.SentenceChunk, bool) {
	span := strings.TrimSpace(s.text.String()[s.lastEmitted:end])
	s.lastEmitted = end

	if utf8.RuneCountInString(span) <= s.minChars {
		return domain.SentenceChunk{}, false
	}

	chunk := domain.SentenceChunk{
		RequestID: s.requestID,
		ChunkID:   s.nextChunkID,
		Text:      span,
	}
	s.nextChunkID++
	return chunk, true
}

// firstSymbol returns the byte offset and length of the earliest terminal
// symbol in text, or -1.
func (s *Segmenter) firstSymbol(text string) (int, int) {
	best, width := -1, 0
	for _, sym := range s.symbols {
		if sym == "" {
			continue
		}
		i := strings.Index(text, sym)
		if i < 0 {
			continue
		}
		if best < 0 || i < best || (i == best && len(sym) > width) {
			best, width = i, len(sym)
		}
	}
	return best, width
}
