package segmenter

import (
	"math/rand"
	"strings"
	"testing"
)

var asciiSymbols = []string{".", "!", "?"}

func texts(t *testing.T, s *Segmenter, deltas []string) []string {
	t.Helper()
	var out []string
	for _, d := range deltas {
		if chunk, ok := s.Push(d); ok {
			out = append(out, chunk.Text)
		}
	}
	for _, chunk := range s.Drain() {
		out = append(out, chunk.Text)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSegmenter_Scenarios(t *testing.T) {
	const transcript = "Hello there. Short. This is the third sentence!"
	words := []string{"Hello", " there.", " Short.", " This", " is", " the", " third", " sentence!"}

	tests := []struct {
		name     string
		deltas   []string
		minChars int
		want     []string
	}{
		{
			name:     "word deltas keep six-rune sentence",
			deltas:   words,
			minChars: 3,
			want:     []string{"Hello there.", "Short.", "This is the third sentence!"},
		},
		{
			name:     "word deltas drop sentence at threshold",
			deltas:   words,
			minChars: 6,
			want:     []string{"Hello there.", "This is the third sentence!"},
		},
		{
			name:     "single delta honors first symbol then drains",
			deltas:   []string{transcript},
			minChars: 3,
			want:     []string{"Hello there.", "Short.", "This is the third sentence!"},
		},
		{
			name:     "no terminal punctuation",
			deltas:   []string{"welcome", " to the", " stream"},
			minChars: 3,
			want:     nil,
		},
		{
			name:     "trailing fragment is never emitted",
			deltas:   []string{"Buy it now!", " Limited stock"},
			minChars: 3,
			want:     []string{"Buy it now!"},
		},
		{
			name:     "short fragments dropped",
			deltas:   []string{"Ok.", " Yes!", " Great deal."},
			minChars: 3,
			want:     []string{"Yes!", "Great deal."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("req-1", Config{Symbols: asciiSymbols, MinChars: tt.minChars})
			got := texts(t, s, tt.deltas)
			if !equalStrings(got, tt.want) {
				t.Errorf("chunks = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSegmenter_SingleDeltaDefersCarriedSentences(t *testing.T) {
	s := New("req-1", Config{Symbols: asciiSymbols, MinChars: 3})

	chunk, ok := s.Push("Hello there. Short. This is the third sentence!")
	if !ok {
		t.Fatal("expected a chunk from the first symbol")
	}
	if chunk.Text != "Hello there." || chunk.ChunkID != 1 {
		t.Errorf("chunk = %+v", chunk)
	}
	if s.Emitted() != 1 {
		t.Errorf("Emitted() = %d, want 1", s.Emitted())
	}

	drained := s.Drain()
	if len(drained) != 2 {
		t.Fatalf("drained %d chunks, want 2", len(drained))
	}
	if drained[0].ChunkID != 2 || drained[1].ChunkID != 3 {
		t.Errorf("drained ids = %d, %d", drained[0].ChunkID, drained[1].ChunkID)
	}
	if len(s.Drain()) != 0 {
		t.Error("second Drain should be empty")
	}
}

func TestSegmenter_ChineseDefaults(t *testing.T) {
	s := New("req-zh", Config{})
	deltas := []string{"你好。", "欢迎来到", "直播间！今天", "给大家推荐", "一款好物。"}

	got := texts(t, s, deltas)
	want := []string{"欢迎来到直播间！", "今天给大家推荐一款好物。"}
	if !equalStrings(got, want) {
		t.Errorf("chunks = %q, want %q", got, want)
	}
}

func TestSegmenter_MinCharsDefaults(t *testing.T) {
	deltas := []string{"Ok.", " Yes!", " Great deal."}
	tests := []struct {
		name     string
		minChars int
		want     []string
	}{
		{"zero uses default", 0, []string{"Yes!", "Great deal."}},
		{"negative keeps everything", -1, []string{"Ok.", "Yes!", "Great deal."}},
		{"explicit threshold", 4, []string{"Great deal."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("req", Config{Symbols: asciiSymbols, MinChars: tt.minChars})
			if got := texts(t, s, deltas); !equalStrings(got, tt.want) {
				t.Errorf("chunks = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSegmenter_RequestIDAndText(t *testing.T) {
	s := New("req-42", Config{Symbols: asciiSymbols})
	chunk, ok := s.Push("  Fresh apples today!  ")
	if !ok {
		t.Fatal("expected chunk")
	}
	if chunk.RequestID != "req-42" {
		t.Errorf("RequestID = %q", chunk.RequestID)
	}
	if chunk.Text != "Fresh apples today!" {
		t.Errorf("Text = %q, want trimmed sentence", chunk.Text)
	}
	if s.Text() != "  Fresh apples today!  " {
		t.Errorf("Text() = %q", s.Text())
	}
}

func TestSegmenter_ChunkIDsContiguous(t *testing.T) {
	corpus := strings.Repeat("This price is great. Hi! Order now? Ok. Free shipping on every order! ", 20)
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		s := New("req", Config{Symbols: asciiSymbols, MinChars: 3})

		var ids []int
		rest := corpus
		for len(rest) > 0 {
			n := 1 + rng.Intn(12)
			if n > len(rest) {
				n = len(rest)
			}
			if chunk, ok := s.Push(rest[:n]); ok {
				ids = append(ids, chunk.ChunkID)
			}
			rest = rest[n:]
		}
		for _, chunk := range s.Drain() {
			ids = append(ids, chunk.ChunkID)
		}

		if len(ids) == 0 {
			t.Fatalf("trial %d: no chunks", trial)
		}
		for i, id := range ids {
			if id != i+1 {
				t.Fatalf("trial %d: ids = %v, not contiguous from 1", trial, ids)
			}
		}
	}
}
