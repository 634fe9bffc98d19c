// Package tokens counts tokens in prompts and generated text for the
// request journal.
package tokens

import (
	"log/slog"
	"math"
	"unicode"
	"unicode/utf8"

	"github.com/streamer-sales/sales-gateway/internal/domain"
)

// Counter counts tokens. Counts from an Estimator are approximate.
type Counter interface {
	CountText(text string) int
	CountMessages(messages []domain.Message) int
	Estimated() bool
}

// Per-message framing overhead, following the chat-completions convention.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	assistantPriming = 3
)

// New returns a tiktoken counter for encoding, or an Estimator when the
// encoding cannot be loaded.
func New(encoding string, logger *slog.Logger) Counter {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := NewTiktokenCounter(encoding)
	if err != nil {
		logger.Warn("tokenizer unavailable, estimating token counts",
			slog.String("encoding", encoding),
			slog.String("error", err.Error()))
		return NewEstimator()
	}
	return c
}

// Estimator approximates token counts without a vocabulary. CJK runes count
// as one token each; other text counts CharsPerToken bytes per token.
type Estimator struct {
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

func (e *Estimator) CountText(text string) int {
	if text == "" {
		return 0
	}
	cjk, other := 0, 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
			continue
		}
		other += utf8.RuneLen(r)
	}
	return cjk + int(math.Ceil(float64(other)/e.CharsPerToken))
}

func (e *Estimator) CountMessages(messages []domain.Message) int {
	return countMessages(e, messages)
}

func (e *Estimator) Estimated() bool { return true }

func countMessages(c Counter, messages []domain.Message) int {
	if len(messages) == 0 {
		return 0
	}
	total := assistantPriming
	for _, m := range messages {
		total += tokensPerMessage + tokensPerRole
		total += c.CountText(m.Content)
	}
	return total
}
