package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/streamer-sales/sales-gateway/internal/domain"
)

// DefaultEncoding is used when none is configured. The served model has its
// own vocabulary; cl100k_base is a close stand-in for Chinese text.
const DefaultEncoding = string(tokenizer.Cl100kBase)

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTiktokenCounter loads the named encoding.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}
	return &TiktokenCounter{codec: codec}, nil
}

func (c *TiktokenCounter) CountText(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return NewEstimator().CountText(text)
	}
	return len(ids)
}

func (c *TiktokenCounter) CountMessages(messages []domain.Message) int {
	return countMessages(c, messages)
}

func (c *TiktokenCounter) Estimated() bool { return false }
