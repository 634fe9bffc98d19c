// Package domain holds the request, event and error types shared by every
// stage of the sales pipeline.
package domain

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidRequestID is returned for request ids that cannot name artifacts.
var ErrInvalidRequestID = errors.New("request_id must be 1-128 ASCII letters, digits, '-' or '_'")

// Request ids name artifact files, so they are restricted to a single safe
// path element.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateRequestID reports whether id may be used as a request id.
func ValidateRequestID(id string) error {
	if !requestIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidRequestID, id)
	}
	return nil
}

// Message is one prompt turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProductInfo carries the product copy and logistics fields the assistant
// talks about. Agent and RAG stages read it to rewrite the prompt.
type ProductInfo struct {
	Name                string `json:"name"`
	Highlights          string `json:"heighlights"`
	Introduce           string `json:"introduce"`
	ImagePath           string `json:"image_path"`
	DeparturePlace      string `json:"departure_place"`
	DeliveryCompanyName string `json:"delivery_company_name"`
}

// PluginsInfo toggles the optional stages for one request.
type PluginsInfo struct {
	RAG          bool `json:"rag"`
	Agent        bool `json:"agent"`
	TTS          bool `json:"tts"`
	DigitalHuman bool `json:"digital_human"`
}

// DefaultPlugins enables every plugin, matching what clients get when they
// omit the field.
func DefaultPlugins() PluginsInfo {
	return PluginsInfo{RAG: true, Agent: true, TTS: true, DigitalHuman: true}
}

// ChatGenConfig holds the sampling parameters forwarded to the model.
type ChatGenConfig struct {
	TopP              float64 `json:"top_p"`
	Temperature       float64 `json:"temperature"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// DefaultChatGenConfig returns the sampling defaults.
func DefaultChatGenConfig() ChatGenConfig {
	return ChatGenConfig{TopP: 0.8, Temperature: 0.7, RepetitionPenalty: 1.005}
}

// ChatItem is one inbound chat turn. It is identified by (UserID, RequestID)
// and is not modified once generation starts.
type ChatItem struct {
	UserID      string        `json:"user_id"`
	RequestID   string        `json:"request_id"`
	Prompt      []Message     `json:"prompt"`
	ProductInfo ProductInfo   `json:"product_info"`
	Plugins     PluginsInfo   `json:"plugins"`
	ChatConfig  ChatGenConfig `json:"chat_config"`
}

// NewChatItem returns a ChatItem with default plugins and sampling config,
// ready to be decoded into.
func NewChatItem() *ChatItem {
	return &ChatItem{
		Plugins:    DefaultPlugins(),
		ChatConfig: DefaultChatGenConfig(),
	}
}

// LastUserContent returns the content of the final prompt turn.
func (c *ChatItem) LastUserContent() string {
	if len(c.Prompt) == 0 {
		return ""
	}
	return c.Prompt[len(c.Prompt)-1].Content
}

// SetLastUserContent replaces the content of the final prompt turn.
func (c *ChatItem) SetLastUserContent(content string) {
	if len(c.Prompt) == 0 {
		return
	}
	c.Prompt[len(c.Prompt)-1].Content = content
}

// Clone returns a copy whose prompt can be rewritten without touching the
// caller's slice.
func (c *ChatItem) Clone() *ChatItem {
	out := *c
	out.Prompt = append([]Message(nil), c.Prompt...)
	return &out
}

// SentenceChunk is a complete sentence cut from the generated transcript.
// ChunkID starts at 1 and has no gaps within a request.
type SentenceChunk struct {
	RequestID string `json:"request_id"`
	ChunkID   int    `json:"chunk_id"`
	Text      string `json:"text"`
}
