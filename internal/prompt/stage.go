// Package prompt runs the pre-generation stages (agent, RAG) that may
// rewrite the last user turn before it reaches the model.
//
// Stages run in order. The first stage that returns rewritten content wins
// and later stages are skipped, so RAG only runs when the agent produced
// nothing. A deny from any stage rejects the request.
//
// # Webhook Contract
//
// Webhook stages receive an Input and must return an Output:
//
//	POST <webhook_url>
//	Content-Type: application/json
//
//	{
//	  "stage": "agent" | "rag",
//	  "user_id": "...",
//	  "request_id": "...",
//	  "query": "... last user turn ...",
//	  "product_info": { "name": "...", "departure_place": "...", ... }
//	}
//
// Response:
//
//	{
//	  "action": "allow" | "deny" | "mutate",
//	  "content": "...",        // if mutating; agent content is templated
//	  "deny_reason": "..."     // if denying
//	}
package prompt

import (
	"context"
	"strings"

	"github.com/streamer-sales/sales-gateway/internal/domain"
)

// Stage names recognised by the plugin switches.
const (
	StageAgent = "agent"
	StageRAG   = "rag"
)

// DefaultAgentTemplate wraps web search results around the customer question.
const DefaultAgentTemplate = "这是网上获取到的信息：“{info}”\n 客户的问题：“{query}” \n 请认真阅读信息并运用你的性格进行解答。"

// Action is the result action from a stage.
type Action string

const (
	// ActionAllow leaves the prompt untouched.
	ActionAllow Action = "allow"
	// ActionDeny rejects the request.
	ActionDeny Action = "deny"
	// ActionMutate replaces the last user turn with Output.Content.
	ActionMutate Action = "mutate"
)

// Input is the data sent to a stage.
type Input struct {
	Stage     string             `json:"stage"`
	UserID    string             `json:"user_id"`
	RequestID string             `json:"request_id"`
	Query     string             `json:"query"`
	Product   domain.ProductInfo `json:"product_info"`
}

// Output is returned from a stage.
type Output struct {
	Action     Action `json:"action"`
	Content    string `json:"content,omitempty"`
	DenyReason string `json:"deny_reason,omitempty"`
}

// Stage rewrites or rejects a prompt.
type Stage interface {
	Name() string
	Process(ctx context.Context, in *Input) (*Output, error)
}

// StageFunc adapts a function to a Stage.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, in *Input) (*Output, error)
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Process(ctx context.Context, in *Input) (*Output, error) {
	return s.Fn(ctx, in)
}

// Render fills {info} and {query} in template. An empty template returns info.
func Render(template, info, query string) string {
	if template == "" {
		return info
	}
	return strings.NewReplacer("{info}", info, "{query}", query).Replace(template)
}
