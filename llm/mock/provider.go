// Package mock provides a scripted llm.Client for tests.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/superglue-ai/superglue-go/llm"
)

// Reply is one scripted model turn. Exactly one of Text, Call or Object
// should be set; Err short-circuits the turn.
type Reply struct {
	Text   string
	Call   *llm.ToolCall
	Object json.RawMessage
	Err    error
}

// Client replays scripted replies in order and records every request it
// receives. Safe for concurrent use.
type Client struct {
	mu      sync.Mutex
	replies []Reply
	next    int

	// Recorded per call, in order.
	Temperatures []float64
	Histories    [][]llm.Message
	ToolSets     [][]llm.Tool
}

// NewClient builds a client that replays the given replies.
func NewClient(replies ...Reply) *Client {
	return &Client{replies: replies}
}

func (c *Client) take(messages []llm.Message, temperature float64, tools []llm.Tool) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Temperatures = append(c.Temperatures, temperature)
	c.Histories = append(c.Histories, append([]llm.Message(nil), messages...))
	c.ToolSets = append(c.ToolSets, append([]llm.Tool(nil), tools...))
	if c.next >= len(c.replies) {
		return Reply{}, fmt.Errorf("mock llm: no reply scripted for call %d", c.next+1)
	}
	r := c.replies[c.next]
	c.next++
	return r, nil
}

// Calls returns how many requests the client has served.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

func (c *Client) GenerateText(ctx context.Context, messages []llm.Message, temperature float64) (string, []llm.Message, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	r, err := c.take(messages, temperature, nil)
	if err != nil {
		return "", nil, err
	}
	if r.Err != nil {
		return "", nil, r.Err
	}
	history := append(append([]llm.Message(nil), messages...), llm.Message{
		Role:    llm.RoleAssistant,
		Content: r.Text,
	})
	return r.Text, history, nil
}

func (c *Client) GenerateObject(ctx context.Context, messages []llm.Message, schema json.RawMessage, temperature float64, tools []llm.Tool) (*llm.ObjectResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := c.take(messages, temperature, tools)
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}

	assistant := llm.Message{Role: llm.RoleAssistant}
	if r.Call != nil {
		assistant.ToolCalls = []llm.ToolCall{*r.Call}
	} else {
		assistant.Content = string(r.Object)
	}
	history := append(append([]llm.Message(nil), messages...), assistant)

	return &llm.ObjectResult{
		Call:     r.Call,
		Object:   r.Object,
		Messages: history,
	}, nil
}
