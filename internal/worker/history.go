package worker

import (
	"log"

	"github.com/cloudwego/eino/schema"
	"github.com/pkoukk/tiktoken-go"

	"github.com/spaquet/listopia-sub005/internal/models"
)

// tokenCounter estimates the token cost of one message's content.
type tokenCounter func(string) int

// newTokenCounter prefers a real BPE count; when the encoding cannot be
// loaded (offline start) it falls back to a bytes/4 estimate so the budget
// still bounds history growth.
func newTokenCounter() tokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Printf("worker: tiktoken unavailable, using byte estimate: %v", err)
		return func(s string) int { return len(s)/4 + 1 }
	}
	return func(s string) int { return len(enc.Encode(s, nil, nil)) }
}

// toSchema converts stored history for the model. Blocked messages never
// reach the model or its tools.
func toSchema(msgs []*models.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Blocked {
			continue
		}
		sm := &schema.Message{Content: m.Content}
		switch m.Role {
		case models.RoleUser:
			sm.Role = schema.User
		case models.RoleAssistant:
			sm.Role = schema.Assistant
		case models.RoleSystem:
			sm.Role = schema.System
		case models.RoleTool:
			sm.Role = schema.Tool
			sm.ToolCallID = m.ToolCallID
		default:
			continue
		}
		out = append(out, sm)
	}
	return out
}

// trimHistory drops oldest messages until the remainder fits the budget.
// The newest message always survives even if it alone busts the budget.
// The second return reports whether anything was dropped.
func trimHistory(msgs []*schema.Message, budget int, count tokenCounter) ([]*schema.Message, bool) {
	if budget <= 0 || len(msgs) == 0 {
		return msgs, false
	}
	total := 0
	costs := make([]int, len(msgs))
	for i, m := range msgs {
		costs[i] = count(m.Content)
		total += costs[i]
	}
	start := 0
	for total > budget && start < len(msgs)-1 {
		total -= costs[start]
		start++
	}
	// Never let the window open on a dangling tool result.
	for start < len(msgs)-1 && msgs[start].Role == schema.Tool {
		start++
	}
	return msgs[start:], start > 0
}
