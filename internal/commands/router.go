package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/spaquet/listopia-sub005/internal/models"
)

// Slash commands short-circuit the agent entirely: they are parsed, executed,
// and rendered synchronously, with no model involved.

const searchLimit = 20

// Command is one parsed slash command.
type Command struct {
	Name string
	Args string
}

// Parse splits a leading-slash message into command and argument string.
// Returns false for anything that is not a slash command, including "/"
// alone and slash-prefixed text with no letter after the slash.
func Parse(text string) (Command, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{}, false
	}
	body := strings.TrimPrefix(trimmed, "/")
	if body == "" {
		return Command{}, false
	}
	name, args, _ := strings.Cut(body, " ")
	name = strings.ToLower(name)
	for _, r := range name {
		if (r < 'a' || r > 'z') && r != '_' {
			return Command{}, false
		}
	}
	return Command{Name: name, Args: strings.TrimSpace(args)}, true
}

// Searcher finds past non-blocked messages in a conversation.
type Searcher interface {
	SearchMessages(ctx context.Context, userID, conversationID int64, query string, limit int) ([]*models.Message, error)
}

// Lister enumerates the user's lists.
type Lister interface {
	ListLists(ctx context.Context, userID int64) ([]*models.List, error)
}

// Clearer wipes a conversation's message history.
type Clearer interface {
	ClearConversationHistory(ctx context.Context, userID, conversationID int64) error
}

// Response is the synchronously rendered command output. Template, when
// set, names the structured rendering the client should use; Payload is
// its data.
type Response struct {
	Content  string          `json:"content"`
	Template string          `json:"template,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Router dispatches parsed commands to their handlers.
type Router struct {
	search Searcher
	lists  Lister
	clear  Clearer
}

func NewRouter(search Searcher, lists Lister, clear Clearer) *Router {
	return &Router{search: search, lists: lists, clear: clear}
}

// Execute runs one command. Unknown names never error; they render a hint.
func (r *Router) Execute(ctx context.Context, userID, conversationID int64, cmd Command) Response {
	switch cmd.Name {
	case "search":
		return r.runSearch(ctx, userID, conversationID, cmd.Args)
	case "lists":
		return r.runLists(ctx, userID)
	case "clear":
		return r.runClear(ctx, userID, conversationID)
	case "help":
		return helpResponse()
	default:
		return Response{
			Content: fmt.Sprintf("Unknown command /%s. Try /help for the list of commands.", cmd.Name),
		}
	}
}

type searchHit struct {
	MessageID int64  `json:"message_id"`
	Role      string `json:"role"`
	Snippet   string `json:"snippet"`
}

func (r *Router) runSearch(ctx context.Context, userID, conversationID int64, query string) Response {
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{Content: "Usage: /search <keywords>"}
	}
	msgs, err := r.search.SearchMessages(ctx, userID, conversationID, query, searchLimit)
	if err != nil {
		log.Printf("commands: search %q failed: %v", query, err)
		return Response{Content: "Search is unavailable right now."}
	}
	if len(msgs) == 0 {
		return Response{
			Content: fmt.Sprintf("No messages matched %q. Try fewer or more general keywords.", query),
		}
	}

	hits := make([]searchHit, 0, len(msgs))
	for _, m := range msgs {
		hits = append(hits, searchHit{
			MessageID: m.ID,
			Role:      string(m.Role),
			Snippet:   snippet(m.Content, query),
		})
	}
	payload, err := json.Marshal(map[string]any{"query": query, "hits": hits})
	if err != nil {
		log.Printf("commands: encode search payload: %v", err)
		return Response{Content: fmt.Sprintf("%d messages matched %q.", len(msgs), query)}
	}
	return Response{
		Content:  fmt.Sprintf("%d messages matched %q.", len(msgs), query),
		Template: "search_results",
		Payload:  payload,
	}
}

func (r *Router) runLists(ctx context.Context, userID int64) Response {
	lists, err := r.lists.ListLists(ctx, userID)
	if err != nil {
		log.Printf("commands: list lists failed: %v", err)
		return Response{Content: "Lists are unavailable right now."}
	}
	if len(lists) == 0 {
		return Response{Content: "You have no lists yet. Ask me to create one."}
	}
	payload, err := json.Marshal(map[string]any{"lists": lists})
	if err != nil {
		log.Printf("commands: encode lists payload: %v", err)
		return Response{Content: fmt.Sprintf("You have %d lists.", len(lists))}
	}
	return Response{
		Content:  fmt.Sprintf("You have %d lists.", len(lists)),
		Template: "list_overview",
		Payload:  payload,
	}
}

func (r *Router) runClear(ctx context.Context, userID, conversationID int64) Response {
	if conversationID <= 0 {
		return Response{Content: "No conversation to clear."}
	}
	if err := r.clear.ClearConversationHistory(ctx, userID, conversationID); err != nil {
		log.Printf("commands: clear conversation %d failed: %v", conversationID, err)
		return Response{Content: "Could not clear this conversation."}
	}
	return Response{Content: "Conversation history cleared."}
}

func helpResponse() Response {
	return Response{Content: strings.Join([]string{
		"Available commands:",
		"/search <keywords> - search this conversation's messages",
		"/lists - show all your lists",
		"/clear - clear this conversation's history",
		"/help - show this help",
	}, "\n")}
}

const snippetRadius = 40

// snippet trims content to a window around the first match of the query,
// falling back to the head of the message. The window edges land on rune
// boundaries so multi-byte text is never split mid-rune.
func snippet(content, query string) string {
	idx := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if idx < 0 {
		idx = 0
	}
	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + len(query) + snippetRadius
	if end > len(content) {
		end = len(content)
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	out := content[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(content) {
		out += "…"
	}
	return out
}
