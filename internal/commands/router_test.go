package commands

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/spaquet/listopia-sub005/internal/models"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in       string
		wantOK   bool
		wantName string
		wantArgs string
	}{
		{"/search budget", true, "search", "budget"},
		{"/SEARCH Budget Q2", true, "search", "Budget Q2"},
		{"  /help  ", true, "help", ""},
		{"/lists", true, "lists", ""},
		{"add milk to my list", false, "", ""},
		{"/", false, "", ""},
		{"/2fast", false, "", ""},
		{"5/3 of the work is done", false, "", ""},
	}
	for _, c := range cases {
		cmd, ok := Parse(c.in)
		if ok != c.wantOK {
			t.Errorf("Parse(%q): ok=%v, want %v", c.in, ok, c.wantOK)
			continue
		}
		if ok && (cmd.Name != c.wantName || cmd.Args != c.wantArgs) {
			t.Errorf("Parse(%q) = %+v, want %s %q", c.in, cmd, c.wantName, c.wantArgs)
		}
	}
}

type fakeSearcher struct {
	msgs []*models.Message
}

func (f fakeSearcher) SearchMessages(_ context.Context, _, _ int64, _ string, _ int) ([]*models.Message, error) {
	return f.msgs, nil
}

type fakeLister struct {
	lists []*models.List
}

func (f fakeLister) ListLists(context.Context, int64) ([]*models.List, error) {
	return f.lists, nil
}

type fakeClearer struct {
	cleared []int64
}

func (f *fakeClearer) ClearConversationHistory(_ context.Context, _, conversationID int64) error {
	f.cleared = append(f.cleared, conversationID)
	return nil
}

func TestSearchRendersHits(t *testing.T) {
	r := NewRouter(fakeSearcher{msgs: []*models.Message{
		{ID: 4, Role: models.RoleUser, Content: "what was the budget for Berlin again"},
		{ID: 2, Role: models.RoleAssistant, Content: "The budget is $40k."},
	}}, fakeLister{}, &fakeClearer{})

	resp := r.Execute(context.Background(), 1, 7, Command{Name: "search", Args: "budget"})
	if resp.Template != "search_results" {
		t.Fatalf("want search_results template, got %q", resp.Template)
	}
	var payload struct {
		Query string `json:"query"`
		Hits  []struct {
			MessageID int64  `json:"message_id"`
			Snippet   string `json:"snippet"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(resp.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.Hits) != 2 || payload.Query != "budget" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if !strings.Contains(payload.Hits[0].Snippet, "budget") {
		t.Fatalf("snippet must contain the query: %q", payload.Hits[0].Snippet)
	}
}

func TestSearchZeroResultsSuggestsRefinement(t *testing.T) {
	r := NewRouter(fakeSearcher{}, fakeLister{}, &fakeClearer{})

	resp := r.Execute(context.Background(), 1, 7, Command{Name: "search", Args: "unobtainium"})
	if resp.Template != "" {
		t.Fatalf("zero hits must not render a template, got %q", resp.Template)
	}
	if !strings.Contains(resp.Content, "unobtainium") || !strings.Contains(resp.Content, "Try") {
		t.Fatalf("zero-hit response must suggest refining: %q", resp.Content)
	}
}

func TestUnknownCommandFallsBack(t *testing.T) {
	r := NewRouter(fakeSearcher{}, fakeLister{}, &fakeClearer{})
	resp := r.Execute(context.Background(), 1, 7, Command{Name: "teleport"})
	if !strings.Contains(resp.Content, "/help") {
		t.Fatalf("unknown command must point at /help: %q", resp.Content)
	}
}

func TestClearCallsThrough(t *testing.T) {
	clearer := &fakeClearer{}
	r := NewRouter(fakeSearcher{}, fakeLister{}, clearer)
	resp := r.Execute(context.Background(), 1, 7, Command{Name: "clear"})
	if len(clearer.cleared) != 1 || clearer.cleared[0] != 7 {
		t.Fatalf("clear must target conversation 7, got %v", clearer.cleared)
	}
	if !strings.Contains(resp.Content, "cleared") {
		t.Fatalf("unexpected clear response: %q", resp.Content)
	}
}

func TestListsEmptyState(t *testing.T) {
	r := NewRouter(fakeSearcher{}, fakeLister{}, &fakeClearer{})
	resp := r.Execute(context.Background(), 1, 0, Command{Name: "lists"})
	if resp.Template != "" || !strings.Contains(resp.Content, "no lists") {
		t.Fatalf("unexpected empty-state response: %+v", resp)
	}
}

func TestHelpListsEveryCommand(t *testing.T) {
	r := NewRouter(fakeSearcher{}, fakeLister{}, &fakeClearer{})
	resp := r.Execute(context.Background(), 1, 0, Command{Name: "help"})
	for _, name := range []string{"/search", "/lists", "/clear", "/help"} {
		if !strings.Contains(resp.Content, name) {
			t.Errorf("help missing %s", name)
		}
	}
}

func TestSnippetKeepsRuneBoundaries(t *testing.T) {
	content := strings.Repeat("é", 60) + " budget " + strings.Repeat("ü", 60)
	out := snippet(content, "budget")
	if !utf8.ValidString(out) {
		t.Fatalf("snippet split a rune: %q", out)
	}
	if !strings.Contains(out, "budget") {
		t.Fatalf("snippet lost the match: %q", out)
	}
}
