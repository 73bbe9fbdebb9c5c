package planner

import (
	"fmt"
	"strings"
)

// ListPlan is the fully materialized structure a creation tool persists.
// Root carries the parent list; Children are created under it in order.
type ListPlan struct {
	Root     PlannedList
	Children []PlannedList
}

// PlannedList is one list to create, with its initial items in position order.
type PlannedList struct {
	Title       string
	Description string
	ListType    string
	Items       []PlannedItem
}

// PlannedItem is one seeded item.
type PlannedItem struct {
	Title    string
	Priority string
}

// Checklists seeded into synthesized children. Fixed content keeps plans
// reproducible across runs.
var (
	roadshowChecklist = []string{
		"Book venue",
		"Arrange travel and lodging",
		"Confirm local partners",
		"Prepare marketing materials",
		"Schedule follow-ups",
	}
	phaseChecklist = []string{
		"Define deliverables",
		"Assign owners",
		"Set deadlines",
		"Review progress",
	}
)

// Chunk size for decomposition driven purely by item overflow.
const overflowChunkSize = 5

// BuildPlan turns an analyzed request into a concrete plan. Flat requests
// pass through unchanged; decomposed requests get one child per location,
// phase, or explicit group, and the root's own item list ends up empty.
// Requested flat items are never dropped: when structural children absorb
// the plan, the items move into a trailing general child.
func BuildPlan(req CreateListRequest, a Analysis) ListPlan {
	root := PlannedList{
		Title:       strings.TrimSpace(req.Title),
		Description: describe(req.Description, a),
		ListType:    req.ListType,
	}
	plan := ListPlan{Root: root}

	if !a.NeedsDecomposition {
		plan.Root.Items = plainItems(req.Items)
		for _, g := range req.Groups {
			plan.Children = append(plan.Children, PlannedList{
				Title:    g.Title,
				ListType: req.ListType,
				Items:    plainItems(g.Items),
			})
		}
		return plan
	}

	switch {
	case len(req.Groups) > 0:
		for _, g := range req.Groups {
			plan.Children = append(plan.Children, PlannedList{
				Title:    g.Title,
				ListType: req.ListType,
				Items:    plainItems(g.Items),
			})
		}
	case len(a.Locations) > 0:
		for _, loc := range a.Locations {
			plan.Children = append(plan.Children, PlannedList{
				Title:       loc,
				Description: fmt.Sprintf("%s stop: %s", root.Title, loc),
				ListType:    req.ListType,
				Items:       plainItems(roadshowChecklist),
			})
		}
	case len(a.Phases) > 0:
		for _, ph := range a.Phases {
			plan.Children = append(plan.Children, PlannedList{
				Title:       ph,
				Description: fmt.Sprintf("%s, %s", root.Title, strings.ToLower(ph)),
				ListType:    req.ListType,
				Items:       plainItems(phaseChecklist),
			})
		}
	default:
		// Item overflow with no structural hints: chunk in request order.
		items := req.Items
		part := 1
		for len(items) > 0 {
			n := overflowChunkSize
			if n > len(items) {
				n = len(items)
			}
			plan.Children = append(plan.Children, PlannedList{
				Title:    fmt.Sprintf("%s (part %d)", root.Title, part),
				ListType: req.ListType,
				Items:    plainItems(items[:n]),
			})
			items = items[n:]
			part++
		}
		return plan
	}

	// Structural children don't cover the request's own flat items; park
	// them in a general child so nothing the user asked for is lost.
	if carried := plainItems(req.Items); len(carried) > 0 {
		plan.Children = append(plan.Children, PlannedList{
			Title:    fmt.Sprintf("%s (general)", root.Title),
			ListType: req.ListType,
			Items:    carried,
		})
	}
	return plan
}

// describe folds extracted hints into the description as labeled facts.
func describe(base string, a Analysis) string {
	var facts []string
	if a.Budget != "" {
		facts = append(facts, "Budget: "+a.Budget)
	}
	if a.Duration != "" {
		facts = append(facts, "Duration: "+a.Duration)
	}
	if a.Dates != "" {
		facts = append(facts, "Dates: "+a.Dates)
	}
	base = strings.TrimSpace(base)
	if len(facts) == 0 {
		return base
	}
	joined := strings.Join(facts, " | ")
	if base == "" {
		return joined
	}
	return base + "\n" + joined
}

func plainItems(titles []string) []PlannedItem {
	out := make([]PlannedItem, 0, len(titles))
	for _, t := range titles {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, PlannedItem{Title: t, Priority: "medium"})
	}
	return out
}
