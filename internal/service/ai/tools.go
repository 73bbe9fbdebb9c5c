package ai

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/spaquet/listopia-sub005/internal/service/catalog"
)

var errNoSession = errors.New("tool call without session")

type createListParams struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	ListType    string   `json:"list_type,omitempty"`
	Items       []string `json:"items,omitempty"`
}

type createPlannedListParams struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ListType    string `json:"list_type,omitempty"`
}

type addItemParams struct {
	List     string `json:"list"`
	Title    string `json:"title"`
	Priority string `json:"priority,omitempty"`
}

type completeItemParams struct {
	List string `json:"list"`
	Item string `json:"item"`
}

type listListsParams struct{}

type listItemsParams struct {
	List string `json:"list"`
}

// buildTools binds the fixed operation catalog to the agent. The set is
// closed: nothing the model says can grow it.
func buildTools(cat *catalog.Service) ([]tool.BaseTool, error) {
	listRefInfo := &schema.ParameterInfo{
		Type:     schema.String,
		Desc:     "Which list: a list ID, a title, or a phrase like 'this list' for the one being discussed.",
		Required: true,
	}

	createList := utils.NewTool(&schema.ToolInfo{
		Name: "create_list",
		Desc: "Create a new task list. Complex requests (multi-city, multi-phase, many items) are automatically broken into sub-lists.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"title":       {Type: schema.String, Desc: "List title.", Required: true},
			"description": {Type: schema.String, Desc: "Optional description; include budgets, dates, or durations mentioned by the user."},
			"list_type":   {Type: schema.String, Desc: "personal or professional.", Enum: []string{"personal", "professional"}},
			"items": {Type: schema.Array, Desc: "Initial items in order.",
				ElemInfo: &schema.ParameterInfo{Type: schema.String}},
		}),
	}, func(ctx context.Context, p *createListParams) (string, error) {
		return run(ctx, cat, "create_list", catalog.CreateListOp{
			Title:       p.Title,
			Description: p.Description,
			ListType:    p.ListType,
			Items:       p.Items,
		})
	})

	createPlanned := utils.NewTool(&schema.ToolInfo{
		Name: "create_planned_list",
		Desc: "Create a structured plan from a goal description: the goal is analyzed and decomposed into a root list with pre-populated sub-lists.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"title":       {Type: schema.String, Desc: "The goal, e.g. 'Plan a 3-city roadshow for Q2'.", Required: true},
			"description": {Type: schema.String, Desc: "Optional extra context."},
			"list_type":   {Type: schema.String, Desc: "personal or professional.", Enum: []string{"personal", "professional"}},
		}),
	}, func(ctx context.Context, p *createPlannedListParams) (string, error) {
		return run(ctx, cat, "create_planned_list", catalog.CreatePlannedListOp{
			Title:       p.Title,
			Description: p.Description,
			ListType:    p.ListType,
		})
	})

	addItem := utils.NewTool(&schema.ToolInfo{
		Name: "add_item",
		Desc: "Add one item to an existing list.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"list":     listRefInfo,
			"title":    {Type: schema.String, Desc: "Item text.", Required: true},
			"priority": {Type: schema.String, Desc: "low, medium, or high.", Enum: []string{"low", "medium", "high"}},
		}),
	}, func(ctx context.Context, p *addItemParams) (string, error) {
		return run(ctx, cat, "add_item", catalog.AddItemOp{
			ListRef:  p.List,
			Title:    p.Title,
			Priority: p.Priority,
		})
	})

	completeItem := utils.NewTool(&schema.ToolInfo{
		Name: "complete_item",
		Desc: "Mark an item in a list as completed.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"list": listRefInfo,
			"item": {Type: schema.String, Desc: "Item ID or item text.", Required: true},
		}),
	}, func(ctx context.Context, p *completeItemParams) (string, error) {
		return run(ctx, cat, "complete_item", catalog.CompleteItemOp{
			ListRef: p.List,
			Item:    p.Item,
		})
	})

	listLists := utils.NewTool(&schema.ToolInfo{
		Name:        "list_lists",
		Desc:        "Show all of the user's lists.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, func(ctx context.Context, _ *listListsParams) (string, error) {
		return run(ctx, cat, "list_lists", catalog.ListListsOp{})
	})

	listItems := utils.NewTool(&schema.ToolInfo{
		Name: "list_items",
		Desc: "Show the items of one list in order.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"list": listRefInfo,
		}),
	}, func(ctx context.Context, p *listItemsParams) (string, error) {
		return run(ctx, cat, "list_items", catalog.ListItemsOp{ListRef: p.List})
	})

	return []tool.BaseTool{createList, createPlanned, addItem, completeItem, listLists, listItems}, nil
}

// run executes one operation under the session carried by the context and
// records the trace entry before the model sees the result.
func run(ctx context.Context, cat *catalog.Service, name string, op catalog.Operation) (string, error) {
	sess, ok := toolSessionFromContext(ctx)
	if !ok {
		return "", errNoSession
	}
	result := cat.Dispatch(ctx, sess.catalogSession(), op)
	if rec, ok := recorderFromContext(ctx); ok {
		rec.RecordToolCall(ctx, sess, name, uuid.NewString(), result)
	}
	return result.JSON(), nil
}
