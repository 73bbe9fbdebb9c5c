package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spaquet/listopia-sub005/internal/models"
	"github.com/spaquet/listopia-sub005/internal/service/planner"
	"github.com/spaquet/listopia-sub005/internal/service/resolver"
)

// Operation is the closed set of catalog entries the agent may invoke.
// Each variant validates its own inputs before Dispatch touches state.
type Operation interface {
	Name() string
	validate() error
}

// Session is the per-turn identity an operation executes under. Operations
// never act outside the session user's data.
type Session struct {
	UserID         int64
	ConversationID int64
	FocusListID    int64
}

type CreateListOp struct {
	Title       string
	Description string
	ListType    string
	Items       []string
}

type CreatePlannedListOp struct {
	Title       string
	Description string
	ListType    string
}

type AddItemOp struct {
	ListRef  string
	Title    string
	Priority string
}

type CompleteItemOp struct {
	ListRef string
	Item    string
}

type ListListsOp struct{}

type ListItemsOp struct {
	ListRef string
}

func (CreateListOp) Name() string        { return "create_list" }
func (CreatePlannedListOp) Name() string { return "create_planned_list" }
func (AddItemOp) Name() string           { return "add_item" }
func (CompleteItemOp) Name() string      { return "complete_item" }
func (ListListsOp) Name() string         { return "list_lists" }
func (ListItemsOp) Name() string         { return "list_items" }

func (op CreateListOp) validate() error {
	if strings.TrimSpace(op.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	return validateListType(op.ListType)
}

func (op CreatePlannedListOp) validate() error {
	if strings.TrimSpace(op.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	return validateListType(op.ListType)
}

func (op AddItemOp) validate() error {
	if strings.TrimSpace(op.Title) == "" {
		return fmt.Errorf("%w: item title is required", ErrValidation)
	}
	switch op.Priority {
	case "", string(models.PriorityLow), string(models.PriorityMedium), string(models.PriorityHigh):
		return nil
	}
	return fmt.Errorf("%w: unknown priority %q", ErrValidation, op.Priority)
}

func (op CompleteItemOp) validate() error {
	if strings.TrimSpace(op.Item) == "" {
		return fmt.Errorf("%w: item reference is required", ErrValidation)
	}
	return nil
}

func (ListListsOp) validate() error { return nil }

func (op ListItemsOp) validate() error {
	if strings.TrimSpace(op.ListRef) == "" {
		return fmt.Errorf("%w: list reference is required", ErrValidation)
	}
	return nil
}

func validateListType(lt string) error {
	switch lt {
	case "", string(models.ListTypePersonal), string(models.ListTypeProfessional):
		return nil
	}
	return fmt.Errorf("%w: unknown list type %q", ErrValidation, lt)
}

// Dispatch executes one operation and converts every outcome, including
// panics, into a Result. This is the fault barrier between list state and
// the model loop.
func (s *Service) Dispatch(ctx context.Context, sess Session, op Operation) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("catalog: panic in %s: %v", op.Name(), rec)
			res = failure(op.Name()+" failed", fmt.Errorf("internal error"))
		}
	}()

	if sess.UserID <= 0 {
		return failure(op.Name()+" rejected", fmt.Errorf("%w: missing session user", ErrValidation))
	}
	if err := op.validate(); err != nil {
		return failure(op.Name()+" rejected", err)
	}

	switch o := op.(type) {
	case CreateListOp:
		return s.dispatchCreate(ctx, sess, planner.CreateListRequest{
			Title:       o.Title,
			Description: o.Description,
			ListType:    defaultListType(o.ListType),
			Items:       o.Items,
		})
	case CreatePlannedListOp:
		return s.dispatchCreate(ctx, sess, planner.CreateListRequest{
			Title:       o.Title,
			Description: o.Description,
			ListType:    defaultListType(o.ListType),
		})
	case AddItemOp:
		return s.dispatchAddItem(ctx, sess, o)
	case CompleteItemOp:
		return s.dispatchCompleteItem(ctx, sess, o)
	case ListListsOp:
		return s.dispatchListLists(ctx, sess)
	case ListItemsOp:
		return s.dispatchListItems(ctx, sess, o)
	default:
		return failure("unknown operation", fmt.Errorf("%w: %T", ErrValidation, op))
	}
}

func defaultListType(lt string) string {
	if lt == "" {
		return string(models.ListTypePersonal)
	}
	return lt
}

type createdListView struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Items int    `json:"items"`
}

func (s *Service) dispatchCreate(ctx context.Context, sess Session, req planner.CreateListRequest) Result {
	root, children, err := s.CreateList(ctx, sess.UserID, req)
	if err != nil {
		return failure("create list failed", err)
	}
	views := make([]createdListView, 0, len(children))
	for _, c := range children {
		views = append(views, createdListView{ID: c.List.ID, Title: c.List.Title, Items: len(c.Items)})
	}
	summary := fmt.Sprintf("created list %q (id %d)", root.List.Title, root.List.ID)
	if len(children) > 0 {
		summary = fmt.Sprintf("%s with %d sub-lists", summary, len(children))
	}
	return success(summary, map[string]any{
		"list":     createdListView{ID: root.List.ID, Title: root.List.Title, Items: len(root.Items)},
		"children": views,
	})
}

func (s *Service) dispatchAddItem(ctx context.Context, sess Session, op AddItemOp) Result {
	list, err := s.resolveRef(ctx, sess, op.ListRef)
	if err != nil {
		return failure("add item failed", err)
	}
	priority := op.Priority
	if priority == "" {
		priority = string(models.PriorityMedium)
	}
	item, err := s.AddItem(ctx, sess.UserID, list.ID, op.Title, priority)
	if err != nil {
		return failure("add item failed", err)
	}
	return success(
		fmt.Sprintf("added %q to list %q at position %d", item.Title, list.Title, item.Position),
		map[string]any{"list_id": list.ID, "item": item},
	)
}

func (s *Service) dispatchCompleteItem(ctx context.Context, sess Session, op CompleteItemOp) Result {
	list, err := s.resolveRef(ctx, sess, op.ListRef)
	if err != nil {
		return failure("complete item failed", err)
	}
	item, err := s.CompleteItem(ctx, sess.UserID, list.ID, op.Item)
	if err != nil {
		return failure("complete item failed", err)
	}
	return success(
		fmt.Sprintf("completed %q in list %q", item.Title, list.Title),
		map[string]any{"list_id": list.ID, "item": item},
	)
}

func (s *Service) dispatchListLists(ctx context.Context, sess Session) Result {
	lists, err := s.ListLists(ctx, sess.UserID)
	if err != nil {
		return failure("list lists failed", err)
	}
	return success(fmt.Sprintf("%d lists", len(lists)), map[string]any{"lists": lists})
}

func (s *Service) dispatchListItems(ctx context.Context, sess Session, op ListItemsOp) Result {
	list, err := s.resolveRef(ctx, sess, op.ListRef)
	if err != nil {
		return failure("list items failed", err)
	}
	items, err := s.ListItems(ctx, sess.UserID, list.ID)
	if err != nil {
		return failure("list items failed", err)
	}
	return success(
		fmt.Sprintf("list %q has %d items", list.Title, len(items)),
		map[string]any{"list": list, "items": items},
	)
}

// resolveRef turns a textual list reference into an owned list via the
// resolver, honoring the conversation's focus for deictic references.
func (s *Service) resolveRef(ctx context.Context, sess Session, ref string) (*models.List, error) {
	list, err := s.resolver.ResolveList(ctx, resolver.TurnContext{
		UserID:         sess.UserID,
		ConversationID: sess.ConversationID,
		FocusListID:    sess.FocusListID,
	}, ref)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			return nil, fmt.Errorf("no list matches %q", strings.TrimSpace(ref))
		}
		return nil, err
	}
	return list, nil
}
