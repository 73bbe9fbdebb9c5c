package catalog

import (
	"context"
	"database/sql"
	"strconv"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spaquet/listopia-sub005/internal/models"
	"github.com/spaquet/listopia-sub005/internal/service/planner"
	"github.com/spaquet/listopia-sub005/internal/service/resolver"
	"github.com/spaquet/listopia-sub005/internal/storage"
)

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (1, 'alice', 'x', ?)`,
		time.Now().UTC(),
	); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return NewService(db, resolver.New(db), nil), db
}

func assertPositions(t *testing.T, s *Service, listID int64, wantTitles []string) {
	t.Helper()
	items, err := s.ListItems(context.Background(), 1, listID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != len(wantTitles) {
		t.Fatalf("want %d items, got %d", len(wantTitles), len(items))
	}
	for i, it := range items {
		if it.Position != i {
			t.Fatalf("positions not contiguous: item %d has position %d", i, it.Position)
		}
		if it.Title != wantTitles[i] {
			t.Fatalf("position %d: want %q, got %q", i, wantTitles[i], it.Title)
		}
	}
}

func TestCreateFlatList(t *testing.T) {
	s, _ := newTestService(t)
	root, children, err := s.CreateList(context.Background(), 1, planner.CreateListRequest{
		Title: "Groceries",
		Items: []string{"Milk", "Eggs", "Bread"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("flat list grew %d children", len(children))
	}
	assertPositions(t, s, root.List.ID, []string{"Milk", "Eggs", "Bread"})
}

func TestCreateRoadshowDecomposes(t *testing.T) {
	s, _ := newTestService(t)
	root, children, err := s.CreateList(context.Background(), 1, planner.CreateListRequest{
		Title: "Plan a 3-city roadshow for Q2",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("want 3 child lists, got %d", len(children))
	}
	if len(root.Items) != 0 {
		t.Fatalf("decomposed root must have no items, got %d", len(root.Items))
	}
	for _, c := range children {
		if c.List.ParentID != root.List.ID {
			t.Fatalf("child %q not parented to root", c.List.Title)
		}
		if len(c.Items) == 0 {
			t.Fatalf("child %q has no checklist", c.List.Title)
		}
	}
}

func TestAddRemoveKeepsPositionsContiguous(t *testing.T) {
	s, _ := newTestService(t)
	root, _, err := s.CreateList(context.Background(), 1, planner.CreateListRequest{
		Title: "Chores",
		Items: []string{"A", "B", "C", "D"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()

	if err := s.RemoveItem(ctx, 1, root.List.ID, "B"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	assertPositions(t, s, root.List.ID, []string{"A", "C", "D"})

	if _, err := s.AddItem(ctx, 1, root.List.ID, "E", "high"); err != nil {
		t.Fatalf("add: %v", err)
	}
	assertPositions(t, s, root.List.ID, []string{"A", "C", "D", "E"})

	if err := s.RemoveItem(ctx, 1, root.List.ID, "A"); err != nil {
		t.Fatalf("remove head: %v", err)
	}
	assertPositions(t, s, root.List.ID, []string{"C", "D", "E"})
}

func TestMoveItemReorders(t *testing.T) {
	s, _ := newTestService(t)
	root, _, err := s.CreateList(context.Background(), 1, planner.CreateListRequest{
		Title: "Order",
		Items: []string{"A", "B", "C", "D"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()

	if err := s.MoveItem(ctx, 1, root.List.ID, "D", 0); err != nil {
		t.Fatalf("move to head: %v", err)
	}
	assertPositions(t, s, root.List.ID, []string{"D", "A", "B", "C"})

	if err := s.MoveItem(ctx, 1, root.List.ID, "A", 99); err != nil {
		t.Fatalf("move past end: %v", err)
	}
	assertPositions(t, s, root.List.ID, []string{"D", "B", "C", "A"})
}

func TestCompleteItemByTitleAndID(t *testing.T) {
	s, _ := newTestService(t)
	root, _, err := s.CreateList(context.Background(), 1, planner.CreateListRequest{
		Title: "Tasks",
		Items: []string{"Write report", "Send report"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()

	done, err := s.CompleteItem(ctx, 1, root.List.ID, "write report")
	if err != nil {
		t.Fatalf("complete by title: %v", err)
	}
	if done.Status != models.ItemCompleted {
		t.Fatalf("want completed, got %s", done.Status)
	}

	items, _ := s.ListItems(ctx, 1, root.List.ID)
	if _, err := s.CompleteItem(ctx, 1, root.List.ID, strconv.FormatInt(items[1].ID, 10)); err != nil {
		t.Fatalf("complete by id: %v", err)
	}
}

func TestNestingCycleRejected(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	a, _, _ := s.CreateList(ctx, 1, planner.CreateListRequest{Title: "A"})
	b, _, _ := s.CreateList(ctx, 1, planner.CreateListRequest{Title: "B"})
	c, _, _ := s.CreateList(ctx, 1, planner.CreateListRequest{Title: "C"})

	if err := s.SetListParent(ctx, 1, b.List.ID, a.List.ID); err != nil {
		t.Fatalf("nest b under a: %v", err)
	}
	if err := s.SetListParent(ctx, 1, c.List.ID, b.List.ID); err != nil {
		t.Fatalf("nest c under b: %v", err)
	}
	if err := s.SetListParent(ctx, 1, a.List.ID, c.List.ID); err == nil {
		t.Fatal("a under c closes a cycle and must be rejected")
	}
	if err := s.SetListParent(ctx, 1, a.List.ID, a.List.ID); err == nil {
		t.Fatal("self-parenting must be rejected")
	}
}

func TestDispatchRejectsBadInput(t *testing.T) {
	s, _ := newTestService(t)
	sess := Session{UserID: 1}

	res := s.Dispatch(context.Background(), sess, AddItemOp{ListRef: "anything"})
	if res.OK {
		t.Fatal("empty item title must fail validation")
	}
	res = s.Dispatch(context.Background(), sess, CreateListOp{Title: "x", ListType: "imaginary"})
	if res.OK {
		t.Fatal("unknown list type must fail validation")
	}
	res = s.Dispatch(context.Background(), Session{}, ListListsOp{})
	if res.OK {
		t.Fatal("missing session user must fail")
	}
}

func TestDispatchNeverPanicsAcrossBoundary(t *testing.T) {
	s, db := newTestService(t)
	db.Close() // force every query to error underneath

	res := s.Dispatch(context.Background(), Session{UserID: 1}, ListListsOp{})
	if res.OK {
		t.Fatal("closed database must surface as a failed result")
	}
	if res.Error == "" {
		t.Fatal("failure must carry an error string")
	}
}

func TestDispatchCreateAndListRoundTrip(t *testing.T) {
	s, _ := newTestService(t)
	sess := Session{UserID: 1}
	ctx := context.Background()

	res := s.Dispatch(ctx, sess, CreateListOp{Title: "Errands", Items: []string{"Bank", "Post office"}})
	if !res.OK {
		t.Fatalf("create failed: %s", res.Error)
	}

	res = s.Dispatch(ctx, sess, AddItemOp{ListRef: "Errands", Title: "Pharmacy"})
	if !res.OK {
		t.Fatalf("add failed: %s", res.Error)
	}

	res = s.Dispatch(ctx, sess, ListItemsOp{ListRef: "Errands"})
	if !res.OK {
		t.Fatalf("list items failed: %s", res.Error)
	}

	res = s.Dispatch(ctx, sess, CompleteItemOp{ListRef: "Errands", Item: "Pharmacy"})
	if !res.OK {
		t.Fatalf("complete failed: %s", res.Error)
	}
}

func TestOtherUsersListInvisible(t *testing.T) {
	s, db := newTestService(t)
	if _, err := db.Exec(
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (2, 'bob', 'x', ?)`,
		time.Now().UTC(),
	); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	ctx := context.Background()
	theirs, _, err := s.CreateList(ctx, 2, planner.CreateListRequest{Title: "Private"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AddItem(ctx, 1, theirs.List.ID, "sneak", "low"); err == nil {
		t.Fatal("cross-user mutation must be rejected")
	}
}
