package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spaquet/listopia-sub005/internal/models"
	"github.com/spaquet/listopia-sub005/internal/service/planner"
	"github.com/spaquet/listopia-sub005/internal/service/resolver"
)

// Notifier receives change events after a mutation commits. Delivery is
// best effort; the catalog never waits on or fails because of it.
type Notifier interface {
	ListMutated(userID, listID int64, event string, payload any)
}

// Service owns all list and item mutations. Writes to one list are
// serialized through a per-list mutex so position bookkeeping never races.
type Service struct {
	db       *sql.DB
	resolver *resolver.Resolver
	notify   Notifier

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewService(db *sql.DB, res *resolver.Resolver, notify Notifier) *Service {
	return &Service{
		db:       db,
		resolver: res,
		notify:   notify,
		locks:    map[int64]*sync.Mutex{},
	}
}

// lockList serializes mutations on one list. The lock map only grows; list
// churn is low enough that reclaiming entries is not worth the bookkeeping.
func (s *Service) lockList(listID int64) func() {
	s.mu.Lock()
	lk, ok := s.locks[listID]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[listID] = lk
	}
	s.mu.Unlock()
	lk.Lock()
	return lk.Unlock
}

func (s *Service) emit(userID, listID int64, event string, payload any) {
	if s.notify != nil {
		s.notify.ListMutated(userID, listID, event, payload)
	}
}

// CreatedList pairs a persisted list with its seeded items.
type CreatedList struct {
	List  *models.List       `json:"list"`
	Items []*models.ListItem `json:"items"`
}

// CreateList analyzes the request, decomposes it when the analyzer says so,
// and persists the resulting structure in one transaction.
func (s *Service) CreateList(ctx context.Context, userID int64, req planner.CreateListRequest) (*CreatedList, []*CreatedList, error) {
	plan := planner.BuildPlan(req, planner.Analyze(req))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	root, err := insertPlannedList(ctx, tx, userID, 0, plan.Root)
	if err != nil {
		return nil, nil, err
	}
	children := make([]*CreatedList, 0, len(plan.Children))
	for _, pc := range plan.Children {
		child, err := insertPlannedList(ctx, tx, userID, root.List.ID, pc)
		if err != nil {
			return nil, nil, err
		}
		children = append(children, child)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit create list: %w", err)
	}

	s.emit(userID, root.List.ID, "list_created", root)
	for _, c := range children {
		s.emit(userID, c.List.ID, "list_created", c)
	}
	return root, children, nil
}

func insertPlannedList(ctx context.Context, tx *sql.Tx, userID, parentID int64, pl planner.PlannedList) (*CreatedList, error) {
	now := time.Now().UTC()
	listType := pl.ListType
	if listType == "" {
		listType = string(models.ListTypePersonal)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO lists (user_id, parent_id, title, description, list_type, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'active', ?, ?)`,
		userID, zeroNull(parentID), pl.Title, nullable(pl.Description), listType, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert list %q: %w", pl.Title, err)
	}
	listID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("list id: %w", err)
	}
	created := &CreatedList{
		List: &models.List{
			ID:          listID,
			UserID:      userID,
			ParentID:    parentID,
			Title:       pl.Title,
			Description: pl.Description,
			ListType:    models.ListType(listType),
			Status:      models.ListActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	for pos, it := range pl.Items {
		priority := it.Priority
		if priority == "" {
			priority = string(models.PriorityMedium)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO list_items (list_id, title, position, status, priority, created_at, updated_at)
			 VALUES (?, ?, ?, 'pending', ?, ?, ?)`,
			listID, it.Title, pos, priority, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert item %q: %w", it.Title, err)
		}
		itemID, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("item id: %w", err)
		}
		created.Items = append(created.Items, &models.ListItem{
			ID:        itemID,
			ListID:    listID,
			Title:     it.Title,
			Position:  pos,
			Status:    models.ItemPending,
			Priority:  models.ItemPriority(priority),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return created, nil
}

// AddItem appends an item at the next free position.
func (s *Service) AddItem(ctx context.Context, userID, listID int64, title, priority string) (*models.ListItem, error) {
	if err := s.checkOwner(ctx, userID, listID); err != nil {
		return nil, err
	}
	unlock := s.lockList(listID)
	defer unlock()

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var position int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM list_items WHERE list_id = ?`, listID,
	).Scan(&position); err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO list_items (list_id, title, position, status, priority, created_at, updated_at)
		 VALUES (?, ?, ?, 'pending', ?, ?, ?)`,
		listID, title, position, priority, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	itemID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("item id: %w", err)
	}
	if err := touchList(ctx, tx, listID, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add item: %w", err)
	}

	item := &models.ListItem{
		ID:        itemID,
		ListID:    listID,
		Title:     title,
		Position:  position,
		Status:    models.ItemPending,
		Priority:  models.ItemPriority(priority),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.emit(userID, listID, "item_added", item)
	return item, nil
}

// CompleteItem marks an item completed. The reference is an item ID when
// numeric, otherwise a case-insensitive title within the list.
func (s *Service) CompleteItem(ctx context.Context, userID, listID int64, itemRef string) (*models.ListItem, error) {
	if err := s.checkOwner(ctx, userID, listID); err != nil {
		return nil, err
	}
	unlock := s.lockList(listID)
	defer unlock()

	item, err := s.findItem(ctx, listID, itemRef)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`UPDATE list_items SET status = 'completed', updated_at = ? WHERE id = ?`,
		now, item.ID,
	); err != nil {
		return nil, fmt.Errorf("complete item: %w", err)
	}
	if err := touchList(ctx, tx, listID, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit complete item: %w", err)
	}
	item.Status = models.ItemCompleted
	item.UpdatedAt = now
	s.emit(userID, listID, "item_completed", item)
	return item, nil
}

// RemoveItem deletes an item and closes the position gap it leaves.
func (s *Service) RemoveItem(ctx context.Context, userID, listID int64, itemRef string) error {
	if err := s.checkOwner(ctx, userID, listID); err != nil {
		return err
	}
	unlock := s.lockList(listID)
	defer unlock()

	item, err := s.findItem(ctx, listID, itemRef)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM list_items WHERE id = ?`, item.ID,
	); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	// Two-phase shift keeps the (list_id, position) unique constraint
	// satisfied at every point.
	if _, err := tx.ExecContext(ctx,
		`UPDATE list_items SET position = -position WHERE list_id = ? AND position > ?`,
		listID, item.Position,
	); err != nil {
		return fmt.Errorf("shift positions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE list_items SET position = -position - 1 WHERE list_id = ? AND position < 0`,
		listID,
	); err != nil {
		return fmt.Errorf("settle positions: %w", err)
	}
	if err := touchList(ctx, tx, listID, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove item: %w", err)
	}
	s.emit(userID, listID, "item_removed", item)
	return nil
}

// MoveItem places an item at a new position, renumbering the rest.
func (s *Service) MoveItem(ctx context.Context, userID, listID int64, itemRef string, newPos int) error {
	if err := s.checkOwner(ctx, userID, listID); err != nil {
		return err
	}
	unlock := s.lockList(listID)
	defer unlock()

	item, err := s.findItem(ctx, listID, itemRef)
	if err != nil {
		return err
	}
	items, err := s.ListItems(ctx, userID, listID)
	if err != nil {
		return err
	}
	if newPos < 0 {
		newPos = 0
	}
	if newPos >= len(items) {
		newPos = len(items) - 1
	}

	ordered := make([]int64, 0, len(items))
	for _, it := range items {
		if it.ID != item.ID {
			ordered = append(ordered, it.ID)
		}
	}
	ordered = append(ordered[:newPos], append([]int64{item.ID}, ordered[newPos:]...)...)

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	for i, id := range ordered {
		if _, err := tx.ExecContext(ctx,
			`UPDATE list_items SET position = ? WHERE id = ?`, -(i + 1), id,
		); err != nil {
			return fmt.Errorf("stage position: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE list_items SET position = -position - 1, updated_at = ? WHERE list_id = ? AND position < 0`,
		now, listID,
	); err != nil {
		return fmt.Errorf("settle positions: %w", err)
	}
	if err := touchList(ctx, tx, listID, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit move item: %w", err)
	}
	s.emit(userID, listID, "item_moved", map[string]any{"item_id": item.ID, "position": newPos})
	return nil
}

// SetListParent re-nests a list. The new parent chain is walked first; any
// path leading back to the list itself is rejected.
func (s *Service) SetListParent(ctx context.Context, userID, listID, parentID int64) error {
	if err := s.checkOwner(ctx, userID, listID); err != nil {
		return err
	}
	if parentID != 0 {
		if err := s.checkOwner(ctx, userID, parentID); err != nil {
			return err
		}
		if err := s.checkNoCycle(ctx, listID, parentID); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE lists SET parent_id = ?, updated_at = ? WHERE id = ?`,
		zeroNull(parentID), now, listID,
	); err != nil {
		return fmt.Errorf("set parent: %w", err)
	}
	s.emit(userID, listID, "list_moved", map[string]any{"parent_id": parentID})
	return nil
}

const maxNestingDepth = 64

func (s *Service) checkNoCycle(ctx context.Context, listID, parentID int64) error {
	cursor := parentID
	for depth := 0; cursor != 0; depth++ {
		if depth > maxNestingDepth {
			return fmt.Errorf("%w: nesting too deep", ErrValidation)
		}
		if cursor == listID {
			return fmt.Errorf("%w: list cannot become its own ancestor", ErrValidation)
		}
		var next sql.NullInt64
		err := s.db.QueryRowContext(ctx,
			`SELECT parent_id FROM lists WHERE id = ?`, cursor,
		).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("walk parent chain: %w", err)
		}
		cursor = next.Int64
	}
	return nil
}

// ListLists returns the user's active lists, most recently updated first.
func (s *Service) ListLists(ctx context.Context, userID int64) ([]*models.List, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, parent_id, title, description, list_type, status, created_at, updated_at
		 FROM lists WHERE user_id = ? AND status = 'active'
		 ORDER BY updated_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var lists []*models.List
	for rows.Next() {
		var (
			list     models.List
			parentID sql.NullInt64
			desc     sql.NullString
		)
		if err := rows.Scan(&list.ID, &list.UserID, &parentID, &list.Title, &desc,
			&list.ListType, &list.Status, &list.CreatedAt, &list.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		list.ParentID = parentID.Int64
		list.Description = desc.String
		lists = append(lists, &list)
	}
	return lists, rows.Err()
}

// ListItems returns a list's items in position order.
func (s *Service) ListItems(ctx context.Context, userID, listID int64) ([]*models.ListItem, error) {
	if err := s.checkOwner(ctx, userID, listID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, list_id, title, position, status, priority, created_at, updated_at
		 FROM list_items WHERE list_id = ? ORDER BY position ASC`,
		listID,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*models.ListItem
	for rows.Next() {
		var item models.ListItem
		if err := rows.Scan(&item.ID, &item.ListID, &item.Title, &item.Position,
			&item.Status, &item.Priority, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func (s *Service) checkOwner(ctx context.Context, userID, listID int64) error {
	var owner int64
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM lists WHERE id = ? AND status = 'active'`, listID,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("list %d not found", listID)
	}
	if err != nil {
		return fmt.Errorf("load list: %w", err)
	}
	if owner != userID {
		// Indistinguishable from a missing list on purpose.
		return fmt.Errorf("list %d not found", listID)
	}
	return nil
}

func (s *Service) findItem(ctx context.Context, listID int64, itemRef string) (*models.ListItem, error) {
	itemRef = strings.TrimSpace(itemRef)
	var row *sql.Row
	if id, err := strconv.ParseInt(itemRef, 10, 64); err == nil && id > 0 {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, list_id, title, position, status, priority, created_at, updated_at
			 FROM list_items WHERE list_id = ? AND id = ?`,
			listID, id,
		)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, list_id, title, position, status, priority, created_at, updated_at
			 FROM list_items WHERE list_id = ? AND LOWER(title) = LOWER(?)
			 ORDER BY position ASC LIMIT 1`,
			listID, itemRef,
		)
	}
	var item models.ListItem
	err := row.Scan(&item.ID, &item.ListID, &item.Title, &item.Position,
		&item.Status, &item.Priority, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no item matches %q", itemRef)
	}
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	return &item, nil
}

func touchList(ctx context.Context, tx *sql.Tx, listID int64, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE lists SET updated_at = ? WHERE id = ?`, now, listID,
	); err != nil {
		return fmt.Errorf("touch list: %w", err)
	}
	return nil
}

func zeroNull(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
