package resolver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spaquet/listopia-sub005/internal/models"
)

// ErrNotFound reports that a reference matched no list the user can access.
// Callers surface it as a user-facing "which list did you mean?" condition,
// never as an internal fault.
var ErrNotFound = errors.New("list reference not resolved")

// Resolver maps textual list references from conversation turns onto
// concrete lists. Every candidate is ownership-checked before it is
// returned; a match the user cannot access is treated as no match.
type Resolver struct {
	db *sql.DB
}

func New(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// TurnContext carries the conversational state a single resolution runs in.
type TurnContext struct {
	UserID         int64
	ConversationID int64
	FocusListID    int64
}

// Deictic phrases that point at the conversation's current list rather
// than naming one.
var deicticRefs = map[string]struct{}{
	"":             {},
	"it":           {},
	"this":         {},
	"this list":    {},
	"that list":    {},
	"the list":     {},
	"current":      {},
	"current list": {},
}

// ResolveList resolves ref in precedence order: numeric ID, deictic focus,
// exact title, then substring match ranked by relevance. An explicit
// numeric ID always wins over any title similarity.
func (r *Resolver) ResolveList(ctx context.Context, tc TurnContext, ref string) (*models.List, error) {
	ref = strings.TrimSpace(ref)

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
		list, err := r.ownedList(ctx, tc.UserID, id)
		if err != nil {
			return nil, err
		}
		if list != nil {
			return list, nil
		}
		// An explicit ID that resolves to nothing is a hard miss; do not
		// fall through to title matching on the digits.
		return nil, ErrNotFound
	}

	if _, ok := deicticRefs[strings.ToLower(ref)]; ok {
		return r.resolveDeictic(ctx, tc)
	}

	if list, err := r.byExactTitle(ctx, tc.UserID, ref); err != nil {
		return nil, err
	} else if list != nil {
		return list, nil
	}

	return r.byFuzzyTitle(ctx, tc.UserID, ref)
}

// resolveDeictic walks the conversational context: the conversation's
// focus list, then lists referenced by recent messages, then the user's
// most recently updated list.
func (r *Resolver) resolveDeictic(ctx context.Context, tc TurnContext) (*models.List, error) {
	if tc.FocusListID > 0 {
		list, err := r.ownedList(ctx, tc.UserID, tc.FocusListID)
		if err != nil {
			return nil, err
		}
		if list != nil {
			return list, nil
		}
	}

	if tc.ConversationID > 0 {
		ids, err := r.recentRefIDs(ctx, tc.ConversationID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			list, err := r.ownedList(ctx, tc.UserID, id)
			if err != nil {
				return nil, err
			}
			if list != nil {
				return list, nil
			}
		}
	}

	return r.mostRecent(ctx, tc.UserID)
}

// recentRefIDs reads the ref annotations off the newest messages, newest
// first, and flattens them preserving order.
func (r *Resolver) recentRefIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT refs FROM messages
		 WHERE conversation_id = ? AND refs IS NOT NULL AND refs != ''
		 ORDER BY id DESC LIMIT 10`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("load message refs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan refs: %w", err)
		}
		var batch []int64
		if err := json.Unmarshal([]byte(raw), &batch); err != nil {
			continue // malformed annotation, skip
		}
		ids = append(ids, batch...)
	}
	return ids, rows.Err()
}

func (r *Resolver) byExactTitle(ctx context.Context, userID int64, title string) (*models.List, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, parent_id, title, description, list_type, status, created_at, updated_at
		 FROM lists
		 WHERE user_id = ? AND status = 'active' AND LOWER(title) = LOWER(?)
		 ORDER BY updated_at DESC LIMIT 1`,
		userID, title,
	)
	list, err := scanList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return list, err
}

// byFuzzyTitle ranks active lists whose titles contain the reference (or
// vice versa) by how much of the title the reference covers, breaking
// ties by recency.
func (r *Resolver) byFuzzyTitle(ctx context.Context, userID int64, ref string) (*models.List, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, parent_id, title, description, list_type, status, created_at, updated_at
		 FROM lists WHERE user_id = ? AND status = 'active'
		 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load lists: %w", err)
	}
	defer rows.Close()

	type scored struct {
		list  *models.List
		score float64
		order int
	}
	needle := strings.ToLower(ref)
	var candidates []scored
	order := 0
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		hay := strings.ToLower(list.Title)
		var score float64
		switch {
		case strings.Contains(hay, needle):
			score = float64(len(needle)) / float64(len(hay))
		case strings.Contains(needle, hay):
			score = float64(len(hay)) / float64(len(needle)) * 0.8
		default:
			order++
			continue
		}
		candidates = append(candidates, scored{list: list, score: score, order: order})
		order++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].order < candidates[j].order
	})
	return candidates[0].list, nil
}

func (r *Resolver) mostRecent(ctx context.Context, userID int64) (*models.List, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, parent_id, title, description, list_type, status, created_at, updated_at
		 FROM lists WHERE user_id = ? AND status = 'active'
		 ORDER BY updated_at DESC LIMIT 1`,
		userID,
	)
	list, err := scanList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return list, err
}

// ownedList loads one active list if and only if it belongs to the user.
func (r *Resolver) ownedList(ctx context.Context, userID, listID int64) (*models.List, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, parent_id, title, description, list_type, status, created_at, updated_at
		 FROM lists WHERE id = ? AND user_id = ? AND status = 'active'`,
		listID, userID,
	)
	list, err := scanList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return list, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanList(row rowScanner) (*models.List, error) {
	var (
		list     models.List
		parentID sql.NullInt64
		desc     sql.NullString
	)
	if err := row.Scan(&list.ID, &list.UserID, &parentID, &list.Title, &desc,
		&list.ListType, &list.Status, &list.CreatedAt, &list.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan list: %w", err)
	}
	list.ParentID = parentID.Int64
	list.Description = desc.String
	return &list, nil
}
