package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strconv"
	"strings"
)

// Dispatcher turns catalog mutations into hub events. Every mutation goes
// to the owner's dashboard scope and to the scope of the list it touched.
type Dispatcher struct {
	hub *Hub
}

func NewDispatcher(hub *Hub) *Dispatcher {
	return &Dispatcher{hub: hub}
}

// ListMutated satisfies the catalog's notifier. Fire and forget.
func (d *Dispatcher) ListMutated(userID, listID int64, event string, payload any) {
	d.hub.Publish(ListScope(listID), event, payload)
	d.hub.Publish(DashboardScope(userID), event, payload)
}

// ListOwnershipAuthorizer allows a user onto list scopes for lists they own.
type ListOwnershipAuthorizer struct {
	DB *sql.DB
}

func (a *ListOwnershipAuthorizer) Allowed(userID int64, scope string) bool {
	raw, ok := strings.CutPrefix(scope, "list:")
	if !ok {
		return false
	}
	listID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || listID <= 0 {
		return false
	}
	var owner int64
	err = a.DB.QueryRowContext(context.Background(),
		`SELECT user_id FROM lists WHERE id = ?`, listID,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		log.Printf("broadcast: scope authorization for %s failed: %v", scope, err)
		return false
	}
	return owner == userID
}
