package room

import (
	"context"
	"fmt"
)

// MembershipStore reads persisted room participation.
type MembershipStore interface {
	RoomIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// Resolver reconciles connection subscriptions with persisted membership.
type Resolver struct {
	store MembershipStore
	hub   *Hub
}

// NewResolver builds a resolver over store and hub.
func NewResolver(store MembershipStore, hub *Hub) *Resolver {
	return &Resolver{store: store, hub: hub}
}

// RoomsFor returns the rooms userID participates in.
func (r *Resolver) RoomsFor(ctx context.Context, userID string) ([]string, error) {
	roomIDs, err := r.store.RoomIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load rooms for %s: %w", userID, err)
	}
	return roomIDs, nil
}

// SubscribeConnection subscribes connID to roomID. It is idempotent.
func (r *Resolver) SubscribeConnection(connID, roomID string) bool {
	return r.hub.Subscribe(connID, roomID)
}

// Reconcile rebuilds every subscription of connID from userID's persisted
// membership. On a load failure the connection is left with no
// subscriptions and the error is returned.
func (r *Resolver) Reconcile(ctx context.Context, connID, userID string) ([]string, error) {
	r.hub.UnsubscribeAll(connID)
	roomIDs, err := r.RoomsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, roomID := range roomIDs {
		r.hub.Subscribe(connID, roomID)
	}
	return roomIDs, nil
}
