// Package conversation finds or creates the private room shared by two users.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/louisbranch/babel.chat/internal/platform/errors"
	"github.com/louisbranch/babel.chat/internal/platform/id"
	"github.com/louisbranch/babel.chat/internal/platform/timeouts"
	"github.com/louisbranch/babel.chat/internal/services/chat/storage"
)

// Store is the persistence the locator needs.
type Store interface {
	FindPrivateRoom(ctx context.Context, pairKey string) (string, error)
	CreatePrivateRoom(ctx context.Context, room storage.Room, participants [2]string) error
}

// Locator resolves private rooms. At most one room exists per user pair:
// in-process callers for the same pair share one lookup, and the store's
// unique pair key settles races across processes.
type Locator struct {
	store Store
	group singleflight.Group
	newID func() (string, error)
	now   func() time.Time
}

// Option customizes a Locator.
type Option func(*Locator)

// WithIDGenerator overrides room id generation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(l *Locator) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// WithClock overrides the creation clock.
func WithClock(now func() time.Time) Option {
	return func(l *Locator) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLocator builds a locator over store.
func NewLocator(store Store, opts ...Option) *Locator {
	l := &Locator{store: store, newID: id.NewID, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PairKey orders two user ids and joins them into the room's unique key.
func PairKey(a, b string) (low, high, key string) {
	low, high = a, b
	if high < low {
		low, high = high, low
	}
	return low, high, low + ":" + high
}

type result struct {
	roomID  string
	created bool
}

// FindOrCreate returns the private room of a and b, creating it on first
// contact. created reports whether this call inserted the room.
func (l *Locator) FindOrCreate(ctx context.Context, a, b string) (roomID string, created bool, err error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", false, apperrors.New(apperrors.CodeInvalidArgument, "both users are required")
	}
	if a == b {
		return "", false, apperrors.New(apperrors.CodeInvalidArgument, "cannot open a conversation with yourself")
	}
	low, high, key := PairKey(a, b)

	ch := l.group.DoChan(key, func() (any, error) {
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Persist)
		defer cancel()
		return l.findOrCreate(opCtx, low, high, key)
	})
	select {
	case <-ctx.Done():
		return "", false, apperrors.Wrap(apperrors.CodeConversationCreateFailed, "conversation lookup canceled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		r := res.Val.(result)
		return r.roomID, r.created, nil
	}
}

func (l *Locator) findOrCreate(ctx context.Context, low, high, key string) (result, error) {
	roomID, err := l.store.FindPrivateRoom(ctx, key)
	if err == nil {
		return result{roomID: roomID}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return result{}, apperrors.Wrap(apperrors.CodeConversationCreateFailed, "find private room", err)
	}

	newID, err := l.newID()
	if err != nil {
		return result{}, apperrors.Wrap(apperrors.CodeConversationCreateFailed, "generate room id", err)
	}
	room := storage.Room{
		ID:        newID,
		Private:   true,
		PairKey:   key,
		CreatedAt: l.now().UTC(),
	}
	err = l.store.CreatePrivateRoom(ctx, room, [2]string{low, high})
	if err == nil {
		return result{roomID: room.ID, created: true}, nil
	}
	if !errors.Is(err, storage.ErrAlreadyExists) {
		return result{}, apperrors.Wrap(apperrors.CodeConversationCreateFailed, "create private room", err)
	}

	// Lost the race to another writer; the winner's room is committed.
	roomID, err = l.store.FindPrivateRoom(ctx, key)
	if err != nil {
		return result{}, apperrors.Wrap(apperrors.CodeConversationCreateFailed, "find private room after conflict", err)
	}
	return result{roomID: roomID}, nil
}
