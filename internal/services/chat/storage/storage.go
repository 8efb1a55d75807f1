// Package storage defines persistence contracts for chat relay state.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// GlobalRoomID is the shared room every registered user joins.
const GlobalRoomID = "global"

// User is a registered chat account.
type User struct {
	ID             string
	DisplayName    string
	ContactAddress string
	AccessCode     string
	CreatedAt      time.Time
}

// Room is a delivery scope. Private rooms carry the key of their user pair.
type Room struct {
	ID        string
	Private   bool
	PairKey   string
	CreatedAt time.Time
}

// Message is one translated chat message. SenderName is filled on reads.
type Message struct {
	ID             string
	RoomID         string
	SenderID       string
	SenderName     string
	OriginalText   string
	OriginalLang   string
	TranslatedText string
	TranslatedLang string
	CreatedAt      time.Time
}

// UserStore persists chat accounts.
type UserStore interface {
	// CreateUser inserts the user and joins them to the global room in one
	// transaction. Duplicate contact addresses or access codes return
	// ErrAlreadyExists.
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByAccessCode(ctx context.Context, accessCode string) (User, error)
	GetUserByContactAddress(ctx context.Context, address string) (User, error)
}

// RoomStore persists rooms and their participants.
type RoomStore interface {
	RoomIDsForUser(ctx context.Context, userID string) ([]string, error)
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	// FindPrivateRoom returns the id of the private room for pairKey or
	// ErrNotFound.
	FindPrivateRoom(ctx context.Context, pairKey string) (string, error)
	// CreatePrivateRoom inserts room and both participants atomically.
	// A room already holding room.PairKey returns ErrAlreadyExists.
	CreatePrivateRoom(ctx context.Context, room Room, participants [2]string) error
}

// MessageStore persists relayed messages.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg Message) error
	// ListRecentMessages returns the latest limit messages of a room in
	// ascending (created_at, insertion) order.
	ListRecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error)
}

// Store is the full chat persistence surface.
type Store interface {
	UserStore
	RoomStore
	MessageStore
	Close() error
}
