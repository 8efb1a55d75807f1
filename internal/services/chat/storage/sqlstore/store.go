// Package sqlstore implements chat storage on database/sql for every
// supported dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/babel.chat/internal/services/chat/storage"
)

// Store persists chat state through database/sql.
type Store struct {
	sqlDB   *sql.DB
	dialect Dialect
}

// New wraps an open database handle. The caller owns migrations.
func New(sqlDB *sql.DB, dialect Dialect) *Store {
	return &Store{sqlDB: sqlDB, dialect: dialect}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return errors.New("storage is not configured")
	}
	return nil
}

func createdAtOrNow(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}

// CreateUser inserts a user and joins them to the global room.
func (s *Store) CreateUser(ctx context.Context, user storage.User) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	userID := strings.TrimSpace(user.ID)
	displayName := strings.TrimSpace(user.DisplayName)
	contact := strings.TrimSpace(user.ContactAddress)
	accessCode := strings.TrimSpace(user.AccessCode)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if displayName == "" {
		return fmt.Errorf("display name is required")
	}
	if contact == "" {
		return fmt.Errorf("contact address is required")
	}
	if accessCode == "" {
		return fmt.Errorf("access code is required")
	}
	createdAt := createdAtOrNow(user.CreatedAt)

	err := WithTx(ctx, s.sqlDB, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(
			`INSERT INTO users (id, display_name, contact_address, access_code, created_at)
			 VALUES (?, ?, ?, ?, ?)`),
			userID, displayName, contact, accessCode, toMillis(createdAt),
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.dialect.rebind(
			`INSERT INTO room_participants (room_id, user_id, joined_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT DO NOTHING`),
			storage.GlobalRoomID, userID, toMillis(createdAt),
		)
		return err
	})
	if err != nil {
		if s.dialect.uniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser returns one user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (storage.User, error) {
	return s.getUserBy(ctx, "id", strings.TrimSpace(userID))
}

// GetUserByAccessCode returns the user holding an exact access code.
func (s *Store) GetUserByAccessCode(ctx context.Context, accessCode string) (storage.User, error) {
	return s.getUserBy(ctx, "access_code", strings.TrimSpace(accessCode))
}

// GetUserByContactAddress returns the user registered with address.
func (s *Store) GetUserByContactAddress(ctx context.Context, address string) (storage.User, error) {
	return s.getUserBy(ctx, "contact_address", strings.TrimSpace(address))
}

func (s *Store) getUserBy(ctx context.Context, column, value string) (storage.User, error) {
	if err := s.ready(ctx); err != nil {
		return storage.User{}, err
	}
	if value == "" {
		return storage.User{}, storage.ErrNotFound
	}
	var (
		user      storage.User
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT id, display_name, contact_address, access_code, created_at
		 FROM users WHERE `+column+` = ?`), value,
	).Scan(&user.ID, &user.DisplayName, &user.ContactAddress, &user.AccessCode, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("get user by %s: %w", column, err)
	}
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

// RoomIDsForUser lists every room the user participates in.
func (s *Store) RoomIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, s.dialect.rebind(
		`SELECT room_id FROM room_participants WHERE user_id = ? ORDER BY joined_at, room_id`),
		strings.TrimSpace(userID),
	)
	if err != nil {
		return nil, fmt.Errorf("list rooms for user: %w", err)
	}
	defer rows.Close()

	var roomIDs []string
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			return nil, fmt.Errorf("scan room id: %w", err)
		}
		roomIDs = append(roomIDs, roomID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms for user: %w", err)
	}
	return roomIDs, nil
}

// IsParticipant reports whether the user belongs to the room.
func (s *Store) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT 1 FROM room_participants WHERE room_id = ? AND user_id = ?`),
		strings.TrimSpace(roomID), strings.TrimSpace(userID),
	).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check participant: %w", err)
	}
	return true, nil
}

// FindPrivateRoom returns the private room keyed by pairKey.
func (s *Store) FindPrivateRoom(ctx context.Context, pairKey string) (string, error) {
	if err := s.ready(ctx); err != nil {
		return "", err
	}
	var roomID string
	err := s.sqlDB.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT id FROM rooms WHERE pair_key = ?`),
		strings.TrimSpace(pairKey),
	).Scan(&roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("find private room: %w", err)
	}
	return roomID, nil
}

// CreatePrivateRoom inserts the room and both participant rows in one
// transaction.
func (s *Store) CreatePrivateRoom(ctx context.Context, room storage.Room, participants [2]string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	roomID := strings.TrimSpace(room.ID)
	pairKey := strings.TrimSpace(room.PairKey)
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	if pairKey == "" {
		return fmt.Errorf("pair key is required")
	}
	for _, userID := range participants {
		if strings.TrimSpace(userID) == "" {
			return fmt.Errorf("participant id is required")
		}
	}
	if participants[0] == participants[1] {
		return fmt.Errorf("participants must differ")
	}
	createdAt := toMillis(createdAtOrNow(room.CreatedAt))

	err := WithTx(ctx, s.sqlDB, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(
			`INSERT INTO rooms (id, is_private, pair_key, created_at) VALUES (?, ?, ?, ?)`),
			roomID, true, pairKey, createdAt,
		); err != nil {
			return err
		}
		for _, userID := range participants {
			if _, err := tx.ExecContext(ctx, s.dialect.rebind(
				`INSERT INTO room_participants (room_id, user_id, joined_at) VALUES (?, ?, ?)`),
				roomID, userID, createdAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if s.dialect.uniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create private room: %w", err)
	}
	return nil
}

// AppendMessage inserts one relayed message.
func (s *Store) AppendMessage(ctx context.Context, msg storage.Message) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(msg.ID) == "" {
		return fmt.Errorf("message id is required")
	}
	if strings.TrimSpace(msg.RoomID) == "" {
		return fmt.Errorf("room id is required")
	}
	if strings.TrimSpace(msg.SenderID) == "" {
		return fmt.Errorf("sender id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO messages (
		   id,
		   room_id,
		   sender_id,
		   original_text,
		   original_lang,
		   translated_text,
		   translated_lang,
		   created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID,
		msg.RoomID,
		msg.SenderID,
		msg.OriginalText,
		msg.OriginalLang,
		msg.TranslatedText,
		msg.TranslatedLang,
		toMillis(createdAtOrNow(msg.CreatedAt)),
	)
	if err != nil {
		if s.dialect.uniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListRecentMessages returns the latest limit messages in delivery order.
func (s *Store) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]storage.Message, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, s.dialect.rebind(
		`SELECT m.id, m.room_id, m.sender_id, COALESCE(u.display_name, ''),
		        m.original_text, m.original_lang, m.translated_text, m.translated_lang, m.created_at
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = ?
		 ORDER BY m.created_at DESC, m.seq DESC
		 LIMIT ?`),
		strings.TrimSpace(roomID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []storage.Message
	for rows.Next() {
		var (
			msg       storage.Message
			createdAt int64
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.OriginalText,
			&msg.OriginalLang,
			&msg.TranslatedText,
			&msg.TranslatedLang,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = fromMillis(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

var _ storage.Store = (*Store)(nil)
