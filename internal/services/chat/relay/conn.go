package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"golang.org/x/text/language"

	apperrors "github.com/louisbranch/babel.chat/internal/platform/errors"
	errori18n "github.com/louisbranch/babel.chat/internal/platform/errors/i18n"
	"github.com/louisbranch/babel.chat/internal/platform/timeouts"
	"github.com/louisbranch/babel.chat/internal/services/chat/auth"
	"github.com/louisbranch/babel.chat/internal/services/chat/room"
	"github.com/louisbranch/babel.chat/internal/services/chat/storage"
)

// Peer is the transport side of one connection.
type Peer interface {
	room.Sender
	// Reply answers the inbound frame identified by requestID.
	Reply(requestID, eventType string, payload any) error
}

// Event is one decoded inbound frame.
type Event struct {
	Type      string
	RequestID string
	Payload   json.RawMessage
}

type handlerFunc func(ctx context.Context, event Event)

// identityHandler runs only for a verified caller.
type identityHandler func(ctx context.Context, identity auth.Identity, event Event)

// Conn is one client connection. Events must be handled one at a time, each
// to completion, which keeps a sender's messages in submission order.
type Conn struct {
	relay    *Relay
	id       string
	peer     Peer
	handlers map[string]handlerFunc

	authed   bool
	closed   bool
	token    string
	identity auth.Identity
}

// Open registers a connection with the relay. Callers must Close it.
func (r *Relay) Open(connID string, peer Peer) *Conn {
	r.deps.Hub.Register(connID, peer)
	c := &Conn{relay: r, id: connID, peer: peer}
	c.handlers = map[string]handlerFunc{
		EventAuthenticate:        c.handleAuthenticate,
		EventRequestConversation: c.authenticated(c.handleRequestConversation),
		EventRequestChatHistory:  c.authenticated(c.handleRequestChatHistory),
		EventSendMessage:         c.authenticated(c.handleSendMessage),
	}
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Identity returns the authenticated caller, if any.
func (c *Conn) Identity() (auth.Identity, bool) {
	return c.identity, c.authed
}

// Close releases the session binding and every room subscription. It is
// safe to call more than once.
func (c *Conn) Close() {
	if c.closed {
		return
	}
	c.closed = true
	userID, bound := c.relay.deps.Sessions.UserOf(c.id)
	c.relay.deps.Sessions.Unbind(c.id)
	c.relay.deps.Hub.Remove(c.id)
	switch {
	case bound:
		log.Printf("chat: user offline conn_id=%q user_id=%q online=%d", c.id, userID, c.relay.Online())
	case c.authed:
		log.Printf("chat: superseded connection closed conn_id=%q user_id=%q", c.id, c.identity.UserID)
	}
}

// Handle processes one inbound event to completion.
func (c *Conn) Handle(ctx context.Context, event Event) {
	handler, ok := c.handlers[event.Type]
	if !ok {
		c.replyError(event.RequestID, EventChatError,
			apperrors.New(apperrors.CodeInvalidArgument, "unsupported event type"), language.Und)
		return
	}
	handler(ctx, event)
}

// authenticated verifies the caller before next runs. The frame's own token
// wins over the one stored at authentication, and both are re-verified so
// expiry is enforced; either must belong to the connection's user.
func (c *Conn) authenticated(next identityHandler) handlerFunc {
	return func(ctx context.Context, event Event) {
		identity, err := c.verify(event)
		if err != nil {
			c.replyError(event.RequestID, EventAuthError, err, language.Und)
			return
		}
		next(ctx, identity, event)
	}
}

func (c *Conn) verify(event Event) (auth.Identity, error) {
	if !c.authed {
		return auth.Identity{}, apperrors.New(apperrors.CodeAuth, "connection is not authenticated")
	}
	token := c.token
	var payload tokenPayload
	if len(event.Payload) > 0 && json.Unmarshal(event.Payload, &payload) == nil {
		if frameToken := strings.TrimSpace(payload.Token); frameToken != "" {
			token = frameToken
		}
	}
	identity, err := c.relay.deps.Tokens.Verify(token)
	if err != nil {
		return auth.Identity{}, err
	}
	if identity.UserID != c.identity.UserID {
		return auth.Identity{}, apperrors.New(apperrors.CodeAuth, "token belongs to another user")
	}
	return identity, nil
}

func (c *Conn) handleAuthenticate(ctx context.Context, event Event) {
	var payload tokenPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		c.replyError(event.RequestID, EventAuthError,
			apperrors.Wrap(apperrors.CodeAuth, "invalid authenticate payload", err), language.Und)
		return
	}
	token := strings.TrimSpace(payload.Token)
	identity, err := c.relay.deps.Tokens.Verify(token)
	if err != nil {
		c.replyError(event.RequestID, EventAuthError, err, language.Und)
		return
	}

	if superseded := c.relay.deps.Sessions.Bind(identity.UserID, c.id); superseded != "" {
		log.Printf("chat: session superseded user_id=%q conn_id=%q previous_conn_id=%q", identity.UserID, c.id, superseded)
	}
	c.authed = true
	c.token = token
	c.identity = identity

	lookupCtx, cancel := context.WithTimeout(ctx, timeouts.Lookup)
	defer cancel()
	if _, err := c.relay.deps.Resolver.Reconcile(lookupCtx, c.id, identity.UserID); err != nil {
		log.Printf("chat: load rooms failed user_id=%q conn_id=%q err=%v", identity.UserID, c.id, err)
	}
	rooms := c.relay.deps.Hub.RoomsOf(c.id)

	c.reply(event.RequestID, EventAuthSuccess, AuthSuccess{
		Message: "Authenticated",
		User: UserView{
			ID:          identity.UserID,
			DisplayName: identity.DisplayName,
			Email:       identity.ContactAddress,
		},
		Rooms: rooms,
	})
}

func (c *Conn) handleRequestConversation(ctx context.Context, identity auth.Identity, event Event) {
	var payload requestConversationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		c.replyError(event.RequestID, EventChatError,
			apperrors.Wrap(apperrors.CodeValidation, "invalid request_conversation payload", err), language.Und)
		return
	}
	targetID := strings.TrimSpace(payload.TargetUserID)
	if targetID == "" {
		c.replyError(event.RequestID, EventChatError,
			apperrors.New(apperrors.CodeValidation, "target_user_id is required"), language.Und)
		return
	}
	if targetID == identity.UserID {
		c.replyError(event.RequestID, EventChatError,
			apperrors.New(apperrors.CodeInvalidArgument, "cannot open a conversation with yourself"), language.Und)
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, timeouts.Lookup)
	target, err := c.relay.deps.Store.GetUser(lookupCtx, targetID)
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = apperrors.New(apperrors.CodeNotFound, "target user not found")
		} else {
			log.Printf("chat: load conversation target failed user_id=%q target_user_id=%q err=%v", identity.UserID, targetID, err)
			err = apperrors.Wrap(apperrors.CodePersistence, "load target user", err)
		}
		c.replyError(event.RequestID, EventChatError, err, language.Und)
		return
	}

	roomID, created, err := c.relay.deps.Conversations.FindOrCreate(ctx, identity.UserID, target.ID)
	if err != nil {
		log.Printf("chat: find or create conversation failed user_id=%q target_user_id=%q err=%v", identity.UserID, target.ID, err)
		c.replyError(event.RequestID, EventChatError, err, language.Und)
		return
	}
	c.relay.deps.Resolver.SubscribeConnection(c.id, roomID)
	c.reply(event.RequestID, EventConversationReady, ConversationReady{
		RoomID:   roomID,
		WithUser: UserView{ID: target.ID, DisplayName: target.DisplayName},
		Created:  created,
	})

	if !created {
		return
	}
	targetConn, online := c.relay.deps.Sessions.ConnectionOf(target.ID)
	if !online || targetConn == c.id {
		return
	}
	c.relay.deps.Resolver.SubscribeConnection(targetConn, roomID)
	c.relay.deps.Hub.SendTo(targetConn, EventNewConversationInvite, ConversationInvite{
		RoomID:   roomID,
		WithUser: UserView{ID: identity.UserID, DisplayName: identity.DisplayName},
	})
}

func (c *Conn) handleRequestChatHistory(ctx context.Context, identity auth.Identity, event Event) {
	var payload requestChatHistoryPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		c.replyError(event.RequestID, EventChatError,
			apperrors.Wrap(apperrors.CodeValidation, "invalid request_chat_history payload", err), language.Und)
		return
	}
	roomID := strings.TrimSpace(payload.RoomID)
	if roomID == "" {
		c.replyError(event.RequestID, EventChatError,
			apperrors.New(apperrors.CodeValidation, "room_id is required"), language.Und)
		return
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	lookupCtx, cancel := context.WithTimeout(ctx, timeouts.Lookup)
	defer cancel()
	member, err := c.relay.deps.Store.IsParticipant(lookupCtx, roomID, identity.UserID)
	if err != nil {
		log.Printf("chat: membership check failed user_id=%q room_id=%q err=%v", identity.UserID, roomID, err)
		c.replyError(event.RequestID, EventChatError,
			apperrors.Wrap(apperrors.CodePersistence, "check membership", err), language.Und)
		return
	}
	if !member {
		c.replyError(event.RequestID, EventChatError,
			apperrors.New(apperrors.CodeRoomAccess, "not a participant"), language.Und)
		return
	}

	stored, err := c.relay.deps.Store.ListRecentMessages(lookupCtx, roomID, limit)
	if err != nil {
		log.Printf("chat: load history failed user_id=%q room_id=%q err=%v", identity.UserID, roomID, err)
		c.replyError(event.RequestID, EventChatError,
			apperrors.Wrap(apperrors.CodePersistence, "list messages", err), language.Und)
		return
	}
	messages := make([]HistoryMessage, 0, len(stored))
	for _, msg := range stored {
		messages = append(messages, historyMessage(msg))
	}
	c.reply(event.RequestID, EventChatHistoryLoaded, HistoryLoaded{RoomID: roomID, Messages: messages})
}

func (c *Conn) reply(requestID, eventType string, payload any) {
	if err := c.peer.Reply(requestID, eventType, payload); err != nil {
		log.Printf("chat: reply dropped conn_id=%q event=%q err=%v", c.id, eventType, err)
	}
}

// replyError reports err to this connection only, rendered for locale.
func (c *Conn) replyError(requestID, eventType string, err error, locale language.Tag) {
	code := apperrors.CodeOf(err)
	c.reply(requestID, eventType, ErrorEnvelope{Error: ErrorBody{
		Code:      string(code),
		Message:   errori18n.Message(locale, string(code)),
		Retryable: code.Retryable(),
	}})
}
