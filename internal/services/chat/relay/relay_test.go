package relay

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/language"

	apperrors "github.com/louisbranch/babel.chat/internal/platform/errors"
	errori18n "github.com/louisbranch/babel.chat/internal/platform/errors/i18n"
	"github.com/louisbranch/babel.chat/internal/services/chat/auth"
	"github.com/louisbranch/babel.chat/internal/services/chat/conversation"
	"github.com/louisbranch/babel.chat/internal/services/chat/room"
	"github.com/louisbranch/babel.chat/internal/services/chat/session"
	"github.com/louisbranch/babel.chat/internal/services/chat/storage"
)

type sentEvent struct {
	RequestID string
	Type      string
	Payload   any
}

type fakePeer struct {
	mu     sync.Mutex
	events []sentEvent
}

func (p *fakePeer) Send(eventType string, payload any) error {
	return p.Reply("", eventType, payload)
}

func (p *fakePeer) Reply(requestID, eventType string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, sentEvent{RequestID: requestID, Type: eventType, Payload: payload})
	return nil
}

func (p *fakePeer) ofType(eventType string) []sentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []sentEvent
	for _, event := range p.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (p *fakePeer) last(t *testing.T) sentEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		t.Fatal("expected an event")
	}
	return p.events[len(p.events)-1]
}

func (p *fakePeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fakeTokens struct {
	mu     sync.Mutex
	tokens map[string]auth.Identity
}

func (f *fakeTokens) Verify(token string) (auth.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.tokens[token]
	if !ok {
		return auth.Identity{}, apperrors.New(apperrors.CodeAuth, "invalid token")
	}
	return identity, nil
}

func (f *fakeTokens) revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
}

type fakeTranslator struct {
	mu             sync.Mutex
	translateCalls int
	answerCalls    int
	translate      func(ctx context.Context, text, src, dst string) (string, error)
	answer         func(ctx context.Context, query, lang string) (string, error)
}

func (f *fakeTranslator) Translate(ctx context.Context, text, src, dst string) (string, error) {
	f.mu.Lock()
	f.translateCalls++
	fn := f.translate
	f.mu.Unlock()
	if fn == nil {
		return "[" + dst + "] " + text, nil
	}
	return fn(ctx, text, src, dst)
}

func (f *fakeTranslator) AnswerWithSearch(ctx context.Context, query, lang string) (string, error) {
	f.mu.Lock()
	f.answerCalls++
	fn := f.answer
	f.mu.Unlock()
	if fn == nil {
		return "answer to " + query, nil
	}
	return fn(ctx, query, lang)
}

func (f *fakeTranslator) calls() (translate, answer int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.translateCalls, f.answerCalls
}

type fakeStore struct {
	mu          sync.Mutex
	users       map[string]storage.User
	memberships map[string][]string
	pairs       map[string]string
	messages    []storage.Message
	appendCalls int
	lastLimit   int
	appendErr   error
	listErr     error
	roomsErr    error
	onAppend    func(storage.Message)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]storage.User),
		memberships: make(map[string][]string),
		pairs:       make(map[string]string),
	}
}

func (s *fakeStore) addUser(id, name string, rooms ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = storage.User{ID: id, DisplayName: name, ContactAddress: strings.ToLower(name) + "@example.com"}
	s.memberships[id] = append(s.memberships[id], rooms...)
}

func (s *fakeStore) GetUser(_ context.Context, userID string) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return user, nil
}

func (s *fakeStore) IsParticipant(_ context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.memberships[userID], roomID), nil
}

func (s *fakeStore) RoomIDsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomsErr != nil {
		return nil, s.roomsErr
	}
	return append([]string(nil), s.memberships[userID]...), nil
}

func (s *fakeStore) FindPrivateRoom(_ context.Context, pairKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.pairs[pairKey]
	if !ok {
		return "", storage.ErrNotFound
	}
	return roomID, nil
}

func (s *fakeStore) CreatePrivateRoom(_ context.Context, r storage.Room, participants [2]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pairs[r.PairKey]; ok {
		return storage.ErrAlreadyExists
	}
	s.pairs[r.PairKey] = r.ID
	for _, userID := range participants {
		s.memberships[userID] = append(s.memberships[userID], r.ID)
	}
	return nil
}

func (s *fakeStore) AppendMessage(_ context.Context, msg storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onAppend != nil {
		s.onAppend(msg)
	}
	s.appendCalls++
	if s.appendErr != nil {
		return s.appendErr
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeStore) ListRecentMessages(_ context.Context, roomID string, limit int) ([]storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	var matched []storage.Message
	for _, msg := range s.messages {
		if msg.RoomID == roomID {
			matched = append(matched, msg)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (s *fakeStore) appended() (int, []storage.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendCalls, append([]storage.Message(nil), s.messages...)
}

var fixedNow = time.Date(2026, time.March, 1, 12, 30, 0, 123456789, time.UTC)

type fixture struct {
	relay      *Relay
	store      *fakeStore
	tokens     *fakeTokens
	translator *fakeTranslator
	sessions   *session.Registry
	hub        *room.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newFakeStore()
	store.addUser("alice", "Alice", storage.GlobalRoomID)
	store.addUser("bob", "Bob", storage.GlobalRoomID)
	store.addUser("carol", "Carol")

	tokens := &fakeTokens{tokens: map[string]auth.Identity{
		"alice-token": {UserID: "alice", DisplayName: "Alice", ContactAddress: "alice@example.com"},
		"bob-token":   {UserID: "bob", DisplayName: "Bob", ContactAddress: "bob@example.com"},
		"carol-token": {UserID: "carol", DisplayName: "Carol", ContactAddress: "carol@example.com"},
	}}
	translator := &fakeTranslator{}
	sessions := session.NewRegistry()
	hub := room.NewHub()

	seq := 0
	relay, err := New(Deps{
		Tokens:        tokens,
		Translator:    translator,
		Conversations: conversation.NewLocator(store),
		Store:         store,
		Sessions:      sessions,
		Hub:           hub,
		Resolver:      room.NewResolver(store, hub),
	}, Config{
		Now: func() time.Time { return fixedNow },
		NewID: func() (string, error) {
			seq++
			return "msg-" + string(rune('a'+seq)), nil
		},
	})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	return &fixture{
		relay:      relay,
		store:      store,
		tokens:     tokens,
		translator: translator,
		sessions:   sessions,
		hub:        hub,
	}
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func (f *fixture) connect(t *testing.T, connID, token string) (*Conn, *fakePeer) {
	t.Helper()
	peer := &fakePeer{}
	conn := f.relay.Open(connID, peer)
	t.Cleanup(conn.Close)
	conn.Handle(context.Background(), Event{
		Type:      EventAuthenticate,
		RequestID: "auth-" + connID,
		Payload:   payload(t, map[string]string{"token": token}),
	})
	if got := peer.last(t).Type; got != EventAuthSuccess {
		t.Fatalf("authenticate %s = %q, want %q", connID, got, EventAuthSuccess)
	}
	return conn, peer
}

func send(t *testing.T, conn *Conn, p sendMessagePayload) {
	t.Helper()
	conn.Handle(context.Background(), Event{Type: EventSendMessage, RequestID: "send-1", Payload: payload(t, p)})
}

func errorCode(t *testing.T, event sentEvent) string {
	t.Helper()
	envelope, ok := event.Payload.(ErrorEnvelope)
	if !ok {
		t.Fatalf("payload = %T, want ErrorEnvelope", event.Payload)
	}
	return envelope.Error.Code
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(Deps{}, Config{}); err == nil {
		t.Fatal("expected missing dependency error")
	}
}

func TestAuthenticateSubscribesPersistedRooms(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn, peer := f.connect(t, "conn-a", "alice-token")

	success, ok := peer.last(t).Payload.(AuthSuccess)
	if !ok {
		t.Fatalf("payload = %T, want AuthSuccess", peer.last(t).Payload)
	}
	if success.User.ID != "alice" {
		t.Fatalf("user id = %q, want %q", success.User.ID, "alice")
	}
	if !slices.Equal(success.Rooms, []string{storage.GlobalRoomID}) {
		t.Fatalf("rooms = %v, want [global]", success.Rooms)
	}
	if peer.last(t).RequestID != "auth-conn-a" {
		t.Fatalf("request id = %q, want %q", peer.last(t).RequestID, "auth-conn-a")
	}
	if !f.hub.Subscribed(conn.ID(), storage.GlobalRoomID) {
		t.Fatal("expected global subscription")
	}
	if got, ok := f.sessions.ConnectionOf("alice"); !ok || got != "conn-a" {
		t.Fatalf("connection of alice = %q, %v; want conn-a", got, ok)
	}
}

func TestAuthenticateRejectsInvalidToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	peer := &fakePeer{}
	conn := f.relay.Open("conn-x", peer)
	defer conn.Close()

	conn.Handle(context.Background(), Event{Type: EventAuthenticate, Payload: payload(t, map[string]string{"token": "forged"})})

	event := peer.last(t)
	if event.Type != EventAuthError {
		t.Fatalf("event = %q, want %q", event.Type, EventAuthError)
	}
	if code := errorCode(t, event); code != string(apperrors.CodeAuth) {
		t.Fatalf("code = %q, want %q", code, apperrors.CodeAuth)
	}
	if _, ok := conn.Identity(); ok {
		t.Fatal("expected unauthenticated connection")
	}
	if f.relay.Online() != 0 {
		t.Fatalf("online = %d, want 0", f.relay.Online())
	}
}

func TestAuthenticateSurvivesRoomLoadFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.roomsErr = errors.New("database is locked")

	_, peer := f.connect(t, "conn-a", "alice-token")
	success := peer.last(t).Payload.(AuthSuccess)
	if success.Rooms == nil || len(success.Rooms) != 0 {
		t.Fatalf("rooms = %#v, want empty", success.Rooms)
	}
}

func TestReauthenticateRebuildsSubscriptions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn, _ := f.connect(t, "conn-a", "alice-token")
	f.hub.Subscribe(conn.ID(), "stale-room")

	conn.Handle(context.Background(), Event{Type: EventAuthenticate, Payload: payload(t, map[string]string{"token": "alice-token"})})

	if got := f.hub.RoomsOf(conn.ID()); !slices.Equal(got, []string{storage.GlobalRoomID}) {
		t.Fatalf("rooms = %v, want [global]", got)
	}
}

func TestCloseReleasesOnlyItsOwnBinding(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	old, _ := f.connect(t, "conn-a", "alice-token")
	_, _ = f.connect(t, "conn-b", "bob-token")
	current, _ := f.connect(t, "conn-c", "alice-token")
	if f.relay.Online() != 2 {
		t.Fatalf("online = %d, want 2", f.relay.Online())
	}

	old.Close()
	old.Close()

	if got, ok := f.sessions.ConnectionOf("alice"); !ok || got != "conn-c" {
		t.Fatalf("connection of alice = %q, %v; want conn-c", got, ok)
	}
	if f.hub.Subscribed("conn-a", storage.GlobalRoomID) {
		t.Fatal("closed connection still subscribed")
	}
	if f.relay.Online() != 2 {
		t.Fatalf("online = %d, want 2", f.relay.Online())
	}

	current.Close()
	if _, ok := f.sessions.ConnectionOf("alice"); ok {
		t.Fatal("alice still online after closing her live connection")
	}
	if f.relay.Online() != 1 {
		t.Fatalf("online = %d, want 1", f.relay.Online())
	}
}

func TestEventsRequireAuthentication(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, eventType := range []string{EventSendMessage, EventRequestConversation, EventRequestChatHistory} {
		peer := &fakePeer{}
		conn := f.relay.Open("conn-"+eventType, peer)
		conn.Handle(context.Background(), Event{
			Type:    eventType,
			Payload: payload(t, map[string]string{"token": "alice-token", "room_id": storage.GlobalRoomID, "message": "hi"}),
		})
		conn.Close()

		if got := peer.last(t).Type; got != EventAuthError {
			t.Fatalf("%s event = %q, want %q", eventType, got, EventAuthError)
		}
	}
	if translate, _ := f.translator.calls(); translate != 0 {
		t.Fatalf("translate calls = %d, want 0", translate)
	}
}

func TestSendMessageRejectsForeignToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn, peer := f.connect(t, "conn-a", "alice-token")

	send(t, conn, sendMessagePayload{Token: "bob-token", RoomID: storage.GlobalRoomID, Message: "hi"})

	if got := peer.last(t).Type; got != EventAuthError {
		t.Fatalf("event = %q, want %q", got, EventAuthError)
	}
	if translate, _ := f.translator.calls(); translate != 0 {
		t.Fatalf("translate calls = %d, want 0", translate)
	}
}

func TestSendMessageReverifiesStoredToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn, peer := f.connect(t, "conn-a", "alice-token")
	f.tokens.revoke("alice-token")

	send(t, conn, sendMessagePayload{RoomID: storage.GlobalRoomID, Message: "hi"})

	if got := peer.last(t).Type; got != EventAuthError {
		t.Fatalf("event = %q, want %q", got, EventAuthError)
	}
}

func TestSendMessageValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload sendMessagePayload
		code    apperrors.Code
	}{
		{name: "missing room", payload: sendMessagePayload{Message: "hi"}, code: apperrors.CodeValidation},
		{name: "blank message", payload: sendMessagePayload{RoomID: storage.GlobalRoomID, Message: "   "}, code: apperrors.CodeValidation},
		{name: "long message", payload: sendMessagePayload{RoomID: storage.GlobalRoomID, Message: strings.Repeat("é", 2001)}, code: apperrors.CodeValidation},
		{name: "unsubscribed room", payload: sendMessagePayload{RoomID: "elsewhere", Message: "hi"}, code: apperrors.CodeRoomAccess},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			conn, peer := f.connect(t, "conn-a", "alice-token")
			_, bobPeer := f.connect(t, "conn-b", "bob-token")
			before := bobPeer.count()

			send(t, conn, tc.payload)

			event := peer.last(t)
			if event.Type != EventChatError {
				t.Fatalf("event = %q, want %q", event.Type, EventChatError)
			}
			if code := errorCode(t, event); code != string(tc.code) {
				t.Fatalf("code = %q, want %q", code, tc.code)
			}
			if bobPeer.count() != before {
				t.Fatal("validation error leaked to another connection")
			}
		})
	}
}

func TestSendMessageBroadcastsToRoom(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, alicePeer := f.connect(t, "conn-a", "alice-token")
	_, bobPeer := f.connect(t, "conn-b", "bob-token")
	_, carolPeer := f.connect(t, "conn-c", "carol-token")

	send(t, alice, sendMessagePayload{RoomID: storage.GlobalRoomID, Message: " Olá ", MyLang: "pt-BR", TargetLang: "fr"})

	for name, peer := range map[string]*fakePeer{"alice": alicePeer, "bob": bobPeer} {
		received := peer.ofType(EventReceiveMessage)
		if len(received) != 1 {
			t.Fatalf("%s received %d messages, want 1", name, len(received))
		}
		msg := received[0].Payload.(ReceiveMessage)
		if msg.TranslatedMessage != "[French] Olá" {
			t.Fatalf("%s translated = %q, want %q", name, msg.TranslatedMessage, "[French] Olá")
		}
		if msg.OriginalLang != "Brazilian Portuguese" {
			t.Fatalf("%s original lang = %q, want %q", name, msg.OriginalLang, "Brazilian Portuguese")
		}
		if msg.Username != "Alice" {
			t.Fatalf("%s username = %q, want %q", name, msg.Username, "Alice")
		}
		if msg.Timestamp != "2026-03-01T12:30:00.123Z" {
			t.Fatalf("%s timestamp = %q, want %q", name, msg.Timestamp, "2026-03-01T12:30:00.123Z")
		}
	}
	if got := carolPeer.ofType(EventReceiveMessage); len(got) != 0 {
		t.Fatalf("carol received %d messages, want 0", len(got))
	}

	calls, stored := f.store.appended()
	if calls != 1 || len(stored) != 1 {
		t.Fatalf("append calls = %d stored = %d, want 1 and 1", calls, len(stored))
	}
	if stored[0].OriginalText != "Olá" || stored[0].TranslatedText != "[French] Olá" {
		t.Fatalf("stored = %+v", stored[0])
	}
	if !stored[0].CreatedAt.Equal(fixedNow.Truncate(time.Millisecond)) {
		t.Fatalf("created at = %v, want %v", stored[0].CreatedAt, fixedNow.Truncate(time.Millisecond))
	}
}

func TestSendMessageDefaultsLanguages(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var gotSrc, gotDst string
	f.translator.translate = func(_ context.Context, text, src, dst string) (string, error) {
		gotSrc, gotDst = src, dst
		return text, nil
	}
	alice, _ := f.connect(t, "conn-a", "alice-token")

	send(t, alice, sendMessagePayload{RoomID: storage.GlobalRoomID, Message: "oi"})

	if gotSrc != "Portuguese" || gotDst != "English" {
		t.Fatalf("languages = %q -> %q, want Portuguese -> English", gotSrc, gotDst)
	}
}

func TestSendMessageBroadcastsWhenPersistFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.appendErr = errors.New("disk full")
	alice, alicePeer := f.connect(t, "conn-a", "alice-token")
	_, bobPeer := f.connect(t, "conn-b", "bob-token")

	send(t, alice, sendMessagePayload{RoomID: storage.GlobalRoomID, Message: "hello", MyLang: "English", TargetLang: "French"})

	if got := len(alicePeer.ofType(EventReceiveMessage)); got != 1 {
		t.Fatalf("alice received %d, want 1", got)
	}
	if got := len(bobPeer.ofType(EventReceiveMessage)); got != 1 {
		t.Fatalf("bob received %d, want 1", got)
	}
	if calls, stored := f.store.appended(); calls != 1 || len(stored) != 0 {
		t.Fatalf("append calls = %d stored = %d, want 1 and 0", calls, len(stored))
	}
	if got := alicePeer.ofType(EventChatError); len(got) != 0 {
		t.Fatalf("chat errors = %d, want 0", len(got))
	}
}

func TestBroadcastLeavesBeforeStorageWrite(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, alicePeer := f.connect(t, "conn-a", "alice-token")
	_, bobPeer := f.connect(t, "conn-b", "bob-token")

	var seenByBob []int
	f.store.onAppend = func(storage.Message) {
		seenByBob = append(seenByBob, len(bobPeer.ofType(EventReceiveMessage)))
	}

	send(t, alice, sendMessagePayload{RoomID: storage.GlobalRoomID, Message: "one", MyLang: "English", TargetLang: "French"})
	send(t, alice, sendMessagePayload{RoomID: storage.GlobalRoomID, Message: "two", MyLang: "English", TargetLang: "French"})

	if !slices.Equal(seenByBob, []int{1, 2}) {
		t.Fatalf("bob had %v messages at each write, want [1 2]", seenByBob)
	}
	_, stored := f.store.appended()
	if len(stored) != 2 || !stored[1].CreatedAt.After(stored[0].CreatedAt) {
		t.Fatalf("stored = %+v, want two messages with increasing stamps", stored)
	}
	received := alicePeer.ofType(EventReceiveMessage)
	if len(received) != 2 {
		t.Fatalf("alice received %d, want 2", len(received))
	}
	if first, second := received[0].Payload.(ReceiveMessage), received[1].Payload.(ReceiveMessage); first.Timestamp >= second.Timestamp {
		t.Fatalf("timestamps %q then %q, want increasing", first.Timestamp, second.Timestamp)
	}
}

func TestTranslationFailureReachesSenderOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.translator.translate = func(context.Context, string, string, string) (string, error) {
		return "", apperrors.New(apperrors.CodeTranslationUnavailable, "provider down")
	}
	alice, alicePeer := f.connect(t, "conn-a", "alice-token")
	_, bobPeer := f.connect(t, "conn-b", "bob-token")
	before := bobPeer.count()

	send(t, alice, sendMessagePayload{RoomID: storage.GlobalRoomID, Message: "olá", MyLang: "Português", TargetLang: "English"})

	event := alicePeer.last(t)
	if event.Type != EventChatError {
		t.Fatalf("event = %q, want %q", event.Type, EventChatError)
	}
	body := event.Payload.(ErrorEnvelope).Error
	if body.Code != string(apperrors.CodeTranslationUnavailable) {
		t.Fatalf("code = %q, want %q", body.Code, apperrors.CodeTranslationUnavailable)
	}
	want := errori18n.Message(language.BrazilianPortuguese, string(apperrors.CodeTranslationUnavailable))
	if body.Message != want {
		t.Fatalf("message = %q, want %q", body.Message, want)
	}
	if !body.Retryable {
		t.Fatal("expected retryable error")
	}
	if bobPeer.count() != before {
		t.Fatal("translation failure reached another connection")
	}
	if calls, _ := f.store.appended(); calls != 0 {
		t.Fatalf("append calls = %d, want 0", calls)
	}
}

func TestHelpCommandAnswersSenderOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text  string
		query string
	}{
		{text: "/help weather in Lisbon", query: "weather in Lisbon"},
		{text: "/AJUDA   qual a capital?", query: "qual a capital?"},
		{text: "/Help\tnews", query: "news"},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			var gotQuery, gotLang string
			f.translator.answer = func(_ context.Context, query, lang string) (string, error) {
				gotQuery, gotLang = query, lang
				return "sunny", nil
			}
			alice, alicePeer := f.connect(t, "conn-a", "alice-token")
			_, bobPeer := f.connect(t, "conn-b", "bob-token")
			before := bobPeer.count()

			send(t, alice, sendMessagePayload{RoomID: storage.GlobalRoomID, Message: tc.text, MyLang: "English"})

			if gotQuery != tc.query {
				t.Fatalf("query = %q, want %q", gotQuery, tc.query)
			}
			if gotLang != "English" {
				t.Fatalf("answer lang = %q, want %q", gotLang, "English")
			}
			event := alicePeer.last(t)
			msg, ok := event.Payload.(ReceiveMessage)
			if !ok || event.Type != EventReceiveMessage {
				t.Fatalf("event = %q (%T), want receive_message", event.Type, event.Payload)
			}
			if msg.Username != HelpSystemName || msg.TranslatedMessage != "sunny" {
				t.Fatalf("help reply = %+v", msg)
			}
			if bobPeer.count() != before {
				t.Fatal("help reply reached another connection")
			}
			if translate, _ := f.translator.calls(); translate != 0 {
				t.Fatalf("translate calls = %d, want 0", translate)
			}
			if calls, _ := f.store.appended(); calls != 0 {
				t.Fatalf("append calls = %d, want 0", calls)
			}
		})
	}
}

func TestHelpFailureReportsAssistantUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.translator.answer = func(context.Context, string, string) (string, error) {
		return "", apperrors.New(apperrors.CodeAssistantUnavailable, "model down")
	}
	alice, alicePeer := f.connect(t, "conn-a", "alice-token")

	send(t, alice, sendMessagePayload{RoomID: storage.GlobalRoomID, Message: "/ajuda algo"})

	event := alicePeer.last(t)
	if event.Type != EventChatError {
		t.Fatalf("event = %q, want %q", event.Type, EventChatError)
	}
	if code := errorCode(t, event); code != string(apperrors.CodeAssistantUnavailable) {
		t.Fatalf("code = %q, want %q", code, apperrors.CodeAssistantUnavailable)
	}
}

func TestHelpQuery(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tests := []struct {
		text  string
		query string
		ok    bool
	}{
		{text: "/help", query: "", ok: true},
		{text: "/help me", query: "me", ok: true},
		{text: "/HELP me", query: "me", ok: true},
		{text: "/helpful tip", ok: false},
		{text: "/ajuda\nx", query: "x", ok: true},
		{text: "help me", ok: false},
		{text: "/he", ok: false},
	}
	for _, tc := range tests {
		query, ok := f.relay.helpQuery(tc.text)
		if ok != tc.ok || query != tc.query {
			t.Fatalf("helpQuery(%q) = %q, %v; want %q, %v", tc.text, query, ok, tc.query, tc.ok)
		}
	}
}

func TestDisconnectedSenderStillPersists(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, alicePeer := f.connect(t, "conn-a", "alice-token")
	_, bobPeer := f.connect(t, "conn-b", "bob-token")
	f.translator.translate = func(_ context.Context, text, _, _ string) (string, error) {
		alice.Close()
		return "hello", nil
	}

	send(t, alice, sendMessagePayload{RoomID: storage.GlobalRoomID, Message: "olá"})

	if got := len(alicePeer.ofType(EventReceiveMessage)); got != 0 {
		t.Fatalf("closed sender received %d, want 0", got)
	}
	if got := len(bobPeer.ofType(EventReceiveMessage)); got != 1 {
		t.Fatalf("bob received %d, want 1", got)
	}
	if calls, stored := f.store.appended(); calls != 1 || len(stored) != 1 {
		t.Fatalf("append calls = %d stored = %d, want 1 and 1", calls, len(stored))
	}
}

func TestRequestConversationInvitesOnlineTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, alicePeer := f.connect(t, "conn-a", "alice-token")
	bob, bobPeer := f.connect(t, "conn-b", "bob-token")

	request := Event{Type: EventRequestConversation, RequestID: "conv-1", Payload: payload(t, map[string]string{"target_user_id": "bob"})}
	alice.Handle(context.Background(), request)

	ready, ok := alicePeer.last(t).Payload.(ConversationReady)
	if !ok {
		t.Fatalf("payload = %T, want ConversationReady", alicePeer.last(t).Payload)
	}
	if !ready.Created || ready.WithUser.ID != "bob" || ready.WithUser.DisplayName != "Bob" {
		t.Fatalf("ready = %+v", ready)
	}
	invites := bobPeer.ofType(EventNewConversationInvite)
	if len(invites) != 1 {
		t.Fatalf("invites = %d, want 1", len(invites))
	}
	invite := invites[0].Payload.(ConversationInvite)
	if invite.RoomID != ready.RoomID || invite.WithUser.ID != "alice" || invite.WithUser.DisplayName != "Alice" {
		t.Fatalf("invite = %+v", invite)
	}
	if !f.hub.Subscribed(alice.ID(), ready.RoomID) || !f.hub.Subscribed(bob.ID(), ready.RoomID) {
		t.Fatal("expected both connections subscribed")
	}

	alice.Handle(context.Background(), request)
	again := alicePeer.last(t).Payload.(ConversationReady)
	if again.RoomID != ready.RoomID || again.Created {
		t.Fatalf("second ready = %+v, want same room not created", again)
	}
	if got := len(bobPeer.ofType(EventNewConversationInvite)); got != 1 {
		t.Fatalf("invites after repeat = %d, want 1", got)
	}
}

func TestRequestConversationSkipsInviteAfterDisconnect(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, alicePeer := f.connect(t, "conn-a", "alice-token")
	bob, bobPeer := f.connect(t, "conn-b", "bob-token")
	bob.Close()

	if _, ok := f.sessions.ConnectionOf("bob"); ok {
		t.Fatal("expected bob offline after close")
	}

	alice.Handle(context.Background(), Event{Type: EventRequestConversation, Payload: payload(t, map[string]string{"target_user_id": "bob"})})

	if got := alicePeer.last(t).Type; got != EventConversationReady {
		t.Fatalf("event = %q, want %q", got, EventConversationReady)
	}
	if got := len(bobPeer.ofType(EventNewConversationInvite)); got != 0 {
		t.Fatalf("invites = %d, want 0", got)
	}
}

func TestRequestConversationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		target string
		code   apperrors.Code
	}{
		{target: "  ", code: apperrors.CodeValidation},
		{target: "alice", code: apperrors.CodeInvalidArgument},
		{target: "nobody", code: apperrors.CodeNotFound},
	}
	for _, tc := range tests {
		f := newFixture(t)
		alice, alicePeer := f.connect(t, "conn-a", "alice-token")

		alice.Handle(context.Background(), Event{Type: EventRequestConversation, Payload: payload(t, map[string]string{"target_user_id": tc.target})})

		event := alicePeer.last(t)
		if event.Type != EventChatError {
			t.Fatalf("target %q event = %q, want %q", tc.target, event.Type, EventChatError)
		}
		if code := errorCode(t, event); code != string(tc.code) {
			t.Fatalf("target %q code = %q, want %q", tc.target, code, tc.code)
		}
	}
}

func TestRequestChatHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice, alicePeer := f.connect(t, "conn-a", "alice-token")
	send(t, alice, sendMessagePayload{RoomID: storage.GlobalRoomID, Message: "one", MyLang: "English", TargetLang: "French"})
	send(t, alice, sendMessagePayload{RoomID: storage.GlobalRoomID, Message: "two", MyLang: "English", TargetLang: "French"})

	alice.Handle(context.Background(), Event{Type: EventRequestChatHistory, RequestID: "h1", Payload: payload(t, map[string]any{"room_id": storage.GlobalRoomID})})

	event := alicePeer.last(t)
	loaded, ok := event.Payload.(HistoryLoaded)
	if !ok {
		t.Fatalf("payload = %T, want HistoryLoaded", event.Payload)
	}
	if event.RequestID != "h1" {
		t.Fatalf("request id = %q, want %q", event.RequestID, "h1")
	}
	if len(loaded.Messages) != 2 || loaded.Messages[0].OriginalMessage != "one" || loaded.Messages[1].OriginalMessage != "two" {
		t.Fatalf("messages = %+v", loaded.Messages)
	}
	if f.store.lastLimit != defaultHistoryLimit {
		t.Fatalf("limit = %d, want %d", f.store.lastLimit, defaultHistoryLimit)
	}

	alice.Handle(context.Background(), Event{Type: EventRequestChatHistory, Payload: payload(t, map[string]any{"room_id": storage.GlobalRoomID, "limit": 5000})})
	if f.store.lastLimit != maxHistoryLimit {
		t.Fatalf("limit = %d, want %d", f.store.lastLimit, maxHistoryLimit)
	}
}

func TestRequestChatHistoryErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, _ = f.connect(t, "conn-a", "alice-token")
	carol, carolPeer := f.connect(t, "conn-c", "carol-token")

	carol.Handle(context.Background(), Event{Type: EventRequestChatHistory, Payload: payload(t, map[string]any{"room_id": storage.GlobalRoomID})})
	if code := errorCode(t, carolPeer.last(t)); code != string(apperrors.CodeRoomAccess) {
		t.Fatalf("code = %q, want %q", code, apperrors.CodeRoomAccess)
	}

	carol.Handle(context.Background(), Event{Type: EventRequestChatHistory, Payload: payload(t, map[string]any{})})
	if code := errorCode(t, carolPeer.last(t)); code != string(apperrors.CodeValidation) {
		t.Fatalf("code = %q, want %q", code, apperrors.CodeValidation)
	}

	f.store.addUser("carol", "Carol", storage.GlobalRoomID)
	f.store.listErr = errors.New("connection reset")
	carol.Handle(context.Background(), Event{Type: EventRequestChatHistory, Payload: payload(t, map[string]any{"room_id": storage.GlobalRoomID})})
	if code := errorCode(t, carolPeer.last(t)); code != string(apperrors.CodePersistence) {
		t.Fatalf("code = %q, want %q", code, apperrors.CodePersistence)
	}
}

func TestUnsupportedEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	peer := &fakePeer{}
	conn := f.relay.Open("conn-x", peer)
	defer conn.Close()

	conn.Handle(context.Background(), Event{Type: "shout", RequestID: "r1"})

	event := peer.last(t)
	if event.Type != EventChatError || event.RequestID != "r1" {
		t.Fatalf("event = %+v", event)
	}
	if code := errorCode(t, event); code != string(apperrors.CodeInvalidArgument) {
		t.Fatalf("code = %q, want %q", code, apperrors.CodeInvalidArgument)
	}
}
