package relay

import (
	"time"

	"github.com/louisbranch/babel.chat/internal/services/chat/storage"
)

// Inbound event types.
const (
	EventAuthenticate        = "authenticate"
	EventRequestConversation = "request_conversation"
	EventRequestChatHistory  = "request_chat_history"
	EventSendMessage         = "send_message"
)

// Outbound event types.
const (
	EventAuthSuccess           = "auth_success"
	EventAuthError             = "auth_error"
	EventConversationReady     = "conversation_ready"
	EventNewConversationInvite = "new_conversation_invite"
	EventChatHistoryLoaded     = "chat_history_loaded"
	EventReceiveMessage        = "receive_message"
	EventChatError             = "chat_error"
)

// TimestampLayout formats message timestamps: UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// HelpSystemName authors assistant replies.
const HelpSystemName = "Help System"

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxMessageRunes     = 2000
)

// tokenPayload decodes the credential of authenticate and of any frame
// that carries its own token.
type tokenPayload struct {
	Token string `json:"token"`
}

type requestConversationPayload struct {
	TargetUserID string `json:"target_user_id"`
}

type requestChatHistoryPayload struct {
	RoomID string `json:"room_id"`
	Limit  int    `json:"limit,omitempty"`
}

type sendMessagePayload struct {
	Token      string `json:"token,omitempty"`
	RoomID     string `json:"room_id"`
	Message    string `json:"message"`
	MyLang     string `json:"my_lang"`
	TargetLang string `json:"target_lang"`
}

// UserView is the public shape of a user in outbound events.
type UserView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// AuthSuccess confirms a connection's identity and lists its rooms.
type AuthSuccess struct {
	Message string   `json:"message"`
	User    UserView `json:"user"`
	Rooms   []string `json:"rooms"`
}

// ConversationReady answers a conversation request.
type ConversationReady struct {
	RoomID   string   `json:"room_id"`
	WithUser UserView `json:"with_user"`
	Created  bool     `json:"created"`
}

// ConversationInvite tells an online user a new private room includes them.
type ConversationInvite struct {
	RoomID   string   `json:"room_id"`
	WithUser UserView `json:"with_user"`
}

// HistoryLoaded carries a room's recent messages, oldest first.
type HistoryLoaded struct {
	RoomID   string           `json:"room_id"`
	Messages []HistoryMessage `json:"messages"`
}

// HistoryMessage is one stored message in a history reply.
type HistoryMessage struct {
	ID                string `json:"id"`
	SenderID          string `json:"sender_id"`
	Username          string `json:"username"`
	OriginalMessage   string `json:"original_message"`
	OriginalLang      string `json:"original_lang"`
	TranslatedMessage string `json:"translated_message"`
	TranslatedLang    string `json:"translated_lang"`
	Timestamp         string `json:"timestamp"`
}

// ReceiveMessage is the translation packet delivered to a room.
type ReceiveMessage struct {
	RoomID            string `json:"room_id"`
	Username          string `json:"username"`
	OriginalMessage   string `json:"original_message"`
	OriginalLang      string `json:"original_lang"`
	TranslatedMessage string `json:"translated_message"`
	TranslatedLang    string `json:"translated_lang"`
	Timestamp         string `json:"timestamp"`
}

// ErrorEnvelope wraps auth_error and chat_error payloads.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one failed request.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func historyMessage(msg storage.Message) HistoryMessage {
	return HistoryMessage{
		ID:                msg.ID,
		SenderID:          msg.SenderID,
		Username:          msg.SenderName,
		OriginalMessage:   msg.OriginalText,
		OriginalLang:      msg.OriginalLang,
		TranslatedMessage: msg.TranslatedText,
		TranslatedLang:    msg.TranslatedLang,
		Timestamp:         formatTimestamp(msg.CreatedAt),
	}
}
