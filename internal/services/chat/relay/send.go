package relay

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	apperrors "github.com/louisbranch/babel.chat/internal/platform/errors"
	platformi18n "github.com/louisbranch/babel.chat/internal/platform/i18n"
	"github.com/louisbranch/babel.chat/internal/platform/timeouts"
	"github.com/louisbranch/babel.chat/internal/services/chat/auth"
	"github.com/louisbranch/babel.chat/internal/services/chat/storage"
)

func (c *Conn) handleSendMessage(ctx context.Context, identity auth.Identity, event Event) {
	var payload sendMessagePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		c.replyError(event.RequestID, EventChatError,
			apperrors.Wrap(apperrors.CodeValidation, "invalid send_message payload", err), language.Und)
		return
	}
	source := platformi18n.ResolveOr(payload.MyLang, c.relay.cfg.DefaultSourceLang)
	target := platformi18n.ResolveOr(payload.TargetLang, c.relay.cfg.DefaultTargetLang)

	roomID := strings.TrimSpace(payload.RoomID)
	if roomID == "" {
		c.replyError(event.RequestID, EventChatError,
			apperrors.New(apperrors.CodeValidation, "room_id is required"), source.Tag)
		return
	}
	text := strings.TrimSpace(payload.Message)
	if text == "" {
		c.replyError(event.RequestID, EventChatError,
			apperrors.New(apperrors.CodeValidation, "message is required"), source.Tag)
		return
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		c.replyError(event.RequestID, EventChatError,
			apperrors.New(apperrors.CodeValidation, "message must be at most 2000 characters"), source.Tag)
		return
	}
	if !c.relay.deps.Hub.Subscribed(c.id, roomID) {
		c.replyError(event.RequestID, EventChatError,
			apperrors.New(apperrors.CodeRoomAccess, "not subscribed to room"), source.Tag)
		return
	}

	if query, ok := c.relay.helpQuery(text); ok {
		c.answerHelp(ctx, event.RequestID, roomID, text, query, source)
		return
	}

	translated, err := c.relay.translate(ctx, text, source.Name, target.Name)
	if err != nil {
		code := apperrors.CodeOf(err)
		c.relay.deps.Metrics.TranslationFailed(ctx, string(code))
		log.Printf("chat: translation failed user_id=%q room_id=%q code=%q err=%v", identity.UserID, roomID, code, err)
		c.replyError(event.RequestID, EventChatError, err, source.Tag)
		return
	}

	msg := storage.Message{
		RoomID:         roomID,
		SenderID:       identity.UserID,
		SenderName:     identity.DisplayName,
		OriginalText:   text,
		OriginalLang:   source.Name,
		TranslatedText: translated,
		TranslatedLang: target.Name,
	}
	c.relay.publish(ctx, msg)
}

// answerHelp sends the assistant's answer to this connection only. Help
// exchanges are never stored or broadcast.
func (c *Conn) answerHelp(ctx context.Context, requestID, roomID, text, query string, lang platformi18n.Language) {
	ctx, span := c.relay.tracer.Start(ctx, "relay.assistant", trace.WithAttributes(
		attribute.String("chat.room_id", roomID),
	))
	defer span.End()

	answer, err := c.relay.deps.Translator.AnswerWithSearch(ctx, query, lang.Name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		c.relay.deps.Metrics.AssistantFailed(ctx)
		log.Printf("chat: help request failed user_id=%q room_id=%q err=%v", c.identity.UserID, roomID, err)
		c.replyError(requestID, EventChatError, err, lang.Tag)
		return
	}
	c.reply(requestID, EventReceiveMessage, ReceiveMessage{
		RoomID:            roomID,
		Username:          HelpSystemName,
		OriginalMessage:   text,
		OriginalLang:      lang.Name,
		TranslatedMessage: answer,
		TranslatedLang:    lang.Name,
		Timestamp:         formatTimestamp(c.relay.cfg.Now()),
	})
}

func (r *Relay) translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "relay.translate", trace.WithAttributes(
		attribute.String("chat.source_lang", sourceLang),
		attribute.String("chat.target_lang", targetLang),
	))
	defer span.End()

	translated, err := r.deps.Translator.Translate(ctx, text, sourceLang, targetLang)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		return "", err
	}
	return translated, nil
}

// publish stamps and broadcasts msg, then stores it. Stamps strictly
// increase within a room, so history ordered by timestamp matches broadcast
// order however the writes interleave. Storage is best-effort: a failed
// write is logged and counted after delivery.
func (r *Relay) publish(ctx context.Context, msg storage.Message) {
	delivered, err := r.deps.Hub.Publish(msg.RoomID, r.cfg.Now(), func(stamp time.Time) (string, any, error) {
		msg.CreatedAt = stamp
		return EventReceiveMessage, ReceiveMessage{
			RoomID:            msg.RoomID,
			Username:          msg.SenderName,
			OriginalMessage:   msg.OriginalText,
			OriginalLang:      msg.OriginalLang,
			TranslatedMessage: msg.TranslatedText,
			TranslatedLang:    msg.TranslatedLang,
			Timestamp:         formatTimestamp(stamp),
		}, nil
	})
	if err != nil {
		log.Printf("chat: broadcast failed room_id=%q err=%v", msg.RoomID, err)
		return
	}
	r.deps.Metrics.MessageRelayed(ctx, roomKind(msg.RoomID))
	if delivered == 0 {
		log.Printf("chat: message reached no connections room_id=%q user_id=%q", msg.RoomID, msg.SenderID)
	}
	r.persist(ctx, msg)
}

// persist writes msg with a context detached from the sender's connection.
func (r *Relay) persist(ctx context.Context, msg storage.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Persist)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "relay.persist", trace.WithAttributes(
		attribute.String("chat.room_id", msg.RoomID),
	))
	defer span.End()

	messageID, err := r.cfg.NewID()
	if err == nil {
		msg.ID = messageID
		err = r.deps.Store.AppendMessage(ctx, msg)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		r.deps.Metrics.PersistFailed(ctx)
		log.Printf("chat: persist message failed room_id=%q user_id=%q err=%v", msg.RoomID, msg.SenderID, err)
	}
}

func roomKind(roomID string) string {
	if roomID == storage.GlobalRoomID {
		return "shared"
	}
	return "private"
}
