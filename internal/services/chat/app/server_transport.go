package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/babel.chat/internal/platform/errors"
	"github.com/louisbranch/babel.chat/internal/platform/id"
	"github.com/louisbranch/babel.chat/internal/services/chat/accounts"
	"github.com/louisbranch/babel.chat/internal/services/chat/relay"
)

// frameConn is the part of a websocket connection a peer writes to.
type frameConn interface {
	io.WriteCloser
	SetWriteDeadline(t time.Time) error
}

// wsPeer serializes writes to one websocket connection. Every write has a
// deadline, so a client that stops reading fails the write instead of
// holding the writer forever.
type wsPeer struct {
	mu      sync.Mutex
	conn    frameConn
	encoder *json.Encoder
}

func newWSPeer(conn frameConn) *wsPeer {
	return &wsPeer{conn: conn, encoder: json.NewEncoder(conn)}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return p.encoder.Encode(frame)
}

// Close tears the connection down; the read loop then ends the session.
func (p *wsPeer) Close() error {
	return p.conn.Close()
}

// Send delivers a room broadcast or an unsolicited event.
func (p *wsPeer) Send(eventType string, payload any) error {
	return p.Reply("", eventType, payload)
}

// Reply answers the frame identified by requestID.
func (p *wsPeer) Reply(requestID, eventType string, payload any) error {
	return p.writeFrame(wsFrame{
		Type:      eventType,
		RequestID: requestID,
		Payload:   mustJSON(payload),
	})
}

func newHandler(chatRelay *relay.Relay, accountHandler *accounts.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if accountHandler != nil {
		accountHandler.Register(mux)
	}

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, chatRelay)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if chatRelay == nil {
			http.Error(w, "chat relay is not configured", http.StatusServiceUnavailable)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
	return mux
}

// handleWSConn reads frames until the client leaves. Frames are handled
// one at a time, so a client's messages are relayed in the order sent.
func handleWSConn(conn *websocket.Conn, chatRelay *relay.Relay) {
	defer func() {
		_ = conn.Close()
	}()

	connID, err := id.NewID()
	if err != nil {
		log.Printf("chat: connection id failed remote=%s err=%v", conn.Request().RemoteAddr, err)
		return
	}
	peer := newWSPeer(conn)
	session := chatRelay.Open(connID, peer)
	defer session.Close()

	ctx := conn.Request().Context()
	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", apperrors.CodeInvalidArgument, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			// A syntax error leaves the decoder unusable past the bad bytes.
			if syntaxErr != nil {
				decoder = json.NewDecoder(conn)
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, frame.RequestID, apperrors.CodeInvalidArgument, "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(peer, frame.RequestID, apperrors.CodeRateLimited, "rate limit exceeded")
			return
		}

		session.Handle(ctx, relay.Event{
			Type:      frame.Type,
			RequestID: frame.RequestID,
			Payload:   frame.Payload,
		})
	}
}

func writeWSError(peer *wsPeer, requestID string, code apperrors.Code, message string) error {
	return peer.Reply(requestID, relay.EventChatError, relay.ErrorEnvelope{
		Error: relay.ErrorBody{
			Code:      string(code),
			Message:   message,
			Retryable: code.Retryable(),
		},
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
