// Package relay drives chat connections: it authenticates them, keeps their
// room subscriptions in line with persisted membership, and turns inbound
// messages into translated room broadcasts.
package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/babel.chat/internal/platform/id"
	"github.com/louisbranch/babel.chat/internal/platform/telemetry/metrics"
	"github.com/louisbranch/babel.chat/internal/services/chat/auth"
	"github.com/louisbranch/babel.chat/internal/services/chat/room"
	"github.com/louisbranch/babel.chat/internal/services/chat/session"
	"github.com/louisbranch/babel.chat/internal/services/chat/storage"
)

const tracerName = "github.com/louisbranch/babel.chat/internal/services/chat/relay"

// DefaultHelpCommands are the prefixes routed to the help assistant.
var DefaultHelpCommands = []string{"/help", "/ajuda"}

const (
	// DefaultSourceLang is assumed when a message omits my_lang.
	DefaultSourceLang = "Portuguese"
	// DefaultTargetLang is assumed when a message omits target_lang.
	DefaultTargetLang = "English"
)

// TokenVerifier checks session tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Translator translates messages and answers help questions.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	AnswerWithSearch(ctx context.Context, query, answerLang string) (string, error)
}

// ConversationLocator finds or creates private rooms.
type ConversationLocator interface {
	FindOrCreate(ctx context.Context, a, b string) (roomID string, created bool, err error)
}

// Store is the persistence the relay reads and writes directly.
type Store interface {
	GetUser(ctx context.Context, userID string) (storage.User, error)
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	AppendMessage(ctx context.Context, msg storage.Message) error
	ListRecentMessages(ctx context.Context, roomID string, limit int) ([]storage.Message, error)
}

// Deps are the collaborators of a Relay.
type Deps struct {
	Tokens        TokenVerifier
	Translator    Translator
	Conversations ConversationLocator
	Store         Store
	Sessions      *session.Registry
	Hub           *room.Hub
	Resolver      *room.Resolver
	// Metrics may be nil.
	Metrics *metrics.Relay
}

// Config tunes relay behavior.
type Config struct {
	HelpCommands      []string
	DefaultSourceLang string
	DefaultTargetLang string
	// Now and NewID default to time.Now and id.NewID.
	Now   func() time.Time
	NewID func() (string, error)
}

// Relay is shared by every connection of a process.
type Relay struct {
	deps   Deps
	cfg    Config
	help   []string
	tracer trace.Tracer
}

// New validates deps and fills config defaults.
func New(deps Deps, cfg Config) (*Relay, error) {
	switch {
	case deps.Tokens == nil:
		return nil, errors.New("token verifier is required")
	case deps.Translator == nil:
		return nil, errors.New("translator is required")
	case deps.Conversations == nil:
		return nil, errors.New("conversation locator is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Sessions == nil:
		return nil, errors.New("session registry is required")
	case deps.Hub == nil:
		return nil, errors.New("room hub is required")
	case deps.Resolver == nil:
		return nil, errors.New("room resolver is required")
	}

	if len(cfg.HelpCommands) == 0 {
		cfg.HelpCommands = DefaultHelpCommands
	}
	if strings.TrimSpace(cfg.DefaultSourceLang) == "" {
		cfg.DefaultSourceLang = DefaultSourceLang
	}
	if strings.TrimSpace(cfg.DefaultTargetLang) == "" {
		cfg.DefaultTargetLang = DefaultTargetLang
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = id.NewID
	}

	help := make([]string, 0, len(cfg.HelpCommands))
	for _, command := range cfg.HelpCommands {
		command = strings.ToLower(strings.TrimSpace(command))
		if command != "" {
			help = append(help, command)
		}
	}
	return &Relay{
		deps:   deps,
		cfg:    cfg,
		help:   help,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Online reports how many users have a live authenticated connection.
func (r *Relay) Online() int {
	return r.deps.Sessions.Online()
}

// helpQuery reports whether text is a help command and returns its query.
// A command matches case-insensitively when followed by end of text or
// whitespace.
func (r *Relay) helpQuery(text string) (string, bool) {
	for _, command := range r.help {
		if len(text) < len(command) || !strings.EqualFold(text[:len(command)], command) {
			continue
		}
		rest := text[len(command):]
		if rest == "" {
			return "", true
		}
		if rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n' || rest[0] == '\r' {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}
