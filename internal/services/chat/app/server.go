package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/babel.chat/internal/platform/telemetry/metrics"
	"github.com/louisbranch/babel.chat/internal/platform/timeouts"
	"github.com/louisbranch/babel.chat/internal/services/chat/accounts"
	"github.com/louisbranch/babel.chat/internal/services/chat/auth"
	"github.com/louisbranch/babel.chat/internal/services/chat/conversation"
	"github.com/louisbranch/babel.chat/internal/services/chat/relay"
	"github.com/louisbranch/babel.chat/internal/services/chat/room"
	"github.com/louisbranch/babel.chat/internal/services/chat/session"
	"github.com/louisbranch/babel.chat/internal/services/chat/storage/postgres"
	"github.com/louisbranch/babel.chat/internal/services/chat/storage/sqlite"
	"github.com/louisbranch/babel.chat/internal/services/chat/storage/sqlstore"
	"github.com/louisbranch/babel.chat/internal/services/chat/translation"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
	writeTimeout           = 10 * time.Second
)

// Config defines the inputs for the chat relay process.
type Config struct {
	HTTPAddr    string
	DatabaseURL string

	TokenSecret string
	TokenTTL    time.Duration

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	TranslateModel string
	AssistantModel string

	SearchAPIKey   string
	SearchEngineID string
	SearchURL      string

	HelpCommands      []string
	DefaultSourceLang string
	DefaultTargetLang string

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the chat HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlstore.Store
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// NewServer builds a configured chat server.
func NewServer(config Config) (*Server, error) {
	return NewServerWithContext(context.Background(), config)
}

// NewServerWithContext builds a configured chat server with an explicit
// context bounding storage startup.
func NewServerWithContext(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.TokenSecret) == "" {
		return nil, errors.New("token secret is required")
	}
	if strings.TrimSpace(config.DatabaseURL) == "" {
		return nil, errors.New("database url is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	issuer, err := auth.NewIssuer(auth.IssuerConfig{Secret: []byte(config.TokenSecret), TTL: config.TokenTTL})
	if err != nil {
		return nil, fmt.Errorf("init token issuer: %w", err)
	}
	gateway, err := newGateway(config)
	if err != nil {
		return nil, err
	}
	relayMetrics, err := metrics.NewRelay(nil)
	if err != nil {
		return nil, fmt.Errorf("init relay metrics: %w", err)
	}

	store, err := openStore(ctx, config.DatabaseURL)
	if err != nil {
		return nil, err
	}

	hub := room.NewHub()
	chatRelay, err := relay.New(relay.Deps{
		Tokens:        issuer,
		Translator:    gateway,
		Conversations: conversation.NewLocator(store),
		Store:         store,
		Sessions:      session.NewRegistry(),
		Hub:           hub,
		Resolver:      room.NewResolver(store, hub),
		Metrics:       relayMetrics,
	}, relay.Config{
		HelpCommands:      config.HelpCommands,
		DefaultSourceLang: config.DefaultSourceLang,
		DefaultTargetLang: config.DefaultTargetLang,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init relay: %w", err)
	}
	accountHandler, err := accounts.NewHandler(store, issuer)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init accounts: %w", err)
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(chatRelay, accountHandler),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

func newGateway(config Config) (*translation.Gateway, error) {
	model, err := translation.NewOpenAIModel(translation.OpenAIConfig{
		APIKey:  config.OpenAIAPIKey,
		BaseURL: config.OpenAIBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("init translation model: %w", err)
	}

	var searcher translation.Searcher
	if strings.TrimSpace(config.SearchAPIKey) != "" {
		google, err := translation.NewGoogleSearch(translation.GoogleSearchConfig{
			APIKey:   config.SearchAPIKey,
			EngineID: config.SearchEngineID,
			URL:      config.SearchURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init web search: %w", err)
		}
		searcher = google
	} else {
		log.Printf("chat: web search not configured, help answers use model knowledge only")
	}

	gateway, err := translation.NewGateway(model, searcher, translation.Config{
		TranslateModel: config.TranslateModel,
		AssistantModel: config.AssistantModel,
	})
	if err != nil {
		return nil, fmt.Errorf("init translation gateway: %w", err)
	}
	return gateway, nil
}

// openStore picks Postgres for postgres:// URLs and SQLite for file paths.
func openStore(ctx context.Context, databaseURL string) (*sqlstore.Store, error) {
	if postgres.IsURL(databaseURL) {
		store, err := postgres.Open(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	}
	store, err := sqlite.Open(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

// Run creates and serves a chat server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init chat server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve chat: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("chat server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("chat server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close chat store: %v", err)
		}
	}
}
