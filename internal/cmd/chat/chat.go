// Package chat parses chat command flags and composes transport entrypoints.
package chat

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/babel.chat/internal/platform/cmd"
	server "github.com/louisbranch/babel.chat/internal/services/chat/app"
)

// Config holds chat command configuration.
type Config struct {
	HTTPAddr    string `env:"BABEL_CHAT_HTTP_ADDR"    envDefault:":8086"`
	DatabaseURL string `env:"BABEL_CHAT_DATABASE_URL" envDefault:"data/chat.db"`

	TokenSecret string        `env:"BABEL_CHAT_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"BABEL_CHAT_TOKEN_TTL" envDefault:"168h"`

	OpenAIAPIKey   string `env:"BABEL_CHAT_OPENAI_API_KEY"`
	OpenAIBaseURL  string `env:"BABEL_CHAT_OPENAI_BASE_URL"`
	TranslateModel string `env:"BABEL_CHAT_TRANSLATE_MODEL" envDefault:"gpt-4o-mini"`
	AssistantModel string `env:"BABEL_CHAT_ASSISTANT_MODEL" envDefault:"gpt-4o-mini"`

	SearchAPIKey   string `env:"BABEL_CHAT_SEARCH_API_KEY"`
	SearchEngineID string `env:"BABEL_CHAT_SEARCH_ENGINE_ID"`
	SearchURL      string `env:"BABEL_CHAT_SEARCH_URL"`

	HelpCommands      []string `env:"BABEL_CHAT_HELP_COMMANDS"        envDefault:"/help,/ajuda" envSeparator:","`
	DefaultSourceLang string   `env:"BABEL_CHAT_DEFAULT_SOURCE_LANG" envDefault:"Portuguese"`
	DefaultTargetLang string   `env:"BABEL_CHAT_DEFAULT_TARGET_LANG" envDefault:"English"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	helpCommands := strings.Join(cfg.HelpCommands, ",")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "chat HTTP listen address")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "SQLite path or postgres:// URL")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "session token lifetime")
	fs.StringVar(&cfg.TranslateModel, "translate-model", cfg.TranslateModel, "model used for translations")
	fs.StringVar(&cfg.AssistantModel, "assistant-model", cfg.AssistantModel, "model used for help answers")
	fs.StringVar(&helpCommands, "help-commands", helpCommands, "comma-separated help command prefixes")
	fs.StringVar(&cfg.DefaultSourceLang, "default-source-lang", cfg.DefaultSourceLang, "source language when a message names none")
	fs.StringVar(&cfg.DefaultTargetLang, "default-target-lang", cfg.DefaultTargetLang, "target language when a message names none")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.HelpCommands = splitList(helpCommands)
	return cfg, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Run builds the chat app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceChat, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:          cfg.HTTPAddr,
			DatabaseURL:       cfg.DatabaseURL,
			TokenSecret:       cfg.TokenSecret,
			TokenTTL:          cfg.TokenTTL,
			OpenAIAPIKey:      cfg.OpenAIAPIKey,
			OpenAIBaseURL:     cfg.OpenAIBaseURL,
			TranslateModel:    cfg.TranslateModel,
			AssistantModel:    cfg.AssistantModel,
			SearchAPIKey:      cfg.SearchAPIKey,
			SearchEngineID:    cfg.SearchEngineID,
			SearchURL:         cfg.SearchURL,
			HelpCommands:      cfg.HelpCommands,
			DefaultSourceLang: cfg.DefaultSourceLang,
			DefaultTargetLang: cfg.DefaultTargetLang,
		}); err != nil {
			return fmt.Errorf("serve chat: %w", err)
		}
		return nil
	})
}
