package translation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	apperrors "github.com/louisbranch/babel.chat/internal/platform/errors"
	"github.com/louisbranch/babel.chat/internal/platform/timeouts"
)

const (
	// DefaultModel is used when no model name is configured.
	DefaultModel = "gpt-4o-mini"
	// DefaultMaxToolRounds bounds how many times the assistant may search.
	DefaultMaxToolRounds = 2
)

// Config configures the gateway.
type Config struct {
	TranslateModel string
	AssistantModel string
	MaxToolRounds  int
}

// Gateway translates chat messages and answers help questions. It keeps no
// state between calls and is safe for concurrent use.
type Gateway struct {
	model  Model
	search Searcher
	cfg    Config
}

// NewGateway builds a gateway. A nil searcher makes every search report
// no results.
func NewGateway(model Model, search Searcher, cfg Config) (*Gateway, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	if strings.TrimSpace(cfg.TranslateModel) == "" {
		cfg.TranslateModel = DefaultModel
	}
	if strings.TrimSpace(cfg.AssistantModel) == "" {
		cfg.AssistantModel = DefaultModel
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Gateway{model: model, search: search, cfg: cfg}, nil
}

func translatePrompt(sourceLang, targetLang string) string {
	return fmt.Sprintf("You are a translation engine. Translate the user's message from %s to %s. "+
		"Reply ONLY with the translated text. Do not add greetings, explanations, notes, or quotes.",
		sourceLang, targetLang)
}

func assistantPrompt(answerLang string) string {
	return fmt.Sprintf("You are the help assistant of a multilingual chat. Answer the user's question in %s, "+
		"briefly and plainly. Call the %s tool when the answer depends on current or external facts. "+
		"If the tool reports an error, answer from what you know and say the search found nothing.",
		answerLang, WebSearchToolName)
}

// Translate converts text from sourceLang to targetLang and strips any
// conversational padding the model adds.
func (g *Gateway) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperrors.New(apperrors.CodeEmptyInput, "text is required")
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.Translate)
	defer cancel()

	reply, err := g.model.Complete(ctx, CompletionRequest{
		Model:       g.cfg.TranslateModel,
		System:      translatePrompt(sourceLang, targetLang),
		Turns:       []Turn{{Role: RoleUser, Content: text}},
		Temperature: 0.2,
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeTranslationUnavailable, "translation request failed", err)
	}
	translated := stripPadding(reply.Content)
	if translated == "" {
		return "", apperrors.New(apperrors.CodeTranslationUnavailable, "translation came back empty")
	}
	return translated, nil
}

type assistantState int

const (
	stateAwaitingModel assistantState = iota
	stateAwaitingToolResult
	stateDone
)

// AnswerWithSearch answers query in answerLang. The model may call
// web_search; each call is answered with snippets or a structured error so
// the model can still produce a degraded answer.
func (g *Gateway) AnswerWithSearch(ctx context.Context, query, answerLang string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", apperrors.New(apperrors.CodeEmptyInput, "question is required")
	}
	tool, err := webSearchTool()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeAssistantUnavailable, "build search tool", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.Assistant)
	defer cancel()

	var (
		state   = stateAwaitingModel
		turns   = []Turn{{Role: RoleUser, Content: query}}
		pending []ToolCall
		rounds  int
		answer  string
	)
	for state != stateDone {
		switch state {
		case stateAwaitingModel:
			req := CompletionRequest{
				Model:  g.cfg.AssistantModel,
				System: assistantPrompt(answerLang),
				Turns:  turns,
			}
			if rounds < g.cfg.MaxToolRounds {
				req.Tools = []Tool{tool}
			}
			reply, err := g.model.Complete(ctx, req)
			if err != nil {
				return "", apperrors.Wrap(apperrors.CodeAssistantUnavailable, "assistant request failed", err)
			}
			turns = append(turns, Turn{
				Role:      RoleAssistant,
				Content:   reply.Content,
				ToolCalls: reply.ToolCalls,
				Raw:       reply.Raw,
			})
			if len(reply.ToolCalls) > 0 && rounds < g.cfg.MaxToolRounds {
				pending = reply.ToolCalls
				state = stateAwaitingToolResult
				continue
			}
			answer = stripPadding(reply.Content)
			state = stateDone

		case stateAwaitingToolResult:
			rounds++
			for _, call := range pending {
				turns = append(turns, Turn{
					Role:       RoleTool,
					ToolCallID: call.ID,
					Content:    g.runTool(ctx, call, query),
				})
			}
			pending = nil
			state = stateAwaitingModel
		}
	}

	if answer == "" {
		return "", apperrors.New(apperrors.CodeAssistantUnavailable, "assistant returned no answer")
	}
	return answer, nil
}

// runTool executes one tool call and returns the JSON fed back to the model.
func (g *Gateway) runTool(ctx context.Context, call ToolCall, fallbackQuery string) string {
	if call.Name != WebSearchToolName {
		return toolResult{Error: "unknown tool"}.encode()
	}
	args, err := parseWebSearchArgs(call.Arguments)
	if err != nil {
		log.Printf("chat: assistant tool arguments rejected tool=%q err=%v", call.Name, err)
		args.Query = fallbackQuery
	}
	if args.Query == "" {
		args.Query = fallbackQuery
	}
	if g.search == nil {
		return toolResult{Error: ErrNoResults.Error()}.encode()
	}

	searchCtx, cancel := context.WithTimeout(ctx, timeouts.Search)
	defer cancel()
	snippets, err := g.search.Search(searchCtx, args.Query)
	if err != nil || len(snippets) == 0 {
		if err != nil && !errors.Is(err, ErrNoResults) {
			log.Printf("chat: web search failed query=%q err=%v", args.Query, err)
		}
		return toolResult{Error: ErrNoResults.Error()}.encode()
	}
	if len(snippets) > MaxSearchSnippets {
		snippets = snippets[:MaxSearchSnippets]
	}
	return toolResult{Results: snippets}.encode()
}
