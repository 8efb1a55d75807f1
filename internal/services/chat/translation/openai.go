package translation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures the OpenAI chat completions model.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
}

// OpenAIModel completes requests through the OpenAI chat completions API
// or any server that speaks it.
type OpenAIModel struct {
	client openai.Client
}

// NewOpenAIModel builds an OpenAI-backed Model.
func NewOpenAIModel(cfg OpenAIConfig) (*OpenAIModel, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAIModel{client: openai.NewClient(opts...)}, nil
}

// Complete sends one chat completion request.
func (m *OpenAIModel) Complete(ctx context.Context, req CompletionRequest) (Reply, error) {
	if strings.TrimSpace(req.Model) == "" {
		return Reply{}, errors.New("model is required")
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: toOpenAIMessages(req),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.Parameters),
			},
		})
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Reply{}, fmt.Errorf("openai status %d: %w", apiErr.StatusCode, err)
		}
		return Reply{}, fmt.Errorf("openai request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("openai returned no choices")
	}

	message := resp.Choices[0].Message
	reply := Reply{
		Content: message.Content,
		Raw:     message.ToParam(),
	}
	for _, call := range message.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return reply, nil
}

func toOpenAIMessages(req CompletionRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Turns)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	for _, turn := range req.Turns {
		switch turn.Role {
		case RoleAssistant:
			if raw, ok := turn.Raw.(openai.ChatCompletionMessageParamUnion); ok {
				messages = append(messages, raw)
				continue
			}
			messages = append(messages, openai.AssistantMessage(turn.Content))
		case RoleTool:
			messages = append(messages, openai.ToolMessage(turn.Content, turn.ToolCallID))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return messages
}
