package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/wincontrol/deskagent/pkg/chat"
	"github.com/wincontrol/deskagent/pkg/config"
	"github.com/wincontrol/deskagent/pkg/environment"
	"github.com/wincontrol/deskagent/pkg/tools"
	"github.com/wincontrol/deskagent/pkg/useragent"
)

// APIKeyEnvVars are checked in order when the config carries no API key.
var APIKeyEnvVars = []string{"DESKAGENT_API_KEY", "OPENAI_API_KEY"}

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	client openai.Client
	config config.ModelConfig
}

// NewClient creates a client from the model configuration. Extra request
// options are applied last.
func NewClient(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, opts ...option.RequestOption) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model name is required")
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		var err error
		apiKey, err = environment.Require(ctx, env, APIKeyEnvVars...)
		if err != nil {
			slog.Error("OpenAI client creation failed", "error", err)
			return nil, err
		}
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHeader("User-Agent", useragent.Header),
		option.WithMiddleware(errorBodyMiddleware()),
	}
	if cfg.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries > 0 {
		clientOptions = append(clientOptions, option.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.Timeout > 0 {
		clientOptions = append(clientOptions, option.WithRequestTimeout(cfg.Timeout.Std()))
	}
	clientOptions = append(clientOptions, opts...)

	slog.Debug("OpenAI client created successfully", "model", cfg.Model, "base_url", cfg.BaseURL)

	return &Client{
		client: openai.NewClient(clientOptions...),
		config: *cfg,
	}, nil
}

func (c *Client) ID() string {
	return "openai/" + c.config.Model
}

func (c *Client) CreateChatCompletion(ctx context.Context, messages []chat.Message, requestTools []tools.Tool) (*chat.Message, error) {
	slog.Debug("Creating OpenAI chat completion", "model", c.config.Model, "message_count", len(messages), "tool_count", len(requestTools))

	if len(messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.config.Model,
		Messages: convertMessages(messages),
	}
	if c.config.Temperature != nil {
		params.Temperature = openai.Float(*c.config.Temperature)
	}
	if c.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.config.MaxTokens))
	}

	if len(requestTools) > 0 {
		toolsParam, err := convertTools(requestTools)
		if err != nil {
			return nil, err
		}
		params.Tools = toolsParam
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		slog.Debug("OpenAI chat completion failed", "model", c.config.Model, "error", err)
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	msg := convertResponse(&resp.Choices[0].Message)
	slog.Debug("OpenAI chat completion done", "finish_reason", resp.Choices[0].FinishReason, "tool_calls", len(msg.ToolCalls))
	return msg, nil
}

func convertTools(requestTools []tools.Tool) ([]openai.ChatCompletionToolUnionParam, error) {
	toolsParam := make([]openai.ChatCompletionToolUnionParam, len(requestTools))
	for i, tool := range requestTools {
		parameters, err := tools.SchemaToMap(tool.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to convert parameters of tool %s: %w", tool.Name, err)
		}

		definition := shared.FunctionDefinitionParam{
			Name:       tool.Name,
			Parameters: shared.FunctionParameters(parameters),
		}
		if tool.Description != "" {
			definition.Description = openai.String(tool.Description)
		}
		toolsParam[i] = openai.ChatCompletionFunctionTool(definition)
	}
	return toolsParam, nil
}

func convertResponse(message *openai.ChatCompletionMessage) *chat.Message {
	msg := &chat.Message{
		Role:             chat.MessageRoleAssistant,
		Content:          message.Content,
		ReasoningContent: reasoningContent(message.RawJSON()),
	}

	for _, toolCall := range message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, tools.ToolCall{
			ID:   toolCall.ID,
			Type: tools.ToolTypeFunction,
			Function: tools.FunctionCall{
				Name:      toolCall.Function.Name,
				Arguments: toolCall.Function.Arguments,
			},
		})
	}
	return msg
}

// reasoningContent extracts the non-standard reasoning_content field some
// OpenAI-compatible servers add to assistant messages.
func reasoningContent(raw string) string {
	if raw == "" {
		return ""
	}
	var extra struct {
		ReasoningContent string `json:"reasoning_content"`
	}
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		return ""
	}
	return extra.ReasoningContent
}
