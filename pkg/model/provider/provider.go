package provider

import (
	"context"

	"github.com/wincontrol/deskagent/pkg/chat"
	"github.com/wincontrol/deskagent/pkg/config"
	"github.com/wincontrol/deskagent/pkg/environment"
	"github.com/wincontrol/deskagent/pkg/model/provider/openai"
	"github.com/wincontrol/deskagent/pkg/tools"
)

// Provider performs one non-streaming chat completion round trip.
type Provider interface {
	// ID identifies the provider and model, e.g. "openai/qwen-vl-max".
	ID() string

	// CreateChatCompletion sends the conversation and the available tools and
	// returns the assistant message, which may carry content, reasoning and tool calls.
	CreateChatCompletion(
		ctx context.Context,
		messages []chat.Message,
		tools []tools.Tool,
	) (*chat.Message, error)
}

// New creates the provider for an OpenAI-compatible endpoint.
func New(ctx context.Context, cfg *config.ModelConfig, env environment.Provider) (Provider, error) {
	client, err := openai.NewClient(ctx, cfg, env)
	if err != nil {
		return nil, err
	}
	return client, nil
}
