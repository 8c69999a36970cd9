package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wincontrol/deskagent/pkg/chat"
	"github.com/wincontrol/deskagent/pkg/tools"
)

var ErrNotStarted = errors.New("toolset not started")

// ToolError is returned when the tool server reports a failed tool invocation.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// Toolset is a connection to one MCP tool server.
type Toolset struct {
	mcpClient    mcpClient
	logID        string
	toolFilter   []string
	instructions string

	mu      sync.Mutex
	started bool
}

type Opt func(*Toolset)

// WithToolFilter restricts the advertised tools to the given names.
func WithToolFilter(names []string) Opt {
	return func(ts *Toolset) {
		ts.toolFilter = names
	}
}

// NewToolsetCommand creates a toolset backed by a tool server subprocess speaking MCP over stdio.
func NewToolsetCommand(command string, args, env []string, cwd string, opts ...Opt) *Toolset {
	slog.Debug("Creating Stdio MCP toolset", "command", command, "args", args)

	return newToolset(newStdioCmdClient(command, args, env, cwd), command, opts)
}

// NewRemoteToolset creates a toolset backed by a remote tool server.
func NewRemoteToolset(url, transport string, headers map[string]string, opts ...Opt) *Toolset {
	slog.Debug("Creating Remote MCP toolset", "url", url, "transport", transport)

	return newToolset(newRemoteClient(url, transport, headers), url, opts)
}

// NewTransportToolset creates a toolset over an already established transport.
func NewTransportToolset(transport mcp.Transport, name string, opts ...Opt) *Toolset {
	return newToolset(newTransportClient(transport), name, opts)
}

func newToolset(client mcpClient, logID string, opts []Opt) *Toolset {
	ts := &Toolset{
		mcpClient: client,
		logID:     logID,
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

func (ts *Toolset) Start(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.started {
		return nil
	}

	if err := ts.doStart(ctx); err != nil {
		return err
	}
	ts.started = true
	return nil
}

func (ts *Toolset) doStart(ctx context.Context) error {
	// The stdio subprocess is bound to the context it is started with and must
	// outlive the request that connected it.
	ctx = context.WithoutCancel(ctx)

	slog.Debug("Starting MCP toolset", "server", ts.logID)

	var result *mcp.InitializeResult
	const maxRetries = 3
	for attempt := 0; ; attempt++ {
		var err error
		result, err = ts.mcpClient.Initialize(ctx)
		if err == nil {
			break
		}
		if !isInitNotificationSendError(err) {
			slog.Error("Failed to initialize MCP client", "server", ts.logID, "error", err)
			return fmt.Errorf("failed to initialize MCP client: %w", err)
		}
		if attempt >= maxRetries {
			slog.Error("Failed to initialize MCP client after retries", "server", ts.logID, "error", err)
			return fmt.Errorf("failed to initialize MCP client after retries: %w", err)
		}
		backoff := time.Duration(200*(attempt+1)) * time.Millisecond
		slog.Debug("MCP initialize failed to send initialized notification; retrying", "server", ts.logID, "attempt", attempt+1, "backoff_ms", backoff.Milliseconds())
		time.Sleep(backoff)
	}

	if result != nil {
		ts.instructions = result.Instructions
	}
	slog.Debug("Started MCP toolset successfully", "server", ts.logID)
	return nil
}

// isInitNotificationSendError reports whether initialization failed while sending
// the notifications/initialized message, which happens when a server has not
// finished its own startup yet.
func isInitNotificationSendError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "initialized notification")
}

func (ts *Toolset) Stop(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.started {
		return nil
	}
	ts.started = false

	slog.Debug("Stopping MCP toolset", "server", ts.logID)

	if err := ts.mcpClient.Close(context.WithoutCancel(ctx)); err != nil {
		slog.Error("Failed to stop MCP toolset", "server", ts.logID, "error", err)
		return err
	}

	slog.Debug("Stopped MCP toolset successfully", "server", ts.logID)
	return nil
}

func (ts *Toolset) isStarted() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.started
}

// Instructions returns the server-provided usage instructions, if any.
func (ts *Toolset) Instructions() string {
	if !ts.isStarted() {
		return ""
	}
	return ts.instructions
}

// Tools lists the tools advertised by the server.
func (ts *Toolset) Tools(ctx context.Context) ([]tools.Tool, error) {
	if !ts.isStarted() {
		return nil, ErrNotStarted
	}

	slog.Debug("Listing MCP tools", "server", ts.logID)

	var toolsList []tools.Tool
	for t, err := range ts.mcpClient.ListTools(ctx, &mcp.ListToolsParams{}) {
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}

		toolsList = append(toolsList, tools.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	toolsList = tools.Filter(toolsList, ts.toolFilter)
	slog.Debug("Listed MCP tools", "count", len(toolsList))
	return toolsList, nil
}

// ListPrompts lists the prompts advertised by the server.
func (ts *Toolset) ListPrompts(ctx context.Context) ([]PromptInfo, error) {
	if !ts.isStarted() {
		return nil, ErrNotStarted
	}

	var promptsList []PromptInfo
	for prompt, err := range ts.mcpClient.ListPrompts(ctx, &mcp.ListPromptsParams{}) {
		if err != nil {
			return promptsList, fmt.Errorf("failed to list prompts: %w", err)
		}

		info := PromptInfo{
			Name:        prompt.Name,
			Description: prompt.Description,
			Arguments:   make([]PromptArgument, 0, len(prompt.Arguments)),
		}
		for _, arg := range prompt.Arguments {
			info.Arguments = append(info.Arguments, PromptArgument{
				Name:        arg.Name,
				Description: arg.Description,
				Required:    arg.Required,
			})
		}
		promptsList = append(promptsList, info)
	}

	slog.Debug("Listed MCP prompts", "count", len(promptsList))
	return promptsList, nil
}

// GetPrompt fetches a prompt and returns the text of its first message.
func (ts *Toolset) GetPrompt(ctx context.Context, name string) (string, error) {
	if !ts.isStarted() {
		return "", ErrNotStarted
	}

	slog.Debug("Getting MCP prompt", "prompt", name)

	result, err := ts.mcpClient.GetPrompt(ctx, &mcp.GetPromptParams{Name: name})
	if err != nil {
		return "", fmt.Errorf("failed to get prompt %s: %w", name, err)
	}
	if len(result.Messages) == 0 {
		return "", fmt.Errorf("prompt %s has no messages", name)
	}

	text, ok := result.Messages[0].Content.(*mcp.TextContent)
	if !ok {
		return "", fmt.Errorf("prompt %s: first message is not text", name)
	}

	slog.Debug("Retrieved MCP prompt", "prompt", name, "length", len(text.Text))
	return text.Text, nil
}

// ReadResource reads a binary resource, such as the current screenshot, as an image part.
func (ts *Toolset) ReadResource(ctx context.Context, uri string) (chat.MessagePart, error) {
	if !ts.isStarted() {
		return chat.MessagePart{}, ErrNotStarted
	}

	result, err := ts.mcpClient.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return chat.MessagePart{}, fmt.Errorf("failed to read resource %s: %w", uri, err)
	}
	if len(result.Contents) == 0 || result.Contents[0] == nil {
		return chat.MessagePart{}, fmt.Errorf("resource %s has no contents", uri)
	}

	contents := result.Contents[0]
	data := contents.Blob
	if len(data) == 0 && contents.Text != "" {
		data, err = base64.StdEncoding.DecodeString(contents.Text)
		if err != nil {
			return chat.MessagePart{}, fmt.Errorf("resource %s: text contents are not base64: %w", uri, err)
		}
	}
	if len(data) == 0 {
		return chat.MessagePart{}, fmt.Errorf("resource %s: %w", uri, chat.ErrEmptyImage)
	}

	slog.Debug("Read MCP resource", "uri", uri, "mime_type", contents.MIMEType, "size", len(data))
	return chat.ImagePart(contents.MIMEType, data), nil
}

// CallTool invokes a tool and converts its result into message parts.
//
// A result flagged as an error by the server is returned as a *ToolError.
func (ts *Toolset) CallTool(ctx context.Context, name string, args map[string]any) ([]chat.MessagePart, error) {
	if !ts.isStarted() {
		return nil, ErrNotStarted
	}

	slog.Debug("Calling MCP tool", "tool", name, "arguments", args)

	resp, err := ts.mcpClient.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			slog.Debug("CallTool canceled by context", "tool", name)
			return nil, err
		}
		slog.Error("Failed to call MCP tool", "tool", name, "error", err)
		return nil, fmt.Errorf("failed to call tool %s: %w", name, err)
	}

	parts := processMCPContent(resp.Content)
	if resp.IsError {
		var msg strings.Builder
		for _, part := range parts {
			msg.WriteString(part.Text)
		}
		return nil, &ToolError{Tool: name, Message: msg.String()}
	}

	slog.Debug("MCP tool call completed", "tool", name, "parts", len(parts))
	return parts, nil
}

func processMCPContent(content []mcp.Content) []chat.MessagePart {
	parts := make([]chat.MessagePart, 0, len(content))
	for _, c := range content {
		switch c := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, chat.TextPart(c.Text))
		case *mcp.ImageContent:
			if len(c.Data) == 0 {
				slog.Debug("Dropping empty image content from tool result")
				continue
			}
			parts = append(parts, chat.ImagePart(c.MIMEType, c.Data))
		case *mcp.EmbeddedResource:
			if c.Resource == nil {
				continue
			}
			if len(c.Resource.Blob) > 0 && strings.HasPrefix(c.Resource.MIMEType, "image/") {
				parts = append(parts, chat.ImagePart(c.Resource.MIMEType, c.Resource.Blob))
			} else if c.Resource.Text != "" {
				parts = append(parts, chat.TextPart(c.Resource.Text))
			}
		default:
			parts = append(parts, chat.TextPart(fmt.Sprintf("[unsupported %T content]", c)))
		}
	}

	if len(parts) == 0 {
		parts = append(parts, chat.TextPart("no output"))
	}
	return parts
}
