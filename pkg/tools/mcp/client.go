package mcp

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wincontrol/deskagent/pkg/version"
)

type mcpClient interface {
	Initialize(ctx context.Context) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request *mcp.ListToolsParams) iter.Seq2[*mcp.Tool, error]
	CallTool(ctx context.Context, request *mcp.CallToolParams) (*mcp.CallToolResult, error)
	ListPrompts(ctx context.Context, request *mcp.ListPromptsParams) iter.Seq2[*mcp.Prompt, error]
	GetPrompt(ctx context.Context, request *mcp.GetPromptParams) (*mcp.GetPromptResult, error)
	ReadResource(ctx context.Context, request *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error)
	Close(ctx context.Context) error
}

var errSessionNotInitialized = errors.New("session not initialized")

// sessionClient connects an MCP client session over a transport built on demand.
type sessionClient struct {
	newTransport func() (mcp.Transport, error)

	mu      sync.RWMutex
	session *mcp.ClientSession
}

func newStdioCmdClient(command string, args, env []string, cwd string) *sessionClient {
	return &sessionClient{
		newTransport: func() (mcp.Transport, error) {
			cmd := exec.Command(command, args...)
			cmd.Env = append(os.Environ(), env...)
			cmd.Dir = cwd
			return &mcp.CommandTransport{Command: cmd}, nil
		},
	}
}

func newTransportClient(transport mcp.Transport) *sessionClient {
	return &sessionClient{
		newTransport: func() (mcp.Transport, error) {
			return transport, nil
		},
	}
}

func (c *sessionClient) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	transport, err := c.newTransport()
	if err != nil {
		return nil, err
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "deskagent",
		Version: version.Version,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	result := session.InitializeResult()
	if result != nil && result.ServerInfo != nil {
		slog.Debug("MCP client session connected", "server", result.ServerInfo.Name, "server_version", result.ServerInfo.Version)
	}
	return result, nil
}

func (c *sessionClient) current() *mcp.ClientSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *sessionClient) ListTools(ctx context.Context, params *mcp.ListToolsParams) iter.Seq2[*mcp.Tool, error] {
	session := c.current()
	if session == nil {
		return func(yield func(*mcp.Tool, error) bool) {
			yield(nil, errSessionNotInitialized)
		}
	}
	return session.Tools(ctx, params)
}

func (c *sessionClient) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	session := c.current()
	if session == nil {
		return nil, errSessionNotInitialized
	}
	return session.CallTool(ctx, params)
}

func (c *sessionClient) ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) iter.Seq2[*mcp.Prompt, error] {
	session := c.current()
	if session == nil {
		return func(yield func(*mcp.Prompt, error) bool) {
			yield(nil, errSessionNotInitialized)
		}
	}
	return session.Prompts(ctx, params)
}

func (c *sessionClient) GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	session := c.current()
	if session == nil {
		return nil, errSessionNotInitialized
	}
	return session.GetPrompt(ctx, params)
}

func (c *sessionClient) ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	session := c.current()
	if session == nil {
		return nil, errSessionNotInitialized
	}
	return session.ReadResource(ctx, params)
}

func (c *sessionClient) Close(context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}
