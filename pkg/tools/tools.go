package tools

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

type ToolType string

const ToolTypeFunction ToolType = "function"

type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     ToolType     `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Tool describes a tool advertised by a tool server.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Parameters is the JSON schema of the tool input, as sent by the server.
	Parameters any `json:"parameters"`
}

// ArgumentError is returned when the arguments of a tool call are not a JSON object.
type ArgumentError struct {
	Tool      string
	Arguments string
	Err       error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// ParseArguments decodes the raw JSON arguments of a tool call. Empty arguments decode to an empty object.
func (c ToolCall) ParseArguments() (map[string]any, error) {
	raw := cmp.Or(c.Function.Arguments, "{}")

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &ArgumentError{Tool: c.Function.Name, Arguments: c.Function.Arguments, Err: err}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// Filter keeps only the tools whose names match one of the patterns. Patterns
// are plain names or globs such as "mouse_*". An empty list keeps everything.
func Filter(all []Tool, patterns []string) []Tool {
	if len(patterns) == 0 {
		return all
	}
	var filtered []Tool
	for _, t := range all {
		if slices.ContainsFunc(patterns, func(pattern string) bool {
			return matches(pattern, t.Name)
		}) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func matches(pattern, name string) bool {
	if pattern == name {
		return true
	}
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// Names returns the names of the given tools.
func Names(ts []Tool) []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name
	}
	return names
}
