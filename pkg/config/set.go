package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

type setter func(c *Config, value string) error

var setters = map[string]setter{
	"model.base_url":           stringSetter(func(c *Config) *string { return &c.Model.BaseURL }),
	"model.model":              stringSetter(func(c *Config) *string { return &c.Model.Model }),
	"model.api_key":            stringSetter(func(c *Config) *string { return &c.Model.APIKey }),
	"model.max_retries":        intSetter(func(c *Config) *int { return &c.Model.MaxRetries }),
	"model.max_tokens":         intSetter(func(c *Config) *int { return &c.Model.MaxTokens }),
	"model.timeout":            durationSetter(func(c *Config) *Duration { return &c.Model.Timeout }),
	"tool_server.command":      stringSetter(func(c *Config) *string { return &c.ToolServer.Command }),
	"tool_server.url":          stringSetter(func(c *Config) *string { return &c.ToolServer.URL }),
	"tool_server.transport":    stringSetter(func(c *Config) *string { return &c.ToolServer.Transport }),
	"tool_server.working_dir":  stringSetter(func(c *Config) *string { return &c.ToolServer.WorkingDir }),
	"tool_server.args":         listSetter(func(c *Config) *[]string { return (*[]string)(&c.ToolServer.Args) }),
	"tool_server.tools":        listSetter(func(c *Config) *[]string { return &c.ToolServer.Tools }),
	"agent.settle_delay":       durationSetter(func(c *Config) *Duration { return &c.Agent.SettleDelay }),
	"agent.region_parser_tool": stringSetter(func(c *Config) *string { return &c.Agent.RegionParserTool }),
	"agent.screenshot_uri":     stringSetter(func(c *Config) *string { return &c.Agent.ScreenshotURI }),
	"agent.system_prompt":      stringSetter(func(c *Config) *string { return &c.Agent.SystemPrompt }),
	"agent.max_iterations":     intSetter(func(c *Config) *int { return &c.Agent.MaxIterations }),
}

// Keys returns the keys accepted by Set, sorted.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Set assigns a single value addressed by a dotted key such as "model.base_url".
// List values are comma separated.
func (c *Config) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(Keys(), ", "))
	}
	if err := set(c, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func stringSetter(field func(*Config) *string) setter {
	return func(c *Config, value string) error {
		*field(c) = value
		return nil
	}
}

func intSetter(field func(*Config) *int) setter {
	return func(c *Config, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func durationSetter(field func(*Config) *Duration) setter {
	return func(c *Config, value string) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*field(c) = Duration(d)
		return nil
	}
}

func listSetter(field func(*Config) *[]string) setter {
	return func(c *Config, value string) error {
		var list []string
		for item := range strings.SplitSeq(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
		*field(c) = list
		return nil
	}
}

// Redacted returns a copy safe to print, with secrets masked.
func (c *Config) Redacted() *Config {
	clone := *c
	if clone.Model.APIKey != "" {
		clone.Model.APIKey = "********"
	}
	if len(c.ToolServer.Headers) > 0 {
		clone.ToolServer.Headers = make(map[string]string, len(c.ToolServer.Headers))
		for k := range c.ToolServer.Headers {
			clone.ToolServer.Headers[k] = "********"
		}
	}
	return &clone
}
