package environment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wincontrol/deskagent/pkg/paths"
)

// ReadEnvFile parses KEY=VALUE lines. Blank lines and lines starting with # are skipped.
func ReadEnvFile(path string) (MapProvider, error) {
	path, err := expandTildePath(path)
	if err != nil {
		return nil, err
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	values := MapProvider{}
	for line := range strings.SplitSeq(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid env file line: %s", line)
		}

		v = strings.TrimSpace(v)
		if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
			v = v[1 : len(v)-1]
		}
		values[strings.TrimSpace(k)] = v
	}

	return values, nil
}

func expandTildePath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}

	homeDir := paths.GetHomeDir()
	if homeDir == "" {
		return "", fmt.Errorf("failed to get user home directory")
	}

	if p == "~" {
		return homeDir, nil
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return filepath.Join(homeDir, rest), nil
	}

	return "", fmt.Errorf("unsupported tilde expansion format: %s", p)
}
