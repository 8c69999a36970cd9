// Package useragent identifies deskagent to the model endpoint and to remote tool servers.
package useragent

import (
	"fmt"
	"runtime"

	"github.com/wincontrol/deskagent/pkg/version"
)

var Header = fmt.Sprintf("Deskagent/%s (%s; %s)", version.Version, runtime.GOOS, runtime.GOARCH)
