package reload

import (
	"strings"

	"github.com/vango-dev/hotreload/internal/errors"
)

// SignalNames lists the signal names NewSignal accepts, without the SIG
// prefix.
var SignalNames = []string{"USR1", "USR2", "HUP", "TERM", "INT"}

func normalizeSignalName(name string) (string, error) {
	name = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG")
	if name == "" {
		return "USR1", nil
	}
	for _, known := range SignalNames {
		if name == known {
			return name, nil
		}
	}
	return "", errors.New("E121").
		WithDetail("Unknown reload signal " + name + ".").
		WithSuggestion("Use one of " + strings.Join(SignalNames, ", ") + ".")
}
