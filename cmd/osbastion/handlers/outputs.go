package handlers

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// output is one step output.
type output struct {
	Name  string
	Value string
}

// writeOutputs appends step outputs to the GitHub Actions output file.
// Multi-line values use the heredoc form. An empty path (not running in
// Actions) logs the outputs instead.
func writeOutputs(path string, outputs []output) error {
	if path == "" {
		for _, o := range outputs {
			logger.V(1).Info("step output", "name", o.Name, "value", o.Value)
		}
		return nil
	}

	var b strings.Builder
	for _, o := range outputs {
		if strings.ContainsAny(o.Value, "\r\n") {
			delim := "osbastion_" + uuid.NewString()
			fmt.Fprintf(&b, "%s<<%s\n%s\n%s\n", o.Name, delim, o.Value, delim)
			continue
		}
		fmt.Fprintf(&b, "%s=%s\n", o.Name, o.Value)
	}

	// #nosec G304
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open step output file: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write step outputs: %w", err)
	}
	return f.Close()
}
