package handlers

import (
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	"github.com/imamik/osbastion/internal/provisioning"
)

// logger is the CLI-wide logger. SetupLogging replaces it.
var logger = newLogger(os.Stderr, 0)

// SetupLogging directs log output to w. Messages logged at V(n) are shown
// when n <= verbosity.
func SetupLogging(w io.Writer, verbosity int) {
	logger = newLogger(w, verbosity)
}

func newLogger(w io.Writer, verbosity int) logr.Logger {
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(w, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(w, args)
	}, funcr.Options{
		LogTimestamp:    true,
		TimestampFormat: "15:04:05",
		Verbosity:       verbosity,
	})
}

func newObserver(bastionName string) provisioning.Observer {
	return provisioning.NewObserver(logger.WithName("lifecycle")).
		WithFields(map[string]string{"bastion": bastionName})
}
