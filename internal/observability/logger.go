package observability

import (
	"log/slog"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// NewLogger builds the process logger and installs it as the slog default.
// format is "json" or "text"; level is one of debug, info, warn or error and
// defaults to info.
func NewLogger(level, format string) *slog.Logger {
	logger := sharedobs.NewLogger(level, format).With("service", "climate-risk-api")
	slog.SetDefault(logger)
	return logger
}
