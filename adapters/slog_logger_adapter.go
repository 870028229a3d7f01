package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// SlogLoggerAdapter routes SDK logs to a structured slog.Logger. A trailing
// map[string]any argument is emitted as attributes instead of being
// formatted into the message.
type SlogLoggerAdapter struct {
	logger *slog.Logger
}

var _ LoggerAdapter = (*SlogLoggerAdapter)(nil)

// NewSlogLoggerAdapter wraps logger, tagging records with component=pulse.
// A nil logger selects slog.Default().
func NewSlogLoggerAdapter(logger *slog.Logger) *SlogLoggerAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLoggerAdapter{logger: logger.With(slog.String("component", "pulse"))}
}

func (s *SlogLoggerAdapter) Debug(message string, args ...any) {
	s.log(slog.LevelDebug, message, args)
}

func (s *SlogLoggerAdapter) Info(message string, args ...any) {
	s.log(slog.LevelInfo, message, args)
}

func (s *SlogLoggerAdapter) Warn(message string, args ...any) {
	s.log(slog.LevelWarn, message, args)
}

func (s *SlogLoggerAdapter) Error(message string, args ...any) {
	s.log(slog.LevelError, message, args)
}

func (s *SlogLoggerAdapter) log(level slog.Level, message string, args []any) {
	ctx := context.Background()
	if !s.logger.Enabled(ctx, level) {
		return
	}

	var attrs []slog.Attr
	if n := len(args); n > 0 {
		if fields, ok := args[n-1].(map[string]any); ok {
			args = args[:n-1]
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				attrs = append(attrs, slog.Any(k, fields[k]))
			}
		}
	}
	if len(args) > 0 && strings.Contains(message, "%") {
		message = fmt.Sprintf(message, args...)
	} else if len(args) > 0 {
		message = strings.TrimSpace(fmt.Sprintln(append([]any{message}, args...)...))
	}
	s.logger.LogAttrs(ctx, level, message, attrs...)
}
