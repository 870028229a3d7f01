package adapters

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// PrintLoggerAdapter implements LoggerAdapter using standard log package
type PrintLoggerAdapter struct {
	level  LogLevel
	logger *log.Logger
}

// NewPrintLoggerAdapter creates a new print logger with the specified level
func NewPrintLoggerAdapter(level LogLevel) *PrintLoggerAdapter {
	return &PrintLoggerAdapter{level: level, logger: log.New(os.Stderr, "", log.LstdFlags)}
}

// WithOutput returns a copy of p writing to logger.
func (p *PrintLoggerAdapter) WithOutput(logger *log.Logger) *PrintLoggerAdapter {
	return &PrintLoggerAdapter{level: p.level, logger: logger}
}

func (p *PrintLoggerAdapter) shouldLog(level LogLevel) bool {
	return levelRank[level] >= levelRank[p.level]
}

func (p *PrintLoggerAdapter) Debug(message string, args ...any) {
	if p.shouldLog(LogLevelDebug) {
		p.logger.Print("[DEBUG] [Pulse] " + formatMessage(message, args))
	}
}

func (p *PrintLoggerAdapter) Info(message string, args ...any) {
	if p.shouldLog(LogLevelInfo) {
		p.logger.Print("[INFO] [Pulse] " + formatMessage(message, args))
	}
}

func (p *PrintLoggerAdapter) Warn(message string, args ...any) {
	if p.shouldLog(LogLevelWarn) {
		p.logger.Print("[WARN] [Pulse] " + formatMessage(message, args))
	}
}

func (p *PrintLoggerAdapter) Error(message string, args ...any) {
	if p.shouldLog(LogLevelError) {
		p.logger.Print("[ERROR] [Pulse] " + formatMessage(message, args))
	}
}

// formatMessage applies printf formatting. A trailing map[string]any that no
// verb consumes is appended as sorted key=value pairs.
func formatMessage(message string, args []any) string {
	n := len(args)
	if n == 0 {
		return message
	}
	fields, ok := args[n-1].(map[string]any)
	if !ok || countVerbs(message) >= n {
		return fmt.Sprintf(message, args...)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf(message, args[:n-1]...))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func countVerbs(format string) int {
	count := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			i++
			continue
		}
		count++
	}
	return count
}
