package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/platinummonkey/coursetrail/pkg/contextkeys"
)

// LogLevel is the minimum severity a Logger emits
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levels = [...]struct {
	name string
	slog slog.Level
}{
	DebugLevel: {"DEBUG", slog.LevelDebug},
	InfoLevel:  {"INFO", slog.LevelInfo},
	WarnLevel:  {"WARN", slog.LevelWarn},
	ErrorLevel: {"ERROR", slog.LevelError},
}

func (l LogLevel) valid() bool { return l >= DebugLevel && l <= ErrorLevel }

func (l LogLevel) String() string {
	if !l.valid() {
		l = InfoLevel
	}
	return levels[l].name
}

func (l LogLevel) slogLevel() slog.Level {
	if !l.valid() {
		l = InfoLevel
	}
	return levels[l].slog
}

// ParseLogLevel maps a level name to a LogLevel, defaulting to InfoLevel
func ParseLogLevel(name string) LogLevel {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "WARNING" {
		return WarnLevel
	}
	for l := range levels {
		if levels[l].name == name {
			return LogLevel(l)
		}
	}
	return InfoLevel
}

// Logger writes JSON lines through slog. Field-adding methods return a new
// Logger and never mutate the receiver.
type Logger struct {
	logger *slog.Logger
	level  LogLevel
}

// NewLogger logs at level and above to output, or stdout when output is nil
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	h := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level.slogLevel()})
	return &Logger{logger: slog.New(h), level: level}
}

// NopLogger discards everything
func NopLogger() *Logger {
	return NewLogger(ErrorLevel, io.Discard)
}

func (l *Logger) with(args ...interface{}) *Logger {
	return &Logger{logger: l.logger.With(args...), level: l.level}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(key, value)
}

// WithFields adds fields in key order so output is stable
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return l.with(args...)
}

// WithError adds err under "error"; a nil err returns l unchanged
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

func (l *Logger) Debug(msg string) { l.logger.Debug(msg) }
func (l *Logger) Info(msg string)  { l.logger.Info(msg) }
func (l *Logger) Warn(msg string)  { l.logger.Warn(msg) }
func (l *Logger) Error(msg string) { l.logger.Error(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }

// WithLogger stores logger on ctx
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return contextkeys.WithLogger(ctx, logger)
}

func loggerFrom(ctx context.Context) (*Logger, bool) {
	l, ok := ctx.Value(contextkeys.LoggerKey).(*Logger)
	return l, ok
}

// GetLogger returns the logger stored on ctx, or an info-level stdout logger
func GetLogger(ctx context.Context) *Logger {
	if l, ok := loggerFrom(ctx); ok {
		return l
	}
	return NewLogger(InfoLevel, os.Stdout)
}

// FromContext is GetLogger tagged with the request id and active trace
func FromContext(ctx context.Context) *Logger {
	return annotate(ctx, GetLogger(ctx))
}

// FromContextOr is FromContext with fallback used when ctx carries no logger
func FromContextOr(ctx context.Context, fallback *Logger) *Logger {
	if l, ok := loggerFrom(ctx); ok {
		fallback = l
	}
	return annotate(ctx, fallback)
}

func annotate(ctx context.Context, l *Logger) *Logger {
	if id := contextkeys.GetRequestID(ctx); id != "" {
		l = l.WithField("request_id", id)
	}
	return UpdateLoggerWithTraceContext(ctx, l)
}
