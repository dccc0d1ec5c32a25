package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a textual level ("debug", "info", ...) into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO", "":
		return LevelInfo, nil
	case "warn", "WARN", "warning":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// LogEntry is the structured log entry delivered in channel mode.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Subsystem string
	Message   string
	Err       error
}

type mode int

const (
	modeCLI mode = iota
	modeChannel
)

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	logChannel    chan LogEntry
	currentMode   mode
	channelLevel  LogLevel
)

const defaultChannelBufferSize = 2048

// InitForCLI initializes human-readable logging. When output is a terminal the
// colored tint handler is used, otherwise plain slog text.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	var handler slog.Handler
	if isTerminal(output) {
		handler = tint.NewHandler(output, &tint.Options{
			Level:      filterLevel.SlogLevel(),
			TimeFormat: time.TimeOnly,
		})
	} else {
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: filterLevel.SlogLevel()})
	}
	install(modeCLI, slog.New(handler), nil, filterLevel)
}

// InitForJSON initializes JSON logging, one object per line.
func InitForJSON(filterLevel LogLevel, output io.Writer) {
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: filterLevel.SlogLevel()})
	install(modeCLI, slog.New(handler), nil, filterLevel)
}

// InitForChannel routes log entries to the returned channel instead of a writer.
// Entries are dropped to stderr when the consumer falls behind.
func InitForChannel(filterLevel LogLevel, bufferSize int) <-chan LogEntry {
	if bufferSize <= 0 {
		bufferSize = defaultChannelBufferSize
	}
	ch := make(chan LogEntry, bufferSize)
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: filterLevel.SlogLevel()})
	install(modeChannel, slog.New(handler), ch, filterLevel)
	return ch
}

// CloseChannel closes the channel created by InitForChannel and reverts to
// stderr logging.
func CloseChannel() {
	mu.Lock()
	defer mu.Unlock()
	if logChannel != nil {
		close(logChannel)
		logChannel = nil
	}
	currentMode = modeCLI
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: channelLevel.SlogLevel()}))
}

func install(m mode, logger *slog.Logger, ch chan LogEntry, level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	if logChannel != nil && logChannel != ch {
		close(logChannel)
	}
	currentMode = m
	defaultLogger = logger
	logChannel = ch
	channelLevel = level
	slog.SetDefault(logger)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()

	if currentMode == modeChannel {
		if level < channelLevel {
			return
		}
	} else if defaultLogger == nil || !defaultLogger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}
	now := time.Now()

	if currentMode == modeChannel {
		if logChannel == nil {
			fmt.Fprintf(os.Stderr, "[LOGGING_CRITICAL] channel mode active but channel is nil. Log: %s [%s] %s\n", now.Format(time.RFC3339), level, msg)
			return
		}
		select {
		case logChannel <- LogEntry{Timestamp: now, Level: level, Subsystem: subsystem, Message: msg, Err: err}:
		default:
			fmt.Fprintf(os.Stderr, "[LOGGING_CRITICAL] log channel full. Dropping: %s [%s] %s\n", now.Format(time.RFC3339), level, msg)
		}
		return
	}

	attrs := []slog.Attr{slog.String("subsystem", subsystem)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	defaultLogger.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}
