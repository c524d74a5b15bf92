package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/charmbracelet/lipgloss"
)

type Config struct {
	Level      string
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	FileOutput bool
	PrettyLogs bool
}

const (
	DefaultLogOutputName = "ravel.log"

	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarn    = "warn"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

func New(cfg *Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.Level)

	var cleanupFuncs []func()
	var handlers []slog.Handler

	if cfg.PrettyLogs && shouldUseColors() {
		handlers = append(handlers, newStyledHandler(os.Stdout, level))
	} else {
		handlers = append(handlers, createJSONHandler(os.Stdout, level))
	}

	if cfg.FileOutput {
		fileHandler, cleanup, err := createFileHandler(cfg, level)
		if err != nil {
			return nil, nil, err
		}
		cleanupFuncs = append(cleanupFuncs, cleanup)
		handlers = append(handlers, fileHandler)
	}

	var logger *slog.Logger
	if len(handlers) == 1 {
		logger = slog.New(handlers[0])
	} else {
		logger = slog.New(&simpleMultiHandler{handlers: handlers})
	}

	cleanup := func() {
		for _, fn := range cleanupFuncs {
			fn()
		}
	}

	return logger, cleanup, nil
}

// shouldUseColors reports whether stdout is a terminal that can render ANSI
// colour, mirroring the teacher's TTY-detection gate for its pretty handler.
func shouldUseColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func createJSONHandler(w *os.File, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		AddSource:   false,
		ReplaceAttr: fastReplaceAttr,
	})
}

func createFileHandler(cfg *Config, level slog.Level) (slog.Handler, func(), error) {
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, DefaultLogOutputName),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}

	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{
		Level:       level,
		AddSource:   false,
		ReplaceAttr: fastReplaceAttr,
	})

	cleanup := func() {
		_ = rotator.Close()
	}

	return handler, cleanup, nil
}

// fastReplaceAttr rewrites the time key and strips any stray ANSI codes that
// end up in a string value (e.g. an upstream's raw response line).
func fastReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		return slog.Attr{
			Key:   "timestamp",
			Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05")),
		}
	default:
		switch a.Value.Kind() {
		case slog.KindString:
			str := a.Value.String()
			if strings.ContainsRune(str, '\x1b') {
				return slog.Attr{Key: a.Key, Value: slog.StringValue(stripAnsiCodes(str))}
			}
		case slog.KindAny:
		default:
			return slog.Attr{Key: a.Key, Value: slog.StringValue(fmt.Sprintf("%v", a.Value.Any()))}
		}
	}
	return a
}

// simpleMultiHandler sends logs to multiple handlers without dual processing.
type simpleMultiHandler struct {
	handlers []slog.Handler
}

func (h *simpleMultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *simpleMultiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *simpleMultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithAttrs(attrs)
	}
	return &simpleMultiHandler{handlers: newHandlers}
}

func (h *simpleMultiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithGroup(name)
	}
	return &simpleMultiHandler{handlers: newHandlers}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn, LogLevelWarning:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// styledHandler colours the message text by level before handing the record
// to a plain slog.TextHandler, replacing the teacher's pterm-backed terminal
// handler (pterm was never declared in the teacher's own go.mod).
type styledHandler struct {
	slog.Handler
}

func newStyledHandler(w *os.File, level slog.Level) slog.Handler {
	return &styledHandler{
		Handler: slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: false,
			// The message carries the level colouring, so it is exempt from
			// fastReplaceAttr's ANSI stripping.
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if len(groups) == 0 && a.Key == slog.MessageKey {
					return a
				}
				return fastReplaceAttr(groups, a)
			},
		}),
	}
}

func (h *styledHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Message = styleForLevel(r.Level).Render(r.Message)
	return h.Handler.Handle(ctx, r)
}

func (h *styledHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &styledHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *styledHandler) WithGroup(name string) slog.Handler {
	return &styledHandler{Handler: h.Handler.WithGroup(name)}
}

var (
	levelStyleDebug = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	levelStyleInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	levelStyleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	levelStyleError = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func styleForLevel(level slog.Level) lipgloss.Style {
	switch {
	case level >= slog.LevelError:
		return levelStyleError
	case level >= slog.LevelWarn:
		return levelStyleWarn
	case level >= slog.LevelInfo:
		return levelStyleInfo
	default:
		return levelStyleDebug
	}
}
