package logger

import (
	"fmt"
	"log/slog"

	"github.com/charmbracelet/lipgloss"
)

// StyledLogger wraps slog.Logger with lipgloss-coloured formatting methods
// for the handful of values worth highlighting on a TTY: upstream identity,
// permit/timeout phases, and request counts.
type StyledLogger struct {
	logger *slog.Logger
}

var (
	upstreamStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	countStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	phaseStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	rejectStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// NewStyledLogger wraps an existing slog.Logger.
func NewStyledLogger(logger *slog.Logger) *StyledLogger {
	return &StyledLogger{logger: logger}
}

func (sl *StyledLogger) Debug(msg string, args ...any) { sl.logger.Debug(msg, args...) }
func (sl *StyledLogger) Info(msg string, args ...any)  { sl.logger.Info(msg, args...) }
func (sl *StyledLogger) Warn(msg string, args ...any)  { sl.logger.Warn(msg, args...) }
func (sl *StyledLogger) Error(msg string, args ...any) { sl.logger.Error(msg, args...) }

// InfoWithUpstream highlights the upstream identity (host:port) in an info line.
func (sl *StyledLogger) InfoWithUpstream(msg, upstream string, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, upstreamStyle.Render(upstream)), args...)
}

// WarnWithUpstream highlights the upstream identity in a warn line.
func (sl *StyledLogger) WarnWithUpstream(msg, upstream string, args ...any) {
	sl.logger.Warn(fmt.Sprintf("%s %s", msg, upstreamStyle.Render(upstream)), args...)
}

// ErrorWithUpstream highlights the upstream identity in an error line.
func (sl *StyledLogger) ErrorWithUpstream(msg, upstream string, args ...any) {
	sl.logger.Error(fmt.Sprintf("%s %s", msg, upstreamStyle.Render(upstream)), args...)
}

// WarnTimeout highlights which phase (connect/read/write/total) timed out.
func (sl *StyledLogger) WarnTimeout(msg, phase, upstream string, args ...any) {
	sl.logger.Warn(fmt.Sprintf("%s %s %s", msg, phaseStyle.Render(phase), upstreamStyle.Render(upstream)), args...)
}

// WarnRejected highlights a request rejected for backpressure (permit exhaustion).
func (sl *StyledLogger) WarnRejected(msg, reason string, args ...any) {
	sl.logger.Warn(fmt.Sprintf("%s %s", msg, rejectStyle.Render(reason)), args...)
}

// InfoWithCount highlights an integer count (e.g. active permits, upstreams loaded).
func (sl *StyledLogger) InfoWithCount(msg string, count int64, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, countStyle.Render(fmt.Sprintf("%d", count))), args...)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct access is needed.
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes.
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return &StyledLogger{logger: sl.logger.With(args...)}
}

// With creates a new StyledLogger with additional key-value pairs.
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{logger: sl.logger.With(args...)}
}

// NewWithStyle creates both a regular logger and a styled logger sharing the
// same handler chain.
func NewWithStyle(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return logger, NewStyledLogger(logger), cleanup, nil
}
