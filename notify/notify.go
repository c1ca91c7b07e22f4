package notify

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
)

// Level represents the notice severity.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Notice is a transient, user-facing message.
type Notice struct {
	Level   Level  `json:"level"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
	// Code is a stable machine-readable key, e.g. "session_expired".
	Code string `json:"code,omitempty"`
}

// Notifier shows notices to the user. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notice)

func (f Func) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// Discard drops every notice.
type Discard struct{}

func (Discard) Notify(context.Context, Notice) {}

// Success shows a success notice.
func Success(ctx context.Context, n Notifier, message string) {
	n.Notify(ctx, Notice{Level: LevelSuccess, Message: message})
}

// Error shows an error notice.
func Error(ctx context.Context, n Notifier, message string) {
	n.Notify(ctx, Notice{Level: LevelError, Message: message})
}

// Warning shows a warning notice.
func Warning(ctx context.Context, n Notifier, message string) {
	n.Notify(ctx, Notice{Level: LevelWarning, Message: message})
}

// Info shows an info notice.
func Info(ctx context.Context, n Notifier, message string) {
	n.Notify(ctx, Notice{Level: LevelInfo, Message: message})
}

// LogNotifier writes notices to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier. A nil logger discards.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notice) {
	level := slog.LevelInfo
	switch n.Level {
	case LevelError:
		level = slog.LevelError
	case LevelWarning:
		level = slog.LevelWarn
	}
	attrs := []any{"level_name", string(n.Level)}
	if n.Title != "" {
		attrs = append(attrs, "title", n.Title)
	}
	if n.Code != "" {
		attrs = append(attrs, "code", n.Code)
	}
	l.logger.Log(ctx, level, n.Message, attrs...)
}

// ChannelNotifier buffers notices on a channel. When the buffer is full the
// notice is dropped and counted.
type ChannelNotifier struct {
	ch      chan Notice
	dropped atomic.Uint64
}

// NewChannelNotifier returns a ChannelNotifier with the given buffer size.
func NewChannelNotifier(buffer int) *ChannelNotifier {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelNotifier{ch: make(chan Notice, buffer)}
}

func (c *ChannelNotifier) Notify(_ context.Context, n Notice) {
	select {
	case c.ch <- n:
	default:
		c.dropped.Add(1)
	}
}

// Notices returns the receive side of the buffer.
func (c *ChannelNotifier) Notices() <-chan Notice { return c.ch }

// Drain returns every buffered notice without blocking.
func (c *ChannelNotifier) Drain() []Notice {
	var out []Notice
	for {
		select {
		case n := <-c.ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

// Dropped returns how many notices were discarded on a full buffer.
func (c *ChannelNotifier) Dropped() uint64 { return c.dropped.Load() }

// Multi fans a notice out to every non-nil notifier in order.
func Multi(notifiers ...Notifier) Notifier {
	var kept []Notifier
	for _, n := range notifiers {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return multi(kept)
}

type multi []Notifier

func (m multi) Notify(ctx context.Context, n Notice) {
	for _, target := range m {
		target.Notify(ctx, n)
	}
}
