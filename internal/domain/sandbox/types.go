package sandbox

import (
	"context"
	"time"
)

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration // 0 = wait for the snippet to settle
	MaxCallStackSize int           // 0 = goja default
	ConsoleLimit     int           // entries kept per execution
	ViewportWidth    int
	ViewportHeight   int
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		MaxCallStackSize: 1024,
		ConsoleLimit:     200,
		ViewportWidth:    960,
		ViewportHeight:   600,
	}
}

// Result holds the outcome of one execution
type Result struct {
	OK           bool          `json:"ok"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Err          error         `json:"-"`
	Console      []LogEntry    `json:"console,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Executor runs sanitized snippet code. Every fault is reported in the
// Result; Execute itself never fails.
type Executor interface {
	Execute(ctx context.Context, code string) Result
}
