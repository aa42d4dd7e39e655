package emu

import (
	"context"
	"log/slog"
)

// LevelTrace is the level of per-instruction trace records. A handler
// whose minimum level is LevelTrace shows traces while filtering
// ordinary Info output.
const LevelTrace slog.Level = slog.LevelInfo + 1

// Trace logs a per-instruction event at LevelTrace.
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}
