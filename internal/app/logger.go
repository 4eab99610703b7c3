package app

import (
	"log/slog"
	"os"

	"marketplace-dispatch/internal/logx"
)

// NewLogger returns the service JSON logger.
func NewLogger() logx.Logger {
	return logx.NewJSON(os.Stdout, slog.LevelInfo, "service-dispatch")
}
