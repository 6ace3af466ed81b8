package mint

import (
	"fmt"
	"log/slog"
	"os"
)

func setupLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func (m *Mint) logInfof(format string, v ...any) {
	m.logger.Info(fmt.Sprintf(format, v...))
}

func (m *Mint) logErrorf(format string, v ...any) {
	m.logger.Error(fmt.Sprintf(format, v...))
}

func (m *Mint) logDebugf(format string, v ...any) {
	m.logger.Debug(fmt.Sprintf(format, v...))
}
