package daemon

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"newscast/internal/logging"
)

// scheduleParser accepts the five-field cron syntax plus descriptors such
// as "@every 30m". config validation parses with the same options.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// cronLogger adapts slog to cron.Logger. cron's info messages are chatty
// scheduling traces, so they go to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{logging.Error(err)}, keysAndValues...)
	l.logger.Warn("cron: "+msg, args...)
}
