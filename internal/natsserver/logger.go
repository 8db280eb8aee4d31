package natsserver

import "github.com/rs/zerolog"

// busLogger routes nats-server logging into zerolog. Notices are demoted
// to debug so the embedded bus stays quiet at the daemon's default level,
// and fatal errors are logged without exiting the process.
type busLogger struct {
	logger zerolog.Logger
}

func newBusLogger(l zerolog.Logger) busLogger {
	return busLogger{logger: l.With().Str("component", "nats").Logger()}
}

func (b busLogger) logf(level zerolog.Level, format string, v []any) {
	b.logger.WithLevel(level).Msgf(format, v...)
}

func (b busLogger) Noticef(format string, v ...any) { b.logf(zerolog.DebugLevel, format, v) }
func (b busLogger) Warnf(format string, v ...any)   { b.logf(zerolog.WarnLevel, format, v) }
func (b busLogger) Fatalf(format string, v ...any)  { b.logf(zerolog.ErrorLevel, format, v) }
func (b busLogger) Errorf(format string, v ...any)  { b.logf(zerolog.ErrorLevel, format, v) }
func (b busLogger) Debugf(format string, v ...any)  { b.logf(zerolog.DebugLevel, format, v) }
func (b busLogger) Tracef(format string, v ...any)  { b.logf(zerolog.TraceLevel, format, v) }
