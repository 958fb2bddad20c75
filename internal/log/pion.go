package log

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// PionFactory routes pion's scoped loggers into zerolog. Pion is chatty at
// debug level, so its scopes are capped at Level unless zerolog is lower.
type PionFactory struct {
	Logger zerolog.Logger
	Level  zerolog.Level
}

// NewPionFactory returns a factory writing under the "pion" component.
func NewPionFactory() *PionFactory {
	return &PionFactory{Logger: WithComponent("pion"), Level: zerolog.WarnLevel}
}

// NewLogger implements logging.LoggerFactory.
func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{log: f.Logger.With().Str("scope", scope).Logger().Level(f.Level)}
}

type pionLogger struct {
	log zerolog.Logger
}

func (l *pionLogger) Trace(msg string)                          { l.log.Trace().Msg(msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) { l.log.Trace().Msg(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Debug(msg string)                          { l.log.Debug().Msg(msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) { l.log.Debug().Msg(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Info(msg string)                           { l.log.Info().Msg(msg) }
func (l *pionLogger) Infof(format string, args ...interface{})  { l.log.Info().Msg(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Warn(msg string)                           { l.log.Warn().Msg(msg) }
func (l *pionLogger) Warnf(format string, args ...interface{})  { l.log.Warn().Msg(fmt.Sprintf(format, args...)) }
func (l *pionLogger) Error(msg string)                          { l.log.Error().Msg(msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) { l.log.Error().Msg(fmt.Sprintf(format, args...)) }
