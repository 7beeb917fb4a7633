package temporal

import (
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// Adapter routes Temporal SDK logging into zerolog.
type Adapter struct {
	logger zerolog.Logger
}

var (
	_ log.Logger     = (*Adapter)(nil)
	_ log.WithLogger = (*Adapter)(nil)
)

func NewAdapter(logger zerolog.Logger) *Adapter {
	return &Adapter{
		logger: logger.With().Str("component", "temporal").Logger(),
	}
}

// pairs walks keyvals two at a time. A dangling key gets MISSING_VALUE and
// a non-string key is reported as INVALID_KEY.
func pairs(keyvals []interface{}, fn func(key string, val interface{})) {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "MISSING_VALUE")
	}
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = "INVALID_KEY"
		}
		fn(key, keyvals[i+1])
	}
}

func (a *Adapter) emit(e *zerolog.Event, msg string, keyvals []interface{}) {
	pairs(keyvals, func(key string, val interface{}) {
		e = e.Interface(key, val)
	})
	e.Msg(msg)
}

func (a *Adapter) Debug(msg string, keyvals ...interface{}) { a.emit(a.logger.Debug(), msg, keyvals) }
func (a *Adapter) Info(msg string, keyvals ...interface{})  { a.emit(a.logger.Info(), msg, keyvals) }
func (a *Adapter) Warn(msg string, keyvals ...interface{})  { a.emit(a.logger.Warn(), msg, keyvals) }
func (a *Adapter) Error(msg string, keyvals ...interface{}) { a.emit(a.logger.Error(), msg, keyvals) }

// With returns a logger carrying keyvals on every entry.
func (a *Adapter) With(keyvals ...interface{}) log.Logger {
	ctx := a.logger.With()
	pairs(keyvals, func(key string, val interface{}) {
		ctx = ctx.Interface(key, val)
	})
	return &Adapter{logger: ctx.Logger()}
}
