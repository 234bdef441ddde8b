package icd11

import (
	"fmt"

	"github.com/rs/zerolog"
)

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.emit(l.logger.Error(), msg, kv) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.emit(l.logger.Warn(), msg, kv) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.emit(l.logger.Debug(), msg, kv) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.emit(l.logger.Trace(), msg, kv) }

func (l leveledLogger) emit(evt *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		switch v := kv[i+1].(type) {
		case error:
			evt = evt.AnErr(key, v)
		case fmt.Stringer:
			evt = evt.Str(key, redactValue(key, v.String()))
		default:
			evt = evt.Interface(key, v)
		}
	}
	evt.Msg(msg)
}

// retryablehttp logs the full request URL; query strings carry search terms.
func redactValue(key, v string) string {
	if key == "url" {
		return redact(v)
	}
	return v
}
