package log

import "github.com/rs/zerolog"

// Leveled adapts the diagnostics log to key/value style loggers such as
// retryablehttp.LeveledLogger.
type Leveled struct{}

func (Leveled) Error(msg string, kv ...any) { emit(zerolog.ErrorLevel, msg, kv) }
func (Leveled) Warn(msg string, kv ...any)  { emit(zerolog.WarnLevel, msg, kv) }
func (Leveled) Info(msg string, kv ...any)  { emit(zerolog.InfoLevel, msg, kv) }
func (Leveled) Debug(msg string, kv ...any) { emit(zerolog.DebugLevel, msg, kv) }

func emit(lv zerolog.Level, msg string, kv []any) {
	if !logReady {
		return
	}
	ev := diagLog.WithLevel(lv)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
