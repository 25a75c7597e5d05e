package logging

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	impl struct {
		name  string
		level AtomicLevel
		inUTC bool

		appenders []Appender
	}

	// LogEntry embeds a zapcore Entry and slice of Fields.
	LogEntry struct {
		zapcore.Entry
		fields []zapcore.Field
	}
)

// Number of frames between the public logging method and `getCaller`: getCaller, newLogEntry,
// emit/emitw, the public method.
const skipToLogCaller = 4

func (imp *impl) newLogEntry(logLevel Level, msg string) *LogEntry {
	ret := &LogEntry{}
	ret.Time = time.Now()
	if imp.inUTC {
		ret.Time = ret.Time.UTC()
	}
	ret.LoggerName = imp.name
	ret.Caller = getCaller()
	ret.Level = logLevel.AsZap()
	ret.Message = msg
	return ret
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}

	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var errs []error
	for _, appender := range imp.appenders {
		if err := appender.Sync(); err != nil {
			errs = append(errs, err)
		}
	}

	return multierr.Combine(errs...)
}

func (imp *impl) shouldLog(ctx context.Context, logLevel Level) bool {
	if GlobalLogLevel.Get() == DEBUG {
		return true
	}
	if ctx != nil && IsDebugMode(ctx) {
		return true
	}

	return logLevel >= imp.level.Get()
}

func (imp *impl) write(entry *LogEntry) {
	for _, appender := range imp.appenders {
		if err := appender.Write(entry.Entry, entry.fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

// emit writes an already formatted message.
func (imp *impl) emit(ctx context.Context, logLevel Level, msg string) {
	if !imp.shouldLog(ctx, logLevel) {
		return
	}
	imp.write(imp.newLogEntry(logLevel, msg))
}

// emitw writes `msg` with `keysAndValues` turned into structured fields. Odd elements are keys,
// the element that follows each key is its value.
func (imp *impl) emitw(ctx context.Context, logLevel Level, msg string, keysAndValues ...interface{}) {
	if !imp.shouldLog(ctx, logLevel) {
		return
	}
	entry := imp.newLogEntry(logLevel, msg)
	entry.fields = make([]zapcore.Field, 0, len(keysAndValues)/2)
	for keyIdx := 0; keyIdx < len(keysAndValues); keyIdx += 2 {
		var keyStr string
		if stringer, ok := keysAndValues[keyIdx].(fmt.Stringer); ok {
			keyStr = stringer.String()
		} else {
			keyStr = fmt.Sprintf("%v", keysAndValues[keyIdx])
		}

		if keyIdx+1 < len(keysAndValues) {
			entry.fields = append(entry.fields, zap.Any(keyStr, keysAndValues[keyIdx+1]))
		} else {
			entry.fields = append(entry.fields, zap.String(keyStr, "unpaired log key"))
		}
	}
	imp.write(entry)
}

func (imp *impl) Debug(args ...interface{}) {
	imp.emit(nil, DEBUG, fmt.Sprint(args...))
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.emit(nil, DEBUG, fmt.Sprintf(template, args...))
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.emitw(nil, DEBUG, msg, keysAndValues...)
}

func (imp *impl) CDebug(ctx context.Context, args ...interface{}) {
	imp.emit(ctx, DEBUG, fmt.Sprint(args...))
}

func (imp *impl) CDebugf(ctx context.Context, template string, args ...interface{}) {
	imp.emit(ctx, DEBUG, fmt.Sprintf(template, args...))
}

func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	imp.emitw(ctx, DEBUG, msg, keysAndValues...)
}

func (imp *impl) Info(args ...interface{}) {
	imp.emit(nil, INFO, fmt.Sprint(args...))
}

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.emit(nil, INFO, fmt.Sprintf(template, args...))
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.emitw(nil, INFO, msg, keysAndValues...)
}

func (imp *impl) Warn(args ...interface{}) {
	imp.emit(nil, WARN, fmt.Sprint(args...))
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.emit(nil, WARN, fmt.Sprintf(template, args...))
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.emitw(nil, WARN, msg, keysAndValues...)
}

func (imp *impl) Error(args ...interface{}) {
	imp.emit(nil, ERROR, fmt.Sprint(args...))
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.emit(nil, ERROR, fmt.Sprintf(template, args...))
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.emitw(nil, ERROR, msg, keysAndValues...)
}

func getCaller() zapcore.EntryCaller {
	var ok bool
	var entryCaller zapcore.EntryCaller
	entryCaller.PC, entryCaller.File, entryCaller.Line, ok = runtime.Caller(skipToLogCaller)
	if !ok {
		return entryCaller
	}
	entryCaller.Defined = true

	if runtimeFunc := runtime.FuncForPC(entryCaller.PC); runtimeFunc != nil {
		entryCaller.Function = runtimeFunc.Name()
	}

	return entryCaller
}
