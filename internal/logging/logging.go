package logging

import (
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level and sink for the process logger.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

var (
	mu     sync.RWMutex
	logger = newLogger(zapcore.AddSync(os.Stdout), zapcore.InfoLevel)
)

func newLogger(w zapcore.WriteSyncer, lvl zapcore.Level) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, lvl)
	return zap.New(core)
}

// Setup replaces the process logger. A non-empty File rotates through lumberjack.
func Setup(o Options) error {
	lvl := zapcore.InfoLevel
	if o.Level != "" {
		if err := lvl.UnmarshalText([]byte(o.Level)); err != nil {
			return err
		}
	}
	var w zapcore.WriteSyncer = zapcore.AddSync(os.Stdout)
	if o.File != "" {
		w = zapcore.AddSync(&lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			Compress:   true,
		})
	}
	Replace(newLogger(w, lvl))
	return nil
}

// Replace swaps the process logger; tests use it with an observer core.
func Replace(l *zap.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// L returns the current logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Sync flushes buffered entries.
func Sync() { _ = L().Sync() }

func Log(level zapcore.Level, msg string, fields map[string]any) {
	if ce := L().Check(level, msg); ce != nil {
		ce.Write(toFields(fields)...)
	}
}

func toFields(m map[string]any) []zap.Field {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := m[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, m[k]))
	}
	return out
}

func Debug(msg string, fields map[string]any) { Log(zapcore.DebugLevel, msg, fields) }
func Info(msg string, fields map[string]any)  { Log(zapcore.InfoLevel, msg, fields) }
func Warn(msg string, fields map[string]any)  { Log(zapcore.WarnLevel, msg, fields) }
func Error(msg string, fields map[string]any) { Log(zapcore.ErrorLevel, msg, fields) }
