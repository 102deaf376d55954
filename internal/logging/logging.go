// Package logging is the diagnostic log of the ai command: leveled,
// structured messages on stderr, encoded by zap.
//
// Nothing below Warn is written unless --verbose lowers the level. The HTTP
// round tripper in http.go traces provider traffic at Debug with secrets
// redacted.
//
//	logging.Debug("dispatching request", logging.Fields{
//	    "backend": "remote-openai",
//	    "model":   "gpt-4o",
//	})
package logging

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelNone disables output.
	LevelNone
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// zap has no "off" level; nothing here logs at Fatal, so Fatal silences.
func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	}
	return zapcore.FatalLevel
}

// Format selects the encoder.
type Format int

const (
	// FormatText is zap's console encoder with fields folded into the
	// message as key=value pairs.
	FormatText Format = iota
	// FormatJSON is one JSON object per line, fields nested under "fields".
	FormatJSON
)

// Fields are structured values attached to one message.
type Fields map[string]any

// Options configures New.
type Options struct {
	Level  Level
	Format Format
	Output io.Writer
}

// Logger writes leveled messages through a zap core.
type Logger struct {
	mu     sync.Mutex
	level  zap.AtomicLevel
	format Format
	zl     *zap.Logger
}

// DefaultLogger backs the package-level functions.
var DefaultLogger = New(Options{Level: LevelWarn, Output: os.Stderr})

// New builds a logger. A nil Output means stderr.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	cfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	var enc zapcore.Encoder
	if opts.Format == FormatJSON {
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	l := &Logger{level: zap.NewAtomicLevelAt(opts.Level.zapLevel()), format: opts.Format}
	l.zl = zap.New(zapcore.NewCore(enc, zapcore.AddSync(out), l.level))
	return l
}

// SetLevel changes the threshold; safe for concurrent use.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.write(zapcore.DebugLevel, msg, nil, fields) }
func (l *Logger) Info(msg string, fields ...Fields)  { l.write(zapcore.InfoLevel, msg, nil, fields) }
func (l *Logger) Warn(msg string, fields ...Fields)  { l.write(zapcore.WarnLevel, msg, nil, fields) }

// Error logs msg with err, which may be nil.
func (l *Logger) Error(msg string, err error, fields ...Fields) {
	l.write(zapcore.ErrorLevel, msg, err, fields)
}

func (l *Logger) write(level zapcore.Level, msg string, err error, fields []Fields) {
	if !l.level.Enabled(level) {
		return
	}
	merged := Fields{}
	for _, f := range fields {
		maps.Copy(merged, f)
	}
	keys := slices.Sorted(maps.Keys(merged))

	var zf []zap.Field
	if l.format == FormatJSON {
		if err != nil {
			zf = append(zf, zap.String("error", err.Error()))
		}
		if len(keys) > 0 {
			zf = append(zf, zap.Namespace("fields"))
			for _, k := range keys {
				zf = append(zf, zap.Any(k, merged[k]))
			}
		}
	} else {
		var sb strings.Builder
		sb.WriteString(msg)
		if err != nil {
			fmt.Fprintf(&sb, " error=%q", err.Error())
		}
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, merged[k])
		}
		msg = sb.String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if ce := l.zl.Check(level, msg); ce != nil {
		ce.Write(zf...)
	}
}

func Debug(msg string, fields ...Fields)            { DefaultLogger.Debug(msg, fields...) }
func Info(msg string, fields ...Fields)             { DefaultLogger.Info(msg, fields...) }
func Warn(msg string, fields ...Fields)             { DefaultLogger.Warn(msg, fields...) }
func Error(msg string, err error, fields ...Fields) { DefaultLogger.Error(msg, err, fields...) }

// SetLevel changes the DefaultLogger threshold.
func SetLevel(level Level) { DefaultLogger.SetLevel(level) }
