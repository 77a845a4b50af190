// Package logging constructs the structured logger shared by both binaries.
package logging

import (
	"fmt"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls where and how verbosely the logger writes.
type Config struct {
	Level string // trace, debug, info, warn, error
	Path  string // file path; empty means stdout
	// Development enables caller/stacktrace annotations suited to local runs.
	Development bool
}

var levelMap = map[string]zapcore.Level{
	"trace": zapcore.DebugLevel, // zap has no trace level; fold into debug
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// New builds a zap.Logger from cfg. Unknown levels default to info.
func New(cfg Config) (*zap.Logger, error) {
	level, ok := levelMap[cfg.Level]
	if !ok {
		level = zapcore.InfoLevel
	}

	enabler := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= level
	})

	var sink zapcore.WriteSyncer
	if cfg.Path == "" {
		sink = zapcore.AddSync(newStdoutSyncer())
	} else {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    512,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, enabler),
	)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	return zap.New(core, opts...), nil
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02T15:04:05.000Z07:00"))
}

type stdoutSyncer struct{}

func newStdoutSyncer() *stdoutSyncer { return &stdoutSyncer{} }

func (s *stdoutSyncer) Write(p []byte) (int, error) { return fmt.Print(string(p)) }
func (s *stdoutSyncer) Sync() error                 { return nil }
