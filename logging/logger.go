// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logging

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how the process log is written. The zero
// value logs human-readable console output to stderr with no file
// rotation, at the level named by REACTOR_LOG_LEVEL (info if unset).
type Config struct {
	Level      string // debug, info, warn, error; empty falls back to REACTOR_LOG_LEVEL, then info
	Filename   string // if set, rotate logs into this file via lumberjack
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Async      bool // wrap the file sink in the double-buffered async writer
	Console    bool // also mirror output to stderr in human-readable form
}

const envLevel = "REACTOR_LOG_LEVEL"

func (c Config) level() zapcore.Level {
	lvl := c.Level
	if lvl == "" {
		lvl = os.Getenv(envLevel)
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// New builds a *zap.Logger per cfg. Callers that don't need file rotation
// or async buffering can just use zap.NewProduction() directly; New
// exists for the cases that do.
func New(cfg Config) (*zap.Logger, error) {
	level := cfg.level()
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core

	if cfg.Filename != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    nonZero(cfg.MaxSizeMB, 100),
			MaxBackups: nonZero(cfg.MaxBackups, 7),
			MaxAge:     nonZero(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
		var ws zapcore.WriteSyncer = zapcore.AddSync(lj)
		if cfg.Async {
			ws = newDoubleBufferSink(ws)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), ws, level))
	}

	if cfg.Console || cfg.Filename == "" {
		consoleCfg := encoderCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), level))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

var (
	defaultOnce sync.Once
	defaultPtr  atomic.Value // stores *zap.Logger
)

// L returns the process-wide default logger, built lazily from
// environment configuration (REACTOR_LOG_LEVEL) on first use.
func L() *zap.Logger {
	defaultOnce.Do(func() {
		log, err := New(Config{Console: true})
		if err != nil {
			log = zap.NewNop()
		}
		defaultPtr.Store(log)
	})
	return defaultPtr.Load().(*zap.Logger)
}

// SetDefault replaces the process-wide default logger returned by L.
func SetDefault(log *zap.Logger) {
	defaultOnce.Do(func() {})
	defaultPtr.Store(log)
}
