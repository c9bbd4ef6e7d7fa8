/*
Copyright 2026 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
)

// Structured logging is opt-in: until Init sees an explicit --log-fmt
// flag, the S-suffixed functions degrade to glog so existing log files
// keep their format.
var (
	logFormat string
	logLevel  string

	structuredLoggingEnabled atomic.Bool
)

// Init switches the package to structured output if the log-fmt flag
// was set on the command line. It must be called after fs is parsed.
func Init(fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	if f := fs.Lookup("log-fmt"); f == nil || !f.Changed {
		return nil
	}

	level, err := slogLevel(logLevel)
	if err != nil {
		return err
	}
	handler, err := slogHandler(logFormat, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(handler))
	structuredLoggingEnabled.Store(true)
	return nil
}

func slogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log-level %q: expected debug, info, warn, or error", s)
}

func slogHandler(format string, opts *slog.HandlerOptions) (slog.Handler, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return slog.NewJSONHandler(os.Stderr, opts), nil
	case "logfmt":
		return slog.NewTextHandler(os.Stderr, opts), nil
	}
	return nil, fmt.Errorf("invalid log-fmt %q: expected json or logfmt", format)
}

// Enabled reports whether a record at level would be emitted. In glog
// mode, debug maps onto glog verbosity 1 and everything else is on.
func Enabled(level slog.Level) bool {
	if structuredLoggingEnabled.Load() {
		return slog.Default().Enabled(context.Background(), level)
	}
	if level < slog.LevelInfo {
		return bool(glog.V(glog.Level(1)))
	}
	return true
}

// InfoS logs msg and key/value pairs at the Info level.
func InfoS(msg string, args ...any) { emit(slog.LevelInfo, msg, args...) }

// WarnS logs msg and key/value pairs at the Warn level.
func WarnS(msg string, args ...any) { emit(slog.LevelWarn, msg, args...) }

// DebugS logs msg and key/value pairs at the Debug level.
func DebugS(msg string, args ...any) { emit(slog.LevelDebug, msg, args...) }

// ErrorS logs msg and key/value pairs at the Error level.
func ErrorS(msg string, args ...any) { emit(slog.LevelError, msg, args...) }

func emit(level slog.Level, msg string, args ...any) {
	if !structuredLoggingEnabled.Load() {
		emitGlog(level, msg, args...)
		return
	}

	logger := slog.Default()
	ctx := context.Background()
	if !logger.Enabled(ctx, level) {
		return
	}

	// Skip runtime.Callers, emit, and the exported wrapper so the
	// record points at the caller's line.
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	record.Add(args...)
	_ = logger.Handler().Handle(ctx, record)
}

func emitGlog(level slog.Level, msg string, args ...any) {
	// Depth 3 skips emitGlog, emit, and the exported wrapper.
	const depth = 3
	args = append([]any{msg}, args...)
	switch level {
	case slog.LevelWarn:
		glog.WarningDepth(depth, args...)
	case slog.LevelError:
		glog.ErrorDepth(depth, args...)
	default:
		glog.InfoDepth(depth, args...)
	}
}

// SetLogger installs logger as the structured logger and returns a
// function that restores the previous state. Used by tests.
func SetLogger(logger *slog.Logger) func() {
	if logger == nil {
		return func() {}
	}

	prevEnabled := structuredLoggingEnabled.Load()
	prevDefault := slog.Default()

	slog.SetDefault(logger)
	structuredLoggingEnabled.Store(true)

	return func() {
		slog.SetDefault(prevDefault)
		structuredLoggingEnabled.Store(prevEnabled)
	}
}
