// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package logger provides the process-wide logger. By default messages at
// info and above go to stderr; Setup redirects output to a rotated file
// and adjusts the level.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config governs Setup.
type Config struct {
	// One of "debug", "info", "warn", "error", "off". Defaults to "info".
	Level string

	// Path of the log file. Empty means stderr.
	FilePath string

	// Rotation knobs, meaningful only with FilePath. Zero values get
	// lumberjack's defaults.
	MaxSizeMB  int
	MaxBackups int
}

var (
	mu           sync.Mutex
	defaultLevel = new(slog.LevelVar)
	defaultLog   = slog.New(newHandler(os.Stderr, defaultLevel))
)

func newHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "off":
		// Above every level we emit.
		return slog.LevelError + 4, nil
	}

	return 0, fmt.Errorf("unknown log level %q", s)
}

// Configure the process-wide logger.
func Setup(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
	}

	mu.Lock()
	defer mu.Unlock()

	defaultLevel.Set(level)
	defaultLog = slog.New(newHandler(w, defaultLevel))

	return nil
}

func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	return defaultLog
}

func Debugf(format string, v ...interface{}) {
	current().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...interface{}) {
	current().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...interface{}) {
	current().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...interface{}) {
	current().Error(fmt.Sprintf(format, v...))
}
