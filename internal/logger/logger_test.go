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

package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Point the package logger at a buffer for the duration of a test.
func redirectToBuffer(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()

	mu.Lock()
	oldLog := defaultLog
	oldLevel := defaultLevel.Level()
	mu.Unlock()

	t.Cleanup(func() {
		mu.Lock()
		defaultLog = oldLog
		defaultLevel.Set(oldLevel)
		mu.Unlock()
	})

	var buf bytes.Buffer
	mu.Lock()
	defaultLevel.Set(level)
	defaultLog = slog.New(newHandler(&buf, defaultLevel))
	mu.Unlock()

	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := redirectToBuffer(t, slog.LevelInfo)

	Debugf("quiet %d", 1)
	Infof("loud %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "quiet 1")
	assert.Contains(t, out, "loud 2")
	assert.Contains(t, out, "level=INFO")
}

func TestDebugLevelPassesEverything(t *testing.T) {
	buf := redirectToBuffer(t, slog.LevelDebug)

	Debugf("a")
	Infof("b")
	Warnf("c")
	Errorf("d")

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG", "level=INFO", "level=WARN", "level=ERROR",
	} {
		assert.Contains(t, out, want)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tc := range cases {
		got, err := parseLevel(tc.in)
		require.NoError(t, err, "level %q", tc.in)
		assert.Equal(t, tc.want, got, "level %q", tc.in)
	}

	_, err := parseLevel("shouting")
	assert.Error(t, err)
}

func TestOffSilencesEverything(t *testing.T) {
	level, err := parseLevel("off")
	require.NoError(t, err)

	buf := redirectToBuffer(t, level)

	Errorf("nothing to see")
	assert.Empty(t, buf.String())
}
