// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/lavastorm/lavastorm/pkg/logging"
)

// fakeResponse is one scripted reply for a fakeRunner command invocation.
type fakeResponse struct {
	stdout string
	stderr string
	err    error
}

// fakeRunner scripts CommandRunner responses by command name, consuming them
// in FIFO order per name so a test can script a sequence of polls.
type fakeRunner struct {
	queued map[string][]fakeResponse
	calls  []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{queued: make(map[string][]fakeResponse)}
}

func (f *fakeRunner) script(name string, resp fakeResponse) *fakeRunner {
	f.queued[name] = append(f.queued[name], resp)
	return f
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, name)
	q := f.queued[name]
	if len(q) == 0 {
		return "", "", fmt.Errorf("fakeRunner: no scripted response for %q", name)
	}
	resp := q[0]
	f.queued[name] = q[1:]
	return resp.stdout, resp.stderr, resp.err
}

// recordingLogger captures every Info/Warn/Error/Debug message and the
// field set each With call accumulated, so a test can assert a specific
// operation/API-call name reached the logger without parsing log text.
type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]recordedEntry
	fields  []any
}

type recordedEntry struct {
	level  string
	msg    string
	fields []any
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]recordedEntry{}}
}

func (l *recordingLogger) record(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, recordedEntry{level: level, msg: msg, fields: append(append([]any{}, l.fields...), args...)})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }

func (l *recordingLogger) With(args ...any) logging.Logger {
	return &recordingLogger{mu: l.mu, entries: l.entries, fields: append(append([]any{}, l.fields...), args...)}
}

func (l *recordingLogger) WithContext(ctx context.Context) logging.Logger { return l }

// hasField reports whether any recorded entry's field list contains key
// immediately followed by value.
func (l *recordingLogger) hasField(key string, value any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range *l.entries {
		for i := 0; i+1 < len(e.fields); i++ {
			if e.fields[i] == key && e.fields[i+1] == value {
				return true
			}
		}
	}
	return false
}
