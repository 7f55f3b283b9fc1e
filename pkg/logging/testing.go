package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// TestLogger captures JSON log lines written during a test.
type TestLogger struct {
	*zerolog.Logger
	buf *bytes.Buffer
}

// Entry is one decoded log line.
type Entry map[string]any

// NewTestLogger returns a trace-level logger writing into memory. The global
// level is lowered for the duration of the test.
func NewTestLogger(t testing.TB) *TestLogger {
	t.Helper()

	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	buf := &bytes.Buffer{}
	logger := zerolog.New(buf).Level(zerolog.TraceLevel).With().Timestamp().Logger()
	return &TestLogger{Logger: &logger, buf: buf}
}

// Output returns everything captured so far.
func (tl *TestLogger) Output() string {
	return tl.buf.String()
}

// Entries decodes the captured lines. Lines that are not JSON are skipped.
func (tl *TestLogger) Entries() []Entry {
	var out []Entry
	for _, line := range strings.Split(strings.TrimSpace(tl.Output()), "\n") {
		var e Entry
		if json.Unmarshal([]byte(line), &e) == nil {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the first entry logged with msg.
func (tl *TestLogger) Find(msg string) (Entry, bool) {
	for _, e := range tl.Entries() {
		if e[zerolog.MessageFieldName] == msg {
			return e, true
		}
	}
	return nil, false
}

// Count returns the number of captured entries.
func (tl *TestLogger) Count() int {
	return len(tl.Entries())
}

// Reset drops everything captured so far.
func (tl *TestLogger) Reset() {
	tl.buf.Reset()
}

// AssertContains fails t unless the raw output contains substr.
func (tl *TestLogger) AssertContains(t testing.TB, substr string) {
	t.Helper()
	if !strings.Contains(tl.Output(), substr) {
		t.Errorf("log output does not contain %q\n%s", substr, tl.Output())
	}
}

// AssertNotContains fails t if the raw output contains substr.
func (tl *TestLogger) AssertNotContains(t testing.TB, substr string) {
	t.Helper()
	if strings.Contains(tl.Output(), substr) {
		t.Errorf("log output unexpectedly contains %q\n%s", substr, tl.Output())
	}
}
