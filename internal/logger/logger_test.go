package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Info("session opened", "session_id", "abc", "port", 12020)

	out := buf.String()
	assert.Contains(t, out, "session opened")
	assert.Contains(t, out, "session_id=abc")
	assert.Contains(t, out, "port=12020")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)

	Info("hello", "k", "v")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{"), "expected JSON output, got %q", out)
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestColorDisabled(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Info("plain")
	assert.NotContains(t, buf.String(), "\033[")
}

func TestSetVerbosity(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)

	SetVerbosity(true, false)
	Info("now visible")
	assert.Contains(t, buf.String(), "now visible")

	buf.Reset()
	SetVerbosity(false, true)
	Debug("trace visible")
	assert.Contains(t, buf.String(), "trace visible")

	// Restore the default for other tests.
	SetLevel("WARN")
}

func TestLevelTokens(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text", false)

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")

	out := buf.String()
	assert.Contains(t, out, "DBG d")
	assert.Contains(t, out, "INF i")
	assert.Contains(t, out, "WRN w")
	assert.Contains(t, out, "ERR e")

	SetLevel("WARN")
}

func TestValuesWithSpacesAreQuoted(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Info("msg", "path", "my docs/file")
	assert.Contains(t, buf.String(), `path="my docs/file"`)
}

func TestWithBindsAttrs(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	l := With("session_id", "s-1")
	l.Info("bound")
	assert.Contains(t, buf.String(), "session_id=s-1")
}

func TestFormattedHelpers(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Infof("count=%d", 3)
	assert.Contains(t, buf.String(), "count=3")
}
