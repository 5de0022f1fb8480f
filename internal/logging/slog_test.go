package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlogLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "text", "debug")
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG", "msg=dbg", "a=1",
		"level=INFO", "msg=inf", "b=2",
		"level=WARN", "msg=wrn", "c=3",
		"level=ERROR", "msg=err", "d=4",
	} {
		assert.Contains(t, out, want)
	}
}

func TestSlogLogger_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "text", "info")

	log.Debug(context.Background(), "hidden")
	assert.Empty(t, buf.String())
}

func TestSlogLogger_JSONWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json", "info").With("module", "refresh")

	log.Info(context.Background(), "done", "count", 3)

	out := buf.String()
	assert.Contains(t, out, `"module":"refresh"`)
	assert.Contains(t, out, `"count":3`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNop_DoesNotPanic(t *testing.T) {
	log := Nop()
	log.Info(context.TODO(), "ok")
	log.With("k", "v").Error(context.TODO(), "ok")
}

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json", "info").With("token", "ghp_abc")

	log.Info(context.Background(), "unlock", "Password", "hunter22", "state", "authenticated")

	out := buf.String()
	assert.NotContains(t, out, "ghp_abc")
	assert.NotContains(t, out, "hunter22")
	assert.Contains(t, out, `"token":"[REDACTED]"`)
	assert.Contains(t, out, `"Password":"[REDACTED]"`)
	assert.Contains(t, out, `"state":"authenticated"`)
}
