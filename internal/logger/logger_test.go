package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsoleHandlerLevels(t *testing.T) {
	var buf bytes.Buffer

	dev := newConsoleHandler(&buf, true)
	assert.True(t, dev.Enabled(context.Background(), slog.LevelDebug))

	prod := newConsoleHandler(&buf, false)
	assert.False(t, prod.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, prod.Enabled(context.Background(), slog.LevelInfo))

	slog.New(prod).Info("account verified", "username", "alice")
	assert.Contains(t, buf.String(), `"username":"alice"`)
}

func TestInitWithoutSentry(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	flush := Init(Options{AppName: "linkpage", Development: true})
	flush()
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}
