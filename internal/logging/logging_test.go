package logging

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFieldsAreStructured(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := L()
	Replace(zap.New(core))
	t.Cleanup(func() { Replace(prev) })

	Info("page_written", map[string]any{"account": "42", "stored": 10})
	Error("store_failed", map[string]any{"error": errors.New("disk full")})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "page_written", entries[0].Message)
	assert.Equal(t, "42", entries[0].ContextMap()["account"])
	assert.EqualValues(t, 10, entries[0].ContextMap()["stored"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "disk full", entries[1].ContextMap()["error"])
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	prev := L()
	t.Cleanup(func() { Replace(prev) })
	assert.Error(t, Setup(Options{Level: "chatty"}))
	require.NoError(t, Setup(Options{Level: "warn", File: filepath.Join(t.TempDir(), "f.log"), MaxSizeMB: 1}))
	assert.Nil(t, L().Check(zapcore.InfoLevel, "hidden"))
}
