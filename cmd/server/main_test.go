package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		debug  bool
		expect zerolog.Level
	}{
		{"configured level", "warn", false, zerolog.WarnLevel},
		{"unknown level falls back to info", "chatty", false, zerolog.InfoLevel},
		{"empty level", "", false, zerolog.InfoLevel},
		{"debug flag wins", "error", true, zerolog.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := newLogger(&bytes.Buffer{}, tt.level, "json", tt.debug)
			assert.Equal(t, tt.expect, log.GetLevel())
		})
	}

	t.Run("json output", func(t *testing.T) {
		var buf bytes.Buffer
		log := newLogger(&buf, "info", "json", false)
		log.Info().Str("component", "test").Msg("hello")
		assert.Contains(t, buf.String(), `"component":"test"`)
		assert.Contains(t, buf.String(), `"message":"hello"`)
	})
}

func TestUserCreateCommand(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "filedeck.yaml")

	run := func(args ...string) (string, error) {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append([]string{"--config", configPath}, args...))
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run("user", "create", "--email", "ops@example.com", "--name", "Ops", "--password", "correct-horse", "--role", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "ops@example.com")
	assert.Contains(t, out, "admin")
	assert.FileExists(t, configPath)

	_, err = run("user", "create", "--email", "ops@example.com", "--name", "Again", "--password", "correct-horse")
	assert.Error(t, err, "duplicate email")

	_, err = run("user", "create", "--email", "x@example.com", "--name", "X")
	assert.Error(t, err, "password flag is required")
}
