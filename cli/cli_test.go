package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: dev")
}

func TestRunCmd(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		return p
	}
	write("scenario.yaml", `
name: Greet
steps:
  - type: chat
    prompt: hello
    response:
      - mentions: hi
`)
	write("replay.json", `{"responses": [{"text": "hi there"}]}`)
	cfg := write("oracle.yaml", "scenario: scenario.yaml\nreplay: replay.json\n")

	t.Run("Passing scenario", func(t *testing.T) {
		out, err := execute(t, "run", cfg, "--runs", "2", "-o", filepath.Join(dir, "out", "greet.json"))
		require.NoError(t, err)
		assert.Contains(t, out, "[Summary] Greet")
		assert.Contains(t, out, "Pass rate:      100.0%")
		assert.FileExists(t, filepath.Join(dir, "out", "greet.json"))

		merged, err := execute(t, "aggregate", filepath.Join(dir, "out", "greet.json"))
		require.NoError(t, err)
		assert.Contains(t, merged, "Runs:           2")
	})

	t.Run("Failing scenario exits with ErrNotPassed", func(t *testing.T) {
		write("replay.json", `{"responses": [{"text": "go away"}]}`)
		out, err := execute(t, "run", cfg)
		assert.ErrorIs(t, err, ErrNotPassed)
		assert.Equal(t, 1, exitCode(err))
		assert.Contains(t, out, "FAILED")
	})

	t.Run("Invalid inputs", func(t *testing.T) {
		_, err := execute(t, "run", filepath.Join(dir, "missing.yaml"))
		assert.ErrorContains(t, err, "file does not exist")
		assert.Equal(t, 2, exitCode(err))

		_, err = execute(t, "aggregate", filepath.Join(dir, "missing.json"))
		assert.Error(t, err)
	})
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 2, exitCode(errors.New("boom")))
}
