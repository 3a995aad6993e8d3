package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const memoryConfig = `
database:
  driver: memory
logging:
  level: error
app:
  name: jobctl-test
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(memoryConfig), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestJobctl(t *testing.T) {
	configPath := writeConfig(t)

	tests := []struct {
		name      string
		args      []string
		contains  []string
		errString string
	}{
		{
			name:     "run-once on empty queue",
			args:     []string{"run-once", "--config", configPath, "--batch-size", "5"},
			contains: []string{"processed: 0", "succeeded: 0"},
		},
		{
			name:     "stats",
			args:     []string{"stats", "--config", configPath},
			contains: []string{"pending: 0", "dead: 0"},
		},
		{
			name:     "recover-stale with default threshold",
			args:     []string{"recover-stale", "--config", configPath},
			contains: []string{"recovered: 0", "threshold: 5m0s"},
		},
		{
			name:      "batch size out of range",
			args:      []string{"run-once", "--config", configPath, "--batch-size", "101"},
			errString: "batch-size must be between 0 and 100",
		},
		{
			name:      "migrations need postgres",
			args:      []string{"migrate", "up", "--config", configPath},
			errString: "migrations require the postgres driver",
		},
		{
			name:      "missing config file",
			args:      []string{"stats", "--config", filepath.Join(t.TempDir(), "nope.yaml")},
			errString: "failed to load config",
		},
		{
			name:      "unsupported output",
			args:      []string{"stats", "--config", configPath, "-o", "xml"},
			errString: "unsupported output format: xml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}

			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
		})
	}
}

func TestJobctl_JSONOutput(t *testing.T) {
	out, err := execute(t, "stats", "--config", writeConfig(t), "-o", "json")
	require.NoError(t, err)

	var stats map[string]int64
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(0), stats["pending"])
	assert.Contains(t, stats, "processing")
}
