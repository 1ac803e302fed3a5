package commands

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const builtWithPrefix = "Built with "

func TestNewVersionCommand(t *testing.T) {
	tests := []struct {
		name    string
		version string
	}{
		{name: "development version", version: "dev"},
		{name: "release version", version: "v1.2.3"},
		{name: "empty version", version: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cmd := NewVersionCommand(tt.version)
			cmd.SetOut(&buf)
			cmd.SetArgs(nil)

			require.NoError(t, cmd.Execute())

			want := "proxyfetch version " + tt.version + "\n" +
				builtWithPrefix + runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH + "\n"
			assert.Equal(t, want, buf.String())
		})
	}
}

func TestVersionCommandIntegration(t *testing.T) {
	var buf bytes.Buffer
	root := NewRootCommand("test-version")
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "proxyfetch version test-version")
	assert.Contains(t, buf.String(), builtWithPrefix+runtime.Version())
}
