package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionCmd_Shells(t *testing.T) {
	tests := []struct {
		shell string
		want  string
	}{
		{shell: "bash", want: "__start_stepflow"},
		{shell: "zsh", want: "#compdef stepflow"},
		{shell: "fish", want: "complete -c stepflow"},
		{shell: "powershell", want: "Register-ArgumentCompleter"},
	}
	for _, tt := range tests {
		t.Run(tt.shell, func(t *testing.T) {
			resetRootCmd(t)

			out, err := executeCmd(t, "completion", tt.shell)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestCompletionCmd_InvalidShell(t *testing.T) {
	resetRootCmd(t)

	_, err := executeCmd(t, "completion", "tcsh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tcsh")
}

func TestCompletionCmd_RequiresOneArg(t *testing.T) {
	resetRootCmd(t)

	_, err := executeCmd(t, "completion")
	require.Error(t, err)

	resetRootCmd(t)
	_, err = executeCmd(t, "completion", "bash", "zsh")
	require.Error(t, err)
}

func TestCompletionCmd_ValidArgs(t *testing.T) {
	assert.ElementsMatch(t, []string{"bash", "zsh", "fish", "powershell"}, completionCmd.ValidArgs)
}
