package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"run", "runs", "sync", "aggregate", "advise", "enrich", "calllist", "report", "publish", "health", "migrate", "plan", "week", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "outbound", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	force := runCmd.Flags().Lookup("force")
	require.NotNil(t, force, "run command should have --force flag")
	assert.Equal(t, "false", force.DefValue)
	assert.NotNil(t, runCmd.Flags().Lookup("at"))
}

func TestSyncCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range syncCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"calls", "email", "linkedin", "deals"} {
		assert.True(t, names[name], "sync should have subcommand %q", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestParseAt(t *testing.T) {
	got, err := parseAt("2026-02-11T08:05:00-08:00")
	require.NoError(t, err)
	assert.Equal(t, 16, got.UTC().Hour())

	_, err = parseAt("tomorrow")
	assert.Error(t, err)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "hubspot: search calls", firstLine("hubspot: search calls\nstack..."))
	long := firstLine(string(make([]byte, 100)))
	assert.Len(t, long, 80)
}
