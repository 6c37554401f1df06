package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "migrate", "quotes", "extract", "config"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "estimator", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestQuotesCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range quotesCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["get"])
}

func TestQuotesListCommand_Flags(t *testing.T) {
	for _, name := range []string{"date", "zip", "limit", "cursor", "json"} {
		assert.NotNil(t, quotesListCmd.Flags().Lookup(name), "quotes list should have --%s flag", name)
	}
	assert.Equal(t, "50", quotesListCmd.Flags().Lookup("limit").DefValue)
}
