package main

import (
	"testing"

	flags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayRejectsInvalidID(t *testing.T) {
	var c replayCmd
	c.Args.ID = "not-a-uuid"

	err := c.Execute(nil)
	assert.ErrorContains(t, err, "invalid attempt id")
}

func TestParseEnvFile(t *testing.T) {
	var opts verifyctl
	parser := flags.NewParser(&opts, flags.None)
	parser.SubcommandsOptional = true

	_, err := parser.ParseArgs([]string{"--env-file", "/tmp/x.env"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.env", opts.EnvFile)
}
