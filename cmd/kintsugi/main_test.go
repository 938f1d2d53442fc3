package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestToolsCommand(t *testing.T) {
	out, err := runCmd(t, "tools")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 24)
	assert.Contains(t, lines[0], "NAME")

	out, err = runCmd(t, "tools", "--status", "completed")
	require.NoError(t, err)
	assert.Contains(t, out, "get_contract")
	assert.NotContains(t, out, "create_contract")
	assert.NotContains(t, out, "write")

	_, err = runCmd(t, "tools", "--status", "archived")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("json", "debug")
	assert.NoError(t, err)
	_, err = newLogger("", "")
	assert.NoError(t, err)
	_, err = newLogger("xml", "info")
	assert.Error(t, err)
	_, err = newLogger("text", "loud")
	assert.Error(t, err)
}

func TestRenderMessage(t *testing.T) {
	var out bytes.Buffer
	renderMessage(&out, []byte(`{"type":"user_message","sender_id":"d1","content":"deal"}`), "f1")
	renderMessage(&out, []byte(`{"type":"user_message","sender_id":"f1","content":"mine"}`), "f1")
	renderMessage(&out, []byte(`{"type":"stream","event":{"type":"content","content":"Agreed"}}`), "f1")
	renderMessage(&out, []byte(`{"type":"stream","event":{"type":"done"}}`), "f1")
	renderMessage(&out, []byte(`{"type":"error","code":"turn_failed","message":"agent unavailable, retry"}`), "f1")

	got := out.String()
	assert.Contains(t, got, "[d1] deal")
	assert.NotContains(t, got, "mine")
	assert.Contains(t, got, "Agreed\n")
	assert.Contains(t, got, "error (turn_failed): agent unavailable, retry")
}
