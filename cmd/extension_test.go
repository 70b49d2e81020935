package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/subcommands"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCommand(t *testing.T) {
	for _, name := range []string{"help", "create", "transfer", "recover", "topic", "shell"} {
		assert.True(t, IsCommand(name), name)
	}
	assert.False(t, IsCommand("hello"))
}

func TestExtensionMechanism(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("extensions are shell scripts in this test")
	}
	root := setup(t)
	*currencyFlag = "EUR"
	*lockTimeoutFlag = 2 * time.Second

	bin := t.TempDir()
	script := "#!/bin/sh\n" +
		"echo \"args=$*\"\n" +
		"echo \"" + EnvRoot + "=$" + EnvRoot + "\"\n" +
		"echo \"" + EnvCurrency + "=$" + EnvCurrency + "\"\n" +
		"echo \"" + EnvLockTimeout + "=$" + EnvLockTimeout + "\"\n" +
		"echo \"" + EnvVerbose + "=$" + EnvVerbose + "\"\n" +
		"exit 3\n"
	require.NoError(t, os.WriteFile(filepath.Join(bin, "lcs-hello"), []byte(script), 0o755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))

	var out bytes.Buffer
	stdout = &out
	defer func() { stdout = os.Stdout }()

	found, status := RunExtension("hello", []string{"a", "b"})
	require.True(t, found)
	assert.Equal(t, subcommands.ExitStatus(3), status)
	assert.Equal(t, "args=a b\n"+
		EnvRoot+"="+root+"\n"+
		EnvCurrency+"=EUR\n"+
		EnvLockTimeout+"=2s\n"+
		EnvVerbose+"=false\n", out.String())

	found, _ = RunExtension("nope", nil)
	assert.False(t, found)
}
