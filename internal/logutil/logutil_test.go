package logutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetLogger_SharedOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(io.Discard) })

	GetLogger("[a] ").Print("one")
	GetLogger("[b] ").Print("two")

	require.Contains(t, buf.String(), "[a] ")
	require.Contains(t, buf.String(), "one")
	require.Contains(t, buf.String(), "[b] ")
	require.Contains(t, buf.String(), "two")
}

func TestSetOutputFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "repl.log")
	require.NoError(t, SetOutputFile(name))
	GetLogger("[file] ").Print("hello")
	require.NoError(t, SetOutputFile(""))

	content, err := os.ReadFile(name)
	require.NoError(t, err)
	require.Contains(t, string(content), "[file] ")
	require.Contains(t, string(content), "hello")
}
