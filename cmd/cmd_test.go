package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOptionPairs(t *testing.T) {
	t.Parallel()

	raw, err := parseOptionPairs([]string{"width=1024", "type=jpeg", "fullPage=true", "width=800", "quality="})
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"width":    "800",
		"type":     "jpeg",
		"fullPage": "true",
		"quality":  "",
	}, raw)

	_, err = parseOptionPairs([]string{"width"})
	require.ErrorContains(t, err, `invalid --opt "width"`)

	_, err = parseOptionPairs([]string{"=1"})
	require.Error(t, err)
}

func TestWriteOutput(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	require.NoError(t, writeOutput(&stdout, "-", []byte("png")))
	require.Equal(t, "png", stdout.String())

	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, writeOutput(&stdout, path, []byte("file-bytes")))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("file-bytes"), got)

	require.Error(t, writeOutput(&stdout, filepath.Join(t.TempDir(), "missing", "x.png"), []byte("x")))
}

func TestResolveAppRequiresPreRun(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.ErrorContains(t, err, "not initialized")
}

func TestRootCommandWiring(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	require.NotNil(t, root.PersistentFlags().Lookup("config"))

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{"serve", "capture"}, names)

	capture, _, err := root.Find([]string{"capture"})
	require.NoError(t, err)
	for _, flag := range []string{"url", "out", "logo", "opt"} {
		require.NotNil(t, capture.Flags().Lookup(flag), flag)
	}
}

func TestCaptureRequiresURL(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	root.SetArgs([]string{"capture"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	require.ErrorContains(t, err, `required flag(s) "url" not set`)
}
