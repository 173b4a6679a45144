package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]logging.Level{
		"ERROR":   logging.ERROR,
		"warning": logging.WARNING,
		"":        logging.NOTICE,
		" info ":  logging.INFO,
		"DEBUG":   logging.DEBUG,
	}
	for in, want := range cases {
		got, err := LevelFromString(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := LevelFromString("LOUD")
	require.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	b, err := New(path, "DEBUG", false)
	require.NoError(t, err)

	b.GetLogger("room").Noticef("room %s created", "abcd1234")
	require.NoError(t, b.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(raw), "room: room abcd1234 created"))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New("", "NOPE", false)
	require.Error(t, err)
}
