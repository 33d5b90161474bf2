package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/webhdfs/internal/webhdfstest"
	"github.com/nucleus/webhdfs/pkg/webhdfs"
)

func testClient(t *testing.T, s *webhdfstest.Server) *webhdfs.Client {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	c, err := webhdfs.New(webhdfs.Config{
		Host:          s.Host(),
		Port:          s.Port(),
		Transport:     "http",
		User:          "cli",
		RetryInterval: time.Millisecond,
	}, webhdfs.WithLogger(l))
	require.NoError(t, err)
	return c
}

func TestCommands(t *testing.T) {
	root := initCommands()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"put", "get", "stat", "ls", "du"}, names)

	put, _, err := root.Find([]string{"put"})
	require.NoError(t, err)
	assert.NotNil(t, put.Flags().Lookup("overwrite"))
	assert.NotNil(t, root.PersistentFlags().Lookup("delegation"))
}

func TestPutGet(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := testClient(t, s)
	ctx := context.Background()

	dir := t.TempDir()
	local := filepath.Join(dir, "uno.txt")
	require.NoError(t, os.WriteFile(local, []byte("from the cli"), 0o644))

	var out bytes.Buffer
	require.NoError(t, doPut(ctx, c, local, "/remote/dos.txt", true, &out))
	assert.Contains(t, out.String(), "HTTP 201")

	back := filepath.Join(dir, "back.txt")
	require.NoError(t, doGet(ctx, c, "/remote/dos.txt", back, io.Discard))
	data, err := os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, "from the cli", string(data))

	out.Reset()
	require.NoError(t, doGet(ctx, c, "/remote/dos.txt", "-", &out))
	assert.Equal(t, "from the cli", out.String())
}

func TestGet_MissingRemovesLocalFile(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := testClient(t, s)

	local := filepath.Join(t.TempDir(), "out")
	err := doGet(context.Background(), c, "/missing", local, io.Discard)
	require.Error(t, err)

	_, statErr := os.Stat(local)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestMetadataCommands(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := testClient(t, s)
	ctx := context.Background()
	s.PutFile("/d/a", []byte("abc"))
	s.Mkdir("/empty")

	t.Run("stat", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, doStat(ctx, c, "/d/a", &out))
		var status webhdfs.FileStatus
		require.NoError(t, json.Unmarshal(out.Bytes(), &status))
		assert.Equal(t, webhdfs.TypeFile, status.Type)
		assert.Equal(t, int64(3), status.Length)
	})

	t.Run("ls", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, doList(ctx, c, "/d", &out))
		var entries []webhdfs.FileStatus
		require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
		require.Len(t, entries, 1)
		assert.Equal(t, "a", entries[0].PathSuffix)
	})

	t.Run("ls empty", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, doList(ctx, c, "/empty", &out))
		assert.Equal(t, "[]\n", out.String())
	})

	t.Run("du", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, doSummary(ctx, c, "/d", &out))
		var cs webhdfs.ContentSummary
		require.NoError(t, json.Unmarshal(out.Bytes(), &cs))
		assert.Equal(t, int64(1), cs.FileCount)
		assert.Equal(t, int64(3), cs.Length)
	})

	t.Run("stat missing", func(t *testing.T) {
		err := doStat(ctx, c, "/nope", io.Discard)
		assert.ErrorIs(t, err, webhdfs.ErrPathNotFound)
	})
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("WEBHDFS_HOST", "env-host")
	t.Setenv("WEBHDFS_PORT", "9870")
	t.Setenv("WEBHDFS_USER", "env-user")

	confFile, host, port, user, transport, delegation = "", "flag-host", 0, "", "http", "tok"
	defer func() { confFile, host, port, user, transport, delegation = "", "", 0, "", "", "" }()

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "flag-host", cfg.Host)
	assert.Equal(t, 9870, cfg.Port)
	assert.Equal(t, "env-user", cfg.User)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, "tok", cfg.Delegation)
}

func TestPreRunValidation(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	assert.NoError(t, putCmdPreRunE(nil, []string{local, "/r"}))
	assert.Error(t, putCmdPreRunE(nil, []string{local}))
	assert.Error(t, putCmdPreRunE(nil, []string{dir, "/r"}))
	assert.Error(t, putCmdPreRunE(nil, []string{filepath.Join(dir, "missing"), "/r"}))

	assert.NoError(t, exactArgs(1)(nil, []string{"/a"}))
	assert.Error(t, exactArgs(1)(nil, nil))
}
