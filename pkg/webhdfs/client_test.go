package webhdfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/webhdfs/internal/webhdfstest"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig(s *webhdfstest.Server) Config {
	return Config{
		Host:          s.Host(),
		Port:          s.Port(),
		Transport:     "http",
		User:          "spark",
		Timeout:       5 * time.Second,
		RetryAttempts: 3,
		RetryWindow:   10 * time.Second,
		RetryInterval: time.Millisecond,
	}
}

func newTestClient(t *testing.T, s *webhdfstest.Server, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := testConfig(s)
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	return c
}

func writeLocal(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

// =============================================================================
// CREATE
// =============================================================================

func TestClient_Create(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)

	origin := writeLocal(t, "uno.txt", []byte("hola mundo"))

	resp, err := c.Create(context.Background(), origin, "/remote/dos.txt", true)
	require.NoError(t, err)
	defer resp.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, resp.IsSuccess())

	data, ok := s.File("/remote/dos.txt")
	require.True(t, ok)
	assert.Equal(t, "hola mundo", string(data))

	reqs := s.Requests()
	require.Len(t, reqs, 2)

	control := reqs[0]
	assert.Equal(t, webhdfstest.NodeNameNode, control.Node)
	assert.Equal(t, http.MethodPut, control.Method)
	assert.Equal(t, "/remote/dos.txt", control.Path)
	assert.Equal(t, "CREATE", control.Query.Get("op"))
	assert.Equal(t, "spark", control.Query.Get("user.name"))
	assert.Equal(t, "true", control.Query.Get("overwrite"))
	assert.Empty(t, control.Query.Get("delegation"))

	upload := reqs[1]
	assert.Equal(t, webhdfstest.NodeDataNode, upload.Node)
	assert.Equal(t, http.MethodPut, upload.Method)
	assert.Equal(t, int64(len("hola mundo")), upload.BodyLen)
	assert.Equal(t, "application/octet-stream", upload.Header.Get("Content-Type"))

	id := control.Header.Get(headerRequestID)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, upload.Header.Get(headerRequestID))
	assert.Equal(t, DefaultUserAgent, control.Header.Get("User-Agent"))
}

func TestClient_Create_Chunked(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s, func(cfg *Config) { cfg.ChunkSize = 1 * datasize.KB })

	payload := bytes.Repeat([]byte("0123456789abcdef"), 640)
	payload = append(payload, 'x', 'y', 'z')
	origin := writeLocal(t, "big.bin", payload)

	resp, err := c.Create(context.Background(), origin, "/big.bin", false)
	require.NoError(t, err)
	resp.Close()

	data, ok := s.File("/big.bin")
	require.True(t, ok)
	assert.Equal(t, payload, data)
}

func TestClient_Create_EmptyFile(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)

	origin := writeLocal(t, "empty", nil)

	resp, err := c.Create(context.Background(), origin, "/empty", true)
	require.NoError(t, err)
	resp.Close()

	data, ok := s.File("/empty")
	require.True(t, ok)
	assert.Empty(t, data)

	reqs := s.RequestsTo(webhdfstest.NodeDataNode)
	require.Len(t, reqs, 1)
	assert.Equal(t, int64(0), reqs[0].BodyLen)
	assert.Equal(t, "application/octet-stream", reqs[0].Header.Get("Content-Type"))
}

func TestClient_Create_MissingLocalFile(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)

	_, err := c.Create(context.Background(), filepath.Join(t.TempDir(), "nope"), "/x", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocalIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, s.Requests(), "no request is sent for an unreadable origin")
}

func TestClient_Create_DirectoryOrigin(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)

	_, err := c.Create(context.Background(), t.TempDir(), "/x", true)
	assert.ErrorIs(t, err, ErrLocalIO)
	assert.Empty(t, s.Requests())
}

func TestClient_Create_NoLocation(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	s.Fail(webhdfstest.NodeNameNode, webhdfstest.Fault{NoLocation: true})

	origin := writeLocal(t, "a", []byte("a"))
	_, err := c.Create(context.Background(), origin, "/a", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusTemporaryRedirect, e.StatusCode)
	assert.Len(t, s.Requests(), 1, "protocol errors are not retried")
}

func TestClient_Create_RetriesTwoHopsPerAttempt(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	s.Fail(webhdfstest.NodeDataNode, webhdfstest.Fault{Status: http.StatusServiceUnavailable})

	origin := writeLocal(t, "a", []byte("retry me"))
	resp, err := c.Create(context.Background(), origin, "/a", true)
	require.NoError(t, err)
	resp.Close()

	assert.Len(t, s.RequestsTo(webhdfstest.NodeNameNode), 2)
	assert.Len(t, s.RequestsTo(webhdfstest.NodeDataNode), 2)

	data, _ := s.File("/a")
	assert.Equal(t, "retry me", string(data))
}

func TestClient_Create_RetriesExhausted(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	for i := 0; i < 3; i++ {
		s.Fail(webhdfstest.NodeNameNode, webhdfstest.Fault{Status: http.StatusInternalServerError, Body: "boom"})
	}

	origin := writeLocal(t, "a", []byte("a"))
	_, err := c.Create(context.Background(), origin, "/a", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusInternalServerError, e.StatusCode)
	assert.True(t, e.Retryable)

	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, "boom", herr.Body)

	assert.Len(t, s.Requests(), 3)
}

func TestClient_Create_NoRetryOnClientError(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	s.PutFile("/exists", []byte("old"))

	origin := writeLocal(t, "a", []byte("new"))
	_, err := c.Create(context.Background(), origin, "/exists", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusForbidden, e.StatusCode)
	require.NotNil(t, e.Remote)
	assert.Equal(t, "FileAlreadyExistsException", e.Remote.Exception)

	assert.Len(t, s.Requests(), 2, "one attempt, two hops")
	data, _ := s.File("/exists")
	assert.Equal(t, "old", string(data))
}

func TestClient_Create_DroppedConnection(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()

	cfg := testConfig(s)
	c, err := New(cfg, WithLogger(quietLogger()), WithTransport(&http.Transport{DisableKeepAlives: true}))
	require.NoError(t, err)

	s.Fail(webhdfstest.NodeNameNode, webhdfstest.Fault{Drop: true})

	origin := writeLocal(t, "a", []byte("after drop"))
	resp, err := c.Create(context.Background(), origin, "/a", true)
	require.NoError(t, err)
	resp.Close()

	assert.Len(t, s.RequestsTo(webhdfstest.NodeNameNode), 2)
	data, _ := s.File("/a")
	assert.Equal(t, "after drop", string(data))
}

func TestClient_Create_ContextCanceled(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	origin := writeLocal(t, "a", []byte("a"))
	_, err := c.Create(ctx, origin, "/a", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Requests())
}

func TestClient_Delegation(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s, func(cfg *Config) { cfg.Delegation = "s3cr3t" })

	origin := writeLocal(t, "a", []byte("a"))
	resp, err := c.Create(context.Background(), origin, "/a", true)
	require.NoError(t, err)
	resp.Close()

	reqs := s.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "s3cr3t", reqs[0].Query.Get("delegation"))
	// The fake NameNode strips the token from Location, so this proves the
	// client put it back.
	assert.Equal(t, "s3cr3t", reqs[1].Query.Get("delegation"))

	assert.NotContains(t, c.String(), "s3cr3t")
}

// =============================================================================
// OPEN
// =============================================================================

func TestClient_Open(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	s.PutFile("/tmp/dos.txt", []byte("contenido"))

	resp, err := c.Open(context.Background(), "/tmp/dos.txt")
	require.NoError(t, err)
	defer resp.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "contenido", string(body))

	reqs := s.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "OPEN", reqs[0].Query.Get("op"))
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, webhdfstest.NodeDataNode, reqs[1].Node)
}

func TestClient_OpenTo(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	payload := bytes.Repeat([]byte("z"), 100_000)
	s.PutFile("/big", payload)

	var buf bytes.Buffer
	n, err := c.OpenTo(context.Background(), "/big", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, buf.Bytes())
}

func TestClient_Open_Missing(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)

	_, err := c.Open(context.Background(), "/missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusNotFound, e.StatusCode)
	require.NotNil(t, e.Remote)
	assert.Equal(t, "FileNotFoundException", e.Remote.Exception)
	assert.Len(t, s.Requests(), 1)
}

func TestClient_Open_UnsupportedLocation(t *testing.T) {
	tests := []struct {
		name     string
		location string
	}{
		{"ftp", "ftp://datanode/x"},
		{"hdfs", "hdfs://datanode:8020/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := webhdfstest.NewServer()
			defer s.Close()
			c := newTestClient(t, s)
			s.PutFile("/a", []byte("a"))
			s.Fail(webhdfstest.NodeNameNode, webhdfstest.Fault{Location: tt.location}, webhdfstest.Fault{Location: tt.location})

			_, err := c.Open(context.Background(), "/a")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProtocol)
			assert.NotErrorIs(t, err, ErrTransient)

			assert.Len(t, s.RequestsTo(webhdfstest.NodeNameNode), 1, "a bad redirect target is not retried")
			assert.Empty(t, s.RequestsTo(webhdfstest.NodeDataNode))
		})
	}
}

// roundTripperFunc adapts a function to http.RoundTripper.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestClient_OpenTo_ShortBody(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	s.PutFile("/f", []byte("abc"))

	// Advertise more bytes than the data node sends.
	rt := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		resp, err := http.DefaultTransport.RoundTrip(r)
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Header.Set("Content-Length", "10")
		}
		return resp, err
	})
	c, err := New(testConfig(s), WithLogger(quietLogger()), WithTransport(rt))
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := c.OpenTo(context.Background(), "/f", &buf)
	require.Error(t, err)
	assert.Equal(t, int64(3), n)
	assert.ErrorIs(t, err, ErrTransient)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.True(t, e.Retryable)
	assert.Contains(t, err.Error(), "does not match content length 10")
}

func TestClient_Open_RetriesDataNode(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	s.PutFile("/f", []byte("ok"))
	s.Fail(webhdfstest.NodeDataNode, webhdfstest.Fault{Status: http.StatusBadGateway})

	var buf bytes.Buffer
	_, err := c.OpenTo(context.Background(), "/f", &buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", buf.String())
	assert.Len(t, s.Requests(), 4)
}

// =============================================================================
// METADATA
// =============================================================================

func TestClient_GetFileStatus(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	s.PutFile("/tmp/dos.txt", []byte("12345"))

	status, err := c.GetFileStatus(context.Background(), "/tmp/dos.txt")
	require.NoError(t, err)
	assert.Equal(t, TypeFile, status.Type)
	assert.Equal(t, int64(5), status.Length)
	assert.False(t, status.IsDir())
	assert.False(t, status.ModTime().IsZero())

	reqs := s.Requests()
	require.Len(t, reqs, 1, "metadata is a single hop")
	assert.Equal(t, "GETFILESTATUS", reqs[0].Query.Get("op"))
}

func TestClient_GetFileStatus_RemoteException(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	s.Respond("GETFILESTATUS", http.StatusOK,
		webhdfstest.RemoteExceptionBody("FileNotFoundException", "File does not exist: /tmp/dos.txt"))

	_, err := c.GetFileStatus(context.Background(), "/tmp/dos.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPathNotFound)
	assert.Contains(t, err.Error(), "HDFS does not have a reference for /tmp/dos.txt")

	var e *Error
	require.True(t, errors.As(err, &e))
	require.NotNil(t, e.Remote)
	assert.Equal(t, "FileNotFoundException", e.Remote.Exception)
	assert.Len(t, s.Requests(), 1)
}

func TestClient_GetFileStatus_Missing(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)

	_, err := c.GetFileStatus(context.Background(), "/nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPathNotFound)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusNotFound, e.StatusCode)
	assert.Len(t, s.Requests(), 1)
}

func TestClient_ListDirectory(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	s.PutFile("/tmp/a", []byte("a"))
	s.PutFile("/tmp/b", []byte("bb"))

	entries, err := c.ListDirectory(context.Background(), "/tmp")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].PathSuffix)
	assert.Equal(t, int64(2), entries[1].Length)
}

func TestClient_ListDirectory_MissingKey(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	s.Respond("LISTSTATUS", http.StatusOK, `{"Something":{"else":1}}`)

	_, err := c.ListDirectory(context.Background(), "/tmp")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPathNotFound)
	assert.Contains(t, err.Error(), `no "FileStatuses" key`)
}

func TestClient_Metadata_BadBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>oops</html>"},
		{"empty", ""},
		{"wrong shape", `{"ContentSummary":"nope"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := webhdfstest.NewServer()
			defer s.Close()
			c := newTestClient(t, s)
			s.Respond("GETCONTENTSUMMARY", http.StatusOK, tt.body)

			_, err := c.GetContentSummary(context.Background(), "/")
			assert.ErrorIs(t, err, ErrPathNotFound)
			assert.Len(t, s.Requests(), 1)
		})
	}
}

func TestClient_GetContentSummary(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	s.PutFile("/d/x", []byte("1234"))
	s.PutFile("/d/e/y", []byte("56"))

	cs, err := c.GetContentSummary(context.Background(), "/d")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cs.FileCount)
	assert.Equal(t, int64(2), cs.DirectoryCount)
	assert.Equal(t, int64(6), cs.Length)
}

func TestClient_Metadata_Retries(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	c := newTestClient(t, s)
	s.PutFile("/f", []byte("x"))

	t.Run("recovers", func(t *testing.T) {
		s.Reset()
		s.Fail(webhdfstest.NodeNameNode, webhdfstest.Fault{Status: http.StatusServiceUnavailable})

		_, err := c.GetFileStatus(context.Background(), "/f")
		require.NoError(t, err)
		assert.Len(t, s.Requests(), 2)
	})

	t.Run("exhausted", func(t *testing.T) {
		s.Reset()
		for i := 0; i < 3; i++ {
			s.Fail(webhdfstest.NodeNameNode, webhdfstest.Fault{Status: http.StatusServiceUnavailable})
		}

		_, err := c.GetFileStatus(context.Background(), "/f")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPathNotFound)

		var herr *HTTPError
		require.True(t, errors.As(err, &herr))
		assert.Equal(t, http.StatusServiceUnavailable, herr.StatusCode)
		assert.Len(t, s.Requests(), 3)
	})
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{Port: 9870, User: "u"})
	assert.Error(t, err)

	_, err = New(Config{Host: "h", Port: 9870, User: "u", Transport: "ftp"})
	assert.Error(t, err)
}

func TestClient_String(t *testing.T) {
	c, err := New(Config{Host: "namenode.local", Port: 9871, User: "spark", Delegation: "tok"},
		WithLogger(quietLogger()))
	require.NoError(t, err)

	str := c.String()
	assert.Contains(t, str, "Host: namenode.local")
	assert.Contains(t, str, "Port: 9871")
	assert.Contains(t, str, "User: spark")
	assert.Contains(t, str, "https://namenode.local:9871/webhdfs/v1")
	assert.False(t, strings.Contains(str, "tok"))

	assert.Equal(t, DefaultChunkSize, c.Config().ChunkSize)
}

func TestClient_RateLimit(t *testing.T) {
	s := webhdfstest.NewServer()
	defer s.Close()
	// Burst equals the rate, so the first 5 calls pass and each later one
	// waits 200ms for a token.
	c := newTestClient(t, s, func(cfg *Config) { cfg.RateLimit = 5 })
	s.PutFile("/f", []byte("x"))

	start := time.Now()
	for i := 0; i < 8; i++ {
		_, err := c.GetFileStatus(context.Background(), "/f")
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond, "3 calls past the burst need ~600ms of tokens")
	assert.Len(t, s.Requests(), 8)
}
