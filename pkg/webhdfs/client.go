package webhdfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nucleus/webhdfs/internal/chunk"
	"github.com/nucleus/webhdfs/internal/retry"
)

// Client runs WebHDFS operations against one NameNode. Its configuration is
// fixed at construction and it is safe for concurrent use.
type Client struct {
	cfg    Config
	exec   *executor
	policy retry.Policy
	log    logrus.FieldLogger
}

// Option customizes a Client.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	logger    logrus.FieldLogger
}

// WithTransport sets the HTTP transport (for tests/stubs or custom TLS).
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a new WebHDFS client. Defaults are applied to zero-valued
// fields of cfg; the client keeps its own copy.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = http.DefaultTransport
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}

	c := &Client{
		cfg:  cfg,
		exec: newExecutor(cfg, o.transport, o.logger),
		log:  o.logger,
	}
	c.policy = cfg.RetryPolicy()
	return c, nil
}

// Config returns a copy of the client configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// String describes the client without exposing the delegation token.
func (c *Client) String() string {
	return fmt.Sprintf("Host: %s\nPort: %d\nUser: %s\nEnd: %s\nApi: %s\nURL: %s",
		c.cfg.Host, c.cfg.Port, c.cfg.User, c.cfg.Endpoint, c.cfg.APIVersion, c.cfg.BaseURL())
}

// =============================================================================
// FILE TRANSFER
// =============================================================================

// Create uploads the local file origin to destination.
//
// The file is streamed in ChunkSize pieces and never held in memory. A failed
// attempt is retried from the control request with a freshly opened file;
// with overwrite=false a retry after a partially successful attempt can fail
// with a FileAlreadyExistsException, so callers that need retries to be
// idempotent should pass overwrite=true.
//
// The returned Response carries the data node's status (201 on success),
// headers and buffered body.
func (c *Client) Create(ctx context.Context, origin, destination string, overwrite bool) (*Response, error) {
	req := c.newRequest(OpCreate, destination)
	req.params.Set("overwrite", strconv.FormatBool(overwrite))
	log := c.opLog(req).WithField("origin", origin)

	var out *Response
	err := c.retry(ctx, req, func(ctx context.Context) error {
		s, err := chunk.Open(origin, int(c.cfg.ChunkSize.Bytes()))
		if err != nil {
			return wrapError(CodeLocalIO, OpCreate, origin, err)
		}
		body := chunk.NewReader(s)
		defer body.Close()

		loc, err := c.exec.redirect(ctx, req)
		if err != nil {
			return err
		}

		// net/http reads a zero length with a non-nil body as "unknown".
		var upload io.Reader = body
		if s.Size() == 0 {
			upload = http.NoBody
		}

		resp, cancel, err := c.exec.transfer(ctx, req, loc, upload, s.Size())
		if err != nil {
			return err
		}
		defer cancel()
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		if err != nil {
			return fmt.Errorf("read data node response: %w", err)
		}
		out = &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       io.NopCloser(bytes.NewReader(raw)),
		}
		log.WithFields(logrus.Fields{"status": resp.StatusCode, "bytes": s.Size()}).Info("upload complete")
		return nil
	})
	if err != nil {
		return nil, c.fail(ctx, req, err)
	}
	return out, nil
}

// Open starts a download of remote. The returned Response body streams from
// the data node; the caller must Close it, which also releases the data
// request's timeout.
func (c *Client) Open(ctx context.Context, remote string) (*Response, error) {
	req := c.newRequest(OpOpen, remote)

	var out *Response
	err := c.retry(ctx, req, func(ctx context.Context) error {
		loc, err := c.exec.redirect(ctx, req)
		if err != nil {
			return err
		}

		resp, cancel, err := c.exec.transfer(ctx, req, loc, nil, 0)
		if err != nil {
			return err
		}
		out = &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		}
		return nil
	})
	if err != nil {
		return nil, c.fail(ctx, req, err)
	}
	return out, nil
}

// OpenTo downloads remote into w and returns the number of bytes copied.
// The copy itself is not retried: bytes may already have reached w.
func (c *Client) OpenTo(ctx context.Context, remote string, w io.Writer) (int64, error) {
	resp, err := c.Open(ctx, remote)
	if err != nil {
		return 0, err
	}
	defer resp.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, transient(OpOpen, remote, fmt.Errorf("copy response: %w", err))
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if want, perr := strconv.ParseInt(cl, 10, 64); perr == nil && want != n {
			return n, transient(OpOpen, remote,
				fmt.Errorf("transferred bytes %d does not match content length %d", n, want))
		}
	}
	return n, nil
}

// =============================================================================
// METADATA
// =============================================================================

// GetFileStatus returns the status of remote. Any failure to obtain a
// FileStatus, including server errors that outlast the retries, matches
// ErrPathNotFound.
func (c *Client) GetFileStatus(ctx context.Context, remote string) (*FileStatus, error) {
	var status FileStatus
	if err := c.metadata(ctx, OpGetFileStatus, remote, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListDirectory returns the entries of remote.
func (c *Client) ListDirectory(ctx context.Context, remote string) ([]FileStatus, error) {
	var statuses FileStatuses
	if err := c.metadata(ctx, OpListStatus, remote, &statuses); err != nil {
		return nil, err
	}
	return statuses.FileStatus, nil
}

// GetContentSummary returns aggregate usage for remote.
func (c *Client) GetContentSummary(ctx context.Context, remote string) (*ContentSummary, error) {
	var summary ContentSummary
	if err := c.metadata(ctx, OpGetContentSummary, remote, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) metadata(ctx context.Context, op Op, remote string, target any) error {
	req := c.newRequest(op, remote)

	err := c.retry(ctx, req, func(ctx context.Context) error {
		raw, err := c.exec.query(ctx, req)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return &Error{Code: CodePathNotFound, Op: op, Path: remote, StatusCode: http.StatusOK,
				Err: fmt.Errorf("decode %s: %w", op.ResultKey(), err)}
		}
		return nil
	})
	if err != nil {
		return c.fail(ctx, req, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) newRequest(op Op, remote string) *request {
	return &request{
		id:     uuid.NewString(),
		op:     op,
		path:   remote,
		params: url.Values{},
	}
}

func (c *Client) opLog(req *request) logrus.FieldLogger {
	return c.log.WithFields(logrus.Fields{
		"request_id": req.id,
		"op":         req.op,
		"path":       req.path,
	})
}

// retry runs one logical call under a fresh copy of the policy, so every call
// gets its own attempt budget and window.
func (c *Client) retry(ctx context.Context, req *request, attempt func(ctx context.Context) error) error {
	p := c.policy
	log := c.opLog(req)
	p.Notify = func(n int, err error, next time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": n,
			"of":      p.Attempts,
			"next_in": next.String(),
		}).Warn("transient failure, retrying")
	}
	return p.Do(ctx, attempt)
}

// fail maps the error left after retries onto the client error taxonomy.
func (c *Client) fail(ctx context.Context, req *request, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s %s: %w", req.op, req.path, err)
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return wrapError(CodeLocalIO, req.op, pathErr.Path, err)
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case !req.op.Redirected():
			return wrapError(CodePathNotFound, req.op, req.path, err)
		case httpErr.RetryableStatus():
			return transient(req.op, req.path, err)
		default:
			return wrapError(CodeRemote, req.op, req.path, err)
		}
	}

	if retry.IsTransient(err) {
		return transient(req.op, req.path, err)
	}
	return wrapError(CodeRemote, req.op, req.path, err)
}

func transient(op Op, path string, err error) *Error {
	e := wrapError(CodeTransient, op, path, err)
	e.Retryable = true
	return e
}
