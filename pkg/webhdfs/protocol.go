package webhdfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	headerRequestID = "X-Request-Id"

	// errorBodyLimit caps how much of a failed response is kept for
	// diagnostics.
	errorBodyLimit = 64 * 1024
)

// request is one logical WebHDFS operation.
type request struct {
	id     string
	op     Op
	path   string
	params url.Values
}

// executor runs the NameNode -> DataNode request pattern.
type executor struct {
	cfg     Config
	control *http.Client // never follows redirects
	data    *http.Client
	limiter *rate.Limiter // nil when RateLimit is 0
	log     logrus.FieldLogger
}

func newExecutor(cfg Config, transport http.RoundTripper, log logrus.FieldLogger) *executor {
	e := &executor{
		cfg: cfg,
		control: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		data: &http.Client{Transport: transport},
		log:  log,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return e
}

// controlURL builds the NameNode URL with op, user.name, the op's own
// parameters and the delegation token when one is configured.
func (e *executor) controlURL(req *request) *url.URL {
	u := e.cfg.operationURL(req.path)

	q := url.Values{}
	for k, v := range req.params {
		q[k] = append([]string(nil), v...)
	}
	q.Set("op", string(req.op))
	q.Set("user.name", e.cfg.User)
	if e.cfg.Delegation != "" {
		q.Set("delegation", e.cfg.Delegation)
	}
	u.RawQuery = q.Encode()
	return u
}

// dataURL reattaches the delegation token to the redirect target.
func (e *executor) dataURL(loc *url.URL) *url.URL {
	u := *loc
	if e.cfg.Delegation != "" {
		q := u.Query()
		q.Set("delegation", e.cfg.Delegation)
		u.RawQuery = q.Encode()
	}
	return &u
}

// redirect issues the control request for a CREATE or OPEN and returns the
// Location the NameNode points at.
func (e *executor) redirect(ctx context.Context, req *request) (*url.URL, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	u := e.controlURL(req)
	resp, err := e.do(ctx, e.control, req, req.op.Method(), u, nil, 0, "control")
	if err != nil {
		return nil, err
	}
	defer drainClose(resp.Body)

	switch {
	case resp.StatusCode >= 400:
		return nil, newHTTPError(resp)
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc, err := resp.Location()
		if err != nil {
			return nil, &Error{
				Code:       CodeProtocol,
				Op:         req.op,
				Path:       req.path,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("redirect response without usable Location header: %w", err),
			}
		}
		if loc.Scheme != "http" && loc.Scheme != "https" {
			return nil, &Error{
				Code:       CodeProtocol,
				Op:         req.op,
				Path:       req.path,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("redirect to unsupported location %q", redact(loc)),
			}
		}
		return loc, nil
	default:
		return nil, &Error{
			Code:       CodeProtocol,
			Op:         req.op,
			Path:       req.path,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("expected a redirect to a data node, got HTTP %d", resp.StatusCode),
		}
	}
}

// transfer issues the data request to loc. On success the returned cancel
// func must be called once the response body is no longer needed.
func (e *executor) transfer(ctx context.Context, req *request, loc *url.URL, body io.Reader, size int64) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DataTimeout())

	resp, err := e.do(ctx, e.data, req, req.op.Method(), e.dataURL(loc), body, size, "data")
	if err != nil {
		cancel()
		return nil, nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		herr := newHTTPError(resp)
		drainClose(resp.Body)
		cancel()
		return nil, nil, herr
	}
	return resp, cancel, nil
}

// query issues a single-hop metadata request and returns the value under the
// op's result key.
func (e *executor) query(ctx context.Context, req *request) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.do(ctx, e.control, req, req.op.Method(), e.controlURL(req), nil, 0, "metadata")
	if err != nil {
		return nil, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, newHTTPError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	notFound := func(cause error) *Error {
		return &Error{Code: CodePathNotFound, Op: req.op, Path: req.path, StatusCode: resp.StatusCode, Err: cause}
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, notFound(fmt.Errorf("decode body: %w", err))
	}

	key := req.op.ResultKey()
	if v, ok := body[key]; ok {
		return v, nil
	}

	if rex, ok := body["RemoteException"]; ok {
		remote := &RemoteException{}
		if err := json.Unmarshal(rex, remote); err == nil {
			nf := notFound(remote)
			nf.Remote = remote
			return nil, nf
		}
		return nil, notFound(fmt.Errorf("undecodable RemoteException: %s", truncate(rex)))
	}
	return nil, notFound(fmt.Errorf("response has no %q key", key))
}

func (e *executor) do(ctx context.Context, client *http.Client, req *request, method string, u *url.URL, body io.Reader, size int64, hop string) (*http.Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.ContentLength = size
		httpReq.Header.Set("Content-Type", "application/octet-stream")
	}
	httpReq.Header.Set("User-Agent", e.cfg.UserAgent)
	httpReq.Header.Set(headerRequestID, req.id)

	log := e.log.WithFields(logrus.Fields{
		"request_id": req.id,
		"op":         req.op,
		"path":       req.path,
		"hop":        hop,
	})
	log.Debugf("%s %s", method, redact(u))

	resp, err := client.Do(httpReq)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = redact(u)
		}
		log.WithError(err).Debug("request failed")
		return nil, err
	}
	log.WithField("status", resp.StatusCode).Debug("response")
	return resp, nil
}

func newHTTPError(resp *http.Response) *HTTPError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	herr := &HTTPError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}

	var rex remoteExceptionBody
	if err := json.Unmarshal(raw, &rex); err == nil && rex.RemoteException != nil {
		herr.Remote = rex.RemoteException
	}
	return herr
}

// drainClose reads a little of what is left so the connection can be reused.
func drainClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, errorBodyLimit))
	body.Close()
}

// redact hides the delegation token before a URL is logged.
func redact(u *url.URL) string {
	q := u.Query()
	if q.Get("delegation") == "" {
		return u.String()
	}
	c := *u
	q.Set("delegation", "REDACTED")
	c.RawQuery = q.Encode()
	return c.String()
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..." + strconv.Itoa(len(b)-limit) + " more bytes"
	}
	return string(b)
}

// cancelOnClose ties a request context to the lifetime of a response body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
