// Package webhdfstest runs an in-memory WebHDFS NameNode and DataNode for
// tests.
//
// The NameNode answers CREATE and OPEN with a 307 redirect to the DataNode
// and serves GETFILESTATUS, LISTSTATUS and GETCONTENTSUMMARY from an
// in-memory tree. Faults can be queued per node to simulate server errors,
// dropped connections and malformed redirects.
package webhdfstest

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// Prefix is the API root both nodes serve under.
const Prefix = "/webhdfs/v1"

const (
	NodeNameNode = "namenode"
	NodeDataNode = "datanode"
)

// Fault is a canned failure returned instead of the normal response.
type Fault struct {
	// Status and Body are written as-is. Status defaults to 500.
	Status int
	Body   string

	// Drop closes the connection without a response.
	Drop bool

	// NoLocation answers a redirecting op with 307 but no Location header.
	NoLocation bool

	// Location answers with 307 pointing at this value verbatim.
	Location string
}

// Request is a recorded request.
type Request struct {
	Node    string
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	BodyLen int64
}

type entry struct {
	dir     bool
	data    []byte
	modTime time.Time
	owner   string
}

type override struct {
	status int
	body   string
}

// Server is a fake WebHDFS deployment.
type Server struct {
	NameNode *httptest.Server
	DataNode *httptest.Server

	mu        sync.Mutex
	files     map[string]*entry
	faults    map[string][]Fault
	overrides map[string]override
	requests  []Request
}

// NewServer starts both nodes. Call Close when done.
func NewServer() *Server {
	s := &Server{
		files:     map[string]*entry{"/": {dir: true, modTime: time.Now(), owner: "hdfs"}},
		faults:    map[string][]Fault{},
		overrides: map[string]override{},
	}
	s.DataNode = httptest.NewServer(s.router(NodeDataNode, dataNodeRoutes(s)))
	s.NameNode = httptest.NewServer(s.router(NodeNameNode, nameNodeRoutes(s)))
	return s
}

// Close shuts both nodes down.
func (s *Server) Close() {
	s.NameNode.Close()
	s.DataNode.Close()
}

// Host returns the NameNode host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.NameNode.Listener.Addr().String())
	return host
}

// Port returns the NameNode port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.NameNode.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// PutFile stores data at p, creating parent directories.
func (s *Server) PutFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(clean(p), data)
}

// Mkdir creates a directory and its parents.
func (s *Server) Mkdir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirLocked(clean(p))
}

// File returns the stored bytes at p.
func (s *Server) File(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.files[clean(p)]
	if !ok || e.dir {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

// Fail queues faults for node; each request to that node consumes one.
func (s *Server) Fail(node string, faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[node] = append(s.faults[node], faults...)
}

// Respond makes the NameNode answer every request for op with status and
// body, bypassing the in-memory tree.
func (s *Server) Respond(op string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[op] = override{status: status, body: body}
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsTo returns the requests received by node.
func (s *Server) RequestsTo(node string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Node == node {
			out = append(out, r)
		}
	}
	return out
}

// Reset forgets recorded requests and queued faults.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
	s.faults = map[string][]Fault{}
	s.overrides = map[string]override{}
}

// =============================================================================
// ROUTING
// =============================================================================

// Route maps an op on one node to its handler.
type Route struct {
	Name        string
	Method      string
	Op          string
	HandlerFunc http.HandlerFunc
}

func nameNodeRoutes(s *Server) []Route {
	return []Route{
		{"create", http.MethodPut, "CREATE", s.redirectToDataNode},
		{"open", http.MethodGet, "OPEN", s.redirectToDataNode},
		{"getfilestatus", http.MethodGet, "GETFILESTATUS", s.getFileStatus},
		{"liststatus", http.MethodGet, "LISTSTATUS", s.listStatus},
		{"getcontentsummary", http.MethodGet, "GETCONTENTSUMMARY", s.getContentSummary},
	}
}

func dataNodeRoutes(s *Server) []Route {
	return []Route{
		{"write", http.MethodPut, "CREATE", s.writeData},
		{"read", http.MethodGet, "OPEN", s.readData},
	}
}

func (s *Server) router(node string, routes []Route) *mux.Router {
	router := mux.NewRouter()
	for _, route := range routes {
		var handler http.Handler

		handler = route.HandlerFunc
		handler = s.faulty(node, route.Op, handler)
		handler = s.record(node, handler)
		handler = Logger(handler, node+"."+route.Name)

		router.
			Methods(route.Method).
			PathPrefix(Prefix).
			Queries("op", route.Op).
			Name(node + "." + route.Name).
			Handler(handler)
	}
	router.NotFoundHandler = s.record(node, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRemote(w, http.StatusBadRequest, "IllegalArgumentException",
			"java.lang.IllegalArgumentException", "Invalid value for webhdfs parameter \"op\": "+r.URL.Query().Get("op"))
	}))
	router.MethodNotAllowedHandler = router.NotFoundHandler
	return router
}

// Logger logs each request at debug level.
func Logger(inner http.Handler, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		inner.ServeHTTP(w, r)

		log.Debugf(
			"%s\t%s\t%s\t%s",
			r.Method,
			r.URL.Path,
			name,
			time.Since(start),
		)
	})
}

func (s *Server) record(node string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Node:    node,
			Method:  r.Method,
			Path:    remotePath(r),
			Query:   r.URL.Query(),
			Header:  r.Header.Clone(),
			BodyLen: r.ContentLength,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) faulty(node, op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var f *Fault
		if q := s.faults[node]; len(q) > 0 {
			f = &q[0]
			s.faults[node] = q[1:]
		}
		s.mu.Unlock()

		switch {
		case f == nil:
			next.ServeHTTP(w, r)
		case f.Drop:
			drop(w)
		case f.NoLocation:
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusTemporaryRedirect)
		case f.Location != "":
			io.Copy(io.Discard, r.Body)
			w.Header().Set("Location", f.Location)
			w.WriteHeader(http.StatusTemporaryRedirect)
		default:
			status := f.Status
			if status == 0 {
				status = http.StatusInternalServerError
			}
			io.Copy(io.Discard, r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			io.WriteString(w, f.Body)
		}
	})
}

func drop(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("webhdfstest: response writer cannot hijack")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	conn.Close()
}

// =============================================================================
// NAMENODE
// =============================================================================

func (s *Server) redirectToDataNode(w http.ResponseWriter, r *http.Request) {
	if s.overridden(w, r) {
		return
	}
	p := remotePath(r)
	q := r.URL.Query()

	s.mu.Lock()
	e, exists := s.files[p]
	s.mu.Unlock()

	switch q.Get("op") {
	case "OPEN":
		if !exists || e.dir {
			writeRemote(w, http.StatusNotFound, "FileNotFoundException",
				"java.io.FileNotFoundException", "File does not exist: "+p)
			return
		}
	case "CREATE":
		if exists && e.dir {
			writeRemote(w, http.StatusForbidden, "FileAlreadyExistsException",
				"org.apache.hadoop.fs.FileAlreadyExistsException", p+" is a directory")
			return
		}
	}

	loc, _ := url.Parse(s.DataNode.URL)
	loc.Path = Prefix + p
	dq := url.Values{}
	for k, v := range q {
		if k == "delegation" {
			continue
		}
		dq[k] = v
	}
	dq.Set("namenoderpcaddress", r.Host)
	loc.RawQuery = dq.Encode()

	w.Header().Set("Location", loc.String())
	w.WriteHeader(http.StatusTemporaryRedirect)
}

func (s *Server) getFileStatus(w http.ResponseWriter, r *http.Request) {
	if s.overridden(w, r) {
		return
	}
	p := remotePath(r)

	s.mu.Lock()
	e, ok := s.files[p]
	var status map[string]any
	if ok {
		status = fileStatus("", e)
	}
	s.mu.Unlock()

	if !ok {
		writeRemote(w, http.StatusNotFound, "FileNotFoundException",
			"java.io.FileNotFoundException", "File does not exist: "+p)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"FileStatus": status})
}

func (s *Server) listStatus(w http.ResponseWriter, r *http.Request) {
	if s.overridden(w, r) {
		return
	}
	p := remotePath(r)

	s.mu.Lock()
	e, ok := s.files[p]
	var statuses []map[string]any
	if ok && !e.dir {
		statuses = append(statuses, fileStatus("", e))
	} else if ok {
		for _, name := range s.childrenLocked(p) {
			statuses = append(statuses, fileStatus(name, s.files[path.Join(p, name)]))
		}
	}
	s.mu.Unlock()

	if !ok {
		writeRemote(w, http.StatusNotFound, "FileNotFoundException",
			"java.io.FileNotFoundException", "File "+p+" does not exist.")
		return
	}
	if statuses == nil {
		statuses = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"FileStatuses": map[string]any{"FileStatus": statuses}})
}

func (s *Server) getContentSummary(w http.ResponseWriter, r *http.Request) {
	if s.overridden(w, r) {
		return
	}
	p := remotePath(r)

	s.mu.Lock()
	_, ok := s.files[p]
	var dirs, files, length int64
	if ok {
		for k, e := range s.files {
			if k != p && !strings.HasPrefix(k, strings.TrimSuffix(p, "/")+"/") {
				continue
			}
			if e.dir {
				dirs++
			} else {
				files++
				length += int64(len(e.data))
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		writeRemote(w, http.StatusNotFound, "FileNotFoundException",
			"java.io.FileNotFoundException", "File does not exist: "+p)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ContentSummary": map[string]any{
		"directoryCount": dirs,
		"fileCount":      files,
		"length":         length,
		"quota":          -1,
		"spaceConsumed":  length * 3,
		"spaceQuota":     -1,
	}})
}

func (s *Server) overridden(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	o, ok := s.overrides[r.URL.Query().Get("op")]
	s.mu.Unlock()
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(o.status)
	io.WriteString(w, o.body)
	return true
}

// =============================================================================
// DATANODE
// =============================================================================

func (s *Server) writeData(w http.ResponseWriter, r *http.Request) {
	p := remotePath(r)
	overwrite := r.URL.Query().Get("overwrite") == "true"

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeRemote(w, http.StatusBadRequest, "IOException", "java.io.IOException", err.Error())
		return
	}

	s.mu.Lock()
	e, exists := s.files[p]
	if exists && (e.dir || !overwrite) {
		s.mu.Unlock()
		writeRemote(w, http.StatusForbidden, "FileAlreadyExistsException",
			"org.apache.hadoop.fs.FileAlreadyExistsException", p+" for client already exists")
		return
	}
	s.putLocked(p, data)
	s.mu.Unlock()

	w.Header().Set("Location", "hdfs://"+r.URL.Query().Get("namenoderpcaddress")+p)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) readData(w http.ResponseWriter, r *http.Request) {
	p := remotePath(r)

	s.mu.Lock()
	e, ok := s.files[p]
	var data []byte
	if ok {
		data = append([]byte(nil), e.data...)
	}
	s.mu.Unlock()

	if !ok || e.dir {
		writeRemote(w, http.StatusNotFound, "FileNotFoundException",
			"java.io.FileNotFoundException", "File does not exist: "+p)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) putLocked(p string, data []byte) {
	s.mkdirLocked(path.Dir(p))
	s.files[p] = &entry{data: append([]byte(nil), data...), modTime: time.Now(), owner: "hdfs"}
}

func (s *Server) mkdirLocked(p string) {
	for cur := p; ; cur = path.Dir(cur) {
		if _, ok := s.files[cur]; !ok {
			s.files[cur] = &entry{dir: true, modTime: time.Now(), owner: "hdfs"}
		}
		if cur == "/" {
			return
		}
	}
}

func (s *Server) childrenLocked(dir string) []string {
	var names []string
	for k := range s.files {
		if k != dir && path.Dir(k) == dir {
			names = append(names, path.Base(k))
		}
	}
	sort.Strings(names)
	return names
}

func fileStatus(suffix string, e *entry) map[string]any {
	typ, perm, length, blockSize, replication := "FILE", "644", int64(len(e.data)), int64(134217728), 3
	if e.dir {
		typ, perm, length, blockSize, replication = "DIRECTORY", "755", 0, 0, 0
	}
	return map[string]any{
		"accessTime":       e.modTime.UnixMilli(),
		"blockSize":        blockSize,
		"group":            "supergroup",
		"length":           length,
		"modificationTime": e.modTime.UnixMilli(),
		"owner":            e.owner,
		"pathSuffix":       suffix,
		"permission":       perm,
		"replication":      replication,
		"type":             typ,
	}
}

func remotePath(r *http.Request) string {
	return clean(strings.TrimPrefix(r.URL.Path, Prefix))
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("webhdfstest: encode response")
	}
}

func writeRemote(w http.ResponseWriter, status int, exception, class, message string) {
	writeJSON(w, status, map[string]any{"RemoteException": map[string]string{
		"exception":     exception,
		"javaClassName": class,
		"message":       message,
	}})
}

// RemoteExceptionBody renders a RemoteException JSON body.
func RemoteExceptionBody(exception, message string) string {
	return fmt.Sprintf(`{"RemoteException":{"exception":%q,"javaClassName":"java.io.%s","message":%q}}`,
		exception, exception, message)
}
