package webhdfs

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// Op is a WebHDFS operation name, sent as the op query parameter.
type Op string

// WebHDFS operation constants
const (
	OpCreate            Op = "CREATE"
	OpOpen              Op = "OPEN"
	OpGetFileStatus     Op = "GETFILESTATUS"
	OpListStatus        Op = "LISTSTATUS"
	OpGetContentSummary Op = "GETCONTENTSUMMARY"
)

// Method returns the HTTP verb used for op.
func (op Op) Method() string {
	if op == OpCreate {
		return http.MethodPut
	}
	return http.MethodGet
}

// Redirected reports whether op is served by a data node after a NameNode
// redirect.
func (op Op) Redirected() bool {
	return op == OpCreate || op == OpOpen
}

// ResultKey is the top-level JSON key a metadata response must carry.
func (op Op) ResultKey() string {
	switch op {
	case OpGetFileStatus:
		return "FileStatus"
	case OpListStatus:
		return "FileStatuses"
	case OpGetContentSummary:
		return "ContentSummary"
	default:
		return ""
	}
}

// File types reported in FileStatus.Type.
const (
	TypeFile      = "FILE"
	TypeDirectory = "DIRECTORY"
	TypeSymlink   = "SYMLINK"
)

// FileStatus represents HDFS file/directory metadata.
type FileStatus struct {
	AccessTime       int64  `json:"accessTime"`
	BlockSize        int64  `json:"blockSize"`
	ChildrenNum      int64  `json:"childrenNum,omitempty"`
	FileID           int64  `json:"fileId,omitempty"`
	Group            string `json:"group"`
	Length           int64  `json:"length"`
	ModificationTime int64  `json:"modificationTime"`
	Owner            string `json:"owner"`
	PathSuffix       string `json:"pathSuffix"`
	Permission       string `json:"permission"`
	Replication      int    `json:"replication"`
	StoragePolicy    int    `json:"storagePolicy,omitempty"`
	Symlink          string `json:"symlink,omitempty"`
	Type             string `json:"type"` // FILE, DIRECTORY or SYMLINK
}

// IsDir reports whether the status describes a directory.
func (s FileStatus) IsDir() bool { return s.Type == TypeDirectory }

// ModTime returns the modification time.
func (s FileStatus) ModTime() time.Time { return time.UnixMilli(s.ModificationTime) }

// FileStatuses is the LISTSTATUS payload. The naming matches the WebHDFS
// schema.
type FileStatuses struct {
	FileStatus []FileStatus `json:"FileStatus"`
}

// ContentSummary represents HDFS content summary.
type ContentSummary struct {
	DirectoryCount int64 `json:"directoryCount"`
	FileCount      int64 `json:"fileCount"`
	Length         int64 `json:"length"`
	Quota          int64 `json:"quota"`
	SpaceConsumed  int64 `json:"spaceConsumed"`
	SpaceQuota     int64 `json:"spaceQuota"`
}

// RemoteException is the WebHDFS error body.
//
//	{"RemoteException": {"exception": "FileNotFoundException", ...}}
type RemoteException struct {
	Exception     string `json:"exception"`
	JavaClassName string `json:"javaClassName"`
	Message       string `json:"message"`
}

func (e *RemoteException) Error() string {
	return fmt.Sprintf("%s: %s", e.Exception, e.Message)
}

type remoteExceptionBody struct {
	RemoteException *RemoteException `json:"RemoteException"`
}

// Response is the data node's answer to a CREATE or OPEN.
//
// For CREATE the body has already been read and buffered. For OPEN it streams
// from the data node and the caller must Close it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Close closes the body.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// IsSuccess returns true if the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
