// Package webhdfs implements a client for the WebHDFS REST API.
//
// CREATE and OPEN take two hops: a control request to the NameNode, which
// answers with a redirect, and a data request to the DataNode named in the
// redirect's Location header. The client never lets the HTTP transport follow
// that redirect; it reads Location itself and reattaches the delegation token.
// Metadata queries (GETFILESTATUS, LISTSTATUS, GETCONTENTSUMMARY) are a
// single hop to the NameNode.
//
// Uploads stream the local file in fixed-size chunks. Every call is wrapped in
// a bounded retry policy that retries connection failures and 5xx/429
// responses only.
//
// Configuration:
//
//	cfg := webhdfs.Config{
//	    Host: "namenode.local",
//	    Port: 9871,
//	    User: "spark",
//	}
//	client, err := webhdfs.New(cfg)
//
// Errors:
//
//	errors.Is(err, webhdfs.ErrPathNotFound) // metadata query found nothing usable
//	errors.Is(err, webhdfs.ErrLocalIO)      // local origin file unreadable
//	errors.Is(err, webhdfs.ErrProtocol)     // redirect without Location
//	errors.Is(err, webhdfs.ErrTransient)    // retries exhausted
//	errors.Is(err, webhdfs.ErrRemote)       // non-retryable HTTP status
package webhdfs
