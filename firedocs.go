// Copyright 2025 The Firedocs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package firedocs is a client runtime for Google Cloud Firestore.
//
// A Client wraps the Firestore RPC surface with a typed value codec,
// a query builder, batched and transactional writes, and change-feed
// subscriptions. See the subpackages for the codec and the cache
// synchronizer built on the change feed.
//
// Collections are addressed by their path relative to the database's
// documents root, so "users" or "users/u1/books" both name collections.
// Document structs may use `firedocs` struct tags to rename fields,
// declare aliases for server metadata, and control empty-field handling:
//
//	type User struct {
//		ID      string    `firedocs:"id,alias=_firestore_id"`
//		Name    string    `firedocs:"name"`
//		Joined  time.Time `firedocs:"joined,alias=_firestore_created"`
//		Bio     string    `firedocs:",omitempty"`
//	}
package firedocs

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	vkit "cloud.google.com/go/firestore/apiv1"
	"firedocs.dev/codec"
	"firedocs.dev/internal/fdberr"
	"firedocs.dev/internal/retry"
	"firedocs.dev/internal/useragent"
	"github.com/google/wire"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// DefaultDatabaseID is the database used when Options.DatabaseID is empty.
const DefaultDatabaseID = "(default)"

const defaultMaxAttempts = 5

// Options configures a Client.
type Options struct {
	// ProjectID is the GCP project. Required.
	ProjectID string

	// DatabaseID names the Firestore database. Defaults to DefaultDatabaseID.
	DatabaseID string

	// Convention adjusts field naming and empty-field handling at the
	// codec boundary. Nil keeps Go field names as they are.
	Convention *codec.Convention

	// Logger receives structured logs from long-lived components (the
	// streaming writer, listeners and the cache synchronizer). Defaults
	// to a no-op logger.
	Logger *zap.Logger

	// MaxAttempts bounds retries of transiently failing RPCs, including
	// per-item retries in the batch writers. Defaults to 5.
	MaxAttempts int

	// ClientOptions are passed through to the underlying RPC client.
	ClientOptions []option.ClientOption
}

// A Client is a handle on one Firestore database. It is safe for
// concurrent use by multiple goroutines.
type Client struct {
	c      *vkit.Client
	dbPath string // projects/P/databases/D
	conv   *codec.Convention
	log    *zap.Logger

	maxAttempts int
	backoff     gax.Backoff
}

// Dial connects to Firestore and returns a Client for the configured
// database.
//
// If the FIRESTORE_EMULATOR_HOST environment variable is set, the client
// connects to the emulator at that address without authentication,
// overriding the default endpoint.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.ProjectID == "" {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "firedocs: ProjectID is required")
	}
	db := opts.DatabaseID
	if db == "" {
		db = DefaultDatabaseID
	}
	copts := []option.ClientOption{
		useragent.ClientOption("firestore"),
	}
	if host := os.Getenv("FIRESTORE_EMULATOR_HOST"); host != "" {
		conn, err := grpc.NewClient(host, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fdberr.New(fdberr.Unavailable, err, "firedocs: dialing emulator")
		}
		copts = append(copts,
			option.WithEndpoint(host),
			option.WithGRPCConn(conn),
			option.WithoutAuthentication(),
		)
	}
	copts = append(copts, opts.ClientOptions...)
	c, err := vkit.NewClient(ctx, copts...)
	if err != nil {
		return nil, fdberr.New(fdberr.GRPCCode(err), err, "firedocs: creating client")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Client{
		c:           c,
		dbPath:      fmt.Sprintf("projects/%s/databases/%s", opts.ProjectID, db),
		conv:        opts.Convention,
		log:         logger,
		maxAttempts: maxAttempts,
		backoff: gax.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        5 * time.Second,
			Multiplier: 2,
		},
	}, nil
}

// Set holds Wire providers for this package.
var Set = wire.NewSet(
	Dial,
)

// Close releases the client's underlying connection. In-flight streams
// are terminated.
func (c *Client) Close() error {
	return c.c.Close()
}

// DatabasePath returns the database resource name,
// "projects/P/databases/D".
func (c *Client) DatabasePath() string { return c.dbPath }

// Convention returns the codec convention the client was configured
// with, or nil.
func (c *Client) Convention() *codec.Convention { return c.conv }

// Logger returns the client's structured logger.
func (c *Client) Logger() *zap.Logger { return c.log }

// DocumentsRoot returns the root under which all document paths live,
// "projects/P/databases/D/documents".
func (c *Client) DocumentsRoot() string { return c.dbPath + "/documents" }

// CollectionPath returns the absolute resource path of a collection named
// by its path relative to the documents root, e.g. "users/u1/books".
// The relative path must have an odd number of segments (ending on a
// collection ID) with no empty segments.
func (c *Client) CollectionPath(collection string) (string, error) {
	segs, err := splitPath(collection)
	if err != nil {
		return "", err
	}
	if len(segs)%2 != 1 {
		return "", fdberr.Newf(fdberr.InvalidArgument, nil, "%q is not a collection path: even number of segments", collection)
	}
	return c.DocumentsRoot() + "/" + collection, nil
}

// DocumentPath returns the absolute resource path of the document with the
// given ID within the collection.
func (c *Client) DocumentPath(collection, id string) (string, error) {
	cp, err := c.CollectionPath(collection)
	if err != nil {
		return "", err
	}
	if id == "" || strings.Contains(id, "/") {
		return "", fdberr.Newf(fdberr.InvalidArgument, nil, "invalid document ID %q", id)
	}
	return cp + "/" + id, nil
}

// ParentPath incrementally builds a document path to nest collections
// under, starting at the documents root. It rejects use of a partial path:
// every At call must supply both a collection ID and a document ID.
type ParentPath struct {
	root string
	segs []string
	err  error
}

// Parent returns a ParentPath rooted at the database's documents root.
// A query or listing against a collection path "c" relative to a parent
// p addresses p's subcollection c.
func (c *Client) Parent() ParentPath {
	return ParentPath{root: c.DocumentsRoot()}
}

// At appends one collection/document pair to the path.
func (p ParentPath) At(collectionID, documentID string) ParentPath {
	if p.err != nil {
		return p
	}
	if collectionID == "" || documentID == "" ||
		strings.Contains(collectionID, "/") || strings.Contains(documentID, "/") {
		p.err = fdberr.Newf(fdberr.InvalidArgument, nil,
			"invalid path step (%q, %q): IDs must be non-empty single segments", collectionID, documentID)
		return p
	}
	p.segs = append(p.segs[:len(p.segs):len(p.segs)], collectionID, documentID)
	return p
}

// Path returns the accumulated absolute document path, or the documents
// root if no steps were added.
func (p ParentPath) Path() (string, error) {
	if p.err != nil {
		return "", p.err
	}
	if len(p.segs) == 0 {
		return p.root, nil
	}
	return p.root + "/" + strings.Join(p.segs, "/"), nil
}

// Relative returns the collection-relative form of a subcollection of
// this parent, suitable for the collection argument of Client methods.
func (p ParentPath) Relative(collectionID string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	if collectionID == "" || strings.Contains(collectionID, "/") {
		return "", fdberr.Newf(fdberr.InvalidArgument, nil, "invalid collection ID %q", collectionID)
	}
	if len(p.segs) == 0 {
		return collectionID, nil
	}
	return strings.Join(p.segs, "/") + "/" + collectionID, nil
}

func splitPath(p string) ([]string, error) {
	if p == "" {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "empty path")
	}
	segs := strings.Split(p, "/")
	for _, s := range segs {
		if s == "" {
			return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "path %q has an empty segment", p)
		}
	}
	return segs, nil
}

// retryTransient runs f, retrying transient RPC failures with backoff up
// to the client's attempt bound.
func (c *Client) retryTransient(ctx context.Context, f func() error) error {
	return retry.Call(ctx, c.backoff, c.maxAttempts, fdberr.IsTransient, f)
}

// resourcePrefixHeader is the name of the metadata header used to indicate
// the resource being operated on.
const resourcePrefixHeader = "google-cloud-resource-prefix"

// withResourceHeader returns a new context that includes resource in a
// special header. Firestore uses the header for routing.
func withResourceHeader(ctx context.Context, resource string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md[resourcePrefixHeader] = []string{resource}
	return metadata.NewOutgoingContext(ctx, md)
}
