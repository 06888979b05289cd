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

// Package sqlitecache provides a durable cache backend on SQLite.
// Snapshots and resume tokens survive restarts, so a cache over this
// backend resumes its subscriptions instead of resyncing from scratch.
package sqlitecache

import (
	"context"
	"database/sql"
	"strings"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/cache"
	"firedocs.dev/internal/fdberr"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS resume_tokens (
	target_id INTEGER PRIMARY KEY,
	token BLOB NOT NULL
);
`

// A Store persists document snapshots and resume tokens in a SQLite
// database file. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

var _ cache.Backend = (*Store)(nil)

// Open opens or creates the database at filename and prepares the
// schema.
func Open(ctx context.Context, filename string) (*Store, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fdberr.New(fdberr.Internal, err, "sqlitecache: opening database")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fdberr.New(fdberr.Internal, err, "sqlitecache: configuring database")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fdberr.New(fdberr.Internal, err, "sqlitecache: preparing schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) GetDocument(ctx context.Context, path string) (*pb.Document, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM documents WHERE path = ?", path).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fdberr.New(fdberr.Internal, err, "sqlitecache: reading document")
	}
	return unmarshalDocument(data)
}

func (s *Store) PutDocument(ctx context.Context, doc *pb.Document) error {
	data, err := proto.Marshal(doc)
	if err != nil {
		return fdberr.New(fdberr.Internal, err, "sqlitecache: marshaling document")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, data) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET data = excluded.data`,
		doc.Name, data)
	if err != nil {
		return fdberr.New(fdberr.Internal, err, "sqlitecache: storing document")
	}
	return nil
}

func (s *Store) RemoveDocument(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE path = ?", path); err != nil {
		return fdberr.New(fdberr.Internal, err, "sqlitecache: removing document")
	}
	return nil
}

func (s *Store) ScanCollection(ctx context.Context, collectionPath string, f func(*pb.Document) error) error {
	lo, hi := rangeBounds(collectionPath)
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, data FROM documents WHERE path >= ? AND path < ? ORDER BY path",
		lo, hi)
	if err != nil {
		return fdberr.New(fdberr.Internal, err, "sqlitecache: scanning collection")
	}
	defer rows.Close()
	prefix := collectionPath + "/"
	for rows.Next() {
		var path string
		var data []byte
		if err := rows.Scan(&path, &data); err != nil {
			return fdberr.New(fdberr.Internal, err, "sqlitecache: scanning collection")
		}
		// The range also covers documents of nested subcollections.
		if strings.Contains(strings.TrimPrefix(path, prefix), "/") {
			continue
		}
		doc, err := unmarshalDocument(data)
		if err != nil {
			return err
		}
		if err := f(doc); err != nil {
			if err == cache.ErrScanDone {
				return nil
			}
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fdberr.New(fdberr.Internal, err, "sqlitecache: scanning collection")
	}
	return nil
}

func (s *Store) ClearCollection(ctx context.Context, collectionPath string) error {
	lo, hi := rangeBounds(collectionPath)
	prefix := collectionPath + "/"
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE path >= ? AND path < ? AND instr(substr(path, ?), '/') = 0`,
		lo, hi, len(prefix)+1)
	if err != nil {
		return fdberr.New(fdberr.Internal, err, "sqlitecache: clearing collection")
	}
	return nil
}

func unmarshalDocument(data []byte) (*pb.Document, error) {
	var doc pb.Document
	if err := proto.Unmarshal(data, &doc); err != nil {
		return nil, fdberr.New(fdberr.Internal, err, "sqlitecache: unmarshaling document")
	}
	return &doc, nil
}

// rangeBounds returns the half-open key range holding every path under
// the collection. Document IDs cannot contain '/', and '0' is the byte
// after '/', so [path+"/", path+"0") covers exactly the subtree.
func rangeBounds(collectionPath string) (lo, hi string) {
	return collectionPath + "/", collectionPath + "0"
}

func (s *Store) LoadToken(ctx context.Context, targetID int32) ([]byte, error) {
	var token []byte
	err := s.db.QueryRowContext(ctx, "SELECT token FROM resume_tokens WHERE target_id = ?", targetID).Scan(&token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fdberr.New(fdberr.Internal, err, "sqlitecache: reading resume token")
	}
	return token, nil
}

func (s *Store) StoreToken(ctx context.Context, targetID int32, token []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resume_tokens (target_id, token) VALUES (?, ?)
		ON CONFLICT(target_id) DO UPDATE SET token = excluded.token`,
		targetID, token)
	if err != nil {
		return fdberr.New(fdberr.Internal, err, "sqlitecache: storing resume token")
	}
	return nil
}

func (s *Store) ClearToken(ctx context.Context, targetID int32) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM resume_tokens WHERE target_id = ?", targetID); err != nil {
		return fdberr.New(fdberr.Internal, err, "sqlitecache: clearing resume token")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
