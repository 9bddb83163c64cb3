// Package storage defines the Archive interface used to keep a copy of every
// notification email the dispatcher delivers.
//
// Backends register themselves with the factory from an init() function in
// their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.ArchiveConfig) (storage.Archive, error) {
//	        return New(cfg)
//	    })
//	}
//
// The server imports each backend with a blank import to trigger init().
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("archive object not found")

// Archive stores immutable message blobs keyed by slash-separated paths.
type Archive interface {
	// Put writes the reader's content under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64) (*PutResult, error)

	// Get returns a reader for the object, or ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// PutResult describes an archived object.
type PutResult struct {
	Key string

	// Size is the object size in bytes
	Size int64

	// Checksum is the hex SHA256 of the object contents
	Checksum string
}

// MessageKey builds the archive key for a sent notification:
// <prefix>/YYYY/MM/DD/<notification id>.eml
func MessageKey(prefix string, sentAt time.Time, notificationID string) string {
	sentAt = sentAt.UTC()
	key := path.Join(
		sentAt.Format("2006"), sentAt.Format("01"), sentAt.Format("02"),
		notificationID+".eml",
	)
	if p := strings.Trim(prefix, "/"); p != "" {
		key = p + "/" + key
	}
	return key
}

// MaxObjectSize bounds what a backend buffers for one Put.
const MaxObjectSize = 25 << 20

var contentTypes = map[string]string{
	".eml":  "message/rfc822",
	".json": "application/json",
}

// ContentTypeFor picks the stored content type from the key's extension.
func ContentTypeFor(key string) string {
	if ct, ok := contentTypes[path.Ext(key)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Object is a Put body buffered in memory with its SHA256.
type Object struct {
	Key         string
	Data        []byte
	Checksum    string
	ContentType string
}

// ReadObject buffers r for upload. Cloud SDKs want a known length and the
// checksum goes into object metadata, so the body is read up front.
func ReadObject(key string, r io.Reader) (*Object, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(data) > MaxObjectSize {
		return nil, fmt.Errorf("object %s exceeds %d bytes", key, MaxObjectSize)
	}
	sum := sha256.Sum256(data)
	return &Object{
		Key:         key,
		Data:        data,
		Checksum:    hex.EncodeToString(sum[:]),
		ContentType: ContentTypeFor(key),
	}, nil
}

func (o *Object) Reader() *bytes.Reader { return bytes.NewReader(o.Data) }

func (o *Object) Size() int64 { return int64(len(o.Data)) }

func (o *Object) Result() *PutResult {
	return &PutResult{Key: o.Key, Size: o.Size(), Checksum: o.Checksum}
}
