package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/oklog/ulid/v2"

	"github.com/consortium-members/membership-backend/internal/storage"
)

const defaultArchivePrefix = "audit"

// ArchiveShipper stores each event as its own object, keyed
// <prefix>/YYYY/MM/DD/<ulid>.json so listings sort by time.
type ArchiveShipper struct {
	archive storage.Archive
	prefix  string
}

func NewArchiveShipper(archive storage.Archive, prefix string) *ArchiveShipper {
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	return &ArchiveShipper{archive: archive, prefix: prefix}
}

// Key returns the object key for e.
func (s *ArchiveShipper) Key(e *Event) string {
	ts := e.Timestamp.UTC()
	id := ulid.MustNew(ulid.Timestamp(ts), ulid.DefaultEntropy())
	return path.Join(s.prefix, ts.Format("2006/01/02"), id.String()+".json")
}

func (s *ArchiveShipper) Ship(ctx context.Context, e *Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := s.archive.Put(ctx, s.Key(e), bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("archive audit event: %w", err)
	}
	return nil
}

func (s *ArchiveShipper) Close() error { return nil }
