// Package audit forwards audit events to destinations outside the database so
// the trail survives independently of it. The audit_logs table stays the
// system of record; shippers are best effort.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/consortium-members/membership-backend/internal/config"
	"github.com/consortium-members/membership-backend/internal/storage"
)

// Event is the shipped form of one audited request.
type Event struct {
	Timestamp      time.Time              `json:"timestamp"`
	Action         string                 `json:"action"`
	UserID         string                 `json:"user_id,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	ResourceType   string                 `json:"resource_type,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	AuthMethod     string                 `json:"auth_method,omitempty"`
	RequestID      string                 `json:"request_id,omitempty"`
	StatusCode     int                    `json:"status_code,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

type Shipper interface {
	Ship(ctx context.Context, e *Event) error
	Close() error
}

// Fanout ships every event to each configured destination.
type Fanout struct {
	shippers []Shipper
}

// NewFanout builds the enabled shippers in cfgs. archive backs the "archive"
// type and may be nil when no such shipper is configured.
func NewFanout(cfgs []config.AuditShipperConfig, archive storage.Archive) (*Fanout, error) {
	f := &Fanout{}
	for i, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		s, err := build(cfg, archive)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("audit shipper %d (%s): %w", i, cfg.Type, err)
		}
		f.shippers = append(f.shippers, s)
	}
	return f, nil
}

func build(cfg config.AuditShipperConfig, archive storage.Archive) (Shipper, error) {
	switch cfg.Type {
	case "webhook":
		if cfg.Webhook == nil {
			return nil, errors.New("missing webhook settings")
		}
		return NewWebhookShipper(cfg.Webhook)
	case "file":
		if cfg.File == nil {
			return nil, errors.New("missing file settings")
		}
		return NewFileShipper(cfg.File.Path)
	case "archive":
		if archive == nil {
			return nil, errors.New("archive shipper needs a configured archive backend")
		}
		prefix := ""
		if cfg.Archive != nil {
			prefix = cfg.Archive.Prefix
		}
		return NewArchiveShipper(archive, prefix), nil
	}
	return nil, fmt.Errorf("unknown shipper type %q", cfg.Type)
}

func (f *Fanout) Len() int { return len(f.shippers) }

// Ship delivers to every destination even when some fail; failures are joined.
func (f *Fanout) Ship(ctx context.Context, e *Event) error {
	var errs []error
	for _, s := range f.shippers {
		if err := s.Ship(ctx, e); err != nil {
			slog.Warn("audit shipper failed", "action", e.Action, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.shippers {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
