// Package notify renders outbox notifications into email messages and delivers them.
//
// Each notification row carries a Type and a JSON Payload. The dispatcher opens the
// payload, looks up the template for the type and hands the rendered Message to a
// Mailer. Templates are deliberately plain; deployments that want branded mail
// replace them with Register.
package notify

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"text/template"
)

// Notification types. The value is stored in notifications.type.
const (
	TypeTransferInvitation          = "transfer_invitation"
	TypeTransferAdminNotice         = "transfer_admin_notice"
	TypeTransferAccepted            = "transfer_accepted"
	TypeTransferCompletedOldContact = "transfer_completed_old_contact"
	TypeTransferCompletedNewContact = "transfer_completed_new_contact"
	TypeTransferRejected            = "transfer_rejected"
	TypeTransferCancelled           = "transfer_cancelled"
	TypeTransferExpired             = "transfer_expired"
	TypeOrganizationRegistered      = "organization_registered"
	TypeOrganizationApproved        = "organization_approved"
	TypeOrganizationRejected        = "organization_rejected"
	TypeBulk                        = "bulk"
)

// ErrUnknownType is returned by Render for a type with no registered template
var ErrUnknownType = errors.New("notify: no template for notification type")

// Payload is the data a template is rendered with. It is stored sealed in the outbox.
type Payload struct {
	OrganizationName string `json:"organization_name,omitempty"`
	RecipientName    string `json:"recipient_name,omitempty"`
	RequesterName    string `json:"requester_name,omitempty"`
	RequesterEmail   string `json:"requester_email,omitempty"`
	NewContactEmail  string `json:"new_contact_email,omitempty"`
	OldContactName   string `json:"old_contact_name,omitempty"`
	NewContactName   string `json:"new_contact_name,omitempty"`
	AcceptURL        string `json:"accept_url,omitempty"`
	ExpiresAt        string `json:"expires_at,omitempty"`
	Reason           string `json:"reason,omitempty"`
	TransferID       string `json:"transfer_id,omitempty"`
	// Subject and Body are used verbatim by bulk notifications
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var (
	mu        sync.RWMutex
	templates = map[string]mailTemplate{}
)

// Register installs (or replaces) the subject and body templates for a type
func Register(typ, subject, body string) error {
	s, err := template.New(typ + ".subject").Parse(subject)
	if err != nil {
		return fmt.Errorf("failed to parse subject template for %s: %w", typ, err)
	}
	b, err := template.New(typ + ".body").Parse(body)
	if err != nil {
		return fmt.Errorf("failed to parse body template for %s: %w", typ, err)
	}
	mu.Lock()
	templates[typ] = mailTemplate{subject: s, body: b}
	mu.Unlock()
	return nil
}

func mustRegister(typ, subject, body string) {
	if err := Register(typ, subject, body); err != nil {
		panic(err)
	}
}

// Known reports whether a template is registered for typ
func Known(typ string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := templates[typ]
	return ok
}

// Render produces the subject and plain-text body for a notification
func Render(typ string, p Payload) (subject, body string, err error) {
	mu.RLock()
	t, ok := templates[typ]
	mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}

	var sb, bb bytes.Buffer
	if err := t.subject.Execute(&sb, p); err != nil {
		return "", "", fmt.Errorf("failed to render subject for %s: %w", typ, err)
	}
	if err := t.body.Execute(&bb, p); err != nil {
		return "", "", fmt.Errorf("failed to render body for %s: %w", typ, err)
	}
	return sb.String(), bb.String(), nil
}
