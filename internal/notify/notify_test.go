package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/consortium-members/membership-backend/internal/config"
)

func TestRender_TransferInvitation(t *testing.T) {
	subject, body, err := Render(TypeTransferInvitation, Payload{
		OrganizationName: "Acme College",
		RequesterName:    "Pat Doe",
		AcceptURL:        "https://members.example.edu/auth?action=accept-transfer&token=abc",
		ExpiresAt:        "8 Mar 2026",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(subject, "Acme College") {
		t.Errorf("subject = %q", subject)
	}
	if !strings.Contains(body, "https://members.example.edu/auth?action=accept-transfer&token=abc") {
		t.Errorf("body does not contain the accept link (text/template must not escape it):\n%s", body)
	}
}

func TestRender_RejectedReasonOptional(t *testing.T) {
	_, withReason, err := Render(TypeTransferRejected, Payload{OrganizationName: "Acme", Reason: "duplicate"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	_, without, err := Render(TypeTransferRejected, Payload{OrganizationName: "Acme"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(withReason, "Reason: duplicate") {
		t.Error("reason missing")
	}
	if strings.Contains(without, "Reason:") {
		t.Error("empty reason should be omitted")
	}
}

func TestRender_UnknownType(t *testing.T) {
	if _, _, err := Render("survey_reminder", Payload{}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

func TestAllTypesRegistered(t *testing.T) {
	for _, typ := range []string{
		TypeTransferInvitation, TypeTransferAdminNotice, TypeTransferAccepted,
		TypeTransferCompletedOldContact, TypeTransferCompletedNewContact,
		TypeTransferRejected, TypeTransferCancelled, TypeTransferExpired,
		TypeOrganizationRegistered, TypeOrganizationApproved, TypeOrganizationRejected,
		TypeBulk,
	} {
		if !Known(typ) {
			t.Errorf("no template for %s", typ)
		}
	}
}

func TestRegister_InvalidTemplate(t *testing.T) {
	if err := Register("broken", "{{.Unclosed", "body"); err == nil {
		t.Error("expected parse error")
	}
}

func TestMessageBytes(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msg := NewMessage("Membership <membership@consortium.org>", "new@acme.edu", "Hello\r\nBcc: x@evil", "line one\nline two", now)

	if !strings.HasSuffix(msg.ID, "@consortium.org") {
		t.Errorf("Message-ID = %q, want domain of sender", msg.ID)
	}

	raw := string(msg.Bytes())
	if !strings.Contains(raw, "Message-ID: <"+msg.ID+">\r\n") {
		t.Error("missing Message-ID header")
	}
	if strings.Contains(raw, "\r\nBcc:") {
		t.Error("subject injected a header")
	}
	if !strings.HasSuffix(raw, "line one\r\nline two\r\n") {
		t.Errorf("body not CRLF-normalized: %q", raw)
	}
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	a := NewMessage("a@x.org", "b@y.org", "s", "b", time.Now())
	b := NewMessage("a@x.org", "b@y.org", "s", "b", time.Now())
	if a.ID == b.ID {
		t.Error("message IDs should be unique")
	}
}

func TestNewMailer(t *testing.T) {
	if _, ok := NewMailer(nil).(LogMailer); !ok {
		t.Error("nil config should yield LogMailer")
	}
	if _, ok := NewMailer(&config.SMTPConfig{}).(LogMailer); !ok {
		t.Error("empty host should yield LogMailer")
	}
	if _, ok := NewMailer(&config.SMTPConfig{Host: "smtp.example.org", Port: 587}).(*SMTPMailer); !ok {
		t.Error("configured host should yield SMTPMailer")
	}
	if err := (LogMailer{}).Send(context.Background(), NewMessage("a@x.org", "b@y.org", "s", "b", time.Now())); err != nil {
		t.Errorf("LogMailer.Send: %v", err)
	}
}
