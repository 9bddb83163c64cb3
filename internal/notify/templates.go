package notify

func init() {
	mustRegister(TypeTransferInvitation,
		`You have been nominated as primary contact for {{.OrganizationName}}`,
		`Hello,

{{.RequesterName}} has asked to hand the primary contact role for {{.OrganizationName}} over to you.

To accept, open the link below and sign in with this email address:

  {{.AcceptURL}}

The link expires on {{.ExpiresAt}}. If you were not expecting this, you can ignore this email.
`)

	mustRegister(TypeTransferAdminNotice,
		`Contact transfer requested for {{.OrganizationName}}`,
		`{{.RequesterName}} ({{.RequesterEmail}}) requested to transfer the primary contact of {{.OrganizationName}} to {{.NewContactEmail}}.

Transfer ID: {{.TransferID}}
Expires: {{.ExpiresAt}}
`)

	mustRegister(TypeTransferAccepted,
		`Contact transfer accepted for {{.OrganizationName}}`,
		`{{.NewContactName}} ({{.NewContactEmail}}) accepted the primary contact role for {{.OrganizationName}}.

The transfer is waiting for approval. Transfer ID: {{.TransferID}}
`)

	mustRegister(TypeTransferCompletedOldContact,
		`You are no longer the primary contact for {{.OrganizationName}}`,
		`Hello {{.RecipientName}},

The primary contact role for {{.OrganizationName}} has been transferred to {{.NewContactName}} ({{.NewContactEmail}}).
`)

	mustRegister(TypeTransferCompletedNewContact,
		`You are now the primary contact for {{.OrganizationName}}`,
		`Hello {{.RecipientName}},

You are now the primary contact for {{.OrganizationName}}, taking over from {{.OldContactName}}.
`)

	mustRegister(TypeTransferRejected,
		`Contact transfer for {{.OrganizationName}} was not approved`,
		`Hello {{.RecipientName}},

Your request to transfer the primary contact of {{.OrganizationName}} to {{.NewContactEmail}} was not approved.
{{if .Reason}}
Reason: {{.Reason}}
{{end}}`)

	mustRegister(TypeTransferCancelled,
		`Contact transfer for {{.OrganizationName}} was cancelled`,
		`The pending transfer of the primary contact of {{.OrganizationName}} to {{.NewContactEmail}} was cancelled by the requester.
`)

	mustRegister(TypeTransferExpired,
		`Contact transfer for {{.OrganizationName}} expired`,
		`Hello {{.RecipientName}},

Your request to transfer the primary contact of {{.OrganizationName}} to {{.NewContactEmail}} expired before it was accepted. You can start a new one at any time.
`)

	mustRegister(TypeOrganizationRegistered,
		`New organization registration: {{.OrganizationName}}`,
		`{{.RequesterName}} ({{.RequesterEmail}}) registered {{.OrganizationName}} and is waiting for approval.
`)

	mustRegister(TypeOrganizationApproved,
		`{{.OrganizationName}} has been approved`,
		`Hello {{.RecipientName}},

Your registration of {{.OrganizationName}} has been approved. Welcome to the consortium.
`)

	mustRegister(TypeOrganizationRejected,
		`{{.OrganizationName}} registration was not approved`,
		`Hello {{.RecipientName}},

Your registration of {{.OrganizationName}} was not approved.
{{if .Reason}}
Reason: {{.Reason}}
{{end}}`)

	mustRegister(TypeBulk, `{{.Subject}}`, `{{.Body}}`)
}
