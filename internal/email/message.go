// Package email defines the outbound email data model shared by the mail
// dispatcher and every transport.
package email

// Email is a fully addressed outbound message. Transports read it but never
// mutate it.
type Email struct {
	From        Address
	To          []string
	ReplyTo     string
	Subject     string
	TextBody    string
	Headers     map[string]string
	MessageID   string
	Attachments []Attachment
}

// Address is a mailbox with an optional display name.
type Address struct {
	Name    string
	Address string
}

// String renders the address in RFC 5322 form, e.g. `"Mach Five" <a@b.com>`.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return formatAddress(a.Name, a.Address)
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// TotalAttachmentBytes returns the combined size of all attachment payloads.
func (e *Email) TotalAttachmentBytes() int {
	n := 0
	for _, att := range e.Attachments {
		n += len(att.Content)
	}
	return n
}
