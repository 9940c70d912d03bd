package email

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

// Compose renders msg as an RFC 5322 multipart/mixed message: one inline
// text/plain part followed by one base64 part per attachment.
func Compose(msg *Email, now time.Time) ([]byte, error) {
	var h gomail.Header
	h.SetDate(now)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*gomail.Address{{Name: msg.From.Name, Address: msg.From.Address}})

	to := make([]*gomail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, &gomail.Address{Address: addr})
	}
	h.SetAddressList("To", to)

	if msg.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*gomail.Address{{Address: msg.ReplyTo}})
	}
	if msg.MessageID != "" {
		h.SetMessageID(msg.MessageID)
	}
	for key, value := range msg.Headers {
		h.Set(key, value)
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	if err := writeTextPart(mw, msg.TextBody); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		var ah gomail.AttachmentHeader
		ah.SetContentType(att.ContentType, nil)
		ah.SetFilename(att.Filename)

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := w.Write(att.Content); err != nil {
			return nil, fmt.Errorf("failed to write attachment %q: %w", att.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close attachment part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeTextPart(mw *gomail.Writer, body string) error {
	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create inline part: %w", err)
	}

	var th gomail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	w, err := tw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("failed to create text part: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("failed to write text body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close text part: %w", err)
	}
	return tw.Close()
}

func formatAddress(name, addr string) string {
	return (&mail.Address{Name: name, Address: addr}).String()
}
