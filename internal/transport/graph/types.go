// Package graph implements a Transport that sends emails via the Microsoft
// Graph sendMail API.
package graph

import (
	"encoding/base64"
	"sort"

	"github.com/machfivewheels/formrelay/internal/email"
)

type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject                string            `json:"subject"`
	Body                   messageBody       `json:"body"`
	From                   *recipient        `json:"from,omitempty"`
	ToRecipients           []recipient       `json:"toRecipients"`
	ReplyTo                []recipient       `json:"replyTo,omitempty"`
	InternetMessageHeaders []messageHeader   `json:"internetMessageHeaders,omitempty"`
	Attachments            []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an email.Email into a sendMail request body.
// Graph only accepts custom headers prefixed with "X-"; msg.Headers are
// expected to follow that rule.
func buildSendMailRequest(msg *email.Email) *sendMailRequest {
	toRecipients := make([]recipient, 0, len(msg.To))
	for _, addr := range msg.To {
		toRecipients = append(toRecipients, recipient{
			EmailAddress: emailAddress{Address: addr},
		})
	}

	out := sendMailMessage{
		Subject:      msg.Subject,
		Body:         messageBody{ContentType: "text", Content: msg.TextBody},
		ToRecipients: toRecipients,
	}

	if msg.From.Address != "" {
		out.From = &recipient{EmailAddress: emailAddress{Name: msg.From.Name, Address: msg.From.Address}}
	}
	if msg.ReplyTo != "" {
		out.ReplyTo = []recipient{{EmailAddress: emailAddress{Address: msg.ReplyTo}}}
	}

	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out.InternetMessageHeaders = append(out.InternetMessageHeaders, messageHeader{Name: name, Value: msg.Headers[name]})
	}

	for _, att := range msg.Attachments {
		out.Attachments = append(out.Attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	return &sendMailRequest{Message: out}
}
