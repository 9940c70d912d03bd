// Package form recognizes which site form produced a submission, enforces
// that form's field rules and composes the plain-text notification.
package form

import (
	"fmt"
	"strings"

	"github.com/machfivewheels/formrelay/internal/sanitize"
)

// Kind identifies one of the site's forms.
type Kind string

const (
	Dealer  Kind = "dealer"
	Contact Kind = "contact"
)

const (
	dealerSubject  = "New Dealer Application"
	contactSubject = "New Website Contact Submission"
)

// honeypotFields are hidden inputs that humans never fill in.
var honeypotFields = []string{"website", "company"}

// Message is a validated, composed notification ready for dispatch.
type Message struct {
	Kind    Kind
	Subject string
	Body    string
	// ReplyTo is the submitter's address as typed; the dispatcher re-checks it.
	ReplyTo string
	// SenderName is the submitter's display name.
	SenderName string
}

// Rule names the validation rule a submission failed.
type Rule string

const (
	RuleUnknownForm   Rule = "unknown_form"
	RuleRequired      Rule = "required_fields"
	RuleEmailMismatch Rule = "email_mismatch"
	RuleEmailFormat   Rule = "email_format"
)

var ruleMessages = map[Rule]string{
	RuleUnknownForm:   "Invalid form submission.",
	RuleRequired:      "Please fill in all required fields.",
	RuleEmailMismatch: "Emails do not match.",
	RuleEmailFormat:   "Invalid email address.",
}

// ValidationError reports the first rule a submission violated. Message is
// safe to show to the submitter.
type ValidationError struct {
	Kind    Kind
	Rule    Rule
	Message string
}

func (e *ValidationError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("form validation failed (%s)", e.Rule)
	}
	return fmt.Sprintf("%s form validation failed (%s)", e.Kind, e.Rule)
}

func invalid(kind Kind, rule Rule) *ValidationError {
	return &ValidationError{Kind: kind, Rule: rule, Message: ruleMessages[rule]}
}

// Honeypot reports whether a bot filled one of the hidden trap fields. The
// first non-empty trap field decides, as in `website || company`.
func Honeypot(fields map[string]string) bool {
	for _, name := range honeypotFields {
		if v := fields[name]; v != "" {
			return strings.TrimSpace(v) != ""
		}
	}
	return false
}

// Detect returns the form a field set was submitted from. A field set that
// carries both dealer and contact fields is a dealer application.
func Detect(fields map[string]string) (Kind, bool) {
	switch {
	case has(fields, "business") && has(fields, "contact"):
		return Dealer, true
	case has(fields, "first_name") && has(fields, "last_name"):
		return Contact, true
	default:
		return "", false
	}
}

// Classify detects the form, sanitizes every consumed field, validates it and
// composes the notification.
func Classify(fields map[string]string) (*Message, error) {
	kind, ok := Detect(fields)
	if !ok {
		return nil, invalid("", RuleUnknownForm)
	}

	switch kind {
	case Dealer:
		return composeDealer(fields)
	default:
		return composeContact(fields)
	}
}

func composeDealer(fields map[string]string) (*Message, error) {
	var (
		business = field(fields, "business")
		contact  = field(fields, "contact")
		addr     = field(fields, "email")
		phone    = field(fields, "phone")
		message  = field(fields, "message")
	)

	if business == "" || contact == "" || addr == "" || message == "" {
		return nil, invalid(Dealer, RuleRequired)
	}
	if !sanitize.IsValidEmail(addr) {
		return nil, invalid(Dealer, RuleEmailFormat)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Business Name: %s\n", business)
	fmt.Fprintf(&b, "Contact Name: %s\n", contact)
	fmt.Fprintf(&b, "Email: %s\n", addr)
	fmt.Fprintf(&b, "Phone: %s\n\n", phone)
	fmt.Fprintf(&b, "Shop Info:\n%s", message)

	return &Message{
		Kind:       Dealer,
		Subject:    dealerSubject,
		Body:       b.String(),
		ReplyTo:    addr,
		SenderName: contact,
	}, nil
}

func composeContact(fields map[string]string) (*Message, error) {
	var (
		first    = field(fields, "first_name")
		last     = field(fields, "last_name")
		addr     = field(fields, "email")
		confirm  = field(fields, "email_confirm")
		phone    = field(fields, "phone")
		city     = field(fields, "city")
		country  = field(fields, "country")
		state    = field(fields, "state")
		year     = field(fields, "vehicle_year")
		maker    = field(fields, "vehicle_make")
		model    = field(fields, "vehicle_model")
		comments = field(fields, "comments")
	)

	if first == "" || last == "" || addr == "" || confirm == "" {
		return nil, invalid(Contact, RuleRequired)
	}
	if addr != confirm {
		return nil, invalid(Contact, RuleEmailMismatch)
	}
	if !sanitize.IsValidEmail(addr) {
		return nil, invalid(Contact, RuleEmailFormat)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s %s\n", first, last)
	fmt.Fprintf(&b, "Email: %s\n", addr)
	fmt.Fprintf(&b, "Phone: %s\n", phone)
	fmt.Fprintf(&b, "City: %s\n", city)
	fmt.Fprintf(&b, "Country: %s\n", country)
	fmt.Fprintf(&b, "State: %s\n", state)
	fmt.Fprintf(&b, "Vehicle Year: %s\n", year)
	fmt.Fprintf(&b, "Vehicle Make: %s\n", maker)
	fmt.Fprintf(&b, "Vehicle Model: %s\n\n", model)
	fmt.Fprintf(&b, "Message:\n%s", comments)

	return &Message{
		Kind:       Contact,
		Subject:    contactSubject,
		Body:       b.String(),
		ReplyTo:    addr,
		SenderName: first + " " + last,
	}, nil
}

func has(fields map[string]string, name string) bool {
	_, ok := fields[name]
	return ok
}

func field(fields map[string]string, name string) string {
	return sanitize.Sanitize(fields[name])
}
