// Package transport defines the interface for outbound mail backends.
package transport

import (
	"context"

	"github.com/machfivewheels/formrelay/internal/email"
)

// Transport delivers one composed email to an external mail service.
// Implementations must be safe for concurrent use and must not retry.
type Transport interface {
	// Send delivers msg. It returns an error if the service rejected the
	// message or could not be reached.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this transport.
	Name() string
}
