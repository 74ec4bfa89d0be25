// Package notify alerts the reviewer roster when a session needs human
// attention. Delivery is plain-text email over SMTP, or log-only when
// SMTP is not configured.
package notify

import "context"

// Sender delivers a notification message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
