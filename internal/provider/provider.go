// Package provider wraps the external messaging API behind a minimal
// send-one-message contract. The engine only distinguishes three outcomes:
// success, a rate-limit signal, and everything else.
package provider

import "context"

// Message is one message unit addressed to a single recipient.
type Message struct {
	Phone string
	Body  string
	// TrackingID is echoed back on delivery callbacks so external
	// collaborators can correlate replies and blocks to queue items.
	TrackingID string
}

// Sender sends a single message unit on behalf of a tenant.
//
// A rate-limit response is reported as ErrRateLimited; callers use
// errors.Is to branch on it. Timeouts and all other failures are generic
// send errors. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, credential string, msg Message) error
}
