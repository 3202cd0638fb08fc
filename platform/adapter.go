// Package platform defines the adapter contract connecting the pipeline to
// external chat platforms, plus an in-process loopback adapter used in tests
// and examples. Adapters translate platform messages into inbound Message
// values and deliver outbound replies; they never touch pipeline internals.
package platform

import (
	"context"

	"github.com/lumabot/lumabot/core"
)

// Message is one inbound platform message before event derivation.
type Message struct {
	Platform string
	UserID   string
	GroupID  string // empty for direct messages
	Kind     core.PayloadKind
	Text     string
	Media    core.MediaRef
}

// Delivery addresses an outbound reply.
type Delivery struct {
	Platform string
	UserID   string
	GroupID  string
}

// Adapter is the contract a platform integration implements.
//
// Lifecycle: Start begins receiving; Messages yields inbound messages until
// the adapter stops, then closes; Stop shuts the adapter down and releases
// resources. Send may be called concurrently with message receipt.
type Adapter interface {
	// Name identifies the platform (used as Event.Platform).
	Name() string

	// Start begins receiving messages.
	Start(ctx context.Context) error

	// Stop shuts the adapter down; Messages closes afterwards.
	Stop() error

	// Messages yields inbound messages in receipt order.
	Messages() <-chan Message

	// Send delivers a reply to the addressed conversation.
	Send(ctx context.Context, to Delivery, reply *core.Reply) error
}
