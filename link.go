package callsdk

import (
	"context"
	"net/url"
)

// Link events. Listeners receive the arguments noted next to each event.
const (
	LinkEventConnected       = "connected"       // ()
	LinkEventDisconnected    = "disconnected"    // ()
	LinkEventViabilityChange = "viabilitychange" // (viable bool)
	LinkEventPong            = "pong"            // ()
	LinkEventMessage         = "message"         // (data []byte)
	LinkEventBinary          = "binary"          // (data []byte)
	LinkEventError           = "error"           // (message string)
)

// Link owns exactly one live socket to the signaling backend. It does not
// interpret frames, it only surfaces them as events.
type Link interface {
	IEventEmitter

	// Connect starts opening the socket. Completion is observed through the
	// "connected" event, failure through "error" followed by "disconnected".
	Connect(ctx context.Context, rawURL string, query url.Values) error

	// Send writes one text frame. It returns ErrLinkClosed if no socket is open.
	Send(data []byte) error

	// Disconnect closes the socket. It is idempotent.
	Disconnect() error
}
