package push

import "errors"

// Sentinel kinds for the push channel.
var (
	ErrHubClosed = errors.New("push hub closed")
	ErrSlowPeer  = errors.New("push subscriber too slow")
)
