package changefeed

import "time"

// Transport limits. Keep these aligned with the server's gateway policy.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Heartbeat defaults (overridable via WSConfig).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Write deadline for subscribe frames.
	writeTimeout = 5 * time.Second
)
