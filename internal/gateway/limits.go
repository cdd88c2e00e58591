package gateway

import "time"

// Security/performance limits for the WS endpoint.
const (
	// Max bytes per websocket frame read (hard limit). Sized for a base64
	// audio chunk plus envelope overhead.
	maxFrameBytes = 64 << 10 // 64 KiB
)

const (
	// Heartbeat defaults (can be overridden by env in ws.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection message-rate limits. Audio streams at roughly 5
	// chunks/sec; the window leaves generous headroom before an abusive
	// sender is cut off.
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
