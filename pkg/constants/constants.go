package constants

import "time"

const (
	// RequestIDLength size of id sent on duplex requests
	RequestIDLength = 16
	// CloseMessageCode identifier the message id for a close request
	CloseMessageCode = 1000
	// DefaultWSTimeout is the time a duplex Send waits for its response
	DefaultWSTimeout = 30 * time.Second
	// DefaultHTTPTimeout is the http.Client timeout of the request/response transport
	DefaultHTTPTimeout = 10 * time.Second
	// DefaultEventQueueSize is the bounded per-subscriber event queue length
	DefaultEventQueueSize = 256
	// DefaultOutboundQueueSize is the per-connection outbound frame queue length
	DefaultOutboundQueueSize = 64
	// DefaultDatabase is the database name used when a SyncRequest omits it
	DefaultDatabase = "main_db"
)

var (
	WebsocketScheme       = "ws"
	SecureWebsocketScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)

// Paths served by the hub.
const (
	SyncPath    = "/sync"
	WSPath      = "/ws"
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

// WebSocket subprotocols naming the codec of the frames.
const (
	SubprotocolJSON = "fliox.json"
	SubprotocolCBOR = "fliox.cbor"
)
