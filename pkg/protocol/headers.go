package protocol

// Reserved envelope header keys. All framework headers carry the "rb-" prefix;
// application headers must not use it.
const (
	HeaderContentTrust = "rb-content-trust"
	HeaderToolProvider = "rb-tool-provider"
	HeaderTimeoutMS    = "rb-timeout-ms"
	HeaderSource       = "rb-source"
	HeaderDestination  = "rb-destination"
	HeaderRetryCount   = "rb-retry-count"
)

// Values for HeaderContentTrust.
const (
	TrustToolRequest = "tool-request"
	TrustToolOutput  = "tool-output"
)

// ReservedHeaderPrefix marks framework-owned header keys.
const ReservedHeaderPrefix = "rb-"
