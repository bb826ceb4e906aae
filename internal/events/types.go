// Package events provides the daemon's synchronous publish/subscribe bus.
// Producers (the classifier, the lifecycle manager, periodic tasks) publish
// typed events; subscribers (the command server's "monitor" command, the
// metrics collector) react without either side knowing about the other.
package events

import "time"

// Type identifies the category of event.
type Type string

const (
	TypeConnectionAttempt Type = "connection_attempt"
	TypeBlock             Type = "block"
	TypeUnblock           Type = "unblock"
	TypeBlockExpired      Type = "block_expired"
	TypeGeoBlock          Type = "geo_block"
	TypePortScanDetected  Type = "port_scan_detected"
	TypeBandwidthExceeded Type = "bandwidth_exceeded"
	TypeRateLimitExceeded Type = "rate_limit_exceeded"
	TypeWhitelistAdded    Type = "whitelist_added"
	TypeWhitelistRemoved  Type = "whitelist_removed"
)

// Event is the message passed through the bus. Data is one of the
// Type-specific payload structs below, matched by Type.
type Event struct {
	Type      Type
	Timestamp time.Time
	Source    string
	Data      any
}

// ConnectionAttemptData is the payload for TypeConnectionAttempt.
type ConnectionAttemptData struct {
	Address  string
	SrcPort  string
	DstPort  string
	Protocol string
}

// BlockData is the payload for TypeBlock, TypeUnblock, TypeBlockExpired.
type BlockData struct {
	Address  string
	Duration time.Duration
	Reason   string
}

// GeoBlockData is the payload for TypeGeoBlock.
type GeoBlockData struct {
	Address string
	Country string
}

// PortScanData is the payload for TypePortScanDetected.
type PortScanData struct {
	Address     string
	DistinctDst int
}

// BandwidthData is the payload for TypeBandwidthExceeded.
type BandwidthData struct {
	Interface string
	BytesRate uint64
}

// RateLimitData is the payload for TypeRateLimitExceeded.
type RateLimitData struct {
	Address  string
	Attempts int
	Window   time.Duration
}

// WhitelistData is the payload for TypeWhitelistAdded/TypeWhitelistRemoved.
type WhitelistData struct {
	Address string
}
