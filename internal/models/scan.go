package models

import "time"

// DiscoveredDevice is the handle for a peer seen during a scan
type DiscoveredDevice struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Name    string `json:"name"`
}

// ScanResult is one discovery event surfaced to the scan callback.
// Payload is nil when none of the parse forms matched; the device is
// still reported so the caller can treat it as unrecognized.
type ScanResult struct {
	Device       DiscoveredDevice `json:"device"`
	Payload      *PaymentPayload  `json:"payload,omitempty"`
	RSSI         int16            `json:"rssi"`
	DiscoveredAt time.Time        `json:"discoveredAt"`
}
