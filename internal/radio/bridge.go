// Package radio wraps the native short-range radio stack behind a small
// bridge interface. The bridge is the only place the process touches the
// platform Bluetooth layer; everything above it works with the resolved
// capability and explicit timeouts, because the native calls are
// fire-and-forget and their resolution is not ground truth.
package radio

import (
	"context"
	"errors"
)

// Common bridge errors
var (
	ErrRadioUnavailable       = errors.New("radio adapter unavailable or powered off")
	ErrScanUnsupported        = errors.New("scanning not supported on this platform")
	ErrUnknownDevice          = errors.New("unknown device")
	ErrCharacteristicNotFound = errors.New("service or characteristic not found")
	ErrOperationTimeout       = errors.New("radio operation timed out")
)

// Capability is the one-time resolved broadcast capability of the
// running platform. Resolved at init and consumed without re-probing.
type Capability string

const (
	// CapabilityNative means the platform can truly broadcast in
	// peripheral mode.
	CapabilityNative Capability = "NATIVE"
	// CapabilityFallback means adverts are carried by the periodic
	// re-broadcast loop only.
	CapabilityFallback Capability = "FALLBACK"
	// CapabilityUnavailable means no radio is usable at all.
	CapabilityUnavailable Capability = "UNAVAILABLE"
)

// Advertisement is the broadcast request handed to the bridge
type Advertisement struct {
	LocalName        string
	ServiceUUID      string
	ManufacturerData []byte
}

// ScanEvent is one raw discovery callback from the bridge
type ScanEvent struct {
	DeviceID         string
	Address          string
	LocalName        string
	RSSI             int16
	ManufacturerData []byte
	HasService       bool
}

// Peer is an established point-to-point link
type Peer interface {
	// ID returns the device identifier the peer was connected under.
	ID() string
	// Services lists the service UUIDs discovered on connect.
	Services() []string
	// Write sends one payload on the data characteristic.
	Write(data []byte) error
	// Subscribe registers a notification handler on the data
	// characteristic and returns an explicit disposer.
	Subscribe(handler func(data []byte)) (func(), error)
	// Disconnect tears the link down. Best effort.
	Disconnect() error
}

// Bridge abstracts the native radio primitives. Implementations must
// honor context cancellation on every call that can block; callers treat
// a hung call as failed once the context deadline passes.
type Bridge interface {
	// Powered reports the adapter power state.
	Powered(ctx context.Context) (bool, error)
	// SupportsAdvertising reports whether the platform has a real
	// peripheral-mode broadcast primitive.
	SupportsAdvertising() bool

	// Advertise starts broadcasting. Fire-and-forget on most platforms:
	// a nil error means the request was accepted, not that packets are
	// on the air.
	Advertise(ctx context.Context, adv Advertisement) error
	// StopAdvertising stops broadcasting. Best effort.
	StopAdvertising(ctx context.Context) error

	// Scan delivers discovery events to onEvent until the context is
	// cancelled or StopScan is called. Blocking.
	Scan(ctx context.Context, onEvent func(ScanEvent)) error
	// StopScan aborts a running scan. Safe to call when not scanning.
	StopScan() error

	// Connect establishes a link to a previously discovered device.
	Connect(ctx context.Context, deviceID string) (Peer, error)
}

// ResolveCapability probes the bridge exactly once at initialization
// and returns the tagged capability consumed by the controllers.
func ResolveCapability(ctx context.Context, bridge Bridge) Capability {
	if bridge == nil {
		return CapabilityUnavailable
	}
	// A powered-off adapter is still a usable platform; the radio-on
	// retry in the advertising controller handles transient power
	// state. Only a bridge that cannot even answer is unavailable.
	if _, err := bridge.Powered(ctx); err != nil {
		return CapabilityUnavailable
	}
	if bridge.SupportsAdvertising() {
		return CapabilityNative
	}
	return CapabilityFallback
}
