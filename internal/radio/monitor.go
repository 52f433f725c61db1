package radio

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	bluezService      = "org.bluez"
	bluezAdapterIface = "org.bluez.Adapter1"
)

// StateMonitor observes the adapter power state. On Linux it reads
// org.bluez Adapter1.Powered over the system bus; when D-Bus is not
// reachable it falls back to probing the bridge. The state is re-read
// on every call, never cached, because it changes out-of-band.
type StateMonitor struct {
	adapter string
	conn    *dbus.Conn
	bridge  Bridge
}

// NewStateMonitor builds a monitor for the given adapter (e.g. "hci0").
// A nil D-Bus connection is tolerated; the bridge probe takes over.
func NewStateMonitor(adapter string, bridge Bridge) *StateMonitor {
	if adapter == "" {
		adapter = "hci0"
	}
	m := &StateMonitor{adapter: adapter, bridge: bridge}

	conn, err := dbus.SystemBus()
	if err != nil {
		log.Debug().Err(err).Msg("system bus unavailable, power state falls back to bridge probe")
		return m
	}
	m.conn = conn
	return m
}

// Powered reports whether the adapter is powered on
func (m *StateMonitor) Powered(ctx context.Context) (bool, error) {
	if m.conn != nil {
		obj := m.conn.Object(bluezService, dbus.ObjectPath("/org/bluez/"+m.adapter))
		variant, err := obj.GetProperty(bluezAdapterIface + ".Powered")
		if err == nil {
			powered, ok := variant.Value().(bool)
			if ok {
				return powered, nil
			}
		}
		log.Debug().Err(err).Str("adapter", m.adapter).Msg("bluez Powered property read failed")
	}

	if m.bridge != nil {
		return m.bridge.Powered(ctx)
	}
	return false, ErrRadioUnavailable
}

// WaitPowered polls the power state with bounded retries and a short
// delay between attempts. Returns ErrRadioUnavailable when the adapter
// stays off.
func (m *StateMonitor) WaitPowered(ctx context.Context, retries int, delay time.Duration) error {
	if retries < 1 {
		retries = 1
	}
	for attempt := 1; attempt <= retries; attempt++ {
		powered, err := m.Powered(ctx)
		if err == nil && powered {
			return nil
		}
		if attempt < retries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("wait for radio power: %w", ctx.Err())
			}
		}
	}
	return ErrRadioUnavailable
}
