package radio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"
)

// BlueZBridge implements Bridge on top of the host Bluetooth stack.
// Exactly one instance should exist per process; the adapter handle is
// process-wide.
type BlueZBridge struct {
	adapter *bluetooth.Adapter

	serviceUUID bluetooth.UUID
	charUUID    bluetooth.UUID

	mu          sync.Mutex
	adv         *bluetooth.Advertisement
	advertising bool
	scanning    bool

	// known maps device IDs to the addresses seen during scans so
	// Connect never has to parse a platform-specific address string.
	knownMu sync.RWMutex
	known   map[string]bluetooth.Address
}

// NewBlueZBridge enables the default adapter and returns the bridge
func NewBlueZBridge(serviceUUID, dataCharUUID string) (*BlueZBridge, error) {
	svc, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("parse service uuid: %w", err)
	}
	char, err := bluetooth.ParseUUID(dataCharUUID)
	if err != nil {
		return nil, fmt.Errorf("parse characteristic uuid: %w", err)
	}

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}

	return &BlueZBridge{
		adapter:     adapter,
		serviceUUID: svc,
		charUUID:    char,
		known:       make(map[string]bluetooth.Address),
	}, nil
}

// Powered reports adapter power state. The adapter handle has no direct
// power query, so a successful Enable round-trip is the probe.
func (b *BlueZBridge) Powered(ctx context.Context) (bool, error) {
	if err := b.adapter.Enable(); err != nil {
		return false, nil
	}
	return true, nil
}

// SupportsAdvertising reports peripheral-mode broadcast support
func (b *BlueZBridge) SupportsAdvertising() bool {
	return true
}

// Advertise configures and starts the default advertisement
func (b *BlueZBridge) Advertise(ctx context.Context, adv Advertisement) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.adapter.DefaultAdvertisement()
	opts := bluetooth.AdvertisementOptions{
		LocalName:    adv.LocalName,
		ServiceUUIDs: []bluetooth.UUID{b.serviceUUID},
	}
	if len(adv.ManufacturerData) > 0 {
		opts.ManufacturerData = []bluetooth.ManufacturerDataElement{
			{CompanyID: 0xFFFF, Data: adv.ManufacturerData},
		}
	}
	if err := a.Configure(opts); err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}
	if err := a.Start(); err != nil {
		return fmt.Errorf("start advertisement: %w", err)
	}

	b.adv = a
	b.advertising = true
	return nil
}

// StopAdvertising stops the running advertisement. Best effort.
func (b *BlueZBridge) StopAdvertising(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.advertising || b.adv == nil {
		return nil
	}
	b.advertising = false
	if err := b.adv.Stop(); err != nil {
		return fmt.Errorf("stop advertisement: %w", err)
	}
	return nil
}

// Scan delivers discovery events until the context is cancelled
func (b *BlueZBridge) Scan(ctx context.Context, onEvent func(ScanEvent)) error {
	b.mu.Lock()
	if b.scanning {
		b.mu.Unlock()
		return fmt.Errorf("scan already running")
	}
	b.scanning = true
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		if err := b.adapter.StopScan(); err != nil {
			log.Debug().Err(err).Msg("stop scan on context cancel")
		}
	})
	defer stop()
	defer func() {
		b.mu.Lock()
		b.scanning = false
		b.mu.Unlock()
	}()

	return b.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		ev := ScanEvent{
			DeviceID:   result.Address.String(),
			Address:    result.Address.String(),
			LocalName:  result.LocalName(),
			RSSI:       result.RSSI,
			HasService: result.HasServiceUUID(b.serviceUUID),
		}
		for _, md := range result.ManufacturerData() {
			if md.CompanyID == 0xFFFF {
				ev.ManufacturerData = md.Data
				break
			}
		}

		b.knownMu.Lock()
		b.known[ev.DeviceID] = result.Address
		b.knownMu.Unlock()

		onEvent(ev)
	})
}

// StopScan aborts a running scan
func (b *BlueZBridge) StopScan() error {
	b.mu.Lock()
	scanning := b.scanning
	b.mu.Unlock()
	if !scanning {
		return nil
	}
	return b.adapter.StopScan()
}

// Connect dials a previously discovered device and resolves the data
// characteristic.
func (b *BlueZBridge) Connect(ctx context.Context, deviceID string) (Peer, error) {
	b.knownMu.RLock()
	addr, ok := b.known[deviceID]
	b.knownMu.RUnlock()
	if !ok {
		return nil, ErrUnknownDevice
	}

	timeout := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}

	device, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", deviceID, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{b.serviceUUID})
	if err != nil || len(services) == 0 {
		_ = device.Disconnect()
		return nil, ErrCharacteristicNotFound
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{b.charUUID})
	if err != nil || len(chars) == 0 {
		_ = device.Disconnect()
		return nil, ErrCharacteristicNotFound
	}

	svcNames := make([]string, len(services))
	for i, s := range services {
		svcNames[i] = s.UUID().String()
	}

	return &bluezPeer{
		id:       deviceID,
		device:   device,
		services: svcNames,
		char:     chars[0],
	}, nil
}

// bluezPeer is a connected device plus its resolved data characteristic
type bluezPeer struct {
	id       string
	device   bluetooth.Device
	services []string
	char     bluetooth.DeviceCharacteristic
}

func (p *bluezPeer) ID() string         { return p.id }
func (p *bluezPeer) Services() []string { return p.services }

func (p *bluezPeer) Write(data []byte) error {
	if _, err := p.char.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("write characteristic: %w", err)
	}
	return nil
}

func (p *bluezPeer) Subscribe(handler func(data []byte)) (func(), error) {
	if err := p.char.EnableNotifications(handler); err != nil {
		return nil, fmt.Errorf("enable notifications: %w", err)
	}
	dispose := func() {
		if err := p.char.EnableNotifications(nil); err != nil {
			log.Debug().Err(err).Str("device", p.id).Msg("disable notifications")
		}
	}
	return dispose, nil
}

func (p *bluezPeer) Disconnect() error {
	return p.device.Disconnect()
}
