package radio

import (
	"context"
	"sync"
)

// SimulatedBridge is the bridge used on hosts without a usable adapter.
// It accepts every request and keeps the advertised message in memory so
// the fallback loop has something to re-arm; scans deliver only events
// injected through Inject. Tests use it as the scripted radio.
type SimulatedBridge struct {
	mu           sync.Mutex
	powered      bool
	advertising  bool
	scanning     bool
	current      Advertisement
	scanHandler  func(ScanEvent)
	peers        map[string]*SimulatedPeer
	advertiseErr error

	// AdvertiseSupported toggles the native-capability answer; false
	// drives callers straight onto the fallback path.
	AdvertiseSupported bool

	// Counters observed by tests.
	AdvertiseCalls int
	StopCalls      int
}

// NewSimulatedBridge returns a powered-on simulated bridge
func NewSimulatedBridge() *SimulatedBridge {
	return &SimulatedBridge{
		powered:            true,
		peers:              make(map[string]*SimulatedPeer),
		AdvertiseSupported: false,
	}
}

// SetPowered flips the simulated adapter power state
func (b *SimulatedBridge) SetPowered(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.powered = on
}

// FailAdvertising makes every Advertise call return err (nil to clear)
func (b *SimulatedBridge) FailAdvertising(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advertiseErr = err
}

// AddPeer registers a connectable simulated device
func (b *SimulatedBridge) AddPeer(p *SimulatedPeer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[p.id] = p
}

// Inject delivers a scan event to a running scan
func (b *SimulatedBridge) Inject(ev ScanEvent) {
	b.mu.Lock()
	handler := b.scanHandler
	b.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

// Current returns the advertisement most recently armed
func (b *SimulatedBridge) Current() (Advertisement, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.advertising
}

func (b *SimulatedBridge) Powered(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.powered, nil
}

func (b *SimulatedBridge) SupportsAdvertising() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.AdvertiseSupported
}

func (b *SimulatedBridge) Advertise(ctx context.Context, adv Advertisement) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AdvertiseCalls++
	if b.advertiseErr != nil {
		return b.advertiseErr
	}
	if !b.powered {
		return ErrRadioUnavailable
	}
	b.current = adv
	b.advertising = true
	return nil
}

func (b *SimulatedBridge) StopAdvertising(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.StopCalls++
	b.advertising = false
	return nil
}

func (b *SimulatedBridge) Scan(ctx context.Context, onEvent func(ScanEvent)) error {
	b.mu.Lock()
	if b.scanning {
		b.mu.Unlock()
		return ErrScanUnsupported
	}
	b.scanning = true
	b.scanHandler = onEvent
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	b.scanning = false
	b.scanHandler = nil
	b.mu.Unlock()
	return nil
}

func (b *SimulatedBridge) StopScan() error {
	// Scans stop through context cancellation; nothing extra to abort.
	return nil
}

func (b *SimulatedBridge) Connect(ctx context.Context, deviceID string) (Peer, error) {
	b.mu.Lock()
	peer, ok := b.peers[deviceID]
	b.mu.Unlock()
	if !ok {
		return nil, ErrUnknownDevice
	}
	if peer.connectErr != nil {
		return nil, peer.connectErr
	}
	return peer, nil
}

// SimulatedPeer is an in-memory point-to-point link
type SimulatedPeer struct {
	id         string
	services   []string
	connectErr error

	mu       sync.Mutex
	written  [][]byte
	handlers []func([]byte)
}

// NewSimulatedPeer returns a connectable peer exposing the given services
func NewSimulatedPeer(id string, services ...string) *SimulatedPeer {
	return &SimulatedPeer{id: id, services: services}
}

// NewFailingPeer returns a peer whose Connect always fails with err
func NewFailingPeer(id string, err error) *SimulatedPeer {
	return &SimulatedPeer{id: id, connectErr: err}
}

func (p *SimulatedPeer) ID() string         { return p.id }
func (p *SimulatedPeer) Services() []string { return p.services }

func (p *SimulatedPeer) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	p.written = append(p.written, buf)
	return nil
}

// Written returns everything sent to this peer
func (p *SimulatedPeer) Written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.written))
	copy(out, p.written)
	return out
}

func (p *SimulatedPeer) Subscribe(handler func(data []byte)) (func(), error) {
	p.mu.Lock()
	p.handlers = append(p.handlers, handler)
	idx := len(p.handlers) - 1
	p.mu.Unlock()

	dispose := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if idx < len(p.handlers) {
			p.handlers[idx] = nil
		}
	}
	return dispose, nil
}

// Notify pushes data to every live subscriber
func (p *SimulatedPeer) Notify(data []byte) {
	p.mu.Lock()
	handlers := make([]func([]byte), len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(data)
		}
	}
}

func (p *SimulatedPeer) Disconnect() error { return nil }

var (
	_ Bridge = (*SimulatedBridge)(nil)
	_ Peer   = (*SimulatedPeer)(nil)
)
