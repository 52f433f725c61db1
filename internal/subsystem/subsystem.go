// Package subsystem assembles the proximity stack behind one explicitly
// constructed handle. The handle is the only owner of the radio-facing
// controllers, which guarantees at most one advertising session, one
// scan session, and one connection map per process without hidden
// global state.
package subsystem

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/airchainpay/proximityd/internal/advertising"
	"github.com/airchainpay/proximityd/internal/config"
	"github.com/airchainpay/proximityd/internal/connection"
	"github.com/airchainpay/proximityd/internal/health"
	"github.com/airchainpay/proximityd/internal/models"
	"github.com/airchainpay/proximityd/internal/permissions"
	"github.com/airchainpay/proximityd/internal/radio"
	"github.com/airchainpay/proximityd/internal/scanning"
	"github.com/airchainpay/proximityd/internal/security"
	"github.com/airchainpay/proximityd/internal/storage"
	"github.com/airchainpay/proximityd/pkg/wire"
)

// Options overrides the default collaborators, mainly for tests
type Options struct {
	Bridge      radio.Bridge
	Permissions permissions.HostProvider
	Store       storage.Store
	NATS        *nats.Conn
}

// Subsystem is the shared proximity handle
type Subsystem struct {
	Config      *config.Config
	Bridge      radio.Bridge
	Capability  radio.Capability
	Power       *radio.StateMonitor
	Permissions *permissions.Coordinator
	Security    *security.Layer
	Health      *health.Monitor
	Advertising *advertising.Controller
	Scanning    *scanning.Controller
	Connections *connection.Manager

	store storage.Store
}

// New constructs the subsystem. The bridge defaults to the host
// Bluetooth stack, falling back to the simulated bridge when the host
// stack cannot be reached or the config forces simulation.
func New(cfg *config.Config, opts Options) (*Subsystem, error) {
	bridge := opts.Bridge
	if bridge == nil {
		bridge = resolveBridge(cfg)
	}

	capability := radio.ResolveCapability(context.Background(), bridge)
	log.Info().Str("capability", string(capability)).Msg("radio capability resolved")

	power := radio.NewStateMonitor(cfg.Radio.Adapter, bridge)

	provider := opts.Permissions
	if provider == nil {
		provider = permissions.GrantAllProvider{}
	}
	perms := permissions.NewCoordinator(provider)

	sec := security.NewLayer(cfg.Security)
	healthMon := health.NewMonitor(cfg.Health, opts.Store, power)

	adv := advertising.NewController(
		cfg.Advertising, cfg.Radio, bridge, capability,
		perms, power, sec, healthMon, opts.Store, opts.NATS,
	)
	scan := scanning.NewController(cfg.Scanning, bridge, sec, opts.NATS)
	conns := connection.NewManager(cfg.Connection, bridge, opts.NATS)

	// Peer RSSI samples stand in for our own signal strength while a
	// session is live; the native layer offers no transmit-side reading.
	scan.AddObserver(func(result models.ScanResult) {
		if id, ok := adv.ActiveSession(); ok {
			healthMon.RecordRSSI(id, result.RSSI)
		}
	})

	return &Subsystem{
		Config:      cfg,
		Bridge:      bridge,
		Capability:  capability,
		Power:       power,
		Permissions: perms,
		Security:    sec,
		Health:      healthMon,
		Advertising: adv,
		Scanning:    scan,
		Connections: conns,
		store:       opts.Store,
	}, nil
}

// resolveBridge picks the real stack or the simulated one
func resolveBridge(cfg *config.Config) radio.Bridge {
	if cfg.Radio.Simulated {
		log.Info().Msg("using simulated radio bridge (forced by config)")
		return radio.NewSimulatedBridge()
	}

	bridge, err := radio.NewBlueZBridge(wire.ServiceUUID, wire.DataCharacteristicUUID)
	if err != nil {
		log.Warn().Err(err).Msg("host bluetooth stack unavailable, using simulated bridge")
		return radio.NewSimulatedBridge()
	}
	return bridge
}

// Run drives the background loops until the context ends
func (s *Subsystem) Run(ctx context.Context) {
	s.Health.Run(ctx)
}

// Shutdown stops radio activity and tears down connections
func (s *Subsystem) Shutdown(ctx context.Context) {
	s.Advertising.Stop(ctx)
	s.Scanning.Stop()
	s.Connections.CloseAll()
}

// SupportReport describes what proximity features the platform offers
type SupportReport struct {
	Capability   radio.Capability       `json:"capability"`
	RadioPowered bool                   `json:"radioPowered"`
	Permissions  models.PermissionCheck `json:"permissions"`
}

// CheckSupport resolves the current support report
func (s *Subsystem) CheckSupport(ctx context.Context) SupportReport {
	powered, err := s.Power.Powered(ctx)
	if err != nil {
		powered = false
	}
	return SupportReport{
		Capability:   s.Capability,
		RadioPowered: powered,
		Permissions:  s.Permissions.Check(ctx),
	}
}

// Store exposes the persistence layer to the API handlers
func (s *Subsystem) Store() storage.Store {
	return s.store
}
