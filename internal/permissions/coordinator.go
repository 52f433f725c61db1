// Package permissions negotiates OS-level capability grants for the
// radio. Scan and connect are critical: without them nothing works.
// Advertise and location are best-effort because their enforcement is
// inconsistent across real hardware, and gating the whole feature on
// them would brick it on a large share of devices.
package permissions

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/airchainpay/proximityd/internal/models"
)

// RequestOutcome is the host's answer for one permission in a batched
// request. NeverAskAgain means the host will not show the dialog again.
type RequestOutcome struct {
	Status        models.PermissionStatus
	NeverAskAgain bool
}

// HostProvider is the platform permission API. Implementations may block
// on user dialogs; callers bound every call with a context deadline.
type HostProvider interface {
	// Query returns the current status of one permission.
	Query(ctx context.Context, kind models.PermissionKind) (models.PermissionStatus, error)
	// Request issues a batched permission request.
	Request(ctx context.Context, kinds []models.PermissionKind) (map[models.PermissionKind]RequestOutcome, error)
}

// criticalPermissions are the grants the subsystem cannot run without
var criticalPermissions = map[models.PermissionKind]bool{
	models.PermissionScan:    true,
	models.PermissionConnect: true,
}

// Coordinator classifies and requests permission grants
type Coordinator struct {
	provider HostProvider
}

// NewCoordinator creates a coordinator over the host provider
func NewCoordinator(provider HostProvider) *Coordinator {
	return &Coordinator{provider: provider}
}

// Check re-queries every permission from the host. State is never cached
// between checks: the user can change grants out-of-band (e.g. from
// Settings while the app is backgrounded). Granted is true if and only
// if every critical permission is granted.
func (c *Coordinator) Check(ctx context.Context) models.PermissionCheck {
	check := models.PermissionCheck{
		Granted: true,
		Details: make(models.PermissionState, len(models.AllPermissions)),
	}

	for _, kind := range models.AllPermissions {
		status, err := c.provider.Query(ctx, kind)
		if err != nil {
			log.Warn().Err(err).Str("permission", string(kind)).Msg("permission query failed, treating as denied")
			status = models.PermissionDenied
		}
		check.Details[kind] = status

		if status != models.PermissionGranted {
			check.Missing = append(check.Missing, kind)
			if criticalPermissions[kind] {
				check.Granted = false
			}
		}
	}

	return check
}

// Request issues a batched permission request. Any denial tagged
// never-ask-again forces NeedsSettingsRedirect; success requires only
// the critical subset.
func (c *Coordinator) Request(ctx context.Context) models.PermissionRequestResult {
	result := models.PermissionRequestResult{Success: true}

	outcomes, err := c.provider.Request(ctx, models.AllPermissions)
	if err != nil {
		log.Error().Err(err).Msg("batched permission request failed")
		return models.PermissionRequestResult{
			Success:           false,
			DeniedPermissions: models.AllPermissions,
		}
	}

	for _, kind := range models.AllPermissions {
		outcome, ok := outcomes[kind]
		if !ok {
			outcome = RequestOutcome{Status: models.PermissionDenied}
		}

		if outcome.Status == models.PermissionGranted {
			result.GrantedPermissions = append(result.GrantedPermissions, kind)
			continue
		}

		result.DeniedPermissions = append(result.DeniedPermissions, kind)
		if outcome.NeverAskAgain || outcome.Status == models.PermissionDeniedForever {
			result.NeedsSettingsRedirect = true
		}
		if criticalPermissions[kind] {
			result.Success = false
		}
	}

	return result
}

// GrantAllProvider is the host provider on platforms without per-app
// radio permission dialogs (BlueZ hosts); every query answers granted.
type GrantAllProvider struct{}

// Query always grants
func (GrantAllProvider) Query(ctx context.Context, kind models.PermissionKind) (models.PermissionStatus, error) {
	return models.PermissionGranted, nil
}

// Request always grants everything
func (GrantAllProvider) Request(ctx context.Context, kinds []models.PermissionKind) (map[models.PermissionKind]RequestOutcome, error) {
	outcomes := make(map[models.PermissionKind]RequestOutcome, len(kinds))
	for _, kind := range kinds {
		outcomes[kind] = RequestOutcome{Status: models.PermissionGranted}
	}
	return outcomes, nil
}
