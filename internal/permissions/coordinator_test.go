package permissions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchainpay/proximityd/internal/models"
)

// fakeProvider scripts per-permission answers
type fakeProvider struct {
	statuses   map[models.PermissionKind]models.PermissionStatus
	outcomes   map[models.PermissionKind]RequestOutcome
	queryErr   error
	requestErr error
	queries    int
}

func (p *fakeProvider) Query(ctx context.Context, kind models.PermissionKind) (models.PermissionStatus, error) {
	p.queries++
	if p.queryErr != nil {
		return "", p.queryErr
	}
	if status, ok := p.statuses[kind]; ok {
		return status, nil
	}
	return models.PermissionGranted, nil
}

func (p *fakeProvider) Request(ctx context.Context, kinds []models.PermissionKind) (map[models.PermissionKind]RequestOutcome, error) {
	if p.requestErr != nil {
		return nil, p.requestErr
	}
	out := make(map[models.PermissionKind]RequestOutcome, len(kinds))
	for _, kind := range kinds {
		if outcome, ok := p.outcomes[kind]; ok {
			out[kind] = outcome
		} else {
			out[kind] = RequestOutcome{Status: models.PermissionGranted}
		}
	}
	return out, nil
}

func TestCheckAllGranted(t *testing.T) {
	c := NewCoordinator(&fakeProvider{})
	check := c.Check(context.Background())

	assert.True(t, check.Granted)
	assert.Empty(t, check.Missing)
	assert.Len(t, check.Details, len(models.AllPermissions))
}

func TestCheckMissingCriticalFails(t *testing.T) {
	c := NewCoordinator(&fakeProvider{
		statuses: map[models.PermissionKind]models.PermissionStatus{
			models.PermissionScan: models.PermissionDenied,
		},
	})
	check := c.Check(context.Background())

	assert.False(t, check.Granted)
	assert.Contains(t, check.Missing, models.PermissionScan)
	assert.Equal(t, models.PermissionDenied, check.Details[models.PermissionScan])
}

func TestCheckMissingBestEffortStillGranted(t *testing.T) {
	c := NewCoordinator(&fakeProvider{
		statuses: map[models.PermissionKind]models.PermissionStatus{
			models.PermissionLocation:  models.PermissionDenied,
			models.PermissionAdvertise: models.PermissionDenied,
		},
	})
	check := c.Check(context.Background())

	assert.True(t, check.Granted)
	assert.Contains(t, check.Missing, models.PermissionLocation)
	assert.Contains(t, check.Missing, models.PermissionAdvertise)
}

func TestCheckQueryErrorTreatedAsDenied(t *testing.T) {
	c := NewCoordinator(&fakeProvider{queryErr: errors.New("dbus down")})
	check := c.Check(context.Background())

	assert.False(t, check.Granted)
	assert.Len(t, check.Missing, len(models.AllPermissions))
}

func TestCheckNeverCaches(t *testing.T) {
	provider := &fakeProvider{}
	c := NewCoordinator(provider)

	c.Check(context.Background())
	c.Check(context.Background())

	assert.Equal(t, 2*len(models.AllPermissions), provider.queries)
}

func TestRequestCriticalDeniedFails(t *testing.T) {
	c := NewCoordinator(&fakeProvider{
		outcomes: map[models.PermissionKind]RequestOutcome{
			models.PermissionConnect: {Status: models.PermissionDenied},
		},
	})
	result := c.Request(context.Background())

	assert.False(t, result.Success)
	assert.Contains(t, result.DeniedPermissions, models.PermissionConnect)
	assert.False(t, result.NeedsSettingsRedirect)
}

func TestRequestNeverAskAgainForcesRedirect(t *testing.T) {
	c := NewCoordinator(&fakeProvider{
		outcomes: map[models.PermissionKind]RequestOutcome{
			models.PermissionScan: {Status: models.PermissionDenied, NeverAskAgain: true},
		},
	})
	result := c.Request(context.Background())

	assert.False(t, result.Success)
	assert.True(t, result.NeedsSettingsRedirect)
}

func TestRequestDeniedForeverForcesRedirect(t *testing.T) {
	c := NewCoordinator(&fakeProvider{
		outcomes: map[models.PermissionKind]RequestOutcome{
			models.PermissionLocation: {Status: models.PermissionDeniedForever},
		},
	})
	result := c.Request(context.Background())

	// Location is best-effort, so the request still succeeds, but the
	// permanent denial surfaces as a settings redirect.
	assert.True(t, result.Success)
	assert.True(t, result.NeedsSettingsRedirect)
}

func TestRequestProviderError(t *testing.T) {
	c := NewCoordinator(&fakeProvider{requestErr: errors.New("dialog unavailable")})
	result := c.Request(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, models.AllPermissions, result.DeniedPermissions)
}

func TestGrantAllProvider(t *testing.T) {
	c := NewCoordinator(GrantAllProvider{})

	check := c.Check(context.Background())
	require.True(t, check.Granted)

	result := c.Request(context.Background())
	assert.True(t, result.Success)
	assert.Len(t, result.GrantedPermissions, len(models.AllPermissions))
}
