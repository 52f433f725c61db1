package models

// PermissionKind identifies one OS-level radio capability grant
type PermissionKind string

const (
	PermissionScan      PermissionKind = "SCAN"
	PermissionConnect   PermissionKind = "CONNECT"
	PermissionAdvertise PermissionKind = "ADVERTISE"
	PermissionLocation  PermissionKind = "LOCATION"
)

// AllPermissions lists every permission the subsystem cares about
var AllPermissions = []PermissionKind{
	PermissionScan,
	PermissionConnect,
	PermissionAdvertise,
	PermissionLocation,
}

// PermissionStatus is the host's answer for a single permission
type PermissionStatus string

const (
	PermissionGranted PermissionStatus = "GRANTED"
	PermissionDenied  PermissionStatus = "DENIED"
	// PermissionDeniedForever means the host will no longer show a
	// request dialog; only a settings redirect can change the grant.
	PermissionDeniedForever PermissionStatus = "DENIED_FOREVER"
)

// PermissionState maps each permission kind to its current status.
// Always re-derived from the host, never cached across checks.
type PermissionState map[PermissionKind]PermissionStatus

// PermissionCheck is the result of a full permission check
type PermissionCheck struct {
	Granted bool             `json:"granted"`
	Missing []PermissionKind `json:"missing,omitempty"`
	Details PermissionState  `json:"details"`
}

// PermissionRequestResult is the result of a batched permission request
type PermissionRequestResult struct {
	Success               bool             `json:"success"`
	GrantedPermissions    []PermissionKind `json:"grantedPermissions,omitempty"`
	DeniedPermissions     []PermissionKind `json:"deniedPermissions,omitempty"`
	NeedsSettingsRedirect bool             `json:"needsSettingsRedirect"`
}
