// internal/status/constants.go
package status

// Device health surface.
// These values are consumed downstream and MUST NOT be configurable.

// ---- STATE PATHS (device relative) ----

// PathHealth holds the device health code.
const PathHealth = "info.health"

// PathHealthText holds the readable health.
const PathHealthText = "info.healthText"

// PathLastErrorCode holds the last error code.
const PathLastErrorCode = "info.lastErrorCode"

// PathSecondsInError holds the duration (in seconds) the device has been in error.
const PathSecondsInError = "info.secondsInError"

// ---- LIMITS ----

// MaxSecondsInError is where the seconds counter saturates.
const MaxSecondsInError = 65535

// ---- HEALTH CODES ----

// HealthUnknown represents an unknown or boot state.
const HealthUnknown uint16 = 0

// HealthOK represents a healthy device.
const HealthOK uint16 = 1

// HealthError represents a device error state.
const HealthError uint16 = 2

// HealthStale represents a stale data state.
const HealthStale uint16 = 3

// HealthDisabled represents a disabled device state.
const HealthDisabled uint16 = 4

// HealthText is the readable form of a health code.
func HealthText(h uint16) string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthStale:
		return "stale"
	case HealthDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}
