// internal/status/publish.go
package status

import "github.com/tamzrod/sun2000-bridge/internal/state"

// Publish writes a snapshot under the device prefix of the state cache.
// No IO beyond the cache. Unchanged fields are suppressed by the cache.
func Publish(c *state.Cache, device string, s Snapshot) {
	if s.SecondsInError > MaxSecondsInError {
		s.SecondsInError = MaxSecondsInError
	}

	prefix := device + "."
	c.Set(prefix+PathHealth, float64(s.Health), state.Options{})
	c.Set(prefix+PathHealthText, HealthText(s.Health), state.Options{})
	c.Set(prefix+PathLastErrorCode, float64(s.LastErrorCode), state.Options{})
	c.Set(prefix+PathSecondsInError, float64(s.SecondsInError), state.Options{})
}
