// internal/config/normalize.go
package config

import "time"

// Defaults applied by Normalize.
const (
	DefaultTimeoutMs      = 10000
	DefaultConnectDelayMs = 5000
	DefaultMaxDelayMs     = 6000
	DefaultHighMs         = 20000
	DefaultMediumMs       = 60000
	DefaultLowMs          = 300000
	DefaultTopicPrefix    = "sun2000"
	DefaultClientID       = "sun2000-bridge"
	DefaultLogLevel       = "info"

	// fixed unit id of the SDongleA
	DefaultSDongleUnitID = 100
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// ------------------------------------------------------------
	// LINK
	// ------------------------------------------------------------

	m := &cfg.Modbus
	if m.TimeoutMs == 0 {
		m.TimeoutMs = DefaultTimeoutMs
	}
	if m.ConnectDelayMs == 0 {
		m.ConnectDelayMs = DefaultConnectDelayMs
	}
	if m.MaxDelayMs == 0 {
		m.MaxDelayMs = DefaultMaxDelayMs
	}
	if m.DelayMs > m.MaxDelayMs {
		m.DelayMs = m.MaxDelayMs
	}

	// ------------------------------------------------------------
	// POLL TIERS
	// ------------------------------------------------------------

	p := &cfg.Poll
	if p.HighMs == 0 {
		p.HighMs = DefaultHighMs
	}
	if p.MediumMs == 0 {
		p.MediumMs = max(DefaultMediumMs, p.HighMs)
	}
	if p.LowMs == 0 {
		p.LowMs = max(DefaultLowMs, p.MediumMs)
	}

	// ------------------------------------------------------------
	// DEVICES
	// ------------------------------------------------------------

	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		d.UnitID = d.EffectiveUnitID()
	}

	// ------------------------------------------------------------
	// STORE / OBSERVABILITY
	// ------------------------------------------------------------

	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultClientID
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

// EffectiveUnitID is the configured unit id, or the SDongleA's fixed id when unset.
func (d DeviceConfig) EffectiveUnitID() uint8 {
	if d.Kind == KindSDongle && d.UnitID == 0 {
		return DefaultSDongleUnitID
	}
	return d.UnitID
}

// ---- duration helpers ----

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (m ModbusConfig) Timeout() time.Duration      { return ms(m.TimeoutMs) }
func (m ModbusConfig) Delay() time.Duration        { return ms(m.DelayMs) }
func (m ModbusConfig) ConnectDelay() time.Duration { return ms(m.ConnectDelayMs) }
func (m ModbusConfig) MinDelay() time.Duration     { return ms(m.MinDelayMs) }
func (m ModbusConfig) MaxDelay() time.Duration     { return ms(m.MaxDelayMs) }

func (p PollConfig) High() time.Duration   { return ms(p.HighMs) }
func (p PollConfig) Medium() time.Duration { return ms(p.MediumMs) }
func (p PollConfig) Low() time.Duration    { return ms(p.LowMs) }
