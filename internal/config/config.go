// internal/config/config.go
package config

type Config struct {
	Modbus  ModbusConfig   `yaml:"modbus"`
	Poll    PollConfig     `yaml:"poll"`
	Devices []DeviceConfig `yaml:"devices"`
	MQTT    MQTTConfig     `yaml:"mqtt"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Log     LogConfig      `yaml:"log"`
}

// ---- LINK ----

type ModbusConfig struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	DelayMs        int    `yaml:"delay_ms"`
	ConnectDelayMs int    `yaml:"connect_delay_ms"`

	// Adaptive delay search (opt-in)
	AutoAdjust bool `yaml:"auto_adjust"`
	MinDelayMs int  `yaml:"min_delay_ms"`
	MaxDelayMs int  `yaml:"max_delay_ms"`

	ConnectRetries int `yaml:"connect_retries"` // 0 = unlimited
}

// ---- POLL ----

type PollConfig struct {
	HighMs   int `yaml:"high_ms"`
	MediumMs int `yaml:"medium_ms"`
	LowMs    int `yaml:"low_ms"`
}

// ---- DEVICES ----

const (
	KindInverter    = "inverter"
	KindSDongle     = "sdongle"
	KindSmartLogger = "smartlogger"
)

type DeviceConfig struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	UnitID uint8  `yaml:"unit_id"`
}

// ---- STORE ----

type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty = in-memory store
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// ---- OBSERVABILITY ----

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty = disabled
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}
