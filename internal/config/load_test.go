// internal/config/load_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
modbus:
  endpoint: 192.168.200.1:502
  auto_adjust: true
  delay_ms: 8000
devices:
  - name: inverter1
    kind: inverter
    unit_id: 1
  - name: dongle
    kind: sdongle
mqtt:
  broker: tcp://localhost:1883
log:
  level: debug
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Modbus.Timeout())
	assert.Equal(t, 5*time.Second, cfg.Modbus.ConnectDelay())
	assert.Equal(t, 6*time.Second, cfg.Modbus.MaxDelay())
	assert.Equal(t, 6*time.Second, cfg.Modbus.Delay(), "delay is capped by max")
	assert.True(t, cfg.Modbus.AutoAdjust)

	assert.Equal(t, 20*time.Second, cfg.Poll.High())
	assert.Equal(t, time.Minute, cfg.Poll.Medium())
	assert.Equal(t, 5*time.Minute, cfg.Poll.Low())

	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, uint8(100), cfg.Devices[1].UnitID)

	assert.Equal(t, "sun2000", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "sun2000-bridge", cfg.MQTT.ClientID)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("modbus:\n  endpoint: 10.0.0.1:502\n  baud: 9600\ndevices:\n  - {name: a, kind: inverter, unit_id: 1}\n"))
	assert.Error(t, err)
}

func TestParseValidates(t *testing.T) {
	_, err := Parse([]byte("devices:\n  - {name: a, kind: inverter, unit_id: 1}\n"))
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestParseRejectsDongleOnInverterUnit(t *testing.T) {
	_, err := Parse([]byte("modbus:\n  endpoint: 10.0.0.1:502\ndevices:\n  - {name: a, kind: inverter, unit_id: 100}\n  - {name: d, kind: sdongle}\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
