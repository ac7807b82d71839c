package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalConfigJSON(t *testing.T) {
	js := `{
        "devices": [
            {"name": "Finger", "serial": "EM-V6-0000099", "driver": "simulated"},
            {"name": "Wrist", "serial": "afe-1", "driver": "ads1115",
             "i2c": {"bus": "2", "address": 72}, "sample_rate": 128,
             "channels": [
                {"channel": 0, "signal": "EDA", "enabled": true, "calibration_scale": 1.0, "calibration_offset": 0.12},
                {"channel": 1, "signal": "PPG", "enabled": false, "calibration_scale": 0.98, "calibration_offset": -0.05}
             ]}
        ],
        "outputs": [{"type":"console"}],
        "idle_ms": 20
    }`

	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(js), &cfg))
	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, 72, cfg.Devices[1].I2C.Address)
	assert.Equal(t, 128, cfg.Devices[1].SampleRate)
	assert.Equal(t, 20, cfg.IdleMs)
	require.Len(t, cfg.Outputs, 1)
	assert.Equal(t, "console", cfg.Outputs[0].Type)

	ch := cfg.Devices[1].Channels
	require.Len(t, ch, 2)
	assert.True(t, ch[0].Enabled)
	assert.Equal(t, 0.12, ch[0].CalibrationOffset)
	assert.False(t, ch[1].Enabled)
	assert.Equal(t, 0.98, ch[1].CalibrationScale)
}

func TestReadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biostream.yaml")
	doc := `
devices:
  - name: Arm
    serial: EM-V6-0000228
outputs:
  - type: mqtt
    mqtt:
      server: tcp://broker:1883
      topic_prefix: lab
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load("test", []string{"-config", path})
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 1)
	assert.Equal(t, "Arm", cfg.Devices[0].Name)
	assert.Equal(t, DriverSimulated, cfg.Devices[0].Driver)
	assert.Equal(t, "lab", cfg.Outputs[0].MQTT.TopicPrefix)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestReadFileMissing(t *testing.T) {
	cfg := DefaultConfig()
	err := ReadFile(filepath.Join(t.TempDir(), "nope.json"), &cfg)
	assert.Error(t, err)
}
