package config

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyFloatMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[int]float64
		ok   bool
	}{
		{"", map[int]float64{}, true},
		{"0=1.23,1=0.98", map[int]float64{0: 1.23, 1: 0.98}, true},
		{" 0 = 1 , 2 = -0.5", map[int]float64{0: 1.0, 2: -0.5}, true},
		{"bad", nil, false},
		{"0=x", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyFloatMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyFloatMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyFloatMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseKeyStringMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[int]string
		ok   bool
	}{
		{"", map[int]string{}, true},
		{"0=EDA,1=PPG", map[int]string{0: "EDA", 1: "PPG"}, true},
		{"0=EDA, 2 = TEMP", map[int]string{0: "EDA", 2: "TEMP"}, true},
		{"0=", nil, false},
		{"a=EDA", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyStringMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyStringMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyStringMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseIntOrHex(t *testing.T) {
	v, err := parseIntOrHex("0x48")
	require.NoError(t, err)
	assert.Equal(t, 72, v)

	v, err = parseIntOrHex("73")
	require.NoError(t, err)
	assert.Equal(t, 73, v)

	_, err = parseIntOrHex("0xZZ")
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("test", nil)
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 3)
	assert.Equal(t, "EM-V6-0000099", cfg.Devices[0].Serial)
	assert.Equal(t, "EmotiBit_1", cfg.Devices[0].Name)
	assert.Equal(t, 10, cfg.IdleMs)
	assert.Equal(t, "s", cfg.StopKey)
	assert.Equal(t, PublishLatest, cfg.Publish)
}

func TestLoadFlagsOverride(t *testing.T) {
	cfg, err := Load("test", []string{
		"-devices", "A,B",
		"-outputs", "console,mqtt",
		"-mqtt-server", "tcp://broker:1883",
		"-idle-ms", "25",
		"-publish", "all",
		"-edf-dir", t.TempDir(),
	})
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, "EmotiBit_2", cfg.Devices[1].Name)
	assert.Equal(t, DriverSimulated, cfg.Devices[1].Driver)
	require.Len(t, cfg.Outputs, 3)
	assert.Equal(t, "tcp://broker:1883", cfg.Outputs[1].MQTT.Server)
	assert.True(t, strings.HasPrefix(cfg.Outputs[1].MQTT.ClientID, "biostream-"))
	assert.Equal(t, "biostream", cfg.Outputs[1].MQTT.TopicPrefix)
	assert.Equal(t, "edf", cfg.Outputs[2].Type)
	assert.Equal(t, 25, cfg.IdleMs)
	assert.Equal(t, PublishAll, cfg.Publish)
}

func TestLoadAnalogFlags(t *testing.T) {
	cfg, err := Load("test", []string{
		"-devices", "afe-left",
		"-driver", "ads1115",
		"-i2c-address", "0x49",
		"-channel-signals", "1=ppg",
		"-calibration-scales", "1=0.5",
	})
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 1)
	d := cfg.Devices[0]
	assert.Equal(t, "AFE_1", d.Name)
	assert.Equal(t, 0x49, d.I2C.Address)
	require.Len(t, d.Channels, 2)
	assert.Equal(t, "PPG", d.Channels[1].Signal)
	assert.True(t, d.Channels[1].Enabled)
	assert.Equal(t, 0.5, d.Channels[1].CalibrationScale)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"no devices", func(c *Config) { c.Devices = nil }},
		{"duplicate name", func(c *Config) { c.Devices[1].Name = c.Devices[0].Name }},
		{"shared handle", func(c *Config) { c.Devices[1].Serial = c.Devices[0].Serial }},
		{"unknown driver", func(c *Config) { c.Devices[0].Driver = "brainflow" }},
		{"unknown output", func(c *Config) { c.Outputs = []OutputConfig{{Type: "lsl"}} }},
		{"zero idle", func(c *Config) { c.IdleMs = 0 }},
		{"bad publish", func(c *Config) { c.Publish = "some" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
