package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DriverSimulated = "simulated"
	DriverADS1115   = "ads1115"

	PublishLatest = "latest"
	PublishAll    = "all"
)

type MQTTConfig struct {
	Server      string `json:"server" yaml:"server"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte   `json:"qos" yaml:"qos"`
}

type EDFConfig struct {
	Dir       string `json:"dir" yaml:"dir"`
	PatientID string `json:"patient_id" yaml:"patient_id"`
}

type OutputConfig struct {
	Type string      `json:"type" yaml:"type"`
	MQTT *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	EDF  *EDFConfig  `json:"edf,omitempty" yaml:"edf,omitempty"`
}

// ChannelConfig maps one analog input to a signal type.
type ChannelConfig struct {
	Channel           int     `json:"channel" yaml:"channel"`
	Signal            string  `json:"signal" yaml:"signal"`
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	SampleRate        int     `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	CalibrationScale  float64 `json:"calibration_scale" yaml:"calibration_scale"`
	CalibrationOffset float64 `json:"calibration_offset" yaml:"calibration_offset"`
}

type SimulationConfig struct {
	FailOpen       bool  `json:"fail_open" yaml:"fail_open"`
	FailAfterPolls int   `json:"fail_after_polls" yaml:"fail_after_polls"`
	Seed           int64 `json:"seed" yaml:"seed"`
}

type I2CConfig struct {
	Bus     string `json:"bus" yaml:"bus"`
	Address int    `json:"address" yaml:"address"`
}

type DeviceConfig struct {
	Name       string            `json:"name" yaml:"name"`
	Serial     string            `json:"serial" yaml:"serial"`
	Driver     string            `json:"driver" yaml:"driver"`
	I2C        I2CConfig         `json:"i2c" yaml:"i2c"`
	SampleRate int               `json:"sample_rate" yaml:"sample_rate"`
	Channels   []ChannelConfig   `json:"channels" yaml:"channels"`
	Simulation *SimulationConfig `json:"simulation,omitempty" yaml:"simulation,omitempty"`
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
}

type MarkerConfig struct {
	StreamName string   `json:"stream_name" yaml:"stream_name"`
	SourceID   string   `json:"source_id" yaml:"source_id"`
	Labels     []string `json:"labels" yaml:"labels"`
	ExitWord   string   `json:"exit_word" yaml:"exit_word"`
}

type Config struct {
	Devices        []DeviceConfig `json:"devices" yaml:"devices"`
	Outputs        []OutputConfig `json:"outputs" yaml:"outputs"`
	IdleMs         int            `json:"idle_ms" yaml:"idle_ms"`
	Publish        string         `json:"publish" yaml:"publish"`
	StopKey        string         `json:"stop_key" yaml:"stop_key"`
	StartupDelayMs int            `json:"startup_delay_ms" yaml:"startup_delay_ms"`
	MetricsAddress string         `json:"metrics_address" yaml:"metrics_address"`
	Logging        LoggingConfig  `json:"logging" yaml:"logging"`
	Markers        MarkerConfig   `json:"markers" yaml:"markers"`
}

func DefaultConfig() Config {
	return Config{
		Devices: []DeviceConfig{
			{Name: "EmotiBit_1", Serial: "EM-V6-0000099", Driver: DriverSimulated},
			{Name: "EmotiBit_2", Serial: "EM-V6-0000228", Driver: DriverSimulated},
			{Name: "EmotiBit_3", Serial: "EM-V6-0000335", Driver: DriverSimulated},
		},
		Outputs:        []OutputConfig{{Type: "console"}},
		IdleMs:         10,
		Publish:        PublishLatest,
		StopKey:        "s",
		StartupDelayMs: 2000,
		Logging:        LoggingConfig{Level: "info", Format: "text", MaxSizeMB: 10, MaxBackups: 3},
		Markers: MarkerConfig{
			StreamName: "DataSyncMarker",
			SourceID:   "12345",
			ExitWord:   "exit",
		},
	}
}

// DefaultADS1115Device returns an analog front-end with EDA on A0.
func DefaultADS1115Device(name string) DeviceConfig {
	return DeviceConfig{
		Name:       name,
		Serial:     name,
		Driver:     DriverADS1115,
		I2C:        I2CConfig{Bus: "2", Address: 0x48},
		SampleRate: 128,
		Channels: []ChannelConfig{
			{Channel: 0, Signal: "EDA", Enabled: true, CalibrationScale: 1.0},
		},
	}
}

// ReadFile decodes a YAML or JSON config file on top of cfg.
func ReadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	// decoders reuse slice backing arrays, so lists start empty and fall
	// back to the defaults when the file has none
	devices, outputs := cfg.Devices, cfg.Outputs
	cfg.Devices, cfg.Outputs = nil, nil
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if cfg.Devices == nil {
		cfg.Devices = devices
	}
	if cfg.Outputs == nil {
		cfg.Outputs = outputs
	}
	return nil
}

// Load loads configuration from a config file (optional) and flags.
// Flags override values present in the file.
func Load(name string, args []string) (Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagDevices := fs.String("devices", "", "Comma-separated device serials (replaces configured devices)")
	flagDriver := fs.String("driver", "", "Driver for -devices: simulated|ads1115")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt,edf)")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT topic prefix")
	flagEDFDir := fs.String("edf-dir", "", "Directory for EDF recordings")
	flagIdle := fs.Int("idle-ms", -1, "Idle wait between polls in ms")
	flagPublish := fs.String("publish", "", "Publish mode: latest|all")
	flagStopKey := fs.String("stop-key", "", "Console command that stops streaming")
	flagStartup := fs.Int("startup-delay-ms", -1, "Delay before the stop prompt in ms")
	flagLogLevel := fs.String("log-level", "", "Log level: debug|info|warn|error")
	flagLogFormat := fs.String("log-format", "", "Log format: text|json")
	flagLogFile := fs.String("log-file", "", "Rotating log file (default stderr)")
	flagMetrics := fs.String("metrics-addr", "", "Prometheus listen address, e.g. :9100")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus for ads1115 devices (e.g., '2' -> /dev/i2c-2)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagSampleRate := fs.Int("sample-rate", -1, "ADS1115 sample rate (SPS)")
	flagScales := fs.String("calibration-scales", "", "Per-channel calibration scale e.g. 0=1.0,1=0.98")
	flagOffsets := fs.String("calibration-offsets", "", "Per-channel calibration offset e.g. 0=0.12")
	flagSignals := fs.String("channel-signals", "", "Per-channel signal e.g. 0=EDA,1=PPG")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		if err := ReadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if *flagDevices != "" {
		driver := *flagDriver
		if driver == "" {
			driver = DriverSimulated
		}
		serials := parseCSV(*flagDevices)
		devs := make([]DeviceConfig, 0, len(serials))
		for i, s := range serials {
			var d DeviceConfig
			if driver == DriverADS1115 {
				d = DefaultADS1115Device(s)
			} else {
				d = DeviceConfig{Serial: s, Driver: driver}
			}
			d.Name = fmt.Sprintf("EmotiBit_%d", i+1)
			if driver == DriverADS1115 {
				d.Name = fmt.Sprintf("AFE_%d", i+1)
			}
			devs = append(devs, d)
		}
		cfg.Devices = devs
	}
	if *flagOutputs != "" {
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p)})
		}
		cfg.Outputs = outs
	}
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" {
		// Apply MQTT flags to all mqtt outputs; if none exist, create one.
		applied := false
		for i := range cfg.Outputs {
			if cfg.Outputs[i].Type != "mqtt" {
				continue
			}
			if cfg.Outputs[i].MQTT == nil {
				cfg.Outputs[i].MQTT = &MQTTConfig{}
			}
			applyMQTTFlags(cfg.Outputs[i].MQTT, *flagMQTTServer, *flagMQTTUser, *flagMQTTPass, *flagClientID, *flagTopic)
			applied = true
		}
		if !applied {
			out := OutputConfig{Type: "mqtt", MQTT: &MQTTConfig{}}
			applyMQTTFlags(out.MQTT, *flagMQTTServer, *flagMQTTUser, *flagMQTTPass, *flagClientID, *flagTopic)
			cfg.Outputs = append(cfg.Outputs, out)
		}
	}
	if *flagEDFDir != "" {
		applied := false
		for i := range cfg.Outputs {
			if cfg.Outputs[i].Type == "edf" {
				if cfg.Outputs[i].EDF == nil {
					cfg.Outputs[i].EDF = &EDFConfig{}
				}
				cfg.Outputs[i].EDF.Dir = *flagEDFDir
				applied = true
			}
		}
		if !applied {
			cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: "edf", EDF: &EDFConfig{Dir: *flagEDFDir}})
		}
	}
	if *flagIdle != -1 {
		cfg.IdleMs = *flagIdle
	}
	if *flagPublish != "" {
		cfg.Publish = *flagPublish
	}
	if *flagStopKey != "" {
		cfg.StopKey = *flagStopKey
	}
	if *flagStartup != -1 {
		cfg.StartupDelayMs = *flagStartup
	}
	if *flagLogLevel != "" {
		cfg.Logging.Level = *flagLogLevel
	}
	if *flagLogFormat != "" {
		cfg.Logging.Format = *flagLogFormat
	}
	if *flagLogFile != "" {
		cfg.Logging.File = *flagLogFile
	}
	if *flagMetrics != "" {
		cfg.MetricsAddress = *flagMetrics
	}

	if err := applyAnalogFlags(&cfg, *flagI2CBus, *flagI2CAddStr, *flagSampleRate, *flagScales, *flagOffsets, *flagSignals); err != nil {
		return cfg, err
	}

	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyMQTTFlags(m *MQTTConfig, server, user, pass, clientID, topic string) {
	if server != "" {
		m.Server = server
	}
	if user != "" {
		m.Username = user
	}
	if pass != "" {
		m.Password = pass
	}
	if clientID != "" {
		m.ClientID = clientID
	}
	if topic != "" {
		m.TopicPrefix = topic
	}
}

// applyAnalogFlags overrides settings of every ads1115 device.
func applyAnalogFlags(cfg *Config, bus, addr string, sampleRate int, scales, offsets, signals string) error {
	scaleMap, err := parseKeyFloatMap(scales)
	if err != nil {
		return fmt.Errorf("calibration-scales: %w", err)
	}
	offsetMap, err := parseKeyFloatMap(offsets)
	if err != nil {
		return fmt.Errorf("calibration-offsets: %w", err)
	}
	signalMap, err := parseKeyStringMap(signals)
	if err != nil {
		return fmt.Errorf("channel-signals: %w", err)
	}
	var address int
	if addr != "" {
		if address, err = parseIntOrHex(addr); err != nil {
			return fmt.Errorf("i2c-address: %w", err)
		}
	}
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.Driver != DriverADS1115 {
			continue
		}
		if bus != "" {
			d.I2C.Bus = bus
		}
		if addr != "" {
			d.I2C.Address = address
		}
		if sampleRate != -1 {
			d.SampleRate = sampleRate
		}
		for ch, sig := range signalMap {
			idx := channelIndex(d, ch)
			d.Channels[idx].Signal = strings.ToUpper(sig)
			d.Channels[idx].Enabled = true
		}
		for ch, v := range scaleMap {
			d.Channels[channelIndex(d, ch)].CalibrationScale = v
		}
		for ch, v := range offsetMap {
			d.Channels[channelIndex(d, ch)].CalibrationOffset = v
		}
	}
	return nil
}

// channelIndex returns the index of channel ch in d.Channels, appending a
// disabled entry when it is missing.
func channelIndex(d *DeviceConfig, ch int) int {
	for i := range d.Channels {
		if d.Channels[i].Channel == ch {
			return i
		}
	}
	d.Channels = append(d.Channels, ChannelConfig{Channel: ch, CalibrationScale: 1.0})
	return len(d.Channels) - 1
}

func (c *Config) fillDefaults() {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Driver == "" {
			d.Driver = DriverSimulated
		}
		if d.Name == "" {
			d.Name = d.Serial
		}
		for j := range d.Channels {
			if d.Channels[j].CalibrationScale == 0 {
				d.Channels[j].CalibrationScale = 1.0
			}
		}
	}
	for i := range c.Outputs {
		o := &c.Outputs[i]
		o.Type = strings.ToLower(o.Type)
		if o.Type == "mqtt" {
			if o.MQTT == nil {
				o.MQTT = &MQTTConfig{}
			}
			if o.MQTT.Server == "" {
				o.MQTT.Server = "tcp://localhost:1883"
			}
			if o.MQTT.ClientID == "" {
				o.MQTT.ClientID = "biostream-" + uuid.NewString()
			}
			if o.MQTT.TopicPrefix == "" {
				o.MQTT.TopicPrefix = "biostream"
			}
		}
		if o.Type == "edf" {
			if o.EDF == nil {
				o.EDF = &EDFConfig{}
			}
			if o.EDF.Dir == "" {
				o.EDF.Dir = "recordings"
			}
			if o.EDF.PatientID == "" {
				o.EDF.PatientID = "X X X X"
			}
		}
	}
	if c.Publish == "" {
		c.Publish = PublishLatest
	}
	if c.StopKey == "" {
		c.StopKey = "s"
	}
}

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return errors.New("at least one device is required")
	}
	names := make(map[string]bool, len(c.Devices))
	serials := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		d := &c.Devices[i]
		if err := d.Validate(); err != nil {
			return fmt.Errorf("device %d: %w", i, err)
		}
		if names[d.Name] {
			return fmt.Errorf("duplicate device name %q", d.Name)
		}
		key := d.Driver + "/" + d.Serial
		if d.Driver == DriverADS1115 {
			key = fmt.Sprintf("%s/%s/%d", d.Driver, d.I2C.Bus, d.I2C.Address)
		}
		if serials[key] {
			return fmt.Errorf("device %q shares a hardware handle with another device", d.Name)
		}
		names[d.Name] = true
		serials[key] = true
	}
	for i := range c.Outputs {
		if err := c.Outputs[i].Validate(); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}
	if c.IdleMs <= 0 {
		return errors.New("idle-ms must be > 0")
	}
	if c.Publish != PublishLatest && c.Publish != PublishAll {
		return fmt.Errorf("invalid publish mode %q", c.Publish)
	}
	if c.StartupDelayMs < 0 {
		return errors.New("startup-delay-ms must be >= 0")
	}
	return c.Logging.Validate()
}

func (d *DeviceConfig) Validate() error {
	if d.Serial == "" {
		return errors.New("serial is required")
	}
	switch d.Driver {
	case DriverSimulated:
	case DriverADS1115:
		if d.SampleRate <= 0 {
			return errors.New("sample-rate must be > 0")
		}
		enabled := 0
		for _, ch := range d.Channels {
			if ch.Channel < 0 || ch.Channel > 3 {
				return fmt.Errorf("invalid channel %d", ch.Channel)
			}
			if ch.Enabled {
				if ch.Signal == "" {
					return fmt.Errorf("channel %d has no signal", ch.Channel)
				}
				enabled++
			}
		}
		if enabled == 0 {
			return errors.New("no enabled channels")
		}
	default:
		return fmt.Errorf("unknown driver %q", d.Driver)
	}
	return nil
}

func (o *OutputConfig) Validate() error {
	switch o.Type {
	case "console", "mqtt", "edf":
		return nil
	default:
		return fmt.Errorf("unknown output type %q", o.Type)
	}
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", l.Level)
	}
	switch l.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", l.Format)
	}
	return nil
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseKeyPairs splits "k=v,k=v" into integer keys and raw values.
func parseKeyPairs(s string) (map[int]string, error) {
	out := map[int]string{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid pair '%s'", p)
		}
		k, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid key '%s': %w", kv[0], err)
		}
		out[k] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

func parseKeyFloatMap(s string) (map[int]float64, error) {
	pairs, err := parseKeyPairs(s)
	if err != nil {
		return nil, err
	}
	out := make(map[int]float64, len(pairs))
	for k, v := range pairs {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %d: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

func parseKeyStringMap(s string) (map[int]string, error) {
	pairs, err := parseKeyPairs(s)
	if err != nil {
		return nil, err
	}
	for k, v := range pairs {
		if v == "" {
			return nil, fmt.Errorf("empty value for %d", k)
		}
	}
	return pairs, nil
}
