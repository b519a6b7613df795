// internal/config/config.go
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Rack RackConfig `yaml:"rack"`
}

type RackConfig struct {
	Settle       SettleConfig       `yaml:"settle"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Buses        []BusConfig        `yaml:"buses"`
	Devices      []DeviceConfig     `yaml:"devices"`
	Poll         PollConfig         `yaml:"poll"`
	StatusMemory StatusMemoryConfig `yaml:"status_memory"`
	Journal      JournalConfig      `yaml:"journal"`
}

// ---- TIMING ----

// SettleConfig holds hardware settle delays, opaque to the dispatcher.
type SettleConfig struct {
	PowerOffMs int `yaml:"power_off_ms"`
}

type DispatchConfig struct {
	TimeoutMs      int `yaml:"timeout_ms"`
	QueueTimeoutMs int `yaml:"queue_timeout_ms"`
	Retries        int `yaml:"retries"`
}

// ---- BUS ----

const (
	BusModbusRTU = "modbus-rtu"
	BusModbusTCP = "modbus-tcp"
	BusSerial    = "serial"
	BusSim       = "sim"
)

// BusConfig is one physical link. Every device on a bus shares its channel.
type BusConfig struct {
	ID        string `yaml:"id"`
	Kind      string `yaml:"kind"`
	Address   string `yaml:"address"`
	BaudRate  int    `yaml:"baud_rate"`
	DataBits  int    `yaml:"data_bits"`
	StopBits  int    `yaml:"stop_bits"`
	Parity    string `yaml:"parity"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- DEVICE ----

const (
	DeviceFan         = "fan"
	DeviceLed         = "led"
	DeviceWatchdog    = "watchdog"
	DeviceAcSocket    = "ac-socket"
	DeviceBladePower  = "blade-power"
	DeviceJbod        = "jbod"
	DeviceNodeManager = "node-manager"
)

type DeviceConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	ID   uint8  `yaml:"id"`
	Bus  string `yaml:"bus"`

	// Disabled devices are neither probed nor counted in error.
	Disabled bool `yaml:"disabled"`

	// Blades is the number of blade slots probed on a blade-power switch.
	Blades uint8 `yaml:"blades"`

	// Device status block (optional, opt-in)
	StatusSlot *uint16 `yaml:"status_slot"`
}

// ---- POLL ----

type PollConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

// ---- STATUS MEMORY ----

// StatusMemoryConfig points at the Modbus endpoint receiving device status blocks.
// An empty endpoint disables status publishing.
type StatusMemoryConfig struct {
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

// Load reads a YAML config file. It does not validate.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML bytes. Unknown keys are rejected.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &cfg, nil
}
