// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MODBUS_RTU_SERIAL_DEVICE.
const EnvPrefix = "MODBUS_RTU"

// Config defines the global configuration structure
type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Slave   SlaveConfig   `mapstructure:"slave"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// MetricsConfig defines the optional Prometheus endpoint.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // e.g. ":9502"; empty disables it
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"` // Read timeout, ends a partial frame
	// ResponseDelay lengthens the silence before a response.
	ResponseDelay time.Duration `mapstructure:"response_delay"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// SlaveConfig defines the local register tables and the addresses they
// answer on.
type SlaveConfig struct {
	SlaveIDs   string `mapstructure:"slave_ids"` // "1", "1,2", "1-10"
	DeviceName string `mapstructure:"device_name"`
	Seed       string `mapstructure:"seed"` // YAML document or binary image

	Coils            int `mapstructure:"coils"`
	DiscreteInputs   int `mapstructure:"discrete_inputs"`
	HoldingRegisters int `mapstructure:"holding_registers"`
	InputRegisters   int `mapstructure:"input_registers"`
}

// Sizes returns the configured table sizes.
func (c SlaveConfig) Sizes() model.Sizes {
	return model.Sizes{
		Coils:            c.Coils,
		DiscreteInputs:   c.DiscreteInputs,
		HoldingRegisters: c.HoldingRegisters,
		InputRegisters:   c.InputRegisters,
	}
}

// IDs parses SlaveIDs.
func (c SlaveConfig) IDs() ([]byte, error) {
	return ParseSlaveIDs(c.SlaveIDs)
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"device":         "serial.device",
	"baud-rate":      "serial.baud_rate",
	"data-bits":      "serial.data_bits",
	"parity":         "serial.parity",
	"stop-bits":      "serial.stop_bits",
	"timeout":        "serial.timeout",
	"response-delay": "serial.response_delay",
	"slave-ids":      "slave.slave_ids",
	"seed":           "slave.seed",
	"log-level":      "log.level",
	"log-file":       "log.file",
	"metrics-listen": "metrics.listen",
}

// RegisterFlags adds the flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("device", "p", "/dev/ttyUSB0", "serial device")
	fs.IntP("baud-rate", "s", 19200, "baud rate")
	fs.Int("data-bits", 8, "data bits (7 or 8)")
	fs.String("parity", "N", "parity (N, E or O)")
	fs.Int("stop-bits", 1, "stop bits (1 or 2)")
	fs.Duration("timeout", 500*time.Millisecond, "read timeout that ends a partial frame")
	fs.Duration("response-delay", 0, "minimum delay before a response is sent")
	fs.String("slave-ids", "1", `slave ids to answer, e.g. "1,2,5-10"`)
	fs.String("seed", "", "YAML document or binary image with initial table values")
	fs.StringP("log-level", "v", "info", "log level (debug, info, warn, error)")
	fs.StringP("log-file", "L", "", "log file path (default stdout)")
	fs.String("metrics-listen", "", "address for the Prometheus metrics endpoint")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 19200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.timeout", 500*time.Millisecond)
	v.SetDefault("serial.response_delay", time.Duration(0))
	v.SetDefault("serial.rs485", false)
	v.SetDefault("serial.delay_rts_before_send", time.Duration(0))
	v.SetDefault("serial.delay_rts_after_send", time.Duration(0))
	v.SetDefault("serial.rts_high_during_send", false)
	v.SetDefault("serial.rts_high_after_send", false)
	v.SetDefault("serial.rx_during_tx", false)

	v.SetDefault("slave.slave_ids", "1")
	v.SetDefault("slave.device_name", "modbus-rtu-slave")
	v.SetDefault("slave.seed", "")
	v.SetDefault("slave.coils", model.DefaultTableSize)
	v.SetDefault("slave.discrete_inputs", model.DefaultTableSize)
	v.SetDefault("slave.holding_registers", model.DefaultTableSize)
	v.SetDefault("slave.input_registers", model.DefaultTableSize)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("metrics.listen", "")
}

// Load reads configuration from defaults, the config file, MODBUS_RTU_*
// environment variables and flags, in increasing priority. flags may be nil.
// A missing config file is not an error unless configFile names it.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-rtu-slave/")
		v.AddConfigPath("$HOME/.modbus-rtu-slave")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&config.Serial)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
}

// Validate checks the line settings, table sizes and slave ids.
func (c *Config) Validate() error {
	s := c.Serial
	if s.Device == "" {
		return errors.New("serial device is required")
	}
	if s.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", s.BaudRate)
	}
	if s.DataBits != 7 && s.DataBits != 8 {
		return fmt.Errorf("invalid data bits %d, want 7 or 8", s.DataBits)
	}
	switch s.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("invalid parity %q, want N, E or O", s.Parity)
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("invalid stop bits %d, want 1 or 2", s.StopBits)
	}
	if s.ResponseDelay < 0 {
		return fmt.Errorf("invalid response delay %v", s.ResponseDelay)
	}

	sizes := map[string]int{
		"coils":             c.Slave.Coils,
		"discrete_inputs":   c.Slave.DiscreteInputs,
		"holding_registers": c.Slave.HoldingRegisters,
		"input_registers":   c.Slave.InputRegisters,
	}
	for name, n := range sizes {
		if n < 1 || n > model.MaxTableSize {
			return fmt.Errorf("invalid %s size %d, want 1..%d", name, n, model.MaxTableSize)
		}
	}

	ids, err := c.Slave.IDs()
	if err != nil {
		return fmt.Errorf("invalid slave ids %q: %w", c.Slave.SlaveIDs, err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no slave ids in %q", c.Slave.SlaveIDs)
	}
	return nil
}

// ParseSlaveIDs parses a string like "1,2,5-10" into a list of bytes.
func ParseSlaveIDs(input string) ([]byte, error) {
	var ids []byte
	parts := strings.Split(input, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			// Range
			ranges := strings.Split(part, "-")
			if len(ranges) != 2 {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(ranges[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid start of range: %w", err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(ranges[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid end of range: %w", err)
			}
			if start > end {
				return nil, fmt.Errorf("start of range %d is greater than end %d", start, end)
			}
			for i := start; i <= end; i++ {
				if i < 1 || i > 247 {
					return nil, fmt.Errorf("id out of range: %d", i)
				}
				ids = append(ids, byte(i))
			}
		} else {
			// Single
			id, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid id: %w", err)
			}
			if id < 1 || id > 247 {
				return nil, fmt.Errorf("id out of range: %d", id)
			}
			ids = append(ids, byte(id))
		}
	}
	return ids, nil
}
