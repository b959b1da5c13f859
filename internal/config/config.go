// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Heading sources selectable with HEADING_SOURCE.
const (
	SourceIMULeft = "imu_left" // accel + mag from the MPU9250 raw topic
	SourceHMC     = "hmc"      // accel from the MPU9250 raw topic, mag from the HMC5983 topic
	SourceMock    = "mock"     // synthetic turning device, no broker input
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDHeading string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string
	MQTTClientIDDisplay string

	// Topics
	TopicIMULeft string
	TopicMagHMC  string
	TopicHeading string

	// Heading estimation
	HeadingSource         string
	HeadingThrottleMs     int // minimum spacing between emitted headings
	AnimationDurationMs   int // compass face rotation time
	MockTurnRateDegPerSec float64
	MagCalibrationFile    string // optional JSON from cmd/calibration

	// NMEA heading output (optional; empty port disables it)
	NMEASerialPort string
	NMEABaudRate   int
	NMEATalker     string

	// Timing
	ConsoleLogInterval int // milliseconds

	// Web Server
	WebServerPort int

	// Display
	DisplayUpdateInterval int // milliseconds
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex; Get takes the read lock so concurrent readers never block each other.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		MQTTClientIDHeading: "inertial-heading-producer",
		MQTTClientIDConsole: "inertial-heading-console",
		MQTTClientIDWeb:     "inertial-heading-web",
		MQTTClientIDDisplay: "inertial-heading-display",

		TopicIMULeft: "inertial/imu/left",
		TopicMagHMC:  "inertial/mag/hmc",
		TopicHeading: "inertial/heading",

		HeadingSource:         SourceIMULeft,
		HeadingThrottleMs:     250,
		AnimationDurationMs:   250,
		MockTurnRateDegPerSec: 30,

		NMEABaudRate: 4800,
		NMEATalker:   "HC",

		ConsoleLogInterval:    5000,
		WebServerPort:         8080,
		DisplayUpdateInterval: 250,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of Default. Blank lines and lines
// starting with '#' are skipped.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_HEADING":
		c.MQTTClientIDHeading = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_IMU_LEFT":
		c.TopicIMULeft = value
	case "TOPIC_MAG_HMC":
		c.TopicMagHMC = value
	case "TOPIC_HEADING":
		c.TopicHeading = value

	// Heading estimation
	case "HEADING_SOURCE":
		switch value {
		case SourceIMULeft, SourceHMC, SourceMock:
			c.HeadingSource = value
		default:
			return fmt.Errorf("HEADING_SOURCE must be %s, %s or %s, got %q", SourceIMULeft, SourceHMC, SourceMock, value)
		}
	case "HEADING_THROTTLE_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid HEADING_THROTTLE_MS %q: %w", value, err)
		}
		if ms < 0 {
			return fmt.Errorf("HEADING_THROTTLE_MS must be >= 0, got %d", ms)
		}
		c.HeadingThrottleMs = ms
	case "ANIMATION_DURATION_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid ANIMATION_DURATION_MS %q: %w", value, err)
		}
		if ms <= 0 {
			return fmt.Errorf("ANIMATION_DURATION_MS must be > 0, got %d", ms)
		}
		c.AnimationDurationMs = ms
	case "MOCK_TURN_RATE_DEG_PER_SEC":
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid MOCK_TURN_RATE_DEG_PER_SEC %q: %w", value, err)
		}
		c.MockTurnRateDegPerSec = rate
	case "MAG_CALIBRATION_FILE":
		c.MagCalibrationFile = value

	// NMEA output
	case "NMEA_SERIAL_PORT":
		c.NMEASerialPort = value
	case "NMEA_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid NMEA_BAUD_RATE %q: %w", value, err)
		}
		c.NMEABaudRate = rate
	case "NMEA_TALKER":
		if len(value) != 2 {
			return fmt.Errorf("NMEA_TALKER must be two characters, got %q", value)
		}
		c.NMEATalker = strings.ToUpper(value)

	// Timing
	case "CONSOLE_LOG_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CONSOLE_LOG_INTERVAL %q: %w", value, err)
		}
		c.ConsoleLogInterval = interval

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicHeading == "" {
		return fmt.Errorf("TOPIC_HEADING is required")
	}
	if c.NMEASerialPort != "" && c.NMEABaudRate <= 0 {
		return fmt.Errorf("NMEA_BAUD_RATE is required when NMEA_SERIAL_PORT is set")
	}
	if c.ConsoleLogInterval <= 0 {
		return fmt.Errorf("CONSOLE_LOG_INTERVAL must be > 0")
	}
	if c.DisplayUpdateInterval <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL must be > 0")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
