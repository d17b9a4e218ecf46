// Package config loads the daemon configuration from a file,
// environment variables or defaults, in that ascending order of
// precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DaemonConfig holds configuration for the transport daemon.
type DaemonConfig struct {
	NodeID            string
	LogLevel          string
	NumDevices        int
	PollRate          int
	SendEntries       int
	RecvEntries       int
	PoolBuffers       int
	MetricsAddr       string
	OTelCollectorAddr string
	SelfTestIntervalS int
}

// LoadDaemonConfig loads the daemon configuration from a file or
// environment variables.
func LoadDaemonConfig(configPath string) (*DaemonConfig, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("node_id", getSystemHostname())
	v.SetDefault("log_level", "info")
	v.SetDefault("num_devices", 2)
	v.SetDefault("poll_rate", 1000) // dispatcher steps per second
	v.SetDefault("send_entries", 8)
	v.SetDefault("recv_entries", 8)
	v.SetDefault("pool_buffers", 64)
	v.SetDefault("metrics_addr", "") // empty disables the scrape endpoint
	v.SetDefault("otel_collector_addr", "")
	v.SetDefault("self_test_interval_s", 10)

	// Environment variables
	v.SetEnvPrefix("IBNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in default locations
		v.SetConfigName("ibnetd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ibnet")
		v.AddConfigPath("/etc/ibnet")
	}

	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file is not found, but other errors should be handled
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config DaemonConfig
	config.NodeID = v.GetString("node_id")
	config.LogLevel = v.GetString("log_level")
	config.NumDevices = v.GetInt("num_devices")
	config.PollRate = v.GetInt("poll_rate")
	config.SendEntries = v.GetInt("send_entries")
	config.RecvEntries = v.GetInt("recv_entries")
	config.PoolBuffers = v.GetInt("pool_buffers")
	config.MetricsAddr = v.GetString("metrics_addr")
	config.OTelCollectorAddr = v.GetString("otel_collector_addr")
	config.SelfTestIntervalS = v.GetInt("self_test_interval_s")

	if config.NumDevices < 1 {
		return nil, fmt.Errorf("num_devices must be at least 1, got %d", config.NumDevices)
	}
	if config.PollRate < 1 {
		return nil, fmt.Errorf("poll_rate must be at least 1, got %d", config.PollRate)
	}

	return &config, nil
}

// CreateDefaultDaemonConfig creates a default configuration file for
// the daemon.
func CreateDefaultDaemonConfig(path string) error {
	configContent := `# ibnetd Configuration
node_id: "" # Leave empty to use hostname
log_level: "info" # debug, info, warn, error
num_devices: 2 # loopback adapter ports to register
poll_rate: 1000 # dispatcher steps per second
send_entries: 8 # send work queue depth
recv_entries: 8 # receive work queue depth
pool_buffers: 64 # receive buffer pool size per device
metrics_addr: "" # e.g. ":9090"; empty disables the scrape endpoint
otel_collector_addr: "" # e.g. "grpc://localhost:4317"; empty disables OTLP export
self_test_interval_s: 10
`

	return writeConfigFile(path, configContent)
}

// getSystemHostname returns the system hostname or a fallback string
func getSystemHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Sprintf("ibnetd-%d", os.Getpid())
	}
	return hostname
}

// createConfigDirectory ensures the directory for a config file exists
func createConfigDirectory(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
	}
	return nil
}

// writeConfigFile writes content to a config file
func writeConfigFile(path, content string) error {
	if err := createConfigDirectory(path); err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
