package factory

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/opd-ai/rtpdispatch/interfaces"
	testsim "github.com/opd-ai/rtpdispatch/testing"
	"github.com/opd-ai/rtpdispatch/transport"
	"github.com/sirupsen/logrus"
)

// Validation constants for configuration bounds checking.
const (
	// MinPollInterval is the minimum allowed poll interval in milliseconds.
	MinPollInterval = 1
	// MaxPollInterval is the maximum allowed poll interval in milliseconds (10 seconds).
	MaxPollInterval = 10000
	// MaxSocketBuffer is the largest kernel buffer the factory will request (64MB).
	MaxSocketBuffer = 64 * 1024 * 1024
)

// DefaultPollInterval bounds blocking reads so a stop request is seen within 100ms.
const DefaultPollInterval = 100

// SocketFactory creates sockets based on configuration.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type SocketFactory struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.SocketConfig
}

// TestConfigOption is a functional option for customizing test simulation configuration.
type TestConfigOption func(*interfaces.SocketConfig)

// NewSocketFactory creates a new factory with default configuration
func NewSocketFactory() *SocketFactory {
	defaultConfig := createDefaultConfig()
	applyEnvironmentOverrides(defaultConfig)
	logConfigurationInfo(defaultConfig)

	return &SocketFactory{
		defaultConfig: defaultConfig,
	}
}

// NewSocketFactoryWithConfig creates a factory from an explicit configuration.
// Environment overrides are not applied.
func NewSocketFactoryWithConfig(config interfaces.SocketConfig) (*SocketFactory, error) {
	if err := validateBounds(&config); err != nil {
		return nil, err
	}
	logConfigurationInfo(&config)
	return &SocketFactory{defaultConfig: &config}, nil
}

// createDefaultConfig initializes the default socket configuration.
//
// Default Value Rationale:
//   - UseSimulation: false - Production mode by default; simulation must be explicitly enabled
//   - PollIntervalMS: 100ms - Stop requests are observed within one poll interval
//   - ReadBufferSize/WriteBufferSize: 0 - Keep the OS defaults unless asked
func createDefaultConfig() *interfaces.SocketConfig {
	return &interfaces.SocketConfig{
		UseSimulation:   false,
		PollIntervalMS:  DefaultPollInterval,
		ReadBufferSize:  0,
		WriteBufferSize: 0,
	}
}

// applyEnvironmentOverrides updates configuration based on environment variables.
// It checks for RTP_* environment variables and overrides defaults if valid values are found.
func applyEnvironmentOverrides(config *interfaces.SocketConfig) {
	parseSimulationSetting(config)
	parseIntSetting("RTP_POLL_INTERVAL_MS", MinPollInterval, MaxPollInterval, &config.PollIntervalMS)
	parseIntSetting("RTP_READ_BUFFER", 0, MaxSocketBuffer, &config.ReadBufferSize)
	parseIntSetting("RTP_WRITE_BUFFER", 0, MaxSocketBuffer, &config.WriteBufferSize)
}

// parseSimulationSetting updates the UseSimulation config from RTP_USE_SIMULATION environment variable.
// It safely parses the boolean value, logs a warning if parsing fails, and only updates config if parsing succeeds.
func parseSimulationSetting(config *interfaces.SocketConfig) {
	if useSimStr := os.Getenv("RTP_USE_SIMULATION"); useSimStr != "" {
		useSim, err := strconv.ParseBool(useSimStr)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "parseSimulationSetting",
				"env_var":     "RTP_USE_SIMULATION",
				"value":       useSimStr,
				"error":       err.Error(),
				"using_value": config.UseSimulation,
			}).Warn("Failed to parse RTP_USE_SIMULATION environment variable, using default")
			return
		}
		config.UseSimulation = useSim
	}
}

// parseIntSetting updates *target from the integer environment variable envVar.
// It validates the value is within [min, max] and logs warnings for invalid values.
// Only updates the target if parsing succeeds and the value is within range.
func parseIntSetting(envVar string, min, max int, target *int) {
	str := os.Getenv(envVar)
	if str == "" {
		return
	}

	value, err := strconv.Atoi(str)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       str,
			"error":       err.Error(),
			"using_value": *target,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	if value < min || value > max {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       value,
			"min":         min,
			"max":         max,
			"using_value": *target,
		}).Warn("Environment variable value out of bounds, using default")
		return
	}
	*target = value
}

// validateBounds applies the same bounds as the environment overrides.
func validateBounds(config *interfaces.SocketConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if config.PollIntervalMS < MinPollInterval || config.PollIntervalMS > MaxPollInterval {
		return fmt.Errorf("poll interval %dms not in [%d, %d]", config.PollIntervalMS, MinPollInterval, MaxPollInterval)
	}
	if config.ReadBufferSize > MaxSocketBuffer || config.WriteBufferSize > MaxSocketBuffer {
		return fmt.Errorf("socket buffer exceeds %d bytes", MaxSocketBuffer)
	}
	return nil
}

// logConfigurationInfo logs the final configuration settings for debugging purposes.
func logConfigurationInfo(config *interfaces.SocketConfig) {
	logrus.WithFields(logrus.Fields{
		"function":          "NewSocketFactory",
		"use_simulation":    config.UseSimulation,
		"poll_interval_ms":  config.PollIntervalMS,
		"read_buffer_size":  config.ReadBufferSize,
		"write_buffer_size": config.WriteBufferSize,
	}).Info("Created socket factory with configuration")
}

// CreateSocket binds a socket on localAddr ("host:port") using the default configuration.
// In simulation mode localAddr becomes the simulated socket's name.
func (f *SocketFactory) CreateSocket(localAddr string) (interfaces.Socket, error) {
	f.mu.RLock()
	config := *f.defaultConfig
	f.mu.RUnlock()
	return f.CreateSocketWithConfig(localAddr, &config)
}

// CreateSocketWithConfig binds a socket with a custom configuration.
// A nil config falls back to the factory default.
func (f *SocketFactory) CreateSocketWithConfig(localAddr string, config *interfaces.SocketConfig) (interfaces.Socket, error) {
	if config == nil {
		f.mu.RLock()
		c := *f.defaultConfig
		f.mu.RUnlock()
		config = &c
	}
	if err := validateBounds(config); err != nil {
		return nil, fmt.Errorf("invalid socket config: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":         "CreateSocketWithConfig",
		"local_addr":       localAddr,
		"use_simulation":   config.UseSimulation,
		"poll_interval_ms": config.PollIntervalMS,
	}).Info("Creating socket implementation")

	if config.UseSimulation {
		return testsim.NewSimulatedSocket(localAddr, *config), nil
	}

	sock, err := transport.ListenUDP(localAddr, *config)
	if err != nil {
		return nil, err
	}
	return sock, nil
}

// WithPollInterval sets a custom poll interval for the test configuration.
func WithPollInterval(ms int) TestConfigOption {
	return func(c *interfaces.SocketConfig) {
		c.PollIntervalMS = ms
	}
}

// CreateSimulationForTesting creates a simulated socket specifically for testing.
// Default test configuration uses a 10ms poll interval.
func (f *SocketFactory) CreateSimulationForTesting(name string, opts ...TestConfigOption) *testsim.SimulatedSocket {
	testConfig := &interfaces.SocketConfig{
		UseSimulation:  true,
		PollIntervalMS: 10, // Short window keeps stop latency low in tests
	}

	for _, opt := range opts {
		opt(testConfig)
	}

	logrus.WithFields(logrus.Fields{
		"function":         "CreateSimulationForTesting",
		"name":             name,
		"poll_interval_ms": testConfig.PollIntervalMS,
	}).Info("Creating simulation implementation for testing")

	return testsim.NewSimulatedSocket(name, *testConfig)
}

// SwitchToSimulation switches the configuration to use simulation
func (f *SocketFactory) SwitchToSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToSimulation",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to simulation mode")

	f.defaultConfig.UseSimulation = true
}

// SwitchToReal switches the configuration to use real UDP sockets
func (f *SocketFactory) SwitchToReal() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToReal",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to real mode")

	f.defaultConfig.UseSimulation = false
}

// GetCurrentConfig returns a copy of the current default configuration
func (f *SocketFactory) GetCurrentConfig() *interfaces.SocketConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c := *f.defaultConfig
	return &c
}

// IsUsingSimulation returns true if the factory is configured for simulation
func (f *SocketFactory) IsUsingSimulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.defaultConfig.UseSimulation
}

// UpdateConfig updates the factory's default configuration
func (f *SocketFactory) UpdateConfig(config *interfaces.SocketConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := validateBounds(config); err != nil {
		return fmt.Errorf("invalid socket config: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":          "UpdateConfig",
		"old_simulation":    f.defaultConfig.UseSimulation,
		"new_simulation":    config.UseSimulation,
		"old_poll_interval": f.defaultConfig.PollIntervalMS,
		"new_poll_interval": config.PollIntervalMS,
	}).Info("Updating factory configuration")

	c := *config
	f.defaultConfig = &c

	return nil
}
