package factory

import (
	"os"
	"testing"

	"github.com/opd-ai/rtpdispatch/interfaces"
	testsim "github.com/opd-ai/rtpdispatch/testing"
	"github.com/opd-ai/rtpdispatch/transport"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"RTP_USE_SIMULATION", "RTP_POLL_INTERVAL_MS", "RTP_READ_BUFFER", "RTP_WRITE_BUFFER"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestNewSocketFactory(t *testing.T) {
	clearEnv(t)

	factory := NewSocketFactory()
	if factory == nil {
		t.Fatal("Expected factory to be created")
	}

	config := factory.GetCurrentConfig()
	if config.UseSimulation {
		t.Error("Expected default to be real implementation")
	}
	if config.PollIntervalMS != DefaultPollInterval {
		t.Errorf("Expected default poll interval %d, got %d", DefaultPollInterval, config.PollIntervalMS)
	}
	if config.ReadBufferSize != 0 || config.WriteBufferSize != 0 {
		t.Error("Expected OS default buffer sizes")
	}
}

func TestEnvironmentVariableParsing(t *testing.T) {
	tests := []struct {
		name      string
		envKey    string
		envValue  string
		checkFunc func(*interfaces.SocketConfig) bool
	}{
		{
			name:     "simulation enabled",
			envKey:   "RTP_USE_SIMULATION",
			envValue: "true",
			checkFunc: func(c *interfaces.SocketConfig) bool {
				return c.UseSimulation
			},
		},
		{
			name:     "invalid simulation keeps default",
			envKey:   "RTP_USE_SIMULATION",
			envValue: "maybe",
			checkFunc: func(c *interfaces.SocketConfig) bool {
				return !c.UseSimulation
			},
		},
		{
			name:     "poll interval override",
			envKey:   "RTP_POLL_INTERVAL_MS",
			envValue: "25",
			checkFunc: func(c *interfaces.SocketConfig) bool {
				return c.PollIntervalMS == 25
			},
		},
		{
			name:     "poll interval below minimum keeps default",
			envKey:   "RTP_POLL_INTERVAL_MS",
			envValue: "0",
			checkFunc: func(c *interfaces.SocketConfig) bool {
				return c.PollIntervalMS == DefaultPollInterval
			},
		},
		{
			name:     "poll interval above maximum keeps default",
			envKey:   "RTP_POLL_INTERVAL_MS",
			envValue: "20000",
			checkFunc: func(c *interfaces.SocketConfig) bool {
				return c.PollIntervalMS == DefaultPollInterval
			},
		},
		{
			name:     "non numeric poll interval keeps default",
			envKey:   "RTP_POLL_INTERVAL_MS",
			envValue: "fast",
			checkFunc: func(c *interfaces.SocketConfig) bool {
				return c.PollIntervalMS == DefaultPollInterval
			},
		},
		{
			name:     "read buffer override",
			envKey:   "RTP_READ_BUFFER",
			envValue: "262144",
			checkFunc: func(c *interfaces.SocketConfig) bool {
				return c.ReadBufferSize == 262144
			},
		},
		{
			name:     "negative write buffer keeps default",
			envKey:   "RTP_WRITE_BUFFER",
			envValue: "-1",
			checkFunc: func(c *interfaces.SocketConfig) bool {
				return c.WriteBufferSize == 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.envKey, tt.envValue)

			factory := NewSocketFactory()
			if !tt.checkFunc(factory.GetCurrentConfig()) {
				t.Errorf("%s=%q produced unexpected config %+v", tt.envKey, tt.envValue, *factory.GetCurrentConfig())
			}
		})
	}
}

func TestNewSocketFactoryWithConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  interfaces.SocketConfig
		wantErr bool
	}{
		{"valid", interfaces.SocketConfig{PollIntervalMS: 50}, false},
		{"zero poll interval", interfaces.SocketConfig{PollIntervalMS: 0}, true},
		{"poll interval too large", interfaces.SocketConfig{PollIntervalMS: MaxPollInterval + 1}, true},
		{"buffer too large", interfaces.SocketConfig{PollIntervalMS: 50, ReadBufferSize: MaxSocketBuffer + 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, err := NewSocketFactoryWithConfig(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if factory.GetCurrentConfig().PollIntervalMS != tt.config.PollIntervalMS {
				t.Error("Config not stored")
			}
		})
	}
}

func TestCreateSocketSimulation(t *testing.T) {
	clearEnv(t)
	factory := NewSocketFactory()
	factory.SwitchToSimulation()

	sock, err := factory.CreateSocket("sim-a")
	if err != nil {
		t.Fatalf("CreateSocket failed: %v", err)
	}
	defer sock.Close()

	if _, ok := sock.(*testsim.SimulatedSocket); !ok {
		t.Errorf("Expected *SimulatedSocket, got %T", sock)
	}
	if sock.LocalAddr().String() != "sim-a" {
		t.Errorf("Expected local addr sim-a, got %s", sock.LocalAddr())
	}
}

func TestCreateSocketReal(t *testing.T) {
	clearEnv(t)
	factory := NewSocketFactory()

	sock, err := factory.CreateSocket("127.0.0.1:0")
	if err != nil {
		t.Fatalf("CreateSocket failed: %v", err)
	}
	defer sock.Close()

	if _, ok := sock.(*transport.UDPSocket); !ok {
		t.Errorf("Expected *UDPSocket, got %T", sock)
	}
}

func TestCreateSocketWithConfig(t *testing.T) {
	clearEnv(t)
	factory := NewSocketFactory()

	sock, err := factory.CreateSocketWithConfig("sim-b", &interfaces.SocketConfig{UseSimulation: true, PollIntervalMS: 5})
	if err != nil {
		t.Fatalf("CreateSocketWithConfig failed: %v", err)
	}
	sock.Close()

	if _, err := factory.CreateSocketWithConfig("sim-c", &interfaces.SocketConfig{UseSimulation: true}); err == nil {
		t.Error("Expected invalid config to be rejected")
	}

	// nil falls back to the default configuration
	sock, err = factory.CreateSocketWithConfig("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("CreateSocketWithConfig(nil) failed: %v", err)
	}
	sock.Close()
}

func TestCreateSimulationForTesting(t *testing.T) {
	factory := NewSocketFactory()

	sim := factory.CreateSimulationForTesting("test-node")
	defer sim.Close()
	if sim.LocalAddr().String() != "test-node" {
		t.Errorf("Unexpected name %s", sim.LocalAddr())
	}

	stats := sim.GetStats()
	if stats["poll_interval_ms"] != 10 {
		t.Errorf("Expected 10ms test poll interval, got %v", stats["poll_interval_ms"])
	}

	custom := factory.CreateSimulationForTesting("custom", WithPollInterval(1))
	defer custom.Close()
	if custom.GetStats()["poll_interval_ms"] != 1 {
		t.Errorf("Expected custom poll interval, got %v", custom.GetStats()["poll_interval_ms"])
	}
}

func TestSwitchingModes(t *testing.T) {
	clearEnv(t)
	factory := NewSocketFactory()

	if factory.IsUsingSimulation() {
		t.Fatal("Expected real mode by default")
	}
	factory.SwitchToSimulation()
	if !factory.IsUsingSimulation() {
		t.Error("Expected simulation mode after SwitchToSimulation")
	}
	factory.SwitchToReal()
	if factory.IsUsingSimulation() {
		t.Error("Expected real mode after SwitchToReal")
	}
}

func TestGetCurrentConfigReturnsCopy(t *testing.T) {
	factory := NewSocketFactory()
	config := factory.GetCurrentConfig()
	config.PollIntervalMS = 9999

	if factory.GetCurrentConfig().PollIntervalMS == 9999 {
		t.Error("Modifying returned config changed factory state")
	}
}

func TestUpdateConfig(t *testing.T) {
	factory := NewSocketFactory()

	if err := factory.UpdateConfig(nil); err == nil {
		t.Error("Expected error for nil config")
	}
	if err := factory.UpdateConfig(&interfaces.SocketConfig{PollIntervalMS: -5}); err == nil {
		t.Error("Expected error for invalid config")
	}

	newConfig := &interfaces.SocketConfig{UseSimulation: true, PollIntervalMS: 20}
	if err := factory.UpdateConfig(newConfig); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	newConfig.PollIntervalMS = 30

	got := factory.GetCurrentConfig()
	if !got.UseSimulation || got.PollIntervalMS != 20 {
		t.Errorf("Unexpected config after update: %+v", *got)
	}
}
