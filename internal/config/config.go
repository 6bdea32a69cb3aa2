package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienstroheker/relaycat/internal/relay"
)

// Config holds the settings of one relaycat invocation
type Config struct {
	// Mode is the transport used to reach the peer
	Mode Mode

	// Backend selects the readiness backend
	Backend Backend

	// BufferSize is the capacity of each direction buffer
	BufferSize int

	// LogLevel controls logging verbosity (debug, info, warn, error)
	LogLevel string

	// Retries is the number of extra connection attempts
	Retries int

	// RetryMax caps the backoff between connection attempts
	RetryMax time.Duration

	// ConnectTimeout bounds each connection attempt (0 means no bound)
	ConnectTimeout time.Duration

	// Proxy is a SOCKS5 proxy address for tcp and mux dials
	Proxy string

	// Insecure skips TLS certificate verification for quic and wss
	Insecure bool

	// Hybrid configures the Azure Relay Hybrid Connection mode
	Hybrid HybridConfig

	// invalid records environment values that failed to parse
	invalid []string
}

// HybridConfig holds the Azure Relay settings used by ModeHybrid
type HybridConfig struct {
	// Namespace is the relay namespace host (e.g., "myrelay.servicebus.windows.net")
	Namespace string

	// Name is the hybrid connection name
	Name string

	// KeyName and Key are the shared access policy used for SAS tokens.
	// When empty, an Azure AD token is requested instead.
	KeyName string
	Key     string

	// Ensure creates the hybrid connection before use
	Ensure bool

	// SubscriptionID and ResourceGroup locate the namespace for Ensure
	SubscriptionID string
	ResourceGroup  string
}

// Load creates a Config by reading from environment variables
// and applying defaults where values are not set
func Load() *Config {
	c := &Config{
		Mode:     Mode(strings.ToLower(getEnvOrDefault("RELAYCAT_MODE", string(ModeTCP)))),
		Backend:  Backend(strings.ToLower(getEnvOrDefault("RELAYCAT_BACKEND", string(BackendAuto)))),
		LogLevel: getEnvOrDefault("RELAYCAT_LOG_LEVEL", "info"),
		Proxy:    getEnvOrDefault("RELAYCAT_PROXY", ""),
		Hybrid: HybridConfig{
			Namespace:      getEnvOrDefault("RELAYCAT_HC_NAMESPACE", ""),
			Name:           getEnvOrDefault("RELAYCAT_HC_NAME", ""),
			KeyName:        getEnvOrDefault("RELAYCAT_HC_KEY_NAME", ""),
			Key:            getEnvOrDefault("RELAYCAT_HC_KEY", ""),
			SubscriptionID: getEnvOrDefault("AZURE_SUBSCRIPTION_ID", ""),
			ResourceGroup:  getEnvOrDefault("AZURE_RESOURCE_GROUP", ""),
		},
	}

	c.BufferSize = c.intEnv("RELAYCAT_BUFFER_SIZE", relay.DefaultBufferSize)
	c.Retries = c.intEnv("RELAYCAT_RETRIES", 0)
	c.RetryMax = c.durationEnv("RELAYCAT_RETRY_MAX", 5*time.Second)
	c.ConnectTimeout = c.durationEnv("RELAYCAT_CONNECT_TIMEOUT", 10*time.Second)
	c.Insecure = c.boolEnv("RELAYCAT_INSECURE", false)
	c.Hybrid.Ensure = c.boolEnv("RELAYCAT_HC_ENSURE", false)

	return c
}

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	var missing []string
	invalid := append([]string(nil), c.invalid...)

	if !c.Mode.IsValid() {
		invalid = append(invalid, fmt.Sprintf("mode %q (want %s)", c.Mode, joinModes()))
	}
	if !c.Backend.IsValid() {
		invalid = append(invalid, fmt.Sprintf("backend %q (want auto|fd|async)", c.Backend))
	}
	if c.BufferSize < 1 || c.BufferSize > relay.MaxBufferSize {
		invalid = append(invalid, fmt.Sprintf("buffer size %d (want 1..%d)", c.BufferSize, relay.MaxBufferSize))
	}
	if c.Retries < 0 {
		invalid = append(invalid, fmt.Sprintf("retries %d (want >= 0)", c.Retries))
	}
	if c.RetryMax <= 0 {
		invalid = append(invalid, fmt.Sprintf("retry max %s (want > 0)", c.RetryMax))
	}
	if c.ConnectTimeout < 0 {
		invalid = append(invalid, fmt.Sprintf("connect timeout %s (want >= 0)", c.ConnectTimeout))
	}
	if c.Proxy != "" && c.Mode != ModeTCP && c.Mode != ModeMux {
		invalid = append(invalid, fmt.Sprintf("proxy is not supported in %s mode", c.Mode))
	}

	if c.Mode == ModeHybrid {
		if c.Hybrid.Namespace == "" {
			missing = append(missing, "RELAYCAT_HC_NAMESPACE")
		}
		if c.Hybrid.Name == "" {
			missing = append(missing, "RELAYCAT_HC_NAME")
		}
		if (c.Hybrid.KeyName == "") != (c.Hybrid.Key == "") {
			invalid = append(invalid, "hybrid connection key name and key must be set together")
		}
		if c.Hybrid.Ensure {
			if c.Hybrid.SubscriptionID == "" {
				missing = append(missing, "AZURE_SUBSCRIPTION_ID")
			}
			if c.Hybrid.ResourceGroup == "" {
				missing = append(missing, "AZURE_RESOURCE_GROUP")
			}
		}
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing required configuration: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		problems = append(problems, "invalid configuration: "+strings.Join(invalid, "; "))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return nil
}

// UsesSAS reports whether hybrid connection tokens are signed with a shared key
func (h HybridConfig) UsesSAS() bool {
	return h.KeyName != "" && h.Key != ""
}

func (c *Config) intEnv(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		c.invalid = append(c.invalid, fmt.Sprintf("%s=%q is not an integer", key, val))
		return defaultValue
	}
	return n
}

func (c *Config) durationEnv(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		c.invalid = append(c.invalid, fmt.Sprintf("%s=%q is not a duration", key, val))
		return defaultValue
	}
	return d
}

func (c *Config) boolEnv(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		c.invalid = append(c.invalid, fmt.Sprintf("%s=%q is not a boolean", key, val))
		return defaultValue
	}
	return b
}

// getEnvOrDefault retrieves an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
