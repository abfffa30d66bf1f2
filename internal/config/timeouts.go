package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds all configurable timeout values.
// These values can be customized via environment variables.
type Timeouts struct {
	ServerActive      time.Duration // Timeout for a server to reach ACTIVE
	Ready             time.Duration // Total readiness probe budget
	ProbeInterval     time.Duration // Delay between readiness probes
	DialTimeout       time.Duration // Timeout of a single probe dial
	Delete            time.Duration // Deadline for deleting a single resource
	LedgerLock        time.Duration // How long to wait for the ledger lock
	CreateMaxAttempts int           // Attempts per resource creation
	DeleteMaxAttempts int           // Attempts per resource deletion
	RetryInitialDelay time.Duration // Initial delay between retries
	RetryMaxDelay     time.Duration // Upper bound of the backoff delay
	APIRate           float64       // Sustained cloud API requests per second
	APIBurst          int           // Cloud API burst size
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - BASTION_TIMEOUT_ACTIVE (default: 10m)
//   - BASTION_TIMEOUT_READY (default: 5m)
//   - BASTION_PROBE_INTERVAL (default: 5s)
//   - BASTION_DIAL_TIMEOUT (default: 5s)
//   - BASTION_TIMEOUT_DELETE (default: 5m)
//   - BASTION_TIMEOUT_LEDGER_LOCK (default: 30s)
//   - BASTION_CREATE_MAX_ATTEMPTS (default: 3)
//   - BASTION_DELETE_MAX_ATTEMPTS (default: 5)
//   - BASTION_RETRY_INITIAL_DELAY (default: 1s)
//   - BASTION_RETRY_MAX_DELAY (default: 30s)
//   - BASTION_API_RATE (default: 10)
//   - BASTION_API_BURST (default: 5)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		ServerActive:      parseDuration("BASTION_TIMEOUT_ACTIVE", 10*time.Minute),
		Ready:             parseDuration("BASTION_TIMEOUT_READY", 5*time.Minute),
		ProbeInterval:     parseDuration("BASTION_PROBE_INTERVAL", 5*time.Second),
		DialTimeout:       parseDuration("BASTION_DIAL_TIMEOUT", 5*time.Second),
		Delete:            parseDuration("BASTION_TIMEOUT_DELETE", 5*time.Minute),
		LedgerLock:        parseDuration("BASTION_TIMEOUT_LEDGER_LOCK", 30*time.Second),
		CreateMaxAttempts: parseInt("BASTION_CREATE_MAX_ATTEMPTS", 3),
		DeleteMaxAttempts: parseInt("BASTION_DELETE_MAX_ATTEMPTS", 5),
		RetryInitialDelay: parseDuration("BASTION_RETRY_INITIAL_DELAY", 1*time.Second),
		RetryMaxDelay:     parseDuration("BASTION_RETRY_MAX_DELAY", 30*time.Second),
		APIRate:           parseFloat("BASTION_API_RATE", 10),
		APIBurst:          parseInt("BASTION_API_BURST", 5),
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}

	return d
}

// parseInt parses a positive integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}

	return i
}

func parseFloat(envVar string, defaultVal float64) float64 {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}

	return f
}
