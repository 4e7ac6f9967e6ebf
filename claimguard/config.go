package claimguard

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rhizacore/claimguard/claimguard/database"
	"github.com/rhizacore/claimguard/claimguard/economy/claim"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log         LogConfig         `toml:"log"`
	DB          database.DBConfig `toml:"db"`
	Security    SecurityConfig    `toml:"security"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Environment string            `toml:"environment"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

// SecurityConfig holds the gate knobs in seconds; zero values fall back
// to the defaults in the claim package.
type SecurityConfig struct {
	LockTimeoutSeconds   int     `toml:"lock_timeout_seconds"`
	RateLimitSeconds     int     `toml:"rate_limit_seconds"`
	MaxClaimsPerWindow   int     `toml:"max_claims_per_window"`
	BlockDurationSeconds int     `toml:"block_duration_seconds"`
	BalanceTolerance     float64 `toml:"balance_tolerance"`
	DevBalanceTolerance  float64 `toml:"dev_balance_tolerance"`
}

type MonitorConfig struct {
	ReportIntervalSeconds int `toml:"report_interval_seconds"`
	AuditQueueSize        int `toml:"audit_queue_size"`
}

// GateConfig merges the TOML knobs over the claim package defaults.
func (c *Config) GateConfig() claim.SecurityConfig {
	gate := claim.DefaultSecurityConfig()
	gate.Production = c.Environment != "development"

	if c.Security.LockTimeoutSeconds > 0 {
		gate.LockTimeout = time.Duration(c.Security.LockTimeoutSeconds) * time.Second
	}
	if c.Security.RateLimitSeconds > 0 {
		gate.RateLimitWindow = time.Duration(c.Security.RateLimitSeconds) * time.Second
	}
	if c.Security.MaxClaimsPerWindow > 0 {
		gate.MaxClaimsPerWindow = c.Security.MaxClaimsPerWindow
	}
	if c.Security.BlockDurationSeconds > 0 {
		gate.BlockDuration = time.Duration(c.Security.BlockDurationSeconds) * time.Second
	}
	if c.Security.BalanceTolerance > 0 {
		gate.BalanceTolerance = c.Security.BalanceTolerance
	}
	if c.Security.DevBalanceTolerance > 0 {
		gate.DevBalanceTolerance = c.Security.DevBalanceTolerance
	}
	return gate
}

func (c *Config) ReportInterval() time.Duration {
	if c.Monitor.ReportIntervalSeconds > 0 {
		return time.Duration(c.Monitor.ReportIntervalSeconds) * time.Second
	}
	return 5 * time.Minute
}
