package adapter

import (
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/componentkit/enclave/audit"
	"github.com/componentkit/enclave/errors"
	"github.com/componentkit/enclave/security"
)

// Config tunes one adapter. The zero value is not usable; start from
// DefaultConfig or LoadConfig.
type Config struct {
	// DefaultIsolation applies to components that do not pick a level.
	DefaultIsolation security.IsolationLevel `yaml:"default_isolation"`

	// MaxExecutionTime is the fallback invocation budget when neither
	// the method nor the component policy sets one.
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`

	// ZeroTrust gates the untrusted-component baseline checks.
	ZeroTrust bool `yaml:"zero_trust"`

	// MaxViolations refuses a component outright once its violation
	// count reaches this threshold.
	MaxViolations int `yaml:"max_violations_per_component"`

	// AuditAll also records successful security validations.
	AuditAll bool `yaml:"audit_all_operations"`

	// AuditCapacity sizes the circular audit buffer.
	AuditCapacity int `yaml:"audit_capacity"`

	// BridgeDiscovery enables on-demand loading of bridge guest
	// binaries from the search path.
	BridgeDiscovery bool `yaml:"bridge_discovery"`

	// Logger receives structured engine logs. Nil means silent.
	Logger *zap.Logger `yaml:"-"`
}

// DefaultConfig returns the standard production settings: Standard
// isolation, Zero-Trust on, a five second execution budget.
func DefaultConfig() Config {
	return Config{
		DefaultIsolation: security.IsolationStandard,
		MaxExecutionTime: security.DefaultExecutionTimeout,
		ZeroTrust:        true,
		MaxViolations:    10,
		AuditCapacity:    audit.DefaultCapacity,
	}
}

// LoadConfig reads a YAML config file over the defaults, so absent
// keys keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(errors.PhaseConfig, errors.KindConfigurationInvalid, err,
			"read config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(errors.PhaseConfig, errors.KindConfigurationInvalid, err,
			"parse config file")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations outside the documented bounds.
func (c Config) Validate() error {
	if !c.DefaultIsolation.Valid() {
		return errors.ConfigurationInvalid("default isolation %d out of range", uint8(c.DefaultIsolation))
	}
	if c.MaxExecutionTime <= 0 {
		return errors.ConfigurationInvalid("max execution time must be positive")
	}
	if c.MaxExecutionTime > security.MaxExecutionCeiling {
		return errors.ConfigurationInvalid("max execution time %s exceeds ceiling %s",
			c.MaxExecutionTime, security.MaxExecutionCeiling)
	}
	if c.MaxViolations < 0 {
		return errors.ConfigurationInvalid("max violations must not be negative")
	}
	if c.AuditCapacity < 0 {
		return errors.ConfigurationInvalid("audit capacity must not be negative")
	}
	return nil
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
