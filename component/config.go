package component

import (
	"fmt"

	"github.com/componentkit/enclave/bridge"
	"github.com/componentkit/enclave/errors"
	"github.com/componentkit/enclave/security"
)

// MaxParameters bounds a method signature's parameter count.
const MaxParameters = 16

// Config declares a component at registration time. Configuration
// errors surface here and nowhere else; an invalid config never
// produces a component record.
type Config struct {
	// ID is the unique component identifier: a letter or underscore
	// followed by letters, digits or underscores.
	ID string

	// Name is a human-readable label. Defaults to ID.
	Name string

	// Version must look like a dotted version, optionally with a
	// pre-release suffix ("1.2.3", "2.0.0-beta").
	Version string

	Language bridge.Language

	// Isolation picks the default policy tier when Policy is nil.
	// IsolationNone is the zero value and reads as "unset": the
	// adapter substitutes its configured default. A component that
	// genuinely wants no isolation must say so through an explicit
	// Policy.
	Isolation security.IsolationLevel

	// Policy overrides the per-isolation default when set.
	Policy *security.Policy

	Methods []Method

	// Handlers backs native-language components.
	Handlers map[string]bridge.Handler

	// Guest carries the compiled guest binary for runtime-backed
	// languages.
	Guest []byte
}

// Validate checks the full configuration surface. Every failure is a
// ConfigurationInvalid error naming the offending field.
func (c Config) Validate() error {
	if !validIdentifier(c.ID) {
		return errors.ConfigurationInvalid("component id %q is not a valid identifier", c.ID)
	}
	if c.Version != "" && !validVersion(c.Version) {
		return errors.ConfigurationInvalid("version %q is not a valid version string", c.Version)
	}
	if c.Language == "" {
		return errors.ConfigurationInvalid("component %s declares no language", c.ID)
	}

	if c.Policy != nil {
		if err := c.Policy.Validate(); err != nil {
			return err
		}
	} else if !c.Isolation.Valid() {
		return errors.ConfigurationInvalid("isolation level %d out of range", uint8(c.Isolation))
	}

	if len(c.Methods) == 0 {
		return errors.ConfigurationInvalid("component %s declares no methods", c.ID)
	}
	seen := make(map[string]struct{}, len(c.Methods))
	for _, m := range c.Methods {
		if err := validateMethod(m); err != nil {
			return err
		}
		if _, dup := seen[m.Name]; dup {
			return errors.ConfigurationInvalid("duplicate method %q", m.Name)
		}
		seen[m.Name] = struct{}{}
	}

	if c.Language == bridge.LanguageNative {
		for _, m := range c.Methods {
			if _, ok := c.Handlers[m.Name]; !ok {
				return errors.ConfigurationInvalid(
					"native component %s has no handler for method %q", c.ID, m.Name)
			}
		}
	}

	return nil
}

func validateMethod(m Method) error {
	if !validIdentifier(m.Name) {
		return errors.ConfigurationInvalid("method name %q is not a valid identifier", m.Name)
	}
	if len(m.Params) > MaxParameters {
		return errors.ConfigurationInvalid(
			"method %q has %d parameters, limit %d", m.Name, len(m.Params), MaxParameters)
	}
	for i, k := range m.Params {
		if !k.Valid() {
			return errors.ConfigurationInvalid(
				"method %q parameter %d has unknown kind %d", m.Name, i, uint8(k))
		}
	}
	if !m.Returns.Valid() {
		return errors.ConfigurationInvalid(
			"method %q return has unknown kind %d", m.Name, uint8(m.Returns))
	}
	if m.Timeout < 0 || m.Timeout > security.MaxExecutionCeiling {
		return errors.ConfigurationInvalid(
			"method %q timeout %s out of range", m.Name, m.Timeout)
	}
	return nil
}

// validIdentifier accepts a letter or underscore followed by letters,
// digits or underscores.
func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// validVersion accepts dotted versions with optional alphanumeric
// pre-release parts: at least one digit and one dot, nothing outside
// digits, letters, dots, hyphens and underscores.
func validVersion(s string) bool {
	hasDigit, hasDot := false, false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '.':
			hasDot = true
		case r == '-' || r == '_':
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return hasDigit && hasDot
}

// Describe renders a one-line summary used in logs.
func (c Config) Describe() string {
	return fmt.Sprintf("%s@%s (%s, %d methods)", c.ID, c.Version, c.Language, len(c.Methods))
}
