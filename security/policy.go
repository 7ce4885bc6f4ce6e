package security

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/componentkit/enclave/errors"
)

// Permission is a bitset of operation categories a component may perform.
type Permission uint32

const (
	PermNone         Permission = 0
	PermMemoryRead   Permission = 1 << 0
	PermMemoryWrite  Permission = 1 << 1
	PermInvokeLocal  Permission = 1 << 2
	PermInvokeRemote Permission = 1 << 3
	PermNetwork      Permission = 1 << 4
	PermFileAccess   Permission = 1 << 5
	PermPrivileged   Permission = 1 << 6

	PermAll = PermMemoryRead | PermMemoryWrite | PermInvokeLocal |
		PermInvokeRemote | PermNetwork | PermFileAccess | PermPrivileged
)

var permNames = []struct {
	bit  Permission
	name string
}{
	{PermMemoryRead, "memory-read"},
	{PermMemoryWrite, "memory-write"},
	{PermInvokeLocal, "invoke-local"},
	{PermInvokeRemote, "invoke-remote"},
	{PermNetwork, "network"},
	{PermFileAccess, "file-access"},
	{PermPrivileged, "privileged"},
}

// Has reports whether p contains every bit of req.
func (p Permission) Has(req Permission) bool {
	return p&req == req
}

// Intersects reports whether p and o share any bit.
func (p Permission) Intersects(o Permission) bool {
	return p&o != 0
}

func (p Permission) String() string {
	if p == PermNone {
		return "none"
	}
	var parts []string
	for _, pn := range permNames {
		if p.Has(pn.bit) {
			parts = append(parts, pn.name)
		}
	}
	if rest := p &^ PermAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// IsolationLevel bounds a component's default permissions and memory
// budget. Levels are ordered; a higher level is always stricter.
type IsolationLevel uint8

const (
	IsolationNone IsolationLevel = iota
	IsolationBasic
	IsolationStandard
	IsolationStrict
	IsolationParanoid
)

var isolationNames = [...]string{"none", "basic", "standard", "strict", "paranoid"}

func (l IsolationLevel) String() string {
	if int(l) < len(isolationNames) {
		return isolationNames[l]
	}
	return fmt.Sprintf("isolation(%d)", uint8(l))
}

// Valid reports whether l is a known level.
func (l IsolationLevel) Valid() bool {
	return l <= IsolationParanoid
}

// ParseIsolationLevel parses the textual form used in configuration files.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	for i, name := range isolationNames {
		if strings.EqualFold(s, name) {
			return IsolationLevel(i), nil
		}
	}
	return IsolationNone, errors.ConfigurationInvalid("unknown isolation level %q", s)
}

// UnmarshalYAML accepts the lowercase level names used in config files.
func (l *IsolationLevel) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseIsolationLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Default execution-time bounds. MaxExecutionCeiling is the hard upper
// bound a policy may request regardless of configuration.
const (
	DefaultExecutionTimeout = 5 * time.Second
	MaxExecutionCeiling     = time.Hour
)

// Policy is the complete security contract of one component: its
// isolation level, its allowed and denied permission sets, and its
// resource bounds. Allowed and Denied must be disjoint.
type Policy struct {
	Isolation    IsolationLevel
	Allowed      Permission
	Denied       Permission
	MaxMemory    uint64
	MaxExecution time.Duration
	AuditEnabled bool
}

// DefaultPolicy returns the standard policy for an isolation level.
// Stricter levels carry fewer permissions and smaller memory budgets;
// everything not explicitly allowed is denied.
func DefaultPolicy(level IsolationLevel) Policy {
	pol := Policy{
		Isolation:    level,
		MaxExecution: DefaultExecutionTimeout,
		AuditEnabled: true,
	}

	switch level {
	case IsolationNone:
		pol.Allowed = PermAll
		pol.MaxMemory = math.MaxUint32
	case IsolationBasic:
		pol.Allowed = PermMemoryRead | PermMemoryWrite | PermInvokeLocal
		pol.MaxMemory = 1 << 20
	case IsolationStandard:
		pol.Allowed = PermMemoryRead | PermInvokeLocal
		pol.MaxMemory = 512 << 10
	case IsolationStrict:
		pol.Allowed = PermMemoryRead
		pol.MaxMemory = 256 << 10
	case IsolationParanoid:
		pol.Allowed = PermNone
		pol.MaxMemory = 128 << 10
	}

	pol.Denied = PermAll &^ pol.Allowed
	return pol
}

// Validate checks internal consistency of the policy.
func (p Policy) Validate() error {
	if !p.Isolation.Valid() {
		return errors.ConfigurationInvalid("isolation level %d out of range", uint8(p.Isolation))
	}
	if p.Allowed.Intersects(p.Denied) {
		return errors.ConfigurationInvalid(
			"allowed and denied permissions overlap on %s", p.Allowed&p.Denied)
	}
	if p.MaxMemory == 0 {
		return errors.ConfigurationInvalid("max memory must be positive")
	}
	if p.MaxExecution <= 0 {
		return errors.ConfigurationInvalid("max execution time must be positive")
	}
	if p.MaxExecution > MaxExecutionCeiling {
		return errors.ConfigurationInvalid(
			"max execution time %s exceeds ceiling %s", p.MaxExecution, MaxExecutionCeiling)
	}
	return nil
}
