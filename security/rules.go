package security

// Operation names understood by the security engine. Every sensitive
// engine action validates under exactly one of these.
const (
	OpMemoryAllocate      = "memory_allocate"
	OpMemoryFree          = "memory_free"
	OpMemoryShare         = "memory_share"
	OpInvokeLocal         = "component_invoke_local"
	OpInvokeRemote        = "component_invoke_remote"
	OpFileAccess          = "file_access"
	OpNetworkAccess       = "network_access"
	OpPrivilegedOperation = "privileged_operation"
)

// Rule binds an operation to the permissions it requires and the
// minimum isolation level a component must run at to request it.
type Rule struct {
	Required     Permission
	MinIsolation IsolationLevel
}

// rules is the complete permission table. It is data, not startup code,
// so completeness can be asserted in one place.
var rules = map[string]Rule{
	OpMemoryAllocate:      {Required: PermMemoryWrite, MinIsolation: IsolationBasic},
	OpMemoryFree:          {Required: PermMemoryWrite, MinIsolation: IsolationBasic},
	OpMemoryShare:         {Required: PermMemoryRead | PermMemoryWrite, MinIsolation: IsolationStandard},
	OpInvokeLocal:         {Required: PermInvokeLocal, MinIsolation: IsolationBasic},
	OpInvokeRemote:        {Required: PermInvokeRemote | PermNetwork, MinIsolation: IsolationStrict},
	OpFileAccess:          {Required: PermFileAccess, MinIsolation: IsolationStandard},
	OpNetworkAccess:       {Required: PermNetwork, MinIsolation: IsolationStrict},
	OpPrivilegedOperation: {Required: PermPrivileged, MinIsolation: IsolationParanoid},
}

// RuleFor returns the rule for an operation name. Unknown operations
// carry no rule and validate with no extra requirements.
func RuleFor(operation string) (Rule, bool) {
	r, ok := rules[operation]
	return r, ok
}

// Operations returns every operation name with a registered rule.
func Operations() []string {
	ops := make([]string, 0, len(rules))
	for op := range rules {
		ops = append(ops, op)
	}
	return ops
}
