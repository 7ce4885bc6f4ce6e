package adapter

// Metric accessors backing the metrics.Source interface. The adapter
// aggregates across its components on demand; collection is cheap
// enough for scrape-time evaluation.

// ComponentsByState counts registered components per lifecycle state.
func (a *Adapter) ComponentsByState() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int)
	for _, comp := range a.components {
		out[comp.State().String()]++
	}
	return out
}

// InvocationTotals sums invocation and failure counts across all
// components.
func (a *Adapter) InvocationTotals() (invocations, failures uint64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, comp := range a.components {
		st := comp.Stats()
		invocations += st.Invocations
		failures += st.Failures
	}
	return invocations, failures
}

// ViolationTotal counts every violation ever recorded by the security
// engine.
func (a *Adapter) ViolationTotal() int {
	return len(a.security.ViolationLog())
}

// MemoryCounters exposes the memory manager's aggregate counters.
func (a *Adapter) MemoryCounters() (bytesInUse, peakBytes uint64, activeRegions, sharedRegions int) {
	st := a.memory.Stats()
	return st.BytesInUse, st.PeakBytes, st.ActiveRegions, st.SharedRegions
}

// AuditWritten reports the total number of audit events recorded.
func (a *Adapter) AuditWritten() uint64 {
	return a.audit.Written()
}
