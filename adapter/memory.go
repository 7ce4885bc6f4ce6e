package adapter

import (
	"github.com/componentkit/enclave/audit"
	"github.com/componentkit/enclave/component"
	"github.com/componentkit/enclave/errors"
	"github.com/componentkit/enclave/memory"
	"github.com/componentkit/enclave/security"
)

// Allocate creates a region owned by the component after full security
// validation. The component's recorded byte count tracks the manager's
// accounting.
func (a *Adapter) Allocate(id string, size uint64, perms security.Permission) (memory.Handle, error) {
	comp, err := a.Find(id)
	if err != nil {
		return 0, err
	}

	sub := security.Subject{ID: id, Policy: comp.Policy()}
	if err := a.security.Validate(sub, security.OpMemoryAllocate); err != nil {
		comp.RecordViolation()
		a.auditMemoryFailure(id, err)
		return 0, err
	}

	h, err := a.memory.Allocate(id, comp.Policy(), size, perms)
	if err != nil {
		a.recordIfSecurityFailure(comp, security.OpMemoryAllocate, err)
		a.auditMemoryFailure(id, err)
		return 0, err
	}

	comp.SetBytesAllocated(a.memory.UsageOf(id))
	a.audit.Record(audit.Event{
		Type:        audit.EventMemoryAllocated,
		ComponentID: id,
	})
	return h, nil
}

// Free releases a region owned by the component, or just drops one
// reference while the region is shared.
func (a *Adapter) Free(id string, h memory.Handle) error {
	comp, err := a.Find(id)
	if err != nil {
		return err
	}

	sub := security.Subject{ID: id, Policy: comp.Policy()}
	if err := a.security.Validate(sub, security.OpMemoryFree); err != nil {
		comp.RecordViolation()
		a.auditMemoryFailure(id, err)
		return err
	}

	if err := a.memory.Free(id, h); err != nil {
		a.recordIfSecurityFailure(comp, security.OpMemoryFree, err)
		a.auditMemoryFailure(id, err)
		return err
	}

	comp.SetBytesAllocated(a.memory.UsageOf(id))
	a.audit.Record(audit.Event{
		Type:        audit.EventMemoryFreed,
		ComponentID: id,
	})
	return nil
}

// Share grants a second component access to a region owned by the
// first, with an independently scoped permission set.
func (a *Adapter) Share(sourceID, targetID string, h memory.Handle, perms security.Permission) error {
	src, err := a.Find(sourceID)
	if err != nil {
		return err
	}
	tgt, err := a.Find(targetID)
	if err != nil {
		return err
	}

	sub := security.Subject{ID: sourceID, Policy: src.Policy()}
	if err := a.security.Validate(sub, security.OpMemoryShare); err != nil {
		src.RecordViolation()
		a.auditMemoryFailure(sourceID, err)
		return err
	}

	if err := a.memory.Share(sourceID, src.Policy(), targetID, tgt.Policy(), h, perms); err != nil {
		a.recordIfSecurityFailure(src, security.OpMemoryShare, err)
		a.auditMemoryFailure(sourceID, err)
		return err
	}

	a.audit.Record(audit.Event{
		Type:        audit.EventMemoryShared,
		ComponentID: sourceID,
		Detail:      "with " + targetID,
	})
	return nil
}

// ReadMemory reads from a region through the boundary check on behalf
// of a component.
func (a *Adapter) ReadMemory(id string, addr, size uint64) ([]byte, error) {
	return a.memory.Read(id, addr, size)
}

// WriteMemory writes into a region through the boundary check on
// behalf of a component.
func (a *Adapter) WriteMemory(id string, addr uint64, data []byte) error {
	return a.memory.Write(id, addr, data)
}

// Regions lists the regions a component owns.
func (a *Adapter) Regions(id string) []memory.RegionInfo {
	return a.memory.RegionsOf(id)
}

// MemoryStats returns the manager-wide counters.
func (a *Adapter) MemoryStats() memory.Stats {
	return a.memory.Stats()
}

// recordIfSecurityFailure folds security-class manager failures into
// the component's permanent violation history.
func (a *Adapter) recordIfSecurityFailure(comp *component.Component, operation string, err error) {
	switch errors.KindOf(err) {
	case errors.KindSecurityViolation, errors.KindPermissionDenied, errors.KindIsolationBreach:
		comp.RecordViolation()
		a.security.RecordViolation(comp.ID(), operation, errors.KindOf(err), "memory operation refused")
	}
}

func (a *Adapter) auditMemoryFailure(id string, err error) {
	a.audit.Record(audit.Event{
		Type:        audit.EventSecurityViolation,
		ComponentID: id,
		Kind:        errors.KindOf(err),
		Detail:      "memory operation failed",
	})
}
