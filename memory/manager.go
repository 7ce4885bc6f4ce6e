package memory

import (
	"sync"

	"go.uber.org/zap"

	"github.com/componentkit/enclave/errors"
	"github.com/componentkit/enclave/security"
)

const (
	// guardSize is the width of the canary band written on each side
	// of a region's payload at Strict isolation and above.
	guardSize = 32

	guardByte = 0xA5

	baseAlign = 16

	firstBase = 0x1000
)

// Region is one allocated block with a single owning component. Other
// components reach it only through an explicit share, which registers
// an independently scoped boundary for them.
type Region struct {
	handle    Handle
	owner     string
	base      uint64
	size      uint64
	perms     security.Permission
	refs      int
	shared    bool
	guarded   bool
	zeroFree  bool
	borrowers []string
	data      []byte
}

// Base returns the region's virtual base address.
func (r *Region) Base() uint64 { return r.base }

// Size returns the usable payload size in bytes.
func (r *Region) Size() uint64 { return r.size }

func (r *Region) payload() []byte {
	if r.guarded {
		return r.data[guardSize : guardSize+r.size]
	}
	return r.data
}

func (r *Region) guardsIntact() bool {
	if !r.guarded {
		return true
	}
	front := r.data[:guardSize]
	back := r.data[guardSize+r.size:]
	for _, b := range front {
		if b != guardByte {
			return false
		}
	}
	for _, b := range back {
		if b != guardByte {
			return false
		}
	}
	return true
}

// RegionInfo is the externally visible description of a region.
type RegionInfo struct {
	Handle  Handle
	Owner   string
	Base    uint64
	Size    uint64
	Perms   security.Permission
	Refs    int
	Shared  bool
	Guarded bool
}

// Boundary is a (component, address range, permissions) triple. The
// boundary list, not pointer provenance, decides who may touch a byte.
type Boundary struct {
	ComponentID string
	Start       uint64
	End         uint64 // exclusive
	Perms       security.Permission
	Region      Handle
}

// Contains reports whether [addr, addr+size) fits inside the boundary
// with the needed permission bits.
func (b Boundary) Contains(addr, size uint64, need security.Permission) bool {
	return addr >= b.Start && addr+size <= b.End && b.Perms.Has(need)
}

// Stats aggregates manager-wide accounting.
type Stats struct {
	ActiveRegions  int
	SharedRegions  int
	BytesInUse     uint64
	PeakBytes      uint64
	TotalAllocated uint64
	TotalFreed     uint64
	AccessDenials  uint64
}

// Usage is the per-component slice of the same accounting.
type Usage struct {
	BytesInUse  uint64
	PeakBytes   uint64
	Allocations uint64
	Frees       uint64
}

// Manager owns the region arena, per-component usage accounting, and
// the isolation boundary table. It implements security.BoundaryChecker.
type Manager struct {
	mu         sync.Mutex
	arena      *arena
	boundaries map[string][]Boundary
	usage      map[string]*Usage
	nextBase   uint64
	stats      Stats
	logger     *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		arena:      newArena(),
		boundaries: make(map[string][]Boundary),
		usage:      make(map[string]*Usage),
		nextBase:   firstBase,
		logger:     logger,
	}
}

func align(n uint64) uint64 {
	return (n + baseAlign - 1) &^ uint64(baseAlign-1)
}

// usageFor returns the component's accounting record, creating it on
// first use. Caller holds m.mu.
func (m *Manager) usageFor(componentID string) *Usage {
	u, ok := m.usage[componentID]
	if !ok {
		u = &Usage{}
		m.usage[componentID] = u
	}
	return u
}

// Allocate creates a region owned solely by ownerID. The requested
// permissions must stay within the owner's allowed set and the owner's
// running total must stay within its budget; a failed attempt leaves
// the recorded usage untouched. At Strict isolation and above the
// payload is wrapped in canary guard bands checked again on free.
func (m *Manager) Allocate(ownerID string, pol security.Policy, size uint64, perms security.Permission) (Handle, error) {
	if size == 0 {
		return 0, errors.InvalidParameter(errors.PhaseMemory, "allocation size must be positive")
	}
	if !pol.Allowed.Has(perms) {
		return 0, errors.PermissionDenied(errors.PhaseMemory, ownerID,
			"requested region permissions "+perms.String()+" exceed allowed set")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.usageFor(ownerID)
	if u.BytesInUse+size > pol.MaxMemory {
		return 0, errors.IsolationBreach(errors.PhaseMemory, ownerID,
			"allocation would exceed memory budget")
	}

	guarded := pol.Isolation >= security.IsolationStrict
	total := size
	if guarded {
		total += 2 * guardSize
	}

	r := &Region{
		owner:    ownerID,
		base:     m.nextBase,
		size:     size,
		perms:    perms,
		refs:     1,
		guarded:  guarded,
		zeroFree: pol.Isolation >= security.IsolationStandard,
		data:     make([]byte, total),
	}
	if guarded {
		for i := 0; i < guardSize; i++ {
			r.data[i] = guardByte
			r.data[guardSize+int(size)+i] = guardByte
		}
	}
	m.nextBase += align(size)

	r.handle = m.arena.insert(r)
	m.boundaries[ownerID] = append(m.boundaries[ownerID], Boundary{
		ComponentID: ownerID,
		Start:       r.base,
		End:         r.base + size,
		Perms:       perms,
		Region:      r.handle,
	})

	u.BytesInUse += size
	u.Allocations++
	if u.BytesInUse > u.PeakBytes {
		u.PeakBytes = u.BytesInUse
	}
	m.stats.BytesInUse += size
	m.stats.TotalAllocated += size
	m.stats.ActiveRegions++
	if m.stats.BytesInUse > m.stats.PeakBytes {
		m.stats.PeakBytes = m.stats.BytesInUse
	}

	m.logger.Debug("region allocated",
		zap.String("owner", ownerID),
		zap.Uint64("base", r.base),
		zap.Uint64("size", size),
		zap.Bool("guarded", guarded),
	)
	return r.handle, nil
}

// Free releases a region. Only the owner may free. With the reference
// count above one the call just decrements it; the final free checks
// the guard bands, optionally zeroes the payload, removes every
// boundary that pointed at the region and returns the slot to the
// arena.
func (m *Manager) Free(callerID string, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.arena.get(h)
	if !ok {
		return errors.InvalidParameter(errors.PhaseMemory, "stale or unknown region handle")
	}
	if r.owner != callerID {
		return errors.PermissionDenied(errors.PhaseMemory, callerID,
			"only the owner may free a region")
	}

	if r.refs > 1 {
		r.refs--
		return nil
	}

	if !r.guardsIntact() {
		m.dropBoundaries(r)
		m.releaseRegion(r, h)
		return errors.IsolationBreach(errors.PhaseMemory, callerID,
			"guard bytes overwritten, region corrupted")
	}

	m.dropBoundaries(r)
	m.releaseRegion(r, h)
	return nil
}

// releaseRegion finalizes a region: zeroing, accounting, arena slot.
// Caller holds m.mu.
func (m *Manager) releaseRegion(r *Region, h Handle) {
	if r.zeroFree {
		payload := r.payload()
		for i := range payload {
			payload[i] = 0
		}
	}
	m.arena.release(h)

	if u, ok := m.usage[r.owner]; ok {
		u.BytesInUse -= r.size
		u.Frees++
	}
	m.stats.BytesInUse -= r.size
	m.stats.TotalFreed += r.size
	m.stats.ActiveRegions--
	if r.shared {
		m.stats.SharedRegions--
	}

	m.logger.Debug("region released",
		zap.String("owner", r.owner),
		zap.Uint64("base", r.base),
		zap.Uint64("size", r.size),
	)
}

// dropBoundaries removes every boundary referring to r, for the owner
// and all borrowers. Caller holds m.mu.
func (m *Manager) dropBoundaries(r *Region) {
	ids := append([]string{r.owner}, r.borrowers...)
	for _, id := range ids {
		list := m.boundaries[id]
		kept := list[:0]
		for _, b := range list {
			if b.Region != r.handle {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			delete(m.boundaries, id)
		} else {
			m.boundaries[id] = kept
		}
	}
}

// Share grants targetID access to a region owned by sourceID. Paranoid
// components never participate in sharing, on either side. The granted
// permissions must stay within the region's own permissions and the
// target's allowed set; the target gets its own boundary and the
// region's reference count rises by one.
func (m *Manager) Share(sourceID string, srcPol security.Policy, targetID string, tgtPol security.Policy, h Handle, perms security.Permission) error {
	if sourceID == targetID {
		return errors.InvalidParameter(errors.PhaseMemory, "cannot share a region with its owner")
	}
	if srcPol.Isolation == security.IsolationParanoid || tgtPol.Isolation == security.IsolationParanoid {
		return errors.IsolationBreach(errors.PhaseMemory, sourceID,
			"paranoid components never share memory")
	}
	if !srcPol.Allowed.Has(security.PermMemoryRead) {
		return errors.PermissionDenied(errors.PhaseMemory, sourceID,
			"sharing requires memory-read on the source")
	}
	if !tgtPol.Allowed.Has(perms) {
		return errors.PermissionDenied(errors.PhaseMemory, targetID,
			"granted permissions "+perms.String()+" exceed target's allowed set")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.arena.get(h)
	if !ok {
		return errors.InvalidParameter(errors.PhaseMemory, "stale or unknown region handle")
	}
	if r.owner != sourceID {
		return errors.PermissionDenied(errors.PhaseMemory, sourceID,
			"only the owner may share a region")
	}
	if !r.perms.Has(perms) {
		return errors.PermissionDenied(errors.PhaseMemory, targetID,
			"granted permissions wider than the region's own")
	}
	for _, id := range r.borrowers {
		if id == targetID {
			return errors.InvalidParameter(errors.PhaseMemory, "region already shared with target")
		}
	}

	r.refs++
	if !r.shared {
		r.shared = true
		m.stats.SharedRegions++
	}
	r.borrowers = append(r.borrowers, targetID)

	m.boundaries[targetID] = append(m.boundaries[targetID], Boundary{
		ComponentID: targetID,
		Start:       r.base,
		End:         r.base + r.size,
		Perms:       perms,
		Region:      r.handle,
	})

	m.logger.Debug("region shared",
		zap.String("owner", sourceID),
		zap.String("target", targetID),
		zap.Uint64("base", r.base),
		zap.String("perms", perms.String()),
	)
	return nil
}

// ValidateAccess decides whether componentID may touch the address
// range [addr, addr+size) with the needed permissions. The registered
// boundaries are the sole authority; there is no other path to a yes.
func (m *Manager) ValidateAccess(componentID string, addr, size uint64, need security.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.boundaries[componentID] {
		if b.Contains(addr, size, need) {
			return nil
		}
	}
	m.stats.AccessDenials++
	return errors.IsolationBreach(errors.PhaseMemory, componentID,
		"address range outside registered boundaries")
}

// Write copies data into a region through the boundary check.
func (m *Manager) Write(componentID string, addr uint64, data []byte) error {
	if err := m.ValidateAccess(componentID, addr, uint64(len(data)), security.PermMemoryWrite); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regionAt(addr)
	if !ok {
		return errors.InvalidState(errors.PhaseMemory, "boundary refers to a released region")
	}
	copy(r.payload()[addr-r.base:], data)
	return nil
}

// Read copies size bytes out of a region through the boundary check.
func (m *Manager) Read(componentID string, addr, size uint64) ([]byte, error) {
	if err := m.ValidateAccess(componentID, addr, size, security.PermMemoryRead); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regionAt(addr)
	if !ok {
		return nil, errors.InvalidState(errors.PhaseMemory, "boundary refers to a released region")
	}
	out := make([]byte, size)
	copy(out, r.payload()[addr-r.base:])
	return out, nil
}

// regionAt finds the live region covering addr. Caller holds m.mu.
func (m *Manager) regionAt(addr uint64) (*Region, bool) {
	var found *Region
	m.arena.each(func(_ Handle, r *Region) bool {
		if addr >= r.base && addr < r.base+r.size {
			found = r
			return false
		}
		return true
	})
	return found, found != nil
}

// CheckBoundaries verifies that every boundary registered for a
// component still refers to a live region. A dangling boundary means
// isolation state has been corrupted.
func (m *Manager) CheckBoundaries(componentID string, operation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.boundaries[componentID] {
		if _, ok := m.arena.get(b.Region); !ok {
			return errors.IsolationBreach(errors.PhaseMemory, componentID,
				"boundary refers to a released region during "+operation)
		}
	}
	return nil
}

// UsageOf returns the owner-accounted bytes currently allocated.
func (m *Manager) UsageOf(componentID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.usage[componentID]; ok {
		return u.BytesInUse
	}
	return 0
}

// UsageStatsOf returns the component's full accounting record: bytes
// in use, peak bytes, and allocation/free counts.
func (m *Manager) UsageStatsOf(componentID string) Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.usage[componentID]; ok {
		return *u
	}
	return Usage{}
}

// RegionsOf lists regions the component owns.
func (m *Manager) RegionsOf(componentID string) []RegionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []RegionInfo
	m.arena.each(func(h Handle, r *Region) bool {
		if r.owner == componentID {
			out = append(out, RegionInfo{
				Handle:  h,
				Owner:   r.owner,
				Base:    r.base,
				Size:    r.size,
				Perms:   r.perms,
				Refs:    r.refs,
				Shared:  r.shared,
				Guarded: r.guarded,
			})
		}
		return true
	})
	return out
}

// BoundariesOf returns a snapshot of the component's boundary list.
func (m *Manager) BoundariesOf(componentID string) []Boundary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Boundary, len(m.boundaries[componentID]))
	copy(out, m.boundaries[componentID])
	return out
}

// ReleaseAll forcibly releases every region a component owns and every
// boundary it holds. Regions it merely borrows get their reference
// back, so the owner's free semantics and future shares are unchanged
// by the borrower's destruction. Used during component destruction;
// reference counts on owned regions are ignored since the owner is
// going away.
func (m *Manager) ReleaseAll(componentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var owned []Handle
	m.arena.each(func(h Handle, r *Region) bool {
		if r.owner == componentID {
			owned = append(owned, h)
			return true
		}
		for i, id := range r.borrowers {
			if id == componentID {
				r.borrowers = append(r.borrowers[:i], r.borrowers[i+1:]...)
				r.refs--
				if len(r.borrowers) == 0 && r.shared {
					r.shared = false
					m.stats.SharedRegions--
				}
				break
			}
		}
		return true
	})
	for _, h := range owned {
		if r, ok := m.arena.get(h); ok {
			m.dropBoundaries(r)
			m.releaseRegion(r, h)
		}
	}
	delete(m.boundaries, componentID)
	delete(m.usage, componentID)
}

// Stats returns a copy of the aggregate counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
