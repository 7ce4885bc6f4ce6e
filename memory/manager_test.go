package memory

import (
	"testing"

	"github.com/componentkit/enclave/errors"
	"github.com/componentkit/enclave/security"
)

func failsWith(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := errors.KindOf(err); got != kind {
		t.Fatalf("error kind = %s, want %s (err = %v)", got, kind, err)
	}
}

func basicPolicy() security.Policy {
	return security.DefaultPolicy(security.IsolationBasic)
}

func TestAllocate_Basics(t *testing.T) {
	m := NewManager(nil)
	pol := basicPolicy()

	h, err := m.Allocate("comp", pol, 1024, security.PermMemoryRead|security.PermMemoryWrite)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if h == 0 {
		t.Fatal("zero handle")
	}
	if got := m.UsageOf("comp"); got != 1024 {
		t.Fatalf("usage = %d", got)
	}
	regions := m.RegionsOf("comp")
	if len(regions) != 1 || regions[0].Size != 1024 || regions[0].Refs != 1 {
		t.Fatalf("regions = %+v", regions)
	}
	if regions[0].Guarded {
		t.Fatal("basic isolation must not add guard bands")
	}
}

func TestAllocate_BudgetEdge(t *testing.T) {
	m := NewManager(nil)
	pol := basicPolicy() // 1 MiB budget

	// Filling the budget exactly succeeds.
	if _, err := m.Allocate("comp", pol, pol.MaxMemory, security.PermMemoryRead|security.PermMemoryWrite); err != nil {
		t.Fatalf("allocation at exact budget failed: %v", err)
	}

	// One more byte fails and leaves the counter untouched.
	_, err := m.Allocate("comp", pol, 1, security.PermMemoryRead|security.PermMemoryWrite)
	failsWith(t, err, errors.KindIsolationBreach)
	if got := m.UsageOf("comp"); got != pol.MaxMemory {
		t.Fatalf("usage after failed allocation = %d, want %d", got, pol.MaxMemory)
	}
}

func TestAllocate_PermissionExceedsPolicy(t *testing.T) {
	m := NewManager(nil)
	pol := security.DefaultPolicy(security.IsolationStrict) // read only

	_, err := m.Allocate("comp", pol, 64, security.PermMemoryRead|security.PermMemoryWrite)
	failsWith(t, err, errors.KindPermissionDenied)
	if got := m.UsageOf("comp"); got != 0 {
		t.Fatalf("usage after denied allocation = %d", got)
	}
}

func TestFree_RefcountAndRelease(t *testing.T) {
	m := NewManager(nil)
	src := basicPolicy()
	tgt := basicPolicy()

	h, err := m.Allocate("src", src, 256, security.PermMemoryRead|security.PermMemoryWrite)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := m.Share("src", src, "tgt", tgt, h, security.PermMemoryRead); err != nil {
		t.Fatalf("share: %v", err)
	}
	if m.RegionsOf("src")[0].Refs != 2 {
		t.Fatal("share must raise refs to 2")
	}

	// First free decrements without releasing.
	if err := m.Free("src", h); err != nil {
		t.Fatalf("first free: %v", err)
	}
	if got := m.RegionsOf("src"); len(got) != 1 || got[0].Refs != 1 {
		t.Fatalf("after first free: %+v", got)
	}
	if got := m.UsageOf("src"); got != 256 {
		t.Fatalf("usage after refcount decrement = %d", got)
	}

	// Second free releases the region and both boundaries.
	if err := m.Free("src", h); err != nil {
		t.Fatalf("second free: %v", err)
	}
	if got := m.RegionsOf("src"); len(got) != 0 {
		t.Fatalf("regions after release: %+v", got)
	}
	if len(m.BoundariesOf("tgt")) != 0 {
		t.Fatal("borrower boundary survived release")
	}
	if got := m.UsageOf("src"); got != 0 {
		t.Fatalf("usage after release = %d", got)
	}

	// The stale handle no longer resolves.
	failsWith(t, m.Free("src", h), errors.KindInvalidParameter)
}

func TestFree_OwnerOnly(t *testing.T) {
	m := NewManager(nil)
	h, err := m.Allocate("owner", basicPolicy(), 64, security.PermMemoryRead|security.PermMemoryWrite)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	failsWith(t, m.Free("stranger", h), errors.KindPermissionDenied)
}

func TestShare_ParanoidNeverParticipates(t *testing.T) {
	m := NewManager(nil)
	basic := basicPolicy()
	paranoid := security.DefaultPolicy(security.IsolationParanoid)

	h, err := m.Allocate("src", basic, 64, security.PermMemoryRead|security.PermMemoryWrite)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	failsWith(t, m.Share("src", basic, "tgt", paranoid, h, security.PermMemoryRead),
		errors.KindIsolationBreach)
	failsWith(t, m.Share("src", paranoid, "tgt", basic, h, security.PermMemoryRead),
		errors.KindIsolationBreach)
}

func TestShare_GrantNeverWiderThanRegion(t *testing.T) {
	m := NewManager(nil)
	pol := basicPolicy()

	h, err := m.Allocate("src", pol, 64, security.PermMemoryRead)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	// The region itself is read-only; granting write must fail.
	failsWith(t, m.Share("src", pol, "tgt", pol, h, security.PermMemoryRead|security.PermMemoryWrite),
		errors.KindPermissionDenied)
}

func TestShare_TargetBoundaryIndependentlyScoped(t *testing.T) {
	m := NewManager(nil)
	pol := basicPolicy()

	h, err := m.Allocate("src", pol, 128, security.PermMemoryRead|security.PermMemoryWrite)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := m.Share("src", pol, "tgt", pol, h, security.PermMemoryRead); err != nil {
		t.Fatalf("share: %v", err)
	}

	base := m.RegionsOf("src")[0].Base

	// Owner writes, borrower reads, borrower may not write.
	if err := m.Write("src", base, []byte("hello")); err != nil {
		t.Fatalf("owner write: %v", err)
	}
	got, err := m.Read("tgt", base, 5)
	if err != nil {
		t.Fatalf("borrower read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("read %q", got)
	}
	failsWith(t, m.Write("tgt", base, []byte{0}), errors.KindIsolationBreach)
}

func TestValidateAccess_OutsideBoundary(t *testing.T) {
	m := NewManager(nil)
	pol := basicPolicy()

	if _, err := m.Allocate("comp", pol, 64, security.PermMemoryRead|security.PermMemoryWrite); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	base := m.RegionsOf("comp")[0].Base

	if err := m.ValidateAccess("comp", base, 64, security.PermMemoryRead); err != nil {
		t.Fatalf("in-bounds access denied: %v", err)
	}
	// One byte past the end.
	failsWith(t, m.ValidateAccess("comp", base, 65, security.PermMemoryRead), errors.KindIsolationBreach)
	// Someone else's boundary does not help.
	failsWith(t, m.ValidateAccess("other", base, 1, security.PermMemoryRead), errors.KindIsolationBreach)
}

func TestGuardBands_DetectOverwrite(t *testing.T) {
	m := NewManager(nil)
	pol := security.DefaultPolicy(security.IsolationStrict)

	h, err := m.Allocate("comp", pol, 64, security.PermMemoryRead)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	info := m.RegionsOf("comp")[0]
	if !info.Guarded {
		t.Fatal("strict isolation must guard regions")
	}

	// Reach past the payload into the trailing guard band.
	m.mu.Lock()
	r, _ := m.arena.get(h)
	r.data[guardSize+64] = 0xFF
	m.mu.Unlock()

	failsWith(t, m.Free("comp", h), errors.KindIsolationBreach)
	// The corrupted region is still released.
	if got := m.UsageOf("comp"); got != 0 {
		t.Fatalf("usage after corrupted free = %d", got)
	}
}

func TestReleaseAll(t *testing.T) {
	m := NewManager(nil)
	pol := basicPolicy()

	if _, err := m.Allocate("comp", pol, 64, security.PermMemoryRead); err != nil {
		t.Fatal(err)
	}
	h, err := m.Allocate("comp", pol, 128, security.PermMemoryRead|security.PermMemoryWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Share("comp", pol, "peer", pol, h, security.PermMemoryRead); err != nil {
		t.Fatal(err)
	}

	m.ReleaseAll("comp")

	if len(m.RegionsOf("comp")) != 0 || m.UsageOf("comp") != 0 {
		t.Fatal("regions survived ReleaseAll")
	}
	if len(m.BoundariesOf("peer")) != 0 {
		t.Fatal("peer boundary survived owner destruction")
	}
	if st := m.Stats(); st.ActiveRegions != 0 || st.BytesInUse != 0 {
		t.Fatalf("stats after ReleaseAll: %+v", st)
	}
}

func TestReleaseAll_BorrowerGivesReferenceBack(t *testing.T) {
	m := NewManager(nil)
	pol := basicPolicy()

	h, err := m.Allocate("owner", pol, 128, security.PermMemoryRead|security.PermMemoryWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Share("owner", pol, "borrower", pol, h, security.PermMemoryRead); err != nil {
		t.Fatal(err)
	}

	m.ReleaseAll("borrower")

	regions := m.RegionsOf("owner")
	if len(regions) != 1 {
		t.Fatalf("owner regions = %d", len(regions))
	}
	if regions[0].Refs != 1 {
		t.Fatalf("refs = %d after borrower destruction, want 1", regions[0].Refs)
	}
	if regions[0].Shared {
		t.Fatal("region still marked shared with no borrowers left")
	}
	if st := m.Stats(); st.SharedRegions != 0 {
		t.Fatalf("shared regions = %d", st.SharedRegions)
	}

	// A re-registered component with the same id can borrow again.
	if err := m.Share("owner", pol, "borrower", pol, h, security.PermMemoryRead); err != nil {
		t.Fatalf("re-share after borrower destruction: %v", err)
	}

	// And a single free now fully releases the twice-shared-once region
	// after the second borrower leaves.
	m.ReleaseAll("borrower")
	if err := m.Free("owner", h); err != nil {
		t.Fatal(err)
	}
	if len(m.RegionsOf("owner")) != 0 {
		t.Fatal("region survived the owner's free")
	}
}

func TestUsageStatsOf(t *testing.T) {
	m := NewManager(nil)
	pol := basicPolicy()

	h, err := m.Allocate("comp", pol, 100, security.PermMemoryRead|security.PermMemoryWrite)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Allocate("comp", pol, 50, security.PermMemoryRead); err != nil {
		t.Fatal(err)
	}
	if err := m.Free("comp", h); err != nil {
		t.Fatal(err)
	}

	u := m.UsageStatsOf("comp")
	if u.BytesInUse != 50 {
		t.Fatalf("bytes in use = %d", u.BytesInUse)
	}
	if u.PeakBytes != 150 {
		t.Fatalf("peak = %d, want 150", u.PeakBytes)
	}
	if u.Allocations != 2 || u.Frees != 1 {
		t.Fatalf("counters = %+v", u)
	}
	if m.UsageStatsOf("stranger") != (Usage{}) {
		t.Fatal("unknown component must report zero usage")
	}
}

func TestStats(t *testing.T) {
	m := NewManager(nil)
	pol := basicPolicy()

	h, err := m.Allocate("comp", pol, 100, security.PermMemoryRead|security.PermMemoryWrite)
	if err != nil {
		t.Fatal(err)
	}
	st := m.Stats()
	if st.ActiveRegions != 1 || st.BytesInUse != 100 || st.TotalAllocated != 100 || st.PeakBytes != 100 {
		t.Fatalf("stats = %+v", st)
	}

	if err := m.Free("comp", h); err != nil {
		t.Fatal(err)
	}
	st = m.Stats()
	if st.ActiveRegions != 0 || st.BytesInUse != 0 || st.TotalFreed != 100 {
		t.Fatalf("stats after free = %+v", st)
	}
	if st.PeakBytes != 100 {
		t.Fatalf("peak must persist, got %d", st.PeakBytes)
	}
}

func TestArena_StaleHandleGeneration(t *testing.T) {
	a := newArena()
	h1 := a.insert(&Region{owner: "a"})
	if _, ok := a.release(h1); !ok {
		t.Fatal("release failed")
	}

	// The slot is recycled with a bumped generation.
	h2 := a.insert(&Region{owner: "b"})
	if h1.index() != h2.index() {
		t.Fatalf("slot not recycled: %d vs %d", h1.index(), h2.index())
	}
	if h1 == h2 {
		t.Fatal("recycled handle must differ by generation")
	}
	if _, ok := a.get(h1); ok {
		t.Fatal("stale handle resolved after slot reuse")
	}
	if r, ok := a.get(h2); !ok || r.owner != "b" {
		t.Fatal("fresh handle failed to resolve")
	}
}
