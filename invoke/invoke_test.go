package invoke

import (
	"context"
	"testing"
	"time"

	"github.com/componentkit/enclave/audit"
	"github.com/componentkit/enclave/bridge"
	"github.com/componentkit/enclave/component"
	"github.com/componentkit/enclave/errors"
	"github.com/componentkit/enclave/lifecycle"
	"github.com/componentkit/enclave/memory"
	"github.com/componentkit/enclave/security"
	"github.com/componentkit/enclave/value"
)

type fixture struct {
	engine *Engine
	sec    *security.Engine
	mem    *memory.Manager
	aud    *audit.Log
}

func newFixture() *fixture {
	sec := security.NewEngine(security.Config{ZeroTrust: true, MaxViolations: 10}, nil, nil)
	mem := memory.NewManager(nil)
	aud := audit.NewLog(64)
	return &fixture{
		engine: NewEngine(sec, mem, aud, time.Second, nil),
		sec:    sec,
		mem:    mem,
		aud:    aud,
	}
}

// readyComponent builds a native component in the ready state with a
// live bridge instance.
func readyComponent(t *testing.T, cfg component.Config) *component.Component {
	t.Helper()
	comp, err := component.New(cfg)
	if err != nil {
		t.Fatalf("component.New: %v", err)
	}

	b := bridge.NewNativeBridge()
	inst, err := b.NewInstance(context.Background(), bridge.InstanceConfig{
		ComponentID: comp.ID(),
		Handlers:    cfg.Handlers,
	})
	if err != nil {
		t.Fatalf("bridge instance: %v", err)
	}
	comp.SetInstance(inst)
	if err := comp.Transition(lifecycle.StateReady); err != nil {
		t.Fatalf("to ready: %v", err)
	}
	return comp
}

func echoConfig() component.Config {
	return component.Config{
		ID:        "echo",
		Version:   "1.0.0",
		Language:  bridge.LanguageNative,
		Isolation: security.IsolationStandard,
		Methods: []component.Method{{
			Name:     "echo",
			Params:   []value.Kind{value.KindString},
			Returns:  value.KindString,
			Required: security.PermInvokeLocal,
		}},
		Handlers: map[string]bridge.Handler{
			"echo": func(_ context.Context, params []value.Value) (value.Value, error) {
				return params[0], nil
			},
		},
	}
}

func TestInvoke_Success(t *testing.T) {
	f := newFixture()
	comp := readyComponent(t, echoConfig())

	res, err := f.engine.Invoke(context.Background(), comp, "echo", 0, []value.Value{value.String("hi")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Value.AsString() != "hi" {
		t.Fatalf("result = %s", res.Value)
	}
	if res.Elapsed <= 0 {
		t.Fatal("elapsed not recorded")
	}
	if comp.State() != lifecycle.StateReady {
		t.Fatalf("state after success = %s", comp.State())
	}

	st := comp.Stats()
	if st.Invocations != 1 || st.Failures != 0 {
		t.Fatalf("stats = %+v", st)
	}

	evs := f.aud.Events()
	if len(evs) == 0 || evs[len(evs)-1].Type != audit.EventInvocationSuccess {
		t.Fatalf("audit = %+v", evs)
	}
}

func TestInvoke_UnknownMethod(t *testing.T) {
	f := newFixture()
	comp := readyComponent(t, echoConfig())

	_, err := f.engine.Invoke(context.Background(), comp, "credit", 0, nil)
	if errors.KindOf(err) != errors.KindComponentNotFound {
		t.Fatalf("err = %v", err)
	}
	if comp.State() != lifecycle.StateReady {
		t.Fatalf("state = %s, unknown method must not poison the component", comp.State())
	}
}

func TestInvoke_ParamValidationBeforeBridge(t *testing.T) {
	f := newFixture()
	executed := false
	cfg := echoConfig()
	cfg.Handlers["echo"] = func(_ context.Context, params []value.Value) (value.Value, error) {
		executed = true
		return params[0], nil
	}
	comp := readyComponent(t, cfg)

	// Wrong count.
	_, err := f.engine.Invoke(context.Background(), comp, "echo", 0, nil)
	if errors.KindOf(err) != errors.KindInvalidParameter {
		t.Fatalf("count mismatch = %v", err)
	}

	// Wrong kind.
	_, err = f.engine.Invoke(context.Background(), comp, "echo", 0, []value.Value{value.Int64(1)})
	if errors.KindOf(err) != errors.KindInvalidParameter {
		t.Fatalf("kind mismatch = %v", err)
	}

	if executed {
		t.Fatal("bridge callback ran despite invalid parameters")
	}
	if comp.Stats().Invocations != 0 {
		t.Fatal("failed validation must not count as an invocation")
	}
}

func TestInvoke_HostileParams(t *testing.T) {
	f := newFixture()
	comp := readyComponent(t, echoConfig())

	_, err := f.engine.Invoke(context.Background(), comp, "echo", 0,
		[]value.Value{value.String("../../etc/passwd")})
	if errors.KindOf(err) != errors.KindSecurityViolation {
		t.Fatalf("traversal = %v", err)
	}
	if comp.Stats().Violations != 1 {
		t.Fatalf("violations = %d", comp.Stats().Violations)
	}
	if f.sec.Violations("echo") != 1 {
		t.Fatal("violation not recorded against security history")
	}
}

func TestInvoke_OversizedBytes(t *testing.T) {
	f := newFixture()
	cfg := echoConfig()
	cfg.Methods[0].Params = []value.Kind{value.KindBytes}
	comp := readyComponent(t, cfg)

	big := value.Bytes(make([]byte, maxBytesParam+1))
	_, err := f.engine.Invoke(context.Background(), comp, "echo", 0, []value.Value{big})
	if errors.KindOf(err) != errors.KindSecurityViolation {
		t.Fatalf("oversized = %v", err)
	}
}

func TestInvoke_ParanoidDenied(t *testing.T) {
	f := newFixture()
	cfg := echoConfig()
	cfg.ID = "vault"
	cfg.Isolation = security.IsolationParanoid
	comp := readyComponent(t, cfg)

	_, err := f.engine.Invoke(context.Background(), comp, "echo", 0, []value.Value{value.String("x")})
	kind := errors.KindOf(err)
	if kind != errors.KindPermissionDenied && kind != errors.KindIsolationBreach {
		t.Fatalf("paranoid invoke = %v", err)
	}
}

func TestInvoke_NotReady(t *testing.T) {
	f := newFixture()
	comp, err := component.New(echoConfig())
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.engine.Invoke(context.Background(), comp, "echo", 0, []value.Value{value.String("x")})
	if errors.KindOf(err) != errors.KindInvalidState {
		t.Fatalf("uninitialized invoke = %v", err)
	}
}

func TestInvoke_TimeoutDetection(t *testing.T) {
	f := newFixture()
	cfg := echoConfig()
	cfg.Methods[0].Timeout = 10 * time.Millisecond
	cfg.Handlers["echo"] = func(_ context.Context, params []value.Value) (value.Value, error) {
		time.Sleep(30 * time.Millisecond)
		return params[0], nil
	}
	comp := readyComponent(t, cfg)

	_, err := f.engine.Invoke(context.Background(), comp, "echo", 0, []value.Value{value.String("x")})
	if errors.KindOf(err) != errors.KindTimeout {
		t.Fatalf("err = %v", err)
	}
	// Detection, not preemption: the guest ran to completion and the
	// component now sits in the error state.
	if comp.State() != lifecycle.StateError {
		t.Fatalf("state after timeout = %s", comp.State())
	}
	if st := comp.Stats(); st.Failures != 1 {
		t.Fatalf("stats = %+v", st)
	}

	// Reset recovers it. The handler is still slow so the call times
	// out again; what matters is that it was admitted at all.
	if err := comp.Transition(lifecycle.StateReady); err != nil {
		t.Fatalf("reset: %v", err)
	}
	_, err = f.engine.Invoke(context.Background(), comp, "echo", 0, []value.Value{value.String("x")})
	if errors.KindOf(err) != errors.KindTimeout {
		t.Fatalf("post-reset invoke = %v", err)
	}
}

func TestInvoke_PolicyBoundsExecutionTime(t *testing.T) {
	f := newFixture()
	executed := false
	cfg := echoConfig()
	pol := security.DefaultPolicy(security.IsolationStandard)
	pol.MaxExecution = 10 * time.Millisecond
	cfg.Policy = &pol
	// A method asking for more time than its policy grants.
	cfg.Methods[0].Timeout = time.Hour
	cfg.Handlers["echo"] = func(_ context.Context, params []value.Value) (value.Value, error) {
		executed = true
		time.Sleep(50 * time.Millisecond)
		return params[0], nil
	}
	comp := readyComponent(t, cfg)

	_, err := f.engine.Invoke(context.Background(), comp, "echo", 0, []value.Value{value.String("x")})
	if errors.KindOf(err) != errors.KindSecurityViolation {
		t.Fatalf("err = %v, the policy bound must cap the method timeout", err)
	}
	if executed {
		t.Fatal("guest ran despite the refused execution budget")
	}
	if comp.State() != lifecycle.StateReady {
		t.Fatalf("state = %s, upfront refusal must not poison the component", comp.State())
	}
	if f.sec.Violations("echo") != 1 {
		t.Fatal("bound refusal not recorded as a violation")
	}

	// A per-call override past the bound is refused the same way.
	_, err = f.engine.Invoke(context.Background(), comp, "echo", time.Minute,
		[]value.Value{value.String("x")})
	if errors.KindOf(err) != errors.KindSecurityViolation {
		t.Fatalf("override = %v", err)
	}
}

func TestInvoke_TimeoutOverride(t *testing.T) {
	f := newFixture()
	cfg := echoConfig()
	cfg.Handlers["echo"] = func(_ context.Context, params []value.Value) (value.Value, error) {
		time.Sleep(30 * time.Millisecond)
		return params[0], nil
	}
	comp := readyComponent(t, cfg)

	// The method declares no timeout, so the 5s policy default would
	// let the slow guest pass; the caller's override tightens it.
	_, err := f.engine.Invoke(context.Background(), comp, "echo", 10*time.Millisecond,
		[]value.Value{value.String("x")})
	if errors.KindOf(err) != errors.KindTimeout {
		t.Fatalf("err = %v", err)
	}
}

func TestInvoke_NullNotAccepted(t *testing.T) {
	f := newFixture()
	executed := false
	cfg := echoConfig()
	cfg.Handlers["echo"] = func(_ context.Context, params []value.Value) (value.Value, error) {
		executed = true
		return params[0], nil
	}
	comp := readyComponent(t, cfg)

	_, err := f.engine.Invoke(context.Background(), comp, "echo", 0, []value.Value{value.Null()})
	if errors.KindOf(err) != errors.KindInvalidParameter {
		t.Fatalf("null against a string parameter = %v", err)
	}
	if executed {
		t.Fatal("bridge callback ran with a null parameter")
	}
}

func TestInvoke_ReturnKindMismatch(t *testing.T) {
	f := newFixture()
	cfg := echoConfig()
	cfg.Handlers["echo"] = func(context.Context, []value.Value) (value.Value, error) {
		return value.Int64(42), nil
	}
	comp := readyComponent(t, cfg)

	_, err := f.engine.Invoke(context.Background(), comp, "echo", 0, []value.Value{value.String("x")})
	if errors.KindOf(err) != errors.KindInvokeFailed {
		t.Fatalf("err = %v", err)
	}
	if comp.State() != lifecycle.StateError {
		t.Fatalf("state = %s", comp.State())
	}
}

func TestInvoke_HandlerError(t *testing.T) {
	f := newFixture()
	cfg := echoConfig()
	cfg.Handlers["echo"] = func(context.Context, []value.Value) (value.Value, error) {
		return value.Null(), errors.InvalidState(errors.PhaseBridge, "guest fault")
	}
	comp := readyComponent(t, cfg)

	_, err := f.engine.Invoke(context.Background(), comp, "echo", 0, []value.Value{value.String("x")})
	if errors.KindOf(err) != errors.KindInvokeFailed {
		t.Fatalf("err = %v", err)
	}
	if comp.State() != lifecycle.StateError {
		t.Fatalf("state = %s", comp.State())
	}

	evs := f.aud.ByComponent("echo")
	if len(evs) == 0 || evs[len(evs)-1].Type != audit.EventInvocationFailure {
		t.Fatalf("audit = %+v", evs)
	}
}
