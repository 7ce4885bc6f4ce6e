// Package enclave implements an in-process component isolation and
// invocation kernel for polyglot micro-components.
//
// Independently-authored components, each targeting a different guest
// language runtime, are loaded into one host process and invoked without
// trusting their code. Every sensitive operation is gated by an explicit
// Zero-Trust security check: no component reads or writes another's memory,
// exceeds its declared resource budget, or escalates its permissions.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	enclave/
//	├── adapter/    Composition root and public API (register, invoke, ...)
//	├── invoke/     Method-invocation pipeline with execution monitoring
//	├── security/   Permission rules, isolation levels, Zero-Trust engine
//	├── memory/     Region arena, isolation boundaries, budgets, sharing
//	├── lifecycle/  Component state machine (8-state transition matrix)
//	├── component/  Component records, method signatures, configuration
//	├── bridge/     Language-bridge registry, native and wasm bridges
//	├── value/      Tagged value union exchanged across language borders
//	├── audit/      Fixed-capacity circular audit event buffer
//	├── metrics/    Prometheus collector over adapter statistics
//	└── errors/     Structured error types shared by every engine
//
// # Quick Start
//
// Register and invoke a native component:
//
//	ad, err := adapter.New(adapter.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ad.Close(ctx)
//
//	comp, err := ad.Register(component.Config{
//	    ID:       "payments",
//	    Name:     "Payment Service",
//	    Version:  "1.0.0",
//	    Language: bridge.LanguageNative,
//	    Methods: []component.Method{{
//	        Name:     "debit",
//	        Params:   []value.Kind{value.KindFloat64},
//	        Returns:  value.KindBool,
//	        Required: security.PermMemoryRead,
//	    }},
//	    Handlers: map[string]bridge.Handler{
//	        "debit": debit,
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := ad.Initialize(ctx, comp.ID()); err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := ad.Invoke(ctx, "payments", "debit", value.Float64(10))
//	fmt.Println(res.Value.AsBool()) // true
package enclave
