// Package bridge connects the engine to guest-language runtimes. A
// bridge owns one runtime per language; an instance is one component's
// execution context inside it. The built-in native bridge runs
// in-process Go handlers with values passing through unchanged; the
// wasm bridge runs core WebAssembly guests on wazero with scalar
// marshalling across the stack. Additional bridges are discovered on
// disk as well-known guest binaries.
package bridge
