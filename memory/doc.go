// Package memory manages component-owned regions inside a
// generation-checked arena. Every region has exactly one owner, an
// optional set of borrowers added through explicit sharing, and a
// registered isolation boundary per component allowed to touch it.
// Boundary lookup is the sole authority for memory access; nothing in
// the engine dereferences an address without it.
package memory
