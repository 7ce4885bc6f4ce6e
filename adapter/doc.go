// Package adapter is the public face of the kernel: one Adapter owns
// the component registry, bridge registry, memory manager, security
// engine and audit ring, and exposes every operation callers use. It
// is the only type collaborators construct directly.
package adapter
