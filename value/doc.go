// Package value implements the tagged value union exchanged between the
// kernel and guest-language bridges.
//
// A Value is one of: null, bool, sized integers, sized floats, string,
// bytes, array, or component reference. Compound values own their backing
// storage; DeepCopy produces an independent value and Destroy wipes owned
// buffers before release. Signature checks are exact: null only satisfies
// a declared null kind.
package value
