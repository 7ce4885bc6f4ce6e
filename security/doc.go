// Package security implements the Zero-Trust permission model: ordered
// isolation levels, permission bitsets, per-isolation default policies,
// the declarative operation rule table, and the validation engine with
// its monotonic per-component violation history.
//
// No component is granted access by default. Every sensitive operation
// is checked against the component's policy regardless of prior
// success, and every failure is permanently recorded.
package security
