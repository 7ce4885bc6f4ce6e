// Package component defines the component record, its method
// signatures and the registration-time configuration surface. A
// component serializes its own invocations and carries sticky
// statistics for the lifetime of its registration.
package component
