// Package invoke implements the six-step method invocation pipeline:
// signature resolution, Zero-Trust validation, execution-context
// preparation, monitored bridge execution, result validation, and
// statistics with audit. One call runs per component at a time; the
// execution timeout is measured after the guest returns, never
// enforced preemptively, and the component policy's execution bound
// caps every requested budget.
package invoke
