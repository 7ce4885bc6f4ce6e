// Package errors defines the structured error types shared by every engine
// in the isolation kernel.
//
// Every failure carries a Phase (where in the pipeline it occurred) and a
// Kind (the error taxonomy: invalid_parameter, security_violation,
// isolation_breach, ...). Callers match with errors.Is against a target
// carrying the expected Kind. There is no exception-style control flow:
// every operation returns an explicit error.
package errors
