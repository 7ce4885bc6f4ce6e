// Package audit provides the best-effort circular event log owned by
// an adapter. Recording is cheap, lock-scoped and incapable of failing
// the operation it documents.
package audit
