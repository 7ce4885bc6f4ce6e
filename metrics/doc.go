// Package metrics exports adapter counters as prometheus metrics
// through a pull-based collector.
package metrics
