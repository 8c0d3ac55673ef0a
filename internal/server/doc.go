// Package server exposes the operational HTTP surface: a health probe, a
// JSON device status snapshot, and Prometheus metrics.
package server
