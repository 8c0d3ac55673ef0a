// Package metrics provides Prometheus metrics for the voice microphone
// controller: control loop, link, VAD, recording, transport and command
// counters, registered on the default registry via promauto.
package metrics
