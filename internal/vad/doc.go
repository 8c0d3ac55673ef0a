// Package vad provides energy-based voice activity tracking with asymmetric
// hysteresis: speech turns on the instant a block's energy crosses the
// threshold and only turns off after a configurable silence hold-off.
package vad
