// Package audio provides the device-side audio primitives: signal energy
// measurement for voice activity classification, the fixed-capacity sample
// store recordings are captured into, and PCM/WAV conversion helpers.
package audio
