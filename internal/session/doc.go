// Package session manages recording episodes: starting and stopping a
// capture, the minimum/maximum duration policy, manual versus automatic
// termination rules, and the validity gate that decides whether a finished
// recording is worth transporting.
package session
