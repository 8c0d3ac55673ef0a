// Package link provides wireless link backends for the chunked audio
// transport. Both backends implement transport.Link: a connectivity probe,
// an ordered chunk send, and a non-blocking inbound poll backed by a
// bounded queue. Deliveries that arrive while the queue is full are
// dropped, matching the lossy nature of the radio they stand in for.
package link
