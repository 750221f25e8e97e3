// Package buffer provides the ordered, growable queues that sit between a
// producer goroutine (a socket read loop) and a single consumer (the session
// event loop, the recorder, the relay).
//
// A Queue never blocks its producer. Consumers either block in Receive or
// select on Ready and drain with TryReceive/DrainTo, which lets an event
// loop multiplex a queue with other channels.
package buffer
