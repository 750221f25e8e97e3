// Package session multiplexes topic subscriptions over one venue websocket.
//
// A Service owns a single connection and a registry of subscriptions. All
// registry and pending-ack state is touched only by one event loop goroutine:
// public methods post closures to the loop and wait on a waiter for the
// matching ack. Inbound frames are drained by the same loop, so handlers of
// one Service never run concurrently and see frames in wire order.
//
// Handlers run on the loop. They must return promptly and must not call
// Subscribe or Unsubscribe synchronously, since those wait on the loop.
//
// When the socket drops, the Service reconnects with backoff, fetching a
// fresh token each attempt, and re-subscribes every active record in the
// background. Callers keep their handlers and subscription ids. Failures of
// that replay are reported on Events, never to the original caller.
//
// A Service is single use: once Stop is called or reconnects are exhausted,
// create a new one.
package session
