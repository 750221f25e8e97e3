// Package connection implements the Connection Transport: one physical
// WebSocket to the venue.
//
// A Client:
//   - Dials the token-bearing endpoint and waits for the venue's welcome frame
//   - Keeps the socket alive with application-level ping/pong frames
//   - Decodes every inbound frame into an ordered, unbounded queue
//   - Reports the single terminal error of the socket on Errors()
//
// A Client is used for exactly one socket; reconnecting means building a new one.
package connection
