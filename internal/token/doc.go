// Package token supplies the short-lived connect tokens a websocket session
// needs before dialing.
//
// The REST provider asks the bullet endpoint for a token and a list of
// instance servers and picks one server at random per call, so every
// reconnect attempt may land on a different endpoint.
package token
