// Package relay republishes routed data frames on Redis pub/sub so other
// processes can consume the stream without their own venue connection.
//
// Each frame is wrapped in an Envelope carrying the publishing instance id
// and published on channel prefix+topic.
package relay
