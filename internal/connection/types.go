package connection

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrStaleConnection   = errors.New("connection stale (no pong)")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrWelcomeTimeout    = errors.New("welcome frame not received")
	ErrHandshakeRejected = errors.New("handshake rejected")
	ErrConnectionClosed  = errors.New("connection closed by peer")
)

// Frame types exchanged with the venue.
const (
	TypeWelcome     = "welcome"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeAck         = "ack"
	TypeMessage     = "message"
	TypeError       = "error"
	TypeNotice      = "notice"
	TypeCommand     = "command"
)

// Frame is the logical wire message. Data is left undecoded: payload schemas
// belong to the subscriber.
type Frame struct {
	ID             string          `json:"id,omitempty"`
	Type           string          `json:"type"`
	Topic          string          `json:"topic,omitempty"`
	Subject        string          `json:"subject,omitempty"`
	Sn             int64           `json:"sn,omitempty"`
	PrivateChannel bool            `json:"privateChannel,omitempty"`
	Response       bool            `json:"response,omitempty"`
	Code           Code            `json:"code,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Detail renders Data for logs and error messages, unquoting JSON strings.
func (f Frame) Detail() string {
	if len(f.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(f.Data, &s); err == nil {
		return s
	}
	return string(f.Data)
}

// Code is a status code the venue sends either as a JSON string or number.
type Code string

// UnmarshalJSON accepts "400", 400 and null.
func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = Code(n.String())
	return nil
}

// Int returns the numeric value of the code, or 0 if it is not numeric.
func (c Code) Int() int {
	n, _ := strconv.Atoi(string(c))
	return n
}

// Inbound is a decoded frame with its local receive timestamp.
type Inbound struct {
	Frame      Frame
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // Dial URL including the connect token
	DialTimeout  time.Duration // Budget for the TCP/TLS/HTTP handshake plus the welcome frame
	WriteTimeout time.Duration // Write deadline for sends
	PingInterval time.Duration // Interval between application pings
	PingTimeout  time.Duration // Extra grace after PingInterval before the socket is stale
	InboundLimit int           // Max queued inbound frames (0 = unbounded)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		PingInterval: 18 * time.Second,
		PingTimeout:  10 * time.Second,
	}
}
