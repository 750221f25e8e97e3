package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrConnect               = errors.New("connect failed")
	ErrDuplicateSubscription = errors.New("duplicate subscription")
	ErrSubscribeTimeout      = errors.New("subscribe ack timeout")
	ErrUnsubscribeTimeout    = errors.New("unsubscribe ack timeout")
	ErrSubscribeRejected     = errors.New("subscribe rejected")
	ErrUnsubscribeRejected   = errors.New("unsubscribe rejected")
	ErrConnectionLost        = errors.New("connection lost")
	ErrConnectionInterrupted = errors.New("connection interrupted before ack")
	ErrCancelled             = errors.New("cancelled")
	ErrNotFound              = errors.New("subscription not found")
	ErrNotConnected          = errors.New("not connected")
	ErrAlreadyStarted        = errors.New("already started")
	ErrClosed                = errors.New("session closed")
	ErrNilHandler            = errors.New("nil handler")
)

// RejectedError is returned when the venue answers a request with an error
// frame. It matches ErrSubscribeRejected or ErrUnsubscribeRejected.
type RejectedError struct {
	Op      string // "subscribe" or "unsubscribe"
	ID      string // subscription id
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s %s rejected: code=%s %s", e.Op, e.ID, e.Code, e.Message)
}

func (e *RejectedError) Unwrap() error {
	if e.Op == opUnsubscribe.String() {
		return ErrUnsubscribeRejected
	}
	return ErrSubscribeRejected
}

// State is the connection state of a Service.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed // final: stopped or reconnects exhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventType classifies connection events.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventDisconnected     EventType = "disconnected"
	EventTryReconnect     EventType = "try_reconnect"
	EventReconnected      EventType = "reconnected"
	EventErrorReceived    EventType = "error_received"
	EventReadBufferFull   EventType = "read_buffer_full"
	EventCallbackError    EventType = "callback_error"
	EventResubscribeOK    EventType = "resubscribe_ok"
	EventResubscribeError EventType = "resubscribe_error"
	EventClientFail       EventType = "client_fail"
	EventClientShutdown   EventType = "client_shutdown"
)

// Event is delivered on Service.Events.
type Event struct {
	Type   EventType
	Detail string // subscription id, attempt number or venue message
	Err    error
	At     time.Time
}

// Message is one data frame routed to a subscription.
type Message struct {
	SubscriptionID string
	Topic          string
	Subject        string
	Sn             int64
	Data           json.RawMessage
	ReceivedAt     time.Time
}

// Handler receives data frames for a subscription. A returned error is
// reported as a callback_error event and does not stop delivery.
type Handler interface {
	OnMessage(msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg Message) error

// OnMessage calls f(msg).
func (f HandlerFunc) OnMessage(msg Message) error { return f(msg) }

// SubscribedHandler is implemented by handlers that want to know when the
// venue confirmed the subscription. Called once, before any OnMessage.
type SubscribedHandler interface {
	OnSubscribed(id string)
}

// ErrorHandler is implemented by handlers that want failures delivered
// out of band: a subscribe attempt that never succeeded, or the terminal
// loss of an active subscription.
type ErrorHandler interface {
	OnError(err error)
}

// Callbacks bundles the three callbacks of the facade contract into a
// Handler. Nil fields are skipped.
type Callbacks struct {
	Data       func(topic, subject string, data json.RawMessage) error
	Subscribed func(id string)
	Failed     func(err error)
}

// OnMessage calls Data.
func (c Callbacks) OnMessage(msg Message) error {
	if c.Data == nil {
		return nil
	}
	return c.Data(msg.Topic, msg.Subject, msg.Data)
}

// OnSubscribed calls Subscribed.
func (c Callbacks) OnSubscribed(id string) {
	if c.Subscribed != nil {
		c.Subscribed(id)
	}
}

// OnError calls Failed.
func (c Callbacks) OnError(err error) {
	if c.Failed != nil {
		c.Failed(err)
	}
}

// Config configures a Service.
type Config struct {
	Private           bool          // Use the private channel and mark frames privateChannel
	DialTimeout       time.Duration // Handshake plus welcome frame budget
	WriteTimeout      time.Duration // Per-frame write deadline
	AckTimeout        time.Duration // Bound on waiting for a subscribe/unsubscribe ack
	DisableReconnect  bool          // Treat the first drop as terminal
	ReconnectAttempts int           // Attempts per outage, -1 = unlimited
	ReconnectBaseWait time.Duration // Wait before the first attempt, doubled per attempt
	ReconnectMaxWait  time.Duration // Cap on the wait between attempts
	InboundLimit      int           // Max queued inbound frames (0 = unbounded)
	EventBuffer       int           // Events channel capacity; events beyond it are dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		AckTimeout:        10 * time.Second,
		ReconnectAttempts: -1,
		ReconnectBaseWait: 5 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		InboundLimit:      1024,
		EventBuffer:       64,
	}
}

// Stats is a point-in-time snapshot of a Service.
type Stats struct {
	State            State
	Subscriptions    int
	PendingAcks      int
	Reconnects       int64
	FramesReceived   int64
	FramesUnroutable int64
	FramesDropped    int64
	CallbackErrors   int64
	EventsDropped    int64
}

// SubscriptionInfo describes one registry record.
type SubscriptionInfo struct {
	ID     string   `json:"id"`
	Prefix string   `json:"prefix"`
	Args   []string `json:"args"`
	Topics []string `json:"topics"`
	State  string   `json:"state"`
}
