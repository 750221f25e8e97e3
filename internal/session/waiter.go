package session

import (
	"sync"
	"time"
)

// waiter is completed exactly once by the loop and waited on by the caller.
type waiter struct {
	done chan struct{}
	err  error
	once sync.Once
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{})}
}

func (w *waiter) complete(err error) {
	w.once.Do(func() {
		w.err = err
		close(w.done)
	})
}

type opKind int

const (
	opSubscribe opKind = iota
	opUnsubscribe
	opResubscribe // replay after reconnect; nobody waits on it
)

func (o opKind) String() string {
	switch o {
	case opSubscribe:
		return "subscribe"
	case opUnsubscribe:
		return "unsubscribe"
	default:
		return "resubscribe"
	}
}

// pendingAck tracks one request frame until its ack, a timeout or the loss
// of the socket it was written to.
type pendingAck struct {
	requestID string
	op        opKind
	record    *Record
	waiter    *waiter // nil for opResubscribe
	createdAt time.Time
	timer     *time.Timer
}
