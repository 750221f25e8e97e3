package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/kucoin-stream/internal/connection"
	"github.com/rickgao/kucoin-stream/internal/topic"
)

// run is the single goroutine that owns the registry, the pending acks and
// the current connection.
func (s *Service) run() {
	defer close(s.loopDone)

	for {
		var ready <-chan struct{}
		var errs <-chan error
		if s.conn != nil {
			ready = s.conn.Messages().Ready()
			errs = s.conn.Errors()
		}

		select {
		case fn := <-s.ops:
			fn()

		case <-ready:
			s.drain(s.conn)

		case err := <-errs:
			s.handleDrop(err)

		case <-s.stop:
			s.shutdown()
			return
		}

		s.syncGauges()
	}
}

func (s *Service) syncGauges() {
	s.subscriptions.Store(int64(s.registry.Len()))
	s.pendingAcks.Store(int64(len(s.pending)))
	s.metrics.SetSessionGauges(s.registry.Len(), len(s.pending))
}

// drain handles every frame queued on conn, stopping early on Stop.
func (s *Service) drain(conn connection.Client) {
	s.noteDropped(conn)
	for _, in := range conn.Messages().DrainTo(0) {
		select {
		case <-s.stop:
			return
		default:
		}
		s.handleFrame(in)
	}
}

// noteDropped reports data frames the transport shed since the last check.
// Replies carrying a request id are never shed.
func (s *Service) noteDropped(conn connection.Client) {
	dropped := conn.Messages().Stats().Dropped
	n := dropped - s.droppedSeen
	if n <= 0 {
		return
	}
	s.droppedSeen = dropped
	s.framesDropped.Add(n)
	s.metrics.FramesDropped(int(n))
	s.logger.Warn("inbound queue full, data frames dropped", "count", n)
	s.emit(EventReadBufferFull, strconv.FormatInt(n, 10), nil)
}

func (s *Service) handleFrame(in connection.Inbound) {
	f := in.Frame
	s.framesReceived.Add(1)
	s.metrics.FrameReceived(f.Type)

	if f.ID != "" && f.Type != connection.TypeMessage {
		if ack, ok := s.pending[f.ID]; ok {
			s.resolve(ack, f)
			return
		}
	}

	switch f.Type {
	case connection.TypeMessage:
		s.dispatch(in)

	case connection.TypeError:
		s.logger.Warn("venue error frame", "request_id", f.ID, "code", f.Code, "detail", f.Detail())
		s.emit(EventErrorReceived, f.Detail(), fmt.Errorf("venue error code=%s", f.Code))

	case connection.TypeAck:
		// Late ack for a request that already timed out or was abandoned.
		s.logger.Debug("ack for unknown request", "request_id", f.ID)

	case connection.TypeWelcome, connection.TypeNotice, connection.TypeCommand:
		s.logger.Debug("control frame", "type", f.Type, "topic", f.Topic)

	default:
		s.logger.Warn("discarding unexpected frame", "type", f.Type, "id", f.ID)
	}
}

// dispatch routes a data frame to the handler owning its topic.
func (s *Service) dispatch(in connection.Inbound) {
	f := in.Frame
	rec, ok := s.registry.LookupByTopic(f.Topic)
	if !ok {
		s.framesUnroutable.Add(1)
		s.metrics.FrameUnroutable()
		s.logger.Debug("no subscription for topic, discarding", "topic", f.Topic, "subject", f.Subject)
		return
	}

	msg := Message{
		SubscriptionID: rec.ID,
		Topic:          f.Topic,
		Subject:        f.Subject,
		Sn:             f.Sn,
		Data:           f.Data,
		ReceivedAt:     in.ReceivedAt,
	}
	s.invoke(rec.ID, func() error { return rec.Handler.OnMessage(msg) })
}

// invoke runs a handler callback, turning errors and panics into
// callback_error events.
func (s *Service) invoke(id string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}

	s.callbackErrors.Add(1)
	s.metrics.CallbackError()
	s.logger.Warn("handler failed", "id", id, "error", err)
	s.emit(EventCallbackError, id, err)
}

func (s *Service) notifySubscribed(rec *Record) {
	if h, ok := rec.Handler.(SubscribedHandler); ok {
		s.invoke(rec.ID, func() error {
			h.OnSubscribed(rec.ID)
			return nil
		})
	}
}

func (s *Service) notifyError(rec *Record, err error) {
	if h, ok := rec.Handler.(ErrorHandler); ok {
		s.invoke(rec.ID, func() error {
			h.OnError(err)
			return nil
		})
	}
}

// usable reports whether a new request may be written now.
func (s *Service) usable() error {
	switch s.State() {
	case StateConnected:
		return nil
	case StateClosed:
		if s.lostErr != nil {
			return s.lostErr
		}
		return ErrClosed
	default:
		return ErrNotConnected
	}
}

func (s *Service) requestFrame(requestID, frameType string, rec *Record) connection.Frame {
	return connection.Frame{
		ID:             requestID,
		Type:           frameType,
		Topic:          topic.SubTopic(rec.Prefix, rec.Args),
		PrivateChannel: s.cfg.Private,
		Response:       true,
	}
}

// track registers an ack wait with its timeout.
func (s *Service) track(ack *pendingAck) {
	ack.createdAt = time.Now()
	requestID := ack.requestID
	ack.timer = time.AfterFunc(s.cfg.AckTimeout, func() {
		s.post(func() { s.expire(requestID) })
	})
	s.pending[requestID] = ack
}

func (s *Service) beginSubscribe(requestID string, rec *Record, w *waiter) {
	fail := func(err error) {
		w.complete(err)
		s.notifyError(rec, err)
	}

	if err := s.usable(); err != nil {
		fail(err)
		return
	}
	if err := s.registry.InsertPending(rec); err != nil {
		fail(err)
		return
	}

	if err := s.conn.Send(s.requestFrame(requestID, connection.TypeSubscribe, rec)); err != nil {
		s.registry.Remove(rec.ID)
		fail(fmt.Errorf("%w: %w", ErrConnectionInterrupted, err))
		return
	}

	s.track(&pendingAck{requestID: requestID, op: opSubscribe, record: rec, waiter: w})
	s.logger.Debug("subscribe sent", "id", rec.ID, "request_id", requestID)
}

func (s *Service) beginUnsubscribe(requestID, id string, w *waiter) {
	rec, ok := s.registry.Get(id)
	switch {
	case !ok:
		w.complete(fmt.Errorf("%w: %s", ErrNotFound, id))
		return
	case rec.State != RecordActive:
		w.complete(fmt.Errorf("%w: %s is %s", ErrNotFound, id, rec.State))
		return
	}
	if err := s.usable(); err != nil {
		w.complete(err)
		return
	}

	rec.State = RecordUnsubscribing
	if err := s.conn.Send(s.requestFrame(requestID, connection.TypeUnsubscribe, rec)); err != nil {
		rec.State = RecordActive
		w.complete(fmt.Errorf("%w: %w", ErrConnectionInterrupted, err))
		return
	}

	s.track(&pendingAck{requestID: requestID, op: opUnsubscribe, record: rec, waiter: w})
	s.logger.Debug("unsubscribe sent", "id", id, "request_id", requestID)
}

// resolve settles a pending ack from a frame carrying its request id.
func (s *Service) resolve(ack *pendingAck, f connection.Frame) {
	if f.Type == connection.TypeAck && ackSucceeded(f.Code) {
		s.completeAck(ack, nil)
		return
	}

	op := ack.op
	if op == opResubscribe {
		op = opSubscribe
	}
	s.completeAck(ack, &RejectedError{
		Op:      op.String(),
		ID:      ack.record.ID,
		Code:    string(f.Code),
		Message: f.Detail(),
	})
}

// ackSucceeded accepts a missing code or any 2xx code.
func ackSucceeded(code connection.Code) bool {
	if code == "" {
		return true
	}
	n := code.Int()
	return n >= 200 && n < 300
}

func (s *Service) expire(requestID string) {
	ack, ok := s.pending[requestID]
	if !ok {
		return
	}

	var err error
	switch ack.op {
	case opUnsubscribe:
		err = fmt.Errorf("%w: %s after %s", ErrUnsubscribeTimeout, ack.record.ID, s.cfg.AckTimeout)
	default:
		err = fmt.Errorf("%w: %s after %s", ErrSubscribeTimeout, ack.record.ID, s.cfg.AckTimeout)
	}
	s.logger.Warn("ack timeout", "op", ack.op, "id", ack.record.ID, "request_id", requestID)
	s.completeAck(ack, err)
}

// completeAck is the only place a pending ack leaves the table.
func (s *Service) completeAck(ack *pendingAck, err error) {
	delete(s.pending, ack.requestID)
	ack.timer.Stop()
	s.metrics.ObserveAck(ack.op.String(), resultLabel(err), time.Since(ack.createdAt))

	rec := ack.record
	switch ack.op {
	case opSubscribe:
		if err != nil {
			s.registry.Remove(rec.ID)
			ack.waiter.complete(err)
			s.notifyError(rec, err)
			return
		}
		s.registry.Activate(rec.ID)
		s.notifySubscribed(rec)
		ack.waiter.complete(nil)
		s.logger.Info("subscribed", "id", rec.ID)

	case opUnsubscribe:
		if err != nil {
			if cur, ok := s.registry.Get(rec.ID); ok && cur.State == RecordUnsubscribing {
				cur.State = RecordActive
			}
			ack.waiter.complete(err)
			return
		}
		s.registry.Remove(rec.ID)
		ack.waiter.complete(nil)
		s.logger.Info("unsubscribed", "id", rec.ID)

	case opResubscribe:
		if err != nil {
			// The record stays Active: the caller never asked for this
			// request and keeps its handler.
			s.logger.Warn("resubscribe failed", "id", rec.ID, "error", err)
			s.emit(EventResubscribeError, rec.ID, err)
			return
		}
		s.emit(EventResubscribeOK, rec.ID, nil)
	}
}

func resultLabel(err error) string {
	var rejected *RejectedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.Is(err, ErrSubscribeTimeout), errors.Is(err, ErrUnsubscribeTimeout):
		return "timeout"
	default:
		return "failed"
	}
}

// failPending settles every ack with err. Replay acks are dropped silently:
// their records are still Active and will be replayed on the next socket.
func (s *Service) failPending(err error) {
	for _, ack := range s.pending {
		if ack.op == opResubscribe {
			delete(s.pending, ack.requestID)
			ack.timer.Stop()
			continue
		}
		s.completeAck(ack, err)
	}
}

// handleDrop reacts to the transport reporting a dead socket.
func (s *Service) handleDrop(cause error) {
	conn := s.conn
	s.drain(conn) // frames that arrived before the failure
	conn.Close()
	s.conn = nil

	s.logger.Warn("connection dropped", "error", cause, "subscriptions", s.registry.Len())
	s.emit(EventDisconnected, "", cause)
	s.failPending(fmt.Errorf("%w: %w", ErrConnectionInterrupted, cause))

	if s.cfg.DisableReconnect {
		s.terminate(cause)
		return
	}

	s.setState(StateReconnecting)
	s.attempt = 0
	s.scheduleReconnect(cause)
}

// scheduleReconnect starts the next attempt after the backoff wait, or gives
// up when the attempt budget is spent.
func (s *Service) scheduleReconnect(cause error) {
	s.attempt++
	if s.cfg.ReconnectAttempts >= 0 && s.attempt > s.cfg.ReconnectAttempts {
		s.terminate(fmt.Errorf("gave up after %d reconnect attempts: %w", s.attempt-1, cause))
		return
	}

	attempt := s.attempt
	wait := s.backoff(attempt)
	s.logger.Info("reconnecting", "attempt", attempt, "wait", wait)
	s.emit(EventTryReconnect, strconv.Itoa(attempt), cause)

	go func() {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-s.ctx.Done():
			return
		}

		conn, err := s.dial(s.ctx)
		delivered := s.post(func() { s.reconnected(attempt, conn, err) })
		if !delivered && conn != nil {
			conn.Close()
		}
	}()
}

// backoff doubles the base wait per attempt up to the cap. New guarantees
// both are positive.
func (s *Service) backoff(attempt int) time.Duration {
	wait := s.cfg.ReconnectBaseWait
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait <= 0 || wait >= s.cfg.ReconnectMaxWait {
			return s.cfg.ReconnectMaxWait
		}
	}
	return min(wait, s.cfg.ReconnectMaxWait)
}

// reconnected installs the result of a reconnect attempt.
func (s *Service) reconnected(attempt int, conn connection.Client, err error) {
	if s.State() != StateReconnecting {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		s.scheduleReconnect(err)
		return
	}

	s.conn = conn
	s.droppedSeen = 0
	s.attempt = 0
	s.setState(StateConnected)
	s.reconnects.Add(1)
	s.metrics.Reconnected()
	s.logger.Info("reconnected", "attempt", attempt)
	s.emit(EventReconnected, strconv.Itoa(attempt), nil)

	s.replay()
}

// replay re-asserts every Active record on the new socket. Duplicate checks
// do not apply: the records are already in the registry.
func (s *Service) replay() {
	for _, rec := range s.registry.AllActive() {
		requestID := uuid.NewString()
		if err := s.conn.Send(s.requestFrame(requestID, connection.TypeSubscribe, rec)); err != nil {
			s.logger.Warn("resubscribe send failed", "id", rec.ID, "error", err)
			s.emit(EventResubscribeError, rec.ID, err)
			continue
		}
		s.track(&pendingAck{requestID: requestID, op: opResubscribe, record: rec})
	}
}

// terminate ends the session after an unrecoverable loss. Every waiter and
// every subscription handler learns of it through ErrConnectionLost.
func (s *Service) terminate(cause error) {
	lost := fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	s.lostErr = lost
	s.setState(StateClosed)

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}

	s.failPending(lost)
	for _, rec := range s.registry.Clear() {
		s.notifyError(rec, lost)
	}

	s.logger.Error("connection lost", "error", cause)
	s.emit(EventClientFail, "", lost)
}

// shutdown runs on the loop when Stop is called.
func (s *Service) shutdown() {
	s.setState(StateClosed)

	s.failPending(ErrCancelled)
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.registry.Clear()
	s.syncGauges()

	s.finish()
}
