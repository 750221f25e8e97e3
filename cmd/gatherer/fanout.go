package main

import (
	"errors"
	"log/slog"

	"github.com/rickgao/kucoin-stream/internal/session"
)

// fanout delivers each frame to every sink. Sinks queue and return
// immediately, so the session loop is never held up by storage.
type fanout struct {
	sinks  []session.Handler
	logger *slog.Logger
}

func (f *fanout) add(h session.Handler) {
	f.sinks = append(f.sinks, h)
}

func (f *fanout) OnMessage(msg session.Message) error {
	var errs []error
	for _, h := range f.sinks {
		if err := h.OnMessage(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) OnSubscribed(id string) {
	f.logger.Debug("subscription confirmed", "id", id)
}

func (f *fanout) OnError(err error) {
	f.logger.Error("subscription failed", "error", err)
}
