package token

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNoServers = errors.New("token response lists no instance servers")
	ErrNoToken   = errors.New("token response carries no token")
	ErrClosed    = errors.New("token provider closed")
)

// Token is everything needed to open one socket.
type Token struct {
	Token        string
	Endpoint     string
	Encrypt      bool
	Protocol     string
	PingInterval time.Duration // Interval between application pings
	PingTimeout  time.Duration // Grace period after a missed pong
}

// Provider supplies connect tokens. GetToken is called at start and at the
// beginning of every reconnect attempt.
type Provider interface {
	GetToken(ctx context.Context) (Token, error)
	Close() error
}
