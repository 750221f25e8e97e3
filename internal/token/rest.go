package token

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"
)

// Bullet endpoints.
const (
	PathPublic  = "/api/v1/bullet-public"
	PathPrivate = "/api/v1/bullet-private"
)

// Caller is the REST contract the provider needs. *api.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method, path string, req, result any) error
	Close()
}

type bulletResponse struct {
	Token           string           `json:"token"`
	InstanceServers []instanceServer `json:"instanceServers"`
}

type instanceServer struct {
	Endpoint     string `json:"endpoint"`
	Encrypt      bool   `json:"encrypt"`
	Protocol     string `json:"protocol"`
	PingInterval int64  `json:"pingInterval"` // milliseconds
	PingTimeout  int64  `json:"pingTimeout"`  // milliseconds
}

// RESTProvider fetches tokens from the bullet endpoints.
type RESTProvider struct {
	caller  Caller
	private bool
	pick    func(n int) int
	closed  atomic.Bool
}

// NewRESTProvider creates a provider. private selects the signed endpoint;
// the caller must then be configured with credentials.
func NewRESTProvider(caller Caller, private bool) *RESTProvider {
	return &RESTProvider{
		caller:  caller,
		private: private,
		pick:    rand.IntN,
	}
}

// GetToken requests a fresh token and picks one instance server.
func (p *RESTProvider) GetToken(ctx context.Context) (Token, error) {
	if p.closed.Load() {
		return Token{}, ErrClosed
	}

	path := PathPublic
	if p.private {
		path = PathPrivate
	}

	var resp bulletResponse
	if err := p.caller.Call(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return Token{}, fmt.Errorf("request token: %w", err)
	}

	if resp.Token == "" {
		return Token{}, ErrNoToken
	}
	if len(resp.InstanceServers) == 0 {
		return Token{}, ErrNoServers
	}

	s := resp.InstanceServers[p.pick(len(resp.InstanceServers))]
	return Token{
		Token:        resp.Token,
		Endpoint:     s.Endpoint,
		Encrypt:      s.Encrypt,
		Protocol:     s.Protocol,
		PingInterval: time.Duration(s.PingInterval) * time.Millisecond,
		PingTimeout:  time.Duration(s.PingTimeout) * time.Millisecond,
	}, nil
}

// Close releases the REST client. Further GetToken calls fail.
func (p *RESTProvider) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.caller.Close()
	}
	return nil
}

// StaticProvider always returns the same token. Used by tests and by venues
// that need no token negotiation.
type StaticProvider struct {
	Token  Token
	closed atomic.Bool
}

// GetToken returns the configured token.
func (p *StaticProvider) GetToken(ctx context.Context) (Token, error) {
	if p.closed.Load() {
		return Token{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	return p.Token, nil
}

// Close marks the provider closed.
func (p *StaticProvider) Close() error {
	p.closed.Store(true)
	return nil
}
