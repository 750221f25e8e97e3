package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/kucoin-stream/internal/api"
)

const bulletBody = `{"code":"200000","data":{
	"token":"tok-1",
	"instanceServers":[
		{"endpoint":"wss://ws-a.example.com","encrypt":true,"protocol":"websocket","pingInterval":18000,"pingTimeout":10000},
		{"endpoint":"wss://ws-b.example.com","encrypt":true,"protocol":"websocket","pingInterval":20000,"pingTimeout":5000}
	]}}`

func bulletServer(t *testing.T, wantPath string, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, wantPath, r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRESTProvider_Public(t *testing.T) {
	server := bulletServer(t, PathPublic, bulletBody)

	p := NewRESTProvider(api.NewClient(server.URL), false)
	p.pick = func(int) int { return 1 }

	tok, err := p.GetToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok-1", tok.Token)
	assert.Equal(t, "wss://ws-b.example.com", tok.Endpoint)
	assert.True(t, tok.Encrypt)
	assert.Equal(t, "websocket", tok.Protocol)
	assert.Equal(t, 20*time.Second, tok.PingInterval)
	assert.Equal(t, 5*time.Second, tok.PingTimeout)
}

func TestRESTProvider_Private(t *testing.T) {
	server := bulletServer(t, PathPrivate, bulletBody)

	p := NewRESTProvider(api.NewClient(server.URL), true)
	p.pick = func(int) int { return 0 }

	tok, err := p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://ws-a.example.com", tok.Endpoint)
	assert.Equal(t, 18*time.Second, tok.PingInterval)
}

func TestRESTProvider_PicksWithinRange(t *testing.T) {
	server := bulletServer(t, PathPublic, bulletBody)
	p := NewRESTProvider(api.NewClient(server.URL), false)

	seen := map[string]bool{}
	for range 50 {
		tok, err := p.GetToken(context.Background())
		require.NoError(t, err)
		seen[tok.Endpoint] = true
	}
	for endpoint := range seen {
		assert.Contains(t, []string{"wss://ws-a.example.com", "wss://ws-b.example.com"}, endpoint)
	}
}

func TestRESTProvider_BadResponses(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"no servers", `{"code":"200000","data":{"token":"t","instanceServers":[]}}`, ErrNoServers},
		{"no token", `{"code":"200000","data":{"instanceServers":[{"endpoint":"wss://x"}]}}`, ErrNoToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := bulletServer(t, PathPublic, tt.body)
			p := NewRESTProvider(api.NewClient(server.URL), false)

			_, err := p.GetToken(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRESTProvider_APIError(t *testing.T) {
	server := bulletServer(t, PathPrivate, `{"code":"400003","msg":"KC-API-KEY not exists"}`)
	p := NewRESTProvider(api.NewClient(server.URL), true)

	_, err := p.GetToken(context.Background())
	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr), "err = %v", err)
	assert.Equal(t, "400003", apiErr.Code)
}

func TestRESTProvider_Close(t *testing.T) {
	server := bulletServer(t, PathPublic, bulletBody)
	p := NewRESTProvider(api.NewClient(server.URL), false)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := p.GetToken(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStaticProvider(t *testing.T) {
	p := &StaticProvider{Token: Token{Token: "t", Endpoint: "ws://localhost"}}

	tok, err := p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost", tok.Endpoint)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.GetToken(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, p.Close())
	_, err = p.GetToken(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
