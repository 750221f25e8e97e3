package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/kucoin-stream/internal/config"
	"github.com/rickgao/kucoin-stream/internal/metrics"
	"github.com/rickgao/kucoin-stream/internal/session"
)

type fakeSession struct {
	stats session.Stats
	subs  []session.SubscriptionInfo
}

func (f *fakeSession) Stats() session.Stats { return f.stats }
func (f *fakeSession) Subscriptions() []session.SubscriptionInfo { return f.subs }

func TestFanout(t *testing.T) {
	var got []string
	ok := session.HandlerFunc(func(msg session.Message) error {
		got = append(got, "ok:"+msg.Topic)
		return nil
	})
	bad := session.HandlerFunc(func(msg session.Message) error {
		got = append(got, "bad:"+msg.Topic)
		return errors.New("sink full")
	})

	f := &fanout{logger: slog.Default()}
	f.add(bad)
	f.add(ok)

	err := f.OnMessage(session.Message{Topic: "/market/ticker:BTC-USDT"})
	assert.ErrorContains(t, err, "sink full")
	assert.Equal(t, []string{"bad:/market/ticker:BTC-USDT", "ok:/market/ticker:BTC-USDT"}, got,
		"a failing sink does not starve the others")

	assert.NoError(t, (&fanout{logger: slog.Default()}).OnMessage(session.Message{}))
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		state      session.State
		wantStatus string
		wantCode   int
	}{
		{session.StateConnected, "healthy", http.StatusOK},
		{session.StateReconnecting, "degraded", http.StatusOK},
		{session.StateClosed, "unhealthy", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			svc := &fakeSession{stats: session.Stats{State: tt.state, Subscriptions: 2}}
			h := newHTTPHandler(svc, nil, prometheus.NewRegistry(), "/metrics")

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body struct {
				Status     string                    `json:"status"`
				Components map[string]map[string]any `json:"components"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.state.String(), body.Components["session"]["state"])
			assert.Equal(t, float64(2), body.Components["session"]["subscriptions"])
		})
	}
}

func TestDebugSubscriptionsHandler(t *testing.T) {
	svc := &fakeSession{subs: []session.SubscriptionInfo{{
		ID:     "/market/ticker@@BTC-USDT",
		Prefix: "/market/ticker",
		Args:   []string{"BTC-USDT"},
		Topics: []string{"/market/ticker:BTC-USDT"},
		State:  "active",
	}}}
	h := newHTTPHandler(svc, nil, prometheus.NewRegistry(), "/metrics")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/subscriptions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count         int                        `json:"count"`
		Subscriptions []session.SubscriptionInfo `json:"subscriptions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, svc.subs, body.Subscriptions)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)
	m.FrameUnroutable()

	h := newHTTPHandler(&fakeSession{}, nil, reg, "/custom-metrics")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/custom-metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kucoin_ws_frames_unroutable_total 1")
}

func TestSessionConfig(t *testing.T) {
	ws := config.WebSocketConfig{
		Private:            true,
		DialTimeout:        3 * time.Second,
		WriteTimeout:       2 * time.Second,
		AckTimeout:         4 * time.Second,
		ReconnectAttempts:  5,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  time.Minute,
		InboundBuffer:      512,
		EventBuffer:        32,
	}

	got := sessionConfig(ws)
	assert.Equal(t, session.Config{
		Private:           true,
		DialTimeout:       3 * time.Second,
		WriteTimeout:      2 * time.Second,
		AckTimeout:        4 * time.Second,
		ReconnectAttempts: 5,
		ReconnectBaseWait: time.Second,
		ReconnectMaxWait:  time.Minute,
		InboundLimit:      512,
		EventBuffer:       32,
	}, got)
}
