package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProberCheck(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	o := NewObserver(Status{}, nil)
	p := NewProber(o, srv.URL, "ethernet", time.Hour, time.Second, nil)
	ctx := context.Background()

	got := p.Check(ctx)
	assert.True(t, got.Online())
	assert.Equal(t, "ethernet", got.TransportType)
	assert.True(t, o.Current().Online())

	status.Store(http.StatusServiceUnavailable)
	got = p.Check(ctx)
	assert.True(t, got.IsConnected)
	require.NotNil(t, got.IsReachable)
	assert.False(t, *got.IsReachable)
	assert.False(t, o.Current().Online())
}

func TestProberUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	o := NewObserver(Status{IsConnected: true}, nil)
	p := NewProber(o, url, "", time.Hour, 200*time.Millisecond, nil)

	assert.False(t, p.Check(context.Background()).IsConnected)
	assert.False(t, o.Current().Online())
}

func TestProberStartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	o := NewObserver(Status{}, nil)
	online := make(chan struct{}, 1)
	o.Subscribe(func(prev, cur Status) {
		if cur.Online() {
			online <- struct{}{}
		}
	})

	p := NewProber(o, srv.URL, "wifi", 10*time.Millisecond, time.Second, nil)
	p.Start(context.Background())

	select {
	case <-online:
	case <-time.After(2 * time.Second):
		t.Fatal("prober never reported online")
	}
	p.Stop()
	p.Stop()
}
