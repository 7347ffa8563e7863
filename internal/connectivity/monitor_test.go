package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/bus"
	"github.com/matheus3301/tpost/internal/status"
)

func newMonitor() *Monitor {
	b := bus.New()
	return NewMonitor(b, status.NewMachine(b), zap.NewNop())
}

func recv(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "channel closed")
		return c
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change")
		return Change{}
	}
}

func TestCanSyncNowNeedsBothInputs(t *testing.T) {
	m := newMonitor()
	assert.False(t, m.CanSyncNow())

	m.SetOnline(true)
	assert.False(t, m.CanSyncNow())
	assert.Equal(t, status.AuthRequired, m.State())

	m.SetAuthenticated(true)
	assert.True(t, m.CanSyncNow())
	assert.Equal(t, status.Online, m.State())

	m.SetOnline(false)
	assert.False(t, m.CanSyncNow())
	assert.True(t, m.Authenticated())
	assert.Equal(t, status.Offline, m.State())
}

func TestSubscribeDeliversTransitionsOnly(t *testing.T) {
	m := newMonitor()
	ch, unsub := m.Subscribe(8)
	defer unsub()

	m.SetOnline(true)
	c := recv(t, ch)
	assert.Equal(t, status.Booting, c.From)
	assert.Equal(t, status.AuthRequired, c.To)

	// Repeating an observation is not a transition.
	m.SetOnline(true)
	m.SetAuthenticated(true)
	c = recv(t, ch)
	assert.Equal(t, status.AuthRequired, c.From)
	assert.Equal(t, status.Online, c.To)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected change %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := newMonitor()
	ch, unsub := m.Subscribe(1)
	unsub()
	unsub()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
	assert.Equal(t, 0, m.bus.Subscribers())
}

func TestProbeReportsReachability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		// Any response counts, even an auth failure.
		w.WriteHeader(http.StatusUnauthorized)
	}))

	m := newMonitor()
	p := NewProber(srv.URL, time.Hour, m, zap.NewNop())

	assert.True(t, p.Probe(context.Background()))
	assert.True(t, m.Online())

	srv.Close()
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, m.Online())
}

func TestProberStartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	m := newMonitor()
	ch, unsub := m.Subscribe(4)
	defer unsub()

	p := NewProber(srv.URL, 10*time.Millisecond, m, zap.NewNop())
	p.Start()
	p.Start()

	c := recv(t, ch)
	assert.Equal(t, status.AuthRequired, c.To)

	p.Stop()
	p.Stop()
	assert.True(t, m.Online())
}
