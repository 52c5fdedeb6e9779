package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	mu     sync.Mutex
	alive  bool
	jid    string
	closed bool
	sent   []string
}

func (h *fakeHandle) Send(ctx context.Context, address, body string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, address)
	return nil
}

func (h *fakeHandle) Ping(ctx context.Context) error { return nil }

func (h *fakeHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *fakeHandle) setAlive(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = v
}

func (h *fakeHandle) JID() string { return h.jid }

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.alive = false
	return nil
}

type fakeCredStore struct {
	mu     sync.Mutex
	loads  int
	saves  int
	purges int
}

func (s *fakeCredStore) Load(ctx context.Context, key Key) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return &Credentials{Ref: "fake:" + key.String()}, nil
}

func (s *fakeCredStore) Save(ctx context.Context, key Key, creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

func (s *fakeCredStore) Purge(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purges++
	return nil
}

func (s *fakeCredStore) purgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purges
}

func (s *fakeCredStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// fakeDialer scripts the adapter behavior: every Open produces a fresh
// handle and runs the script against the attempt's sink.
type fakeDialer struct {
	mu        sync.Mutex
	opens     int
	openDelay time.Duration
	script    func(sink func(Event), h *fakeHandle)
	sinks     []func(Event)
	handles   []*fakeHandle
}

func (d *fakeDialer) Open(ctx context.Context, key Key, creds *Credentials, sink func(Event)) (Handle, error) {
	if d.openDelay > 0 {
		time.Sleep(d.openDelay)
	}
	h := &fakeHandle{jid: "62800000@s.whatsapp.net"}
	d.mu.Lock()
	d.opens++
	d.sinks = append(d.sinks, sink)
	d.handles = append(d.handles, h)
	script := d.script
	d.mu.Unlock()
	if script != nil {
		go script(sink, h)
	}
	return h, nil
}

func (d *fakeDialer) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *fakeDialer) lastSink() func(Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sinks[len(d.sinks)-1]
}

func (d *fakeDialer) lastHandle() *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[len(d.handles)-1]
}

type nopRecorder struct{}

func (nopRecorder) WriteStatus(key Key, from, to Status, reason string)                    {}
func (nopRecorder) WriteInbound(key Key, sender, body string)                              {}
func (nopRecorder) WriteLog(level, category, message string, ctx map[string]interface{}) {}

func testPolicy() Policy {
	return Policy{
		ConnectWait:     3 * time.Second,
		DialTimeout:     time.Second,
		Keepalive:       20 * time.Millisecond,
		PingTimeout:     100 * time.Millisecond,
		HealthInterval:  20 * time.Millisecond,
		HealthGrace:     0,
		HealthThreshold: 2,
		BackoffLadder:   []time.Duration{20 * time.Millisecond, 40 * time.Millisecond},
		TransientDelay:  20 * time.Millisecond,
		TransientCodes:  DefaultTransientCodes(),
	}
}

// openScript completes the handshake shortly after dialing.
func openScript(sink func(Event), h *fakeHandle) {
	time.Sleep(10 * time.Millisecond)
	h.setAlive(true)
	sink(Event{Kind: KindOpened})
}

func newTestSupervisor(d *fakeDialer) (*Supervisor, *fakeCredStore, *Fanout) {
	creds := &fakeCredStore{}
	fan := NewFanout()
	sup := NewSupervisor(NewRegistry(), fan, creds, d, nopRecorder{}, testPolicy())
	return sup, creds, fan
}

func TestConnectInvalidKey(t *testing.T) {
	sup, _, _ := newTestSupervisor(&fakeDialer{})
	defer sup.Stop()

	_, err := sup.Connect(context.Background(), "", "main")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = sup.Connect(context.Background(), "acme", "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestConnectCompletesHandshake(t *testing.T) {
	dialer := &fakeDialer{script: openScript}
	sup, creds, _ := newTestSupervisor(dialer)
	defer sup.Stop()

	entry, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, entry.Status)
	assert.Equal(t, "62800000@s.whatsapp.net", entry.Jid)
	assert.Empty(t, entry.QRPayload)
	assert.Equal(t, 1, dialer.openCount())

	assert.Eventually(t, func() bool { return creds.saveCount() >= 1 },
		time.Second, 10*time.Millisecond)
}

func TestConnectIdempotentWhileConnected(t *testing.T) {
	dialer := &fakeDialer{script: openScript}
	sup, _, _ := newTestSupervisor(dialer)
	defer sup.Stop()

	_, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)

	entry, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, entry.Status)
	assert.Equal(t, 1, dialer.openCount(), "a live session must not be re-dialed")
}

func TestConcurrentConnectSingleDial(t *testing.T) {
	dialer := &fakeDialer{script: openScript, openDelay: 150 * time.Millisecond}
	sup, _, _ := newTestSupervisor(dialer)
	defer sup.Stop()

	var wg sync.WaitGroup
	results := make([]Entry, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := sup.Connect(context.Background(), "acme", "main")
			assert.NoError(t, err)
			results[i] = e
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, dialer.openCount(), "concurrent callers must share one attempt")
	for _, e := range results {
		assert.Equal(t, StatusConnected, e.Status)
	}
}

func TestPairingChallengeSettlesConnect(t *testing.T) {
	dialer := &fakeDialer{script: func(sink func(Event), h *fakeHandle) {
		time.Sleep(10 * time.Millisecond)
		sink(Event{Kind: KindPairing, QR: "qr-payload-1"})
	}}
	sup, _, _ := newTestSupervisor(dialer)
	defer sup.Stop()

	entry, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)
	assert.Equal(t, StatusPairingRequired, entry.Status)
	assert.Equal(t, "qr-payload-1", entry.QRPayload)
	assert.Equal(t, "qr-payload-1", sup.PairingPayload("acme", "main"))
}

func TestPairingRefreshFansOutRotatedQR(t *testing.T) {
	dialer := &fakeDialer{script: func(sink func(Event), h *fakeHandle) {
		time.Sleep(10 * time.Millisecond)
		sink(Event{Kind: KindPairing, QR: "qr-payload-1"})
		time.Sleep(20 * time.Millisecond)
		sink(Event{Kind: KindPairing, QR: "qr-payload-2"})
	}}
	sup, _, fan := newTestSupervisor(dialer)
	defer sup.Stop()

	key := Key{Tenant: "acme", Session: "main"}
	var mu sync.Mutex
	var codes []string
	require.NoError(t, fan.Subscribe(key, "test", func(u StatusUpdate) {
		if u.To == StatusPairingRequired {
			mu.Lock()
			codes = append(codes, u.QR)
			mu.Unlock()
		}
	}))
	defer fan.Unsubscribe(key, "test")

	_, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)

	// the protocol rotates codes; every refresh must reach listeners
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(codes) >= 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"qr-payload-1", "qr-payload-2"}, codes)
	assert.Equal(t, "qr-payload-2", sup.PairingPayload("acme", "main"))
}

func TestQRClearedAfterOpen(t *testing.T) {
	dialer := &fakeDialer{script: func(sink func(Event), h *fakeHandle) {
		time.Sleep(10 * time.Millisecond)
		sink(Event{Kind: KindPairing, QR: "qr-payload-1"})
		time.Sleep(20 * time.Millisecond)
		h.setAlive(true)
		sink(Event{Kind: KindOpened})
	}}
	sup, _, _ := newTestSupervisor(dialer)
	defer sup.Stop()

	_, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		e := sup.GetStatus("acme", "main")
		return e.Status == StatusConnected && e.QRPayload == ""
	}, time.Second, 10*time.Millisecond)
}

func TestLoggedOutPurgesCredentialsAndStopsRetrying(t *testing.T) {
	dialer := &fakeDialer{script: openScript}
	sup, creds, _ := newTestSupervisor(dialer)
	defer sup.Stop()

	_, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)

	dialer.lastSink()(Event{Kind: KindClosed, LoggedOut: true, Detail: "logged out from phone"})

	assert.Eventually(t, func() bool {
		return sup.GetStatus("acme", "main").Status == StatusLoggedOut
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, creds.purgeCount())

	// well past every ladder tier: no reconnect may fire
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, dialer.openCount())
	assert.Equal(t, StatusLoggedOut, sup.GetStatus("acme", "main").Status)
}

func TestStreamReplacedPurgesCredentials(t *testing.T) {
	dialer := &fakeDialer{script: openScript}
	sup, creds, _ := newTestSupervisor(dialer)
	defer sup.Stop()

	_, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)

	dialer.lastSink()(Event{Kind: KindClosed, Revoked: true, Detail: "stream replaced"})

	assert.Eventually(t, func() bool {
		return sup.GetStatus("acme", "main").Status == StatusLoggedOut
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, creds.purgeCount())
}

func TestTransientCloseRetriesOnce(t *testing.T) {
	dialer := &fakeDialer{script: openScript}
	sup, _, _ := newTestSupervisor(dialer)
	defer sup.Stop()

	_, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)

	dialer.lastSink()(Event{Kind: KindClosed, Code: 503, Detail: "service unavailable"})

	assert.Eventually(t, func() bool { return dialer.openCount() == 2 },
		time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return sup.GetStatus("acme", "main").Status == StatusConnected
	}, time.Second, 10*time.Millisecond)
}

func TestGenericCloseWalksBackoffLadder(t *testing.T) {
	dialer := &fakeDialer{script: openScript}
	sup, _, _ := newTestSupervisor(dialer)
	defer sup.Stop()

	_, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)

	dialer.lastSink()(Event{Kind: KindClosed, Code: 0, Detail: "connection reset"})

	assert.Eventually(t, func() bool {
		return sup.GetStatus("acme", "main").Status == StatusConnected && dialer.openCount() == 2
	}, time.Second, 10*time.Millisecond)

	// reconnect attempts reset on a successful open
	assert.Equal(t, 0, sup.GetStatus("acme", "main").ReconnectAttempts)
}

func TestHealthEscalationReconnects(t *testing.T) {
	dialer := &fakeDialer{script: openScript}
	sup, _, _ := newTestSupervisor(dialer)
	defer sup.Stop()

	_, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)

	// flip the transport dead; consecutive readings must escalate
	dialer.lastHandle().setAlive(false)

	assert.Eventually(t, func() bool { return dialer.openCount() >= 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestDisconnect(t *testing.T) {
	dialer := &fakeDialer{script: openScript}
	sup, _, _ := newTestSupervisor(dialer)
	defer sup.Stop()

	// disconnecting an unknown session is a no-op success
	require.NoError(t, sup.Disconnect("acme", "ghost"))

	_, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)

	require.NoError(t, sup.Disconnect("acme", "main"))
	assert.Eventually(t, func() bool {
		return sup.GetStatus("acme", "main").Status == StatusAbsent
	}, time.Second, 10*time.Millisecond)
	assert.True(t, dialer.lastHandle().closed)
}

func TestStatusFanoutOrder(t *testing.T) {
	dialer := &fakeDialer{script: openScript}
	sup, _, fan := newTestSupervisor(dialer)
	defer sup.Stop()

	key := Key{Tenant: "acme", Session: "main"}
	var mu sync.Mutex
	var seen []Status
	require.NoError(t, fan.Subscribe(key, "test", func(u StatusUpdate) {
		mu.Lock()
		seen = append(seen, u.To)
		mu.Unlock()
	}))
	defer fan.Unsubscribe(key, "test")

	_, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StatusConnecting, seen[0])
	assert.Equal(t, StatusConnected, seen[1])
}

func TestInboundMessageTouchesActivity(t *testing.T) {
	dialer := &fakeDialer{script: openScript}
	sup, _, _ := newTestSupervisor(dialer)
	defer sup.Stop()

	_, err := sup.Connect(context.Background(), "acme", "main")
	require.NoError(t, err)

	before := sup.GetStatus("acme", "main").LastActivityAt
	time.Sleep(10 * time.Millisecond)
	dialer.lastSink()(Event{Kind: KindMessage, Sender: "628111@s.whatsapp.net", Body: "hello"})

	assert.Eventually(t, func() bool {
		return sup.GetStatus("acme", "main").LastActivityAt.After(before)
	}, time.Second, 10*time.Millisecond)
}
