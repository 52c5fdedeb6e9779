package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/talkincode/wagate/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Supervisor drives the connection lifecycle of every session: connect
// attempts, pairing, keep-alive, health checking and reconnection. All
// state transitions for one session are applied by that session's
// single worker goroutine, so transitions are strictly sequential per
// key while sessions never block each other.
type Supervisor struct {
	reg    *Registry
	fan    *Fanout
	creds  CredentialStore
	dialer Dialer
	rec    Recorder
	policy Policy

	// flights serializes concurrent connect attempts per key: a second
	// caller waits on the first attempt instead of racing it.
	flights singleflight.Group

	rootCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	workers map[Key]*worker
}

type command int

const (
	cmdConnect command = iota
	cmdDisconnect
)

// taggedEvent carries the handle generation that produced it, so a
// stale handle's late events cannot disturb its successor.
type taggedEvent struct {
	ev  Event
	gen int
}

type worker struct {
	key    Key
	ctx    context.Context
	cancel context.CancelFunc
	events chan taggedEvent
	cmds   chan command

	// Everything below is owned by the worker goroutine.
	gen        int
	handle     Handle
	creds      *Credentials
	openedAt   time.Time
	retry      *time.Timer
	retryC     <-chan time.Time
	keepalive  *time.Ticker
	health     *time.Ticker
	healthFail int
}

func NewSupervisor(reg *Registry, fan *Fanout, creds CredentialStore, dialer Dialer, rec Recorder, policy Policy) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		reg:     reg,
		fan:     fan,
		creds:   creds,
		dialer:  dialer,
		rec:     rec,
		policy:  policy,
		rootCtx: ctx,
		stop:    cancel,
		workers: make(map[Key]*worker),
	}
}

// Connect establishes (or returns) the connection for a key. When a
// live connected handle already exists the call is idempotent. When an
// attempt is already in flight the caller waits on its outcome up to
// the policy's bounded wait, then receives ErrBusy.
func (s *Supervisor) Connect(ctx context.Context, tenant, sess string) (Entry, error) {
	key := Key{Tenant: tenant, Session: sess}
	if !key.Valid() {
		return Entry{}, ErrInvalidKey
	}

	if e, ok := s.reg.Get(key); ok && e.Status == StatusConnected && e.Handle != nil && e.Handle.Alive() {
		return e, nil
	}

	ch := s.flights.DoChan(key.String(), func() (interface{}, error) {
		return s.connectAttempt(key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	case <-time.After(s.policy.ConnectWait):
		return Entry{}, ErrBusy
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

// connectAttempt runs inside the per-key flight. It kicks the worker
// and polls the registry until the attempt settles or the wait bound
// elapses; the worker keeps driving the session either way.
func (s *Supervisor) connectAttempt(key Key) (Entry, error) {
	// The flight may have queued behind a finished attempt; a live
	// handle means there is nothing to do.
	if e, ok := s.reg.Get(key); ok && e.Status == StatusConnected && e.Handle != nil && e.Handle.Alive() {
		return e, nil
	}

	token := uuid.NewString()
	zap.L().Info("session: connect attempt",
		zap.String("key", key.String()), zap.String("attempt", token))

	pre, _ := s.reg.Get(key)

	w := s.ensureWorker(key)
	select {
	case w.cmds <- cmdConnect:
	default:
		// a connect command is already pending for this worker
	}

	// A stale settled state (say logged_out from a previous life) must
	// not satisfy this attempt; wait until the worker has moved.
	moved := !pre.Status.Settled()

	deadline := time.Now().Add(s.policy.ConnectWait)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		if e, ok := s.reg.Get(key); ok {
			if e.Status != pre.Status {
				moved = true
			}
			if moved && e.Status.Settled() {
				return e, nil
			}
		}
		if time.Now().After(deadline) {
			e, _ := s.reg.Get(key)
			return e, nil
		}
		select {
		case <-tick.C:
		case <-s.rootCtx.Done():
			e, _ := s.reg.Get(key)
			return e, nil
		}
	}
}

// Disconnect tears the session down and removes it from the registry.
// Disconnecting an absent session is a no-op success.
func (s *Supervisor) Disconnect(tenant, sess string) error {
	key := Key{Tenant: tenant, Session: sess}
	if !key.Valid() {
		return ErrInvalidKey
	}

	s.mu.Lock()
	w, ok := s.workers[key]
	s.mu.Unlock()
	if !ok {
		if _, exists := s.reg.Get(key); exists {
			s.reg.Remove(key)
		}
		return nil
	}

	select {
	case w.cmds <- cmdDisconnect:
	case <-w.ctx.Done():
	}
	return nil
}

// GetStatus returns the best-known entry for the key; an unknown key
// reports absent rather than an error.
func (s *Supervisor) GetStatus(tenant, sess string) Entry {
	key := Key{Tenant: tenant, Session: sess}
	if e, ok := s.reg.Get(key); ok {
		return e
	}
	return Entry{Key: key, Status: StatusAbsent}
}

// PairingPayload returns the current QR payload, empty when the
// session is not awaiting pairing.
func (s *Supervisor) PairingPayload(tenant, sess string) string {
	e, _ := s.reg.Get(Key{Tenant: tenant, Session: sess})
	return e.QRPayload
}

// ListTenant lists the tenant's sessions.
func (s *Supervisor) ListTenant(tenant string) []Entry {
	return s.reg.ListTenant(tenant)
}

// Stop cancels every worker. Used on application shutdown.
func (s *Supervisor) Stop() {
	s.stop()
}

func (s *Supervisor) ensureWorker(key Key) *worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[key]; ok {
		return w
	}
	ctx, cancel := context.WithCancel(s.rootCtx)
	w := &worker{
		key:    key,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan taggedEvent, 16),
		cmds:   make(chan command, 1),
	}
	s.workers[key] = w
	go s.run(w)
	return w
}

func (s *Supervisor) dropWorker(key Key) {
	s.mu.Lock()
	delete(s.workers, key)
	s.mu.Unlock()
}

func (w *worker) keepaliveC() <-chan time.Time {
	if w.keepalive == nil {
		return nil
	}
	return w.keepalive.C
}

func (w *worker) healthC() <-chan time.Time {
	if w.health == nil {
		return nil
	}
	return w.health.C
}

// run is the per-session event loop. It is the only goroutine that
// mutates this session's state, which keeps transitions sequential.
func (s *Supervisor) run(w *worker) {
	defer s.teardown(w)
	for {
		select {
		case <-w.ctx.Done():
			return
		case cmd := <-w.cmds:
			switch cmd {
			case cmdConnect:
				s.attempt(w)
			case cmdDisconnect:
				s.shutdown(w)
				return
			}
		case te := <-w.events:
			if te.gen != w.gen {
				continue // event from a torn-down handle
			}
			s.handleEvent(w, te.ev)
		case <-w.retryC:
			w.retryC = nil
			w.retry = nil
			s.attempt(w)
		case <-w.keepaliveC():
			s.keepaliveTick(w)
		case <-w.healthC():
			s.healthTick(w)
		}
	}
}

// attempt starts one connect attempt: load credentials, tear down any
// prior handle, dial with a fresh event sink.
func (s *Supervisor) attempt(w *worker) {
	// A concurrent trigger may have connected this session while the
	// retry timer was pending; never open a duplicate socket.
	if e, ok := s.reg.Get(w.key); ok && e.Status == StatusConnected && e.Handle != nil && e.Handle.Alive() {
		return
	}

	s.setStatus(w, StatusConnecting, "connect attempt")

	ctx, cancel := context.WithTimeout(w.ctx, s.policy.DialTimeout)
	defer cancel()

	creds, err := s.creds.Load(ctx, w.key)
	if err != nil {
		zap.L().Error("session: credential load failed",
			zap.String("key", w.key.String()), zap.Error(err))
		s.scheduleReconnect(w, fmt.Sprintf("credential load failed: %v", err))
		return
	}
	w.creds = creds

	// At most one live handle per session: the prior handle is torn
	// down before a new one is created.
	s.clearHandle(w)

	w.gen++
	gen := w.gen
	sink := func(ev Event) {
		te := taggedEvent{ev: ev, gen: gen}
		select {
		case w.events <- te:
		case <-w.ctx.Done():
		default:
			// The loop may be busy closing this very handle; never
			// deadlock the adapter's callback goroutine.
			go func() {
				select {
				case w.events <- te:
				case <-w.ctx.Done():
				}
			}()
		}
	}

	handle, err := s.dialer.Open(ctx, w.key, creds, sink)
	if err != nil {
		zap.L().Warn("session: dial failed",
			zap.String("key", w.key.String()), zap.Error(err))
		s.scheduleReconnect(w, fmt.Sprintf("dial failed: %v", err))
		return
	}

	w.handle = handle
	s.reg.Update(w.key, func(e *Entry) { e.Handle = handle })
	// "Not yet connected" is not a failure: the handshake completes
	// through Opened, or pairing starts through a PairingChallenge.
}

func (s *Supervisor) handleEvent(w *worker, ev Event) {
	switch ev.Kind {
	case KindPairing:
		s.reg.Update(w.key, func(e *Entry) { e.QRPayload = ev.QR })
		s.setStatus(w, StatusPairingRequired, "pairing challenge received")

	case KindOpened:
		w.openedAt = time.Now()
		w.healthFail = 0
		jid := ""
		if w.handle != nil {
			jid = w.handle.JID()
		}
		s.reg.Update(w.key, func(e *Entry) {
			e.QRPayload = ""
			e.Jid = jid
			e.ReconnectAttempts = 0
			e.HealthFailures = 0
			e.LastActivityAt = time.Now()
		})
		s.setStatus(w, StatusConnected, "handshake complete")
		if w.creds != nil {
			if err := s.creds.Save(w.ctx, w.key, w.creds); err != nil {
				zap.L().Warn("session: credential save failed",
					zap.String("key", w.key.String()), zap.Error(err))
			}
		}
		s.startMonitors(w)
		metrics.Incr(metrics.WhatsappConnect)

	case KindClosed:
		s.stopMonitors(w)
		w.gen++ // anything further from this handle is stale
		w.handle = nil
		s.reg.Update(w.key, func(e *Entry) {
			e.Handle = nil
			e.QRPayload = ""
		})
		s.classifyClose(w, ev)

	case KindMessage:
		s.reg.Touch(w.key)
		s.rec.WriteInbound(w.key, ev.Sender, ev.Body)
		metrics.Incr(metrics.WhatsappMessageInbound)
	}
}

// classifyClose applies the close taxonomy: credential revocation ends
// the session, known transient codes get one spaced retry, everything
// else enters the generic unbounded backoff ladder.
func (s *Supervisor) classifyClose(w *worker, ev Event) {
	switch {
	case ev.LoggedOut || ev.Revoked:
		if err := s.creds.Purge(w.ctx, w.key); err != nil {
			zap.L().Warn("session: credential purge failed",
				zap.String("key", w.key.String()), zap.Error(err))
		}
		w.creds = nil
		s.cancelRetry(w)
		s.setStatus(w, StatusLoggedOut, ev.Detail)
		metrics.Incr(metrics.WhatsappLoggedOut)

	case s.policy.IsTransient(ev.Code):
		s.setStatus(w, StatusReconnecting,
			fmt.Sprintf("transient close (code %d): %s", ev.Code, ev.Detail))
		s.scheduleRetryAfter(w, s.policy.TransientDelay)
		metrics.Incr(metrics.WhatsappReconnect)

	default:
		s.scheduleReconnect(w, ev.Detail)
		metrics.Incr(metrics.WhatsappReconnect)
	}
}

// scheduleReconnect advances the generic ladder and arms the retry
// timer. Attempts are unbounded; the final tier repeats forever.
func (s *Supervisor) scheduleReconnect(w *worker, reason string) {
	attempts := 0
	s.reg.Update(w.key, func(e *Entry) {
		e.ReconnectAttempts++
		attempts = e.ReconnectAttempts
	})
	delay := s.policy.BackoffDelay(attempts)
	s.setStatus(w, StatusReconnecting,
		fmt.Sprintf("%s (retry %d in %s)", reason, attempts, delay))
	s.scheduleRetryAfter(w, delay)
}

func (s *Supervisor) scheduleRetryAfter(w *worker, d time.Duration) {
	s.cancelRetry(w)
	w.retry = time.NewTimer(d)
	w.retryC = w.retry.C
}

func (s *Supervisor) cancelRetry(w *worker) {
	if w.retry != nil {
		w.retry.Stop()
		w.retry = nil
		w.retryC = nil
	}
}

func (s *Supervisor) startMonitors(w *worker) {
	s.stopMonitors(w)
	w.keepalive = time.NewTicker(s.policy.Keepalive)
	w.health = time.NewTicker(s.policy.HealthInterval)
}

func (s *Supervisor) stopMonitors(w *worker) {
	if w.keepalive != nil {
		w.keepalive.Stop()
		w.keepalive = nil
	}
	if w.health != nil {
		w.health.Stop()
		w.health = nil
	}
}

// keepaliveTick sends the low-frequency ping. Isolated failures are
// tolerated; the health loop escalates persistent ones.
func (s *Supervisor) keepaliveTick(w *worker) {
	if w.handle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(w.ctx, s.policy.PingTimeout)
	defer cancel()
	if err := w.handle.Ping(ctx); err != nil {
		zap.L().Warn("session: keepalive ping failed",
			zap.String("key", w.key.String()), zap.Error(err))
		return
	}
	s.reg.Touch(w.key)
}

// healthTick samples the transport's liveness signal. Only several
// consecutive unhealthy readings escalate, and readings inside the
// post-open grace period are skipped to avoid flapping.
func (s *Supervisor) healthTick(w *worker) {
	if w.handle == nil {
		return
	}
	if time.Since(w.openedAt) < s.policy.HealthGrace {
		return
	}
	if w.handle.Alive() {
		if w.healthFail != 0 {
			w.healthFail = 0
			s.reg.Update(w.key, func(e *Entry) { e.HealthFailures = 0 })
		}
		return
	}

	w.healthFail++
	s.reg.Update(w.key, func(e *Entry) { e.HealthFailures = w.healthFail })
	zap.L().Warn("session: unhealthy transport reading",
		zap.String("key", w.key.String()), zap.Int("consecutive", w.healthFail))
	if w.healthFail < s.policy.HealthThreshold {
		return
	}

	w.healthFail = 0
	s.rec.WriteLog("warn", "session", "health check escalation",
		map[string]interface{}{"key": w.key.String()})
	s.clearHandle(w)
	s.stopMonitors(w)
	s.scheduleReconnect(w, "health check failed")
}

// clearHandle closes and forgets the current handle, bumping the
// generation so its late close events are discarded.
func (s *Supervisor) clearHandle(w *worker) {
	if w.handle == nil {
		return
	}
	w.gen++
	if err := w.handle.Close(); err != nil {
		zap.L().Debug("session: handle close",
			zap.String("key", w.key.String()), zap.Error(err))
	}
	w.handle = nil
	s.reg.Update(w.key, func(e *Entry) { e.Handle = nil })
}

// shutdown handles an explicit disconnect: close, announce, remove.
func (s *Supervisor) shutdown(w *worker) {
	s.setStatus(w, StatusClosing, "disconnect requested")
	s.cancelRetry(w)
	s.stopMonitors(w)
	s.clearHandle(w)
	s.setStatus(w, StatusAbsent, "disconnected")
	s.reg.Remove(w.key)
	w.cancel()
}

// teardown releases loop resources when the worker exits for any
// reason; timers tied to the session die with it.
func (s *Supervisor) teardown(w *worker) {
	s.cancelRetry(w)
	s.stopMonitors(w)
	if w.handle != nil {
		w.gen++
		_ = w.handle.Close()
		w.handle = nil
	}
	s.dropWorker(w.key)
}

// setStatus applies a transition, persists it and fans it out. The
// persistence write is fire-and-forget: in-memory status correctness
// takes priority.
func (s *Supervisor) setStatus(w *worker, to Status, reason string) {
	var from Status
	var qr string
	s.reg.Update(w.key, func(e *Entry) {
		from = e.Status
		e.Status = to
		qr = e.QRPayload
	})
	// Repeated reconnecting and pairing updates still fan out: the
	// retry reason and the rotated QR code change even when the
	// status does not.
	if from == to && to != StatusReconnecting && to != StatusPairingRequired {
		return
	}
	zap.L().Info("session: state transition",
		zap.String("key", w.key.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
	s.rec.WriteStatus(w.key, from, to, reason)
	s.fan.Notify(StatusUpdate{
		Key:    w.key,
		From:   from,
		To:     to,
		Reason: reason,
		QR:     qr,
		At:     time.Now(),
	})
}
