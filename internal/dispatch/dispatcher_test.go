package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/session"
)

type stubHandle struct {
	mu      sync.Mutex
	sent    []string
	bodies  []string
	failFor map[string]error
}

func (h *stubHandle) Send(ctx context.Context, address, body string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err, ok := h.failFor[address]; ok {
		return err
	}
	h.sent = append(h.sent, address)
	h.bodies = append(h.bodies, body)
	return nil
}

func (h *stubHandle) Ping(ctx context.Context) error { return nil }
func (h *stubHandle) Alive() bool                    { return true }
func (h *stubHandle) JID() string                    { return "62800@s.whatsapp.net" }
func (h *stubHandle) Close() error                   { return nil }

func (h *stubHandle) sentAddresses() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.sent))
	copy(out, h.sent)
	return out
}

func (h *stubHandle) sentBodies() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.bodies))
	copy(out, h.bodies)
	return out
}

// stubSource serves canned tasks keyed by recipient id, preserving
// input order and marking unknown ids.
type stubSource struct {
	tasks map[string]RecipientTask
}

func (s *stubSource) ResolveRecipients(ctx context.Context, tenant string, ids []string) ([]RecipientTask, error) {
	out := make([]RecipientTask, 0, len(ids))
	for _, id := range ids {
		if task, ok := s.tasks[id]; ok {
			out = append(out, task)
		} else {
			out = append(out, RecipientTask{RecipientID: id, NotFound: true})
		}
	}
	return out, nil
}

type captureRecorder struct {
	mu       sync.Mutex
	outcomes []string // "<recipient>:<status>"
}

func (r *captureRecorder) WriteOutcome(jobID string, key session.Key, recipientID, address, status, body, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, recipientID+":"+status)
}

func (r *captureRecorder) WriteLog(level, category, message string, ctx map[string]interface{}) {}

func (r *captureRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

func testConfig() config.WhatsappConfig {
	return config.WhatsappConfig{
		SendTimeoutSec: 1,
		IntraDelayMs:   1,
		JobTTLMin:      1,
	}
}

func connectedRegistry(key session.Key, h session.Handle) *session.Registry {
	reg := session.NewRegistry()
	reg.Update(key, func(e *session.Entry) {
		e.Status = session.StatusConnected
		e.Handle = h
	})
	return reg
}

func waitTerminal(t *testing.T, d *Dispatcher, jobID string) JobView {
	t.Helper()
	var view JobView
	require.Eventually(t, func() bool {
		v, err := d.Status(jobID)
		if err != nil {
			return false
		}
		view = v
		return v.Status != JobRunning
	}, 5*time.Second, 10*time.Millisecond)
	return view
}

func TestStartJobValidation(t *testing.T) {
	key := session.Key{Tenant: "acme", Session: "main"}
	d, err := NewDispatcher(connectedRegistry(key, &stubHandle{}), &stubSource{}, &captureRecorder{}, testConfig())
	require.NoError(t, err)
	defer d.Stop()

	spec := MessageSpec{Body: "hi"}

	_, err = d.StartJob(context.Background(), "", "main", nil, spec, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = d.StartJob(context.Background(), "acme", "", nil, spec, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = d.StartJob(context.Background(), "acme", "main", nil, MessageSpec{}, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = d.StartJob(context.Background(), "acme", "main", nil, spec, -1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestJobCompletesWithMixedOutcomes(t *testing.T) {
	key := session.Key{Tenant: "acme", Session: "main"}
	handle := &stubHandle{}
	src := &stubSource{tasks: map[string]RecipientTask{
		"r1": {RecipientID: "r1", Name: "Alice", Addresses: []string{"628111@s.whatsapp.net"}},
		"r3": {RecipientID: "r3", Name: "Carol", Addresses: []string{"628333@s.whatsapp.net", "628334@s.whatsapp.net"}},
	}}
	rec := &captureRecorder{}

	d, err := NewDispatcher(connectedRegistry(key, handle), src, rec, testConfig())
	require.NoError(t, err)
	defer d.Stop()

	jobID, err := d.StartJob(context.Background(), "acme", "main",
		[]string{"r1", "r2", "r3"}, MessageSpec{Body: "hello {name}"}, 0)
	require.NoError(t, err)

	view := waitTerminal(t, d, jobID)
	assert.Equal(t, JobCompleted, view.Status)
	assert.Equal(t, 3, view.Total)
	assert.Equal(t, 2, view.Completed)
	assert.Equal(t, 1, view.Failed, "unknown recipient counts as failed")
	assert.Equal(t, view.Total, view.Completed+view.Failed)

	// both of r3's addresses were hit, in order, after r1
	assert.Equal(t, []string{
		"628111@s.whatsapp.net",
		"628333@s.whatsapp.net",
		"628334@s.whatsapp.net",
	}, handle.sentAddresses())
	assert.Contains(t, rec.all(), "r2:failed")
}

func TestEmptyRecipientListCompletesImmediately(t *testing.T) {
	key := session.Key{Tenant: "acme", Session: "main"}
	handle := &stubHandle{}
	rec := &captureRecorder{}

	d, err := NewDispatcher(connectedRegistry(key, handle), &stubSource{}, rec, testConfig())
	require.NoError(t, err)
	defer d.Stop()

	jobID, err := d.StartJob(context.Background(), "acme", "main",
		[]string{}, MessageSpec{Body: "hi"}, 3)
	require.NoError(t, err)

	view := waitTerminal(t, d, jobID)
	assert.Equal(t, JobCompleted, view.Status)
	assert.Equal(t, 0, view.Total)
	assert.Equal(t, 0, view.Completed)
	assert.Equal(t, 0, view.Failed)
	assert.Empty(t, handle.sentAddresses())
	assert.Empty(t, rec.all())
}

func TestRecipientBodiesOverrideJobTemplate(t *testing.T) {
	key := session.Key{Tenant: "acme", Session: "main"}
	handle := &stubHandle{}
	src := &stubSource{tasks: map[string]RecipientTask{
		"r1": {
			RecipientID: "r1",
			Name:        "Alice",
			Bodies:      []string{"your code for {phone}"},
			Addresses:   []string{"628111@s.whatsapp.net", "628222@s.whatsapp.net"},
		},
		"r2": {RecipientID: "r2", Name: "Bob", Addresses: []string{"628333@s.whatsapp.net"}},
	}}

	d, err := NewDispatcher(connectedRegistry(key, handle), src, &captureRecorder{}, testConfig())
	require.NoError(t, err)
	defer d.Stop()

	jobID, err := d.StartJob(context.Background(), "acme", "main",
		[]string{"r1", "r2"}, MessageSpec{Body: "hello {name}"}, 0)
	require.NoError(t, err)

	view := waitTerminal(t, d, jobID)
	assert.Equal(t, JobCompleted, view.Status)
	assert.Equal(t, 2, view.Completed)

	// r1's own bodies win over the job template, and {phone} renders
	// the address of each individual send
	assert.Equal(t, []string{
		"your code for 628111",
		"your code for 628222",
		"hello Bob",
	}, handle.sentBodies())
}

func TestJobRecipientSendFailureDoesNotAbortWalk(t *testing.T) {
	key := session.Key{Tenant: "acme", Session: "main"}
	handle := &stubHandle{failFor: map[string]error{
		"628111@s.whatsapp.net": context.DeadlineExceeded,
	}}
	src := &stubSource{tasks: map[string]RecipientTask{
		"r1": {RecipientID: "r1", Addresses: []string{"628111@s.whatsapp.net"}},
		"r2": {RecipientID: "r2", Addresses: []string{"628222@s.whatsapp.net"}},
	}}

	d, err := NewDispatcher(connectedRegistry(key, handle), src, &captureRecorder{}, testConfig())
	require.NoError(t, err)
	defer d.Stop()

	jobID, err := d.StartJob(context.Background(), "acme", "main",
		[]string{"r1", "r2"}, MessageSpec{Body: "hi"}, 0)
	require.NoError(t, err)

	view := waitTerminal(t, d, jobID)
	assert.Equal(t, JobCompleted, view.Status)
	assert.Equal(t, 1, view.Completed)
	assert.Equal(t, 1, view.Failed)
	assert.Equal(t, []string{"628222@s.whatsapp.net"}, handle.sentAddresses())
}

func TestJobFailsAllWithoutLiveHandle(t *testing.T) {
	key := session.Key{Tenant: "acme", Session: "main"}
	reg := session.NewRegistry()
	reg.Update(key, func(e *session.Entry) { e.Status = session.StatusReconnecting })
	src := &stubSource{tasks: map[string]RecipientTask{
		"r1": {RecipientID: "r1", Addresses: []string{"628111@s.whatsapp.net"}},
	}}

	d, err := NewDispatcher(reg, src, &captureRecorder{}, testConfig())
	require.NoError(t, err)
	defer d.Stop()

	jobID, err := d.StartJob(context.Background(), "acme", "main",
		[]string{"r1"}, MessageSpec{Body: "hi"}, 0)
	require.NoError(t, err)

	view := waitTerminal(t, d, jobID)
	assert.Equal(t, JobCompleted, view.Status)
	assert.Equal(t, 0, view.Completed)
	assert.Equal(t, 1, view.Failed)
}

func TestCancelStopsWalkBetweenRecipients(t *testing.T) {
	key := session.Key{Tenant: "acme", Session: "main"}
	handle := &stubHandle{}
	src := &stubSource{tasks: map[string]RecipientTask{
		"r1": {RecipientID: "r1", Addresses: []string{"628111@s.whatsapp.net"}},
		"r2": {RecipientID: "r2", Addresses: []string{"628222@s.whatsapp.net"}},
		"r3": {RecipientID: "r3", Addresses: []string{"628333@s.whatsapp.net"}},
	}}

	d, err := NewDispatcher(connectedRegistry(key, handle), src, &captureRecorder{}, testConfig())
	require.NoError(t, err)
	defer d.Stop()

	jobID, err := d.StartJob(context.Background(), "acme", "main",
		[]string{"r1", "r2", "r3"}, MessageSpec{Body: "hi"}, 1)
	require.NoError(t, err)

	// cancel while the walk paces after the first recipient
	require.Eventually(t, func() bool {
		v, err := d.Status(jobID)
		return err == nil && v.Completed >= 1
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, d.Cancel(jobID))

	view := waitTerminal(t, d, jobID)
	assert.Equal(t, JobCancelled, view.Status)
	assert.Less(t, view.Completed+view.Failed, view.Total)

	// cancelling a terminal job stays a no-op success
	assert.NoError(t, d.Cancel(jobID))
}

func TestStatusUnknownJob(t *testing.T) {
	key := session.Key{Tenant: "acme", Session: "main"}
	d, err := NewDispatcher(connectedRegistry(key, &stubHandle{}), &stubSource{}, &captureRecorder{}, testConfig())
	require.NoError(t, err)
	defer d.Stop()

	_, err = d.Status("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, d.Cancel("nope"), ErrJobNotFound)
}

func TestSweepEvictsTerminalJobs(t *testing.T) {
	key := session.Key{Tenant: "acme", Session: "main"}
	src := &stubSource{tasks: map[string]RecipientTask{
		"r1": {RecipientID: "r1", Addresses: []string{"628111@s.whatsapp.net"}},
	}}

	d, err := NewDispatcher(connectedRegistry(key, &stubHandle{}), src, &captureRecorder{}, testConfig())
	require.NoError(t, err)
	defer d.Stop()

	jobID, err := d.StartJob(context.Background(), "acme", "main",
		[]string{"r1"}, MessageSpec{Body: "hi"}, 0)
	require.NoError(t, err)
	waitTerminal(t, d, jobID)

	// nothing old enough yet
	assert.Equal(t, 0, d.Sweep())

	d.jobTTL = 0
	assert.Equal(t, 1, d.Sweep())
	_, err = d.Status(jobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}
