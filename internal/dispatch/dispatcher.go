// Package dispatch runs bulk message jobs: a FIFO walk over a
// recipient list with per-send outcome records, pacing between sends
// and cooperative cancellation.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/guonaihong/gout"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/pkg/common"
	"github.com/talkincode/wagate/pkg/metrics"
	"github.com/talkincode/wagate/pkg/phone"
	"go.uber.org/zap"
)

// RecipientSource resolves recipient ids against the backing customer
// data. Implementations must return exactly one task per requested id,
// in input order, with NotFound set for unknown ids.
type RecipientSource interface {
	ResolveRecipients(ctx context.Context, tenant string, ids []string) ([]RecipientTask, error)
}

// Recorder is the persistence gateway for send outcomes. Writes are
// fire-and-forget.
type Recorder interface {
	WriteOutcome(jobID string, key session.Key, recipientID, address, status, body, detail string)
	WriteLog(level, category, message string, context map[string]interface{})
}

var (
	// ErrValidation covers synchronous rejections at the job boundary.
	ErrValidation = errors.New("dispatch: invalid request")
	// ErrJobNotFound is returned for unknown or expired job ids.
	ErrJobNotFound = errors.New("dispatch: job not found")
)

// Dispatcher owns the in-memory job table and the worker pool the
// walks run on.
type Dispatcher struct {
	reg *session.Registry
	src RecipientSource
	rec Recorder

	pool *ants.Pool

	mu   sync.RWMutex
	jobs map[string]*Job

	sendTimeout time.Duration
	intraDelay  time.Duration
	jobTTL      time.Duration
	notifyURL   string
}

const defaultPoolSize = 64

func NewDispatcher(reg *session.Registry, src RecipientSource, rec Recorder, cfg config.WhatsappConfig) (*Dispatcher, error) {
	pool, err := ants.NewPool(defaultPoolSize, ants.WithNonblocking(false))
	if err != nil {
		return nil, errors.Wrap(err, "dispatch pool init")
	}
	d := &Dispatcher{
		reg:         reg,
		src:         src,
		rec:         rec,
		pool:        pool,
		jobs:        make(map[string]*Job),
		sendTimeout: 15 * time.Second,
		intraDelay:  1500 * time.Millisecond,
		jobTTL:      time.Hour,
		notifyURL:   cfg.NotifyURL,
	}
	if cfg.SendTimeoutSec > 0 {
		d.sendTimeout = time.Duration(cfg.SendTimeoutSec) * time.Second
	}
	if cfg.IntraDelayMs > 0 {
		d.intraDelay = time.Duration(cfg.IntraDelayMs) * time.Millisecond
	}
	if cfg.JobTTLMin > 0 {
		d.jobTTL = time.Duration(cfg.JobTTLMin) * time.Minute
	}
	return d, nil
}

// StartJob validates and registers a job, then runs the walk
// asynchronously. The job id is returned synchronously.
func (d *Dispatcher) StartJob(ctx context.Context, tenant, sess string, recipientIDs []string, spec MessageSpec, paceSeconds int) (string, error) {
	if tenant == "" || sess == "" {
		return "", errors.Wrap(ErrValidation, "tenant and session are required")
	}
	bodies := spec.EffectiveBodies()
	if len(bodies) == 0 {
		return "", errors.Wrap(ErrValidation, "message body is required")
	}
	if paceSeconds < 0 {
		return "", errors.Wrap(ErrValidation, "pace must not be negative")
	}

	tasks, err := d.src.ResolveRecipients(ctx, tenant, recipientIDs)
	if err != nil {
		return "", errors.Wrap(err, "resolve recipients")
	}

	job := &Job{
		ID:        common.UUIDString(),
		Tenant:    tenant,
		Key:       session.Key{Tenant: tenant, Session: sess},
		Pace:      time.Duration(paceSeconds) * time.Second,
		StartedAt: time.Now(),
	}
	job.status = JobRunning
	job.total = len(tasks)

	d.mu.Lock()
	d.jobs[job.ID] = job
	d.mu.Unlock()

	if err := d.pool.Submit(func() { d.run(job, tasks, bodies) }); err != nil {
		// Pool refused the walk; the job must not stay running forever.
		job.finish(JobCompleted)
		d.mu.Lock()
		delete(d.jobs, job.ID)
		d.mu.Unlock()
		return "", errors.Wrap(err, "submit job")
	}

	zap.L().Info("dispatch: job accepted",
		zap.String("job_id", job.ID),
		zap.String("key", job.Key.String()),
		zap.Int("recipients", len(tasks)),
		zap.Int("pace_seconds", paceSeconds))
	return job.ID, nil
}

// Status returns a snapshot of the job's counters.
func (d *Dispatcher) Status(jobID string) (JobView, error) {
	d.mu.RLock()
	job, ok := d.jobs[jobID]
	d.mu.RUnlock()
	if !ok {
		return JobView{}, ErrJobNotFound
	}
	return job.Snapshot(), nil
}

// Cancel flags a running job cancelled. Cancelling a terminal job is a
// no-op success.
func (d *Dispatcher) Cancel(jobID string) error {
	d.mu.RLock()
	job, ok := d.jobs[jobID]
	d.mu.RUnlock()
	if !ok {
		return ErrJobNotFound
	}
	job.Cancel()
	return nil
}

// Sweep evicts terminal jobs older than the retention TTL. Wired to a
// periodic application job; returns the evicted count.
func (d *Dispatcher) Sweep() int {
	cutoff := time.Now().Add(-d.jobTTL)
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for id, job := range d.jobs {
		if job.endedBefore(cutoff) {
			delete(d.jobs, id)
			n++
		}
	}
	return n
}

// Stop releases the worker pool.
func (d *Dispatcher) Stop() {
	d.pool.Release()
}

// run walks recipients strictly in input order. A single recipient's
// failure never aborts the walk; cancellation is observed once per
// iteration and in-flight sends finish.
func (d *Dispatcher) run(job *Job, tasks []RecipientTask, bodies []string) {
	for i, task := range tasks {
		if job.IsCancelled() {
			break
		}
		res := d.processRecipient(job, task, bodies)
		job.record(res)
		if res.Failed() {
			metrics.Incr(metrics.WhatsappMessageFailed)
		} else {
			metrics.Incr(metrics.WhatsappMessageSent)
		}
		if job.Pace > 0 && i < len(tasks)-1 && !job.IsCancelled() {
			time.Sleep(job.Pace)
		}
	}

	if job.IsCancelled() {
		job.finish(JobCancelled)
	} else {
		job.finish(JobCompleted)
	}

	view := job.Snapshot()
	zap.L().Info("dispatch: job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(view.Status)),
		zap.Int("completed", view.Completed),
		zap.Int("failed", view.Failed),
		zap.Int("total", view.Total))
	d.notifyDone(view)
}

// processRecipient sends every body to every destination address of
// one recipient. The recipient counts as completed only when all of
// its sends succeed.
func (d *Dispatcher) processRecipient(job *Job, task RecipientTask, bodies []string) SendResult {
	if task.NotFound {
		d.rec.WriteOutcome(job.ID, job.Key, task.RecipientID, "",
			domain.MessageStatusFailed, "", "recipient not found")
		return SendResult{RecipientID: task.RecipientID, Err: errors.New("recipient not found")}
	}

	addrs := make([]string, 0, len(task.Addresses))
	for _, a := range task.Addresses {
		if a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		d.rec.WriteOutcome(job.ID, job.Key, task.RecipientID, "",
			domain.MessageStatusFailed, "", "no destination address")
		return SendResult{RecipientID: task.RecipientID, Err: errors.New("no destination address")}
	}

	// Per-recipient bodies from the source override the job template.
	if len(task.Bodies) > 0 {
		bodies = task.Bodies
	}

	var firstErr error
	sends := 0
	totalSends := len(bodies) * len(addrs)
	for _, body := range bodies {
		for _, addr := range addrs {
			rendered := Render(body, task.Name, phone.BareNumber(addr))
			err := d.sendOne(job, task.RecipientID, addr, rendered)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			sends++
			// Pacing within a recipient, skipped after its last send.
			if d.intraDelay > 0 && sends < totalSends {
				time.Sleep(d.intraDelay)
			}
		}
	}
	return SendResult{RecipientID: task.RecipientID, Address: addrs[0], Err: firstErr}
}

// sendOne borrows the live handle fresh from the registry so that a
// session reconnecting mid-job is tolerated; the handle is never held
// across a pacing delay.
func (d *Dispatcher) sendOne(job *Job, recipientID, addr, body string) error {
	handle := d.reg.LiveHandle(job.Key)
	if handle == nil {
		d.rec.WriteOutcome(job.ID, job.Key, recipientID, addr,
			domain.MessageStatusFailed, body, session.ErrNotConnected.Error())
		return session.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()
	if err := handle.Send(ctx, addr, body); err != nil {
		zap.L().Warn("dispatch: send failed",
			zap.String("job_id", job.ID),
			zap.String("recipient", recipientID),
			zap.String("address", addr),
			zap.Error(err))
		d.rec.WriteOutcome(job.ID, job.Key, recipientID, addr,
			domain.MessageStatusFailed, body, err.Error())
		return err
	}

	d.reg.Touch(job.Key)
	d.rec.WriteOutcome(job.ID, job.Key, recipientID, addr,
		domain.MessageStatusSent, body, "")
	return nil
}

// notifyDone posts one best-effort completion notification; failures
// are logged and never affect the job outcome.
func (d *Dispatcher) notifyDone(view JobView) {
	if d.notifyURL == "" {
		return
	}
	err := gout.POST(d.notifyURL).
		SetJSON(view).
		SetTimeout(5 * time.Second).
		Do()
	if err != nil {
		zap.L().Warn("dispatch: completion notify failed",
			zap.String("job_id", view.ID), zap.Error(err))
	}
}
