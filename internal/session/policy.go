package session

import (
	"time"

	"github.com/talkincode/wagate/config"
)

// Policy collects the tunable durations and thresholds of the
// supervisor. Empirically tuned values live in configuration, not in
// code.
type Policy struct {
	// ConnectWait bounds how long Connect blocks on an in-flight
	// attempt for the same key before returning ErrBusy.
	ConnectWait time.Duration
	// DialTimeout bounds credential load plus transport dial.
	DialTimeout time.Duration
	// Keepalive is the ping interval on a connected session.
	Keepalive time.Duration
	// PingTimeout bounds one keep-alive probe.
	PingTimeout time.Duration
	// HealthInterval is the health-check loop interval.
	HealthInterval time.Duration
	// HealthGrace suppresses health readings on freshly opened sockets.
	HealthGrace time.Duration
	// HealthThreshold is the number of consecutive unhealthy readings
	// that escalates to a reconnect.
	HealthThreshold int
	// BackoffLadder is the escalating generic reconnect delay
	// sequence; the final entry repeats indefinitely.
	BackoffLadder []time.Duration
	// TransientDelay is the fixed single-retry delay for known
	// transient service errors (longer than the early ladder tiers to
	// respect upstream rate limits).
	TransientDelay time.Duration
	// TransientCodes are the close codes classified as transient.
	TransientCodes map[int]bool
}

// DefaultTransientCodes mirrors the upstream service error codes that
// historically resolve on a single spaced retry.
func DefaultTransientCodes() map[int]bool {
	return map[int]bool{408: true, 429: true, 500: true, 503: true}
}

func DefaultPolicy() Policy {
	return Policy{
		ConnectWait:     30 * time.Second,
		DialTimeout:     20 * time.Second,
		Keepalive:       4 * time.Minute,
		PingTimeout:     10 * time.Second,
		HealthInterval:  time.Minute,
		HealthGrace:     2 * time.Minute,
		HealthThreshold: 3,
		BackoffLadder: []time.Duration{
			5 * time.Second, 15 * time.Second, 30 * time.Second,
			60 * time.Second, 120 * time.Second,
		},
		TransientDelay: time.Minute,
		TransientCodes: DefaultTransientCodes(),
	}
}

// PolicyFromConfig builds a Policy from the application configuration,
// filling gaps from the defaults.
func PolicyFromConfig(cfg config.WhatsappConfig) Policy {
	p := DefaultPolicy()
	if cfg.ConnectWaitSec > 0 {
		p.ConnectWait = time.Duration(cfg.ConnectWaitSec) * time.Second
	}
	if cfg.KeepaliveSec > 0 {
		p.Keepalive = time.Duration(cfg.KeepaliveSec) * time.Second
	}
	if cfg.HealthIntervalSec > 0 {
		p.HealthInterval = time.Duration(cfg.HealthIntervalSec) * time.Second
	}
	if cfg.HealthGraceSec > 0 {
		p.HealthGrace = time.Duration(cfg.HealthGraceSec) * time.Second
	}
	if cfg.HealthThreshold > 0 {
		p.HealthThreshold = cfg.HealthThreshold
	}
	if len(cfg.BackoffLadderSec) > 0 {
		ladder := make([]time.Duration, 0, len(cfg.BackoffLadderSec))
		for _, s := range cfg.BackoffLadderSec {
			ladder = append(ladder, time.Duration(s)*time.Second)
		}
		p.BackoffLadder = ladder
	}
	if cfg.TransientDelaySec > 0 {
		p.TransientDelay = time.Duration(cfg.TransientDelaySec) * time.Second
	}
	return p
}

// BackoffDelay returns the generic reconnect delay for a 1-based
// attempt count, clamped to the ladder's final tier.
func (p Policy) BackoffDelay(attempt int) time.Duration {
	if len(p.BackoffLadder) == 0 {
		return 30 * time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(p.BackoffLadder) {
		attempt = len(p.BackoffLadder)
	}
	return p.BackoffLadder[attempt-1]
}

// IsTransient reports whether a close code belongs to the transient
// backoff tier.
func (p Policy) IsTransient(code int) bool {
	return p.TransientCodes[code]
}
