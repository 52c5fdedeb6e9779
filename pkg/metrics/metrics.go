// Package metrics keeps lightweight runtime counters in an embedded
// time-series store under the application workdir.
package metrics

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/nakabonne/tstorage"
)

const (
	WhatsappMessageSent    = "wagate_message_sent"
	WhatsappMessageFailed  = "wagate_message_failed"
	WhatsappMessageInbound = "wagate_message_inbound"
	WhatsappConnect        = "wagate_session_connect"
	WhatsappReconnect      = "wagate_session_reconnect"
	WhatsappLoggedOut      = "wagate_session_logged_out"
	SystemCpuUsage         = "wagate_system_cpu"
	SystemMemUsage         = "wagate_system_mem"
)

var (
	mu      sync.RWMutex
	storage tstorage.Storage
)

// InitMetrics opens the metric store under workdir/metrics.
func InitMetrics(workdir string) error {
	s, err := tstorage.NewStorage(
		tstorage.WithDataPath(filepath.Join(workdir, "metrics")),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithRetention(time.Hour*24*7),
	)
	if err != nil {
		return err
	}
	mu.Lock()
	storage = s
	mu.Unlock()
	return nil
}

// Incr records a single occurrence of the named metric.
func Incr(name string, labels ...tstorage.Label) {
	Gauge(name, 1, labels...)
}

// Gauge records a value for the named metric at the current time.
// A nil store (metrics disabled) is a no-op.
func Gauge(name string, value float64, labels ...tstorage.Label) {
	mu.RLock()
	s := storage
	mu.RUnlock()
	if s == nil {
		return
	}
	_ = s.InsertRows([]tstorage.Row{{
		Metric:    name,
		Labels:    labels,
		DataPoint: tstorage.DataPoint{Timestamp: time.Now().Unix(), Value: value},
	}})
}

// Select returns raw datapoints for a metric within [start, end].
func Select(name string, start, end int64, labels ...tstorage.Label) ([]*tstorage.DataPoint, error) {
	mu.RLock()
	s := storage
	mu.RUnlock()
	if s == nil {
		return nil, nil
	}
	return s.Select(name, labels, start, end)
}

// Close flushes and closes the metric store.
func Close() error {
	mu.Lock()
	s := storage
	storage = nil
	mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}
