package telemetryingest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FullQueuePolicy selects the behavior when Enqueue is called against a
// full queue.
type FullQueuePolicy string

const (
	// PolicyReject rejects the new envelope (caller responds 429).
	PolicyReject FullQueuePolicy = "reject"
	// PolicyOverwriteOldest drops the oldest queued envelope to make room.
	PolicyOverwriteOldest FullQueuePolicy = "overwrite_oldest"
)

// Metrics distinguishes the two full-queue outcomes for observability.
type Metrics struct {
	Rejected *prometheus.CounterVec
	Depth    prometheus.Gauge
}

// NewMetrics registers the ingestion queue metric family.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tansucloud", Subsystem: "telemetry", Name: "ingest_queue_full_total",
			Help: "Envelopes rejected or evicted due to a full ingestion queue, by outcome.",
		}, []string{"outcome"}),
		Depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tansucloud", Subsystem: "telemetry", Name: "ingest_queue_depth",
			Help: "Current depth of the telemetry ingestion queue.",
		}),
	}
	reg.MustRegister(m.Rejected, m.Depth)
	return m
}

// Queue is a bounded in-process FIFO of pending envelopes awaiting
// persistence, exposing depth and an explicit reject-or-overwrite-oldest
// full-queue policy.
type Queue struct {
	mu       sync.Mutex
	items    []Envelope
	capacity int
	policy   FullQueuePolicy
	metrics  *Metrics
	notify   chan struct{}
}

// NewQueue creates a Queue with the given bounded capacity and full-queue
// policy.
func NewQueue(capacity int, policy FullQueuePolicy, metrics *Metrics) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{
		items:    make([]Envelope, 0, capacity),
		capacity: capacity,
		policy:   policy,
		metrics:  metrics,
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue adds e to the queue. It returns false if the queue was full and
// the policy is PolicyReject.
func (q *Queue) Enqueue(e Envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		switch q.policy {
		case PolicyOverwriteOldest:
			q.items = q.items[1:]
			if q.metrics != nil {
				q.metrics.Rejected.WithLabelValues("overwrite_oldest").Inc()
			}
		default:
			if q.metrics != nil {
				q.metrics.Rejected.WithLabelValues("reject").Inc()
			}
			return false
		}
	}

	q.items = append(q.items, e)
	if q.metrics != nil {
		q.metrics.Depth.Set(float64(len(q.items)))
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return true
}

// GetDepth returns the current queue length.
func (q *Queue) GetDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DrainBatch removes and returns up to n items from the head of the queue.
func (q *Queue) DrainBatch(n int) []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	batch := append([]Envelope(nil), q.items[:n]...)
	q.items = q.items[n:]

	if q.metrics != nil {
		q.metrics.Depth.Set(float64(len(q.items)))
	}
	return batch
}

// Notify returns a channel that receives a value whenever an item is
// enqueued, for a worker to wake on.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}
