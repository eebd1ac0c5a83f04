package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	jobsStartedTotal         atomic.Uint64
	jobsCompletedTotal       atomic.Uint64
	jobsCompletedCachedTotal atomic.Uint64
	jobsFailedTotal          atomic.Uint64

	jobsReceivedTotal             atomic.Uint64
	jobsDeletedUnrecoverableTotal atomic.Uint64

	guardDeniedTotal      atomic.Uint64
	providerAttemptsTotal atomic.Uint64
	providerOverloadTotal atomic.Uint64
	deliveryFallbackTotal atomic.Uint64
	deliveryFailedTotal   atomic.Uint64

	jobDuration = newHistogram([]float64{250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000, 180000})
)

// IncJobStarted increments the started counter.
func IncJobStarted() { jobsStartedTotal.Add(1) }

// IncJobCompleted increments the completed counter.
func IncJobCompleted() { jobsCompletedTotal.Add(1) }

// IncJobCompletedCached increments the cache-hit completion counter.
func IncJobCompletedCached() { jobsCompletedCachedTotal.Add(1) }

// IncJobFailed increments the failed counter.
func IncJobFailed() { jobsFailedTotal.Add(1) }

// IncJobsReceived counts queue messages picked up by the worker.
func IncJobsReceived() { jobsReceivedTotal.Add(1) }

// IncJobsDeletedUnrecoverable counts queue messages dropped as unparseable.
func IncJobsDeletedUnrecoverable() { jobsDeletedUnrecoverableTotal.Add(1) }

// IncGuardDenied counts admissions rejected by the guard.
func IncGuardDenied() { guardDeniedTotal.Add(1) }

// IncProviderAttempt counts individual HTTP attempts against the provider.
func IncProviderAttempt() { providerAttemptsTotal.Add(1) }

// IncProviderOverloaded counts jobs that exhausted retries on a transient condition.
func IncProviderOverloaded() { providerOverloadTotal.Add(1) }

// IncDeliveryFallback counts reply deliveries that fell back to push.
func IncDeliveryFallback() { deliveryFallbackTotal.Add(1) }

// IncDeliveryFailed counts jobs whose delivery exhausted both paths.
func IncDeliveryFailed() { deliveryFailedTotal.Add(1) }

// ObserveJobDurationMs records an end-to-end job duration in milliseconds.
func ObserveJobDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	jobDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "jobs_started_total", "Total jobs started", jobsStartedTotal.Load())
	writeCounter(&buf, "jobs_completed_total", "Total jobs completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "jobs_completed_cached_total", "Total jobs completed from cache", jobsCompletedCachedTotal.Load())
	writeCounter(&buf, "jobs_failed_total", "Total jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "jobs_received_total", "Total queue messages received", jobsReceivedTotal.Load())
	writeCounter(&buf, "jobs_deleted_unrecoverable_total", "Total queue messages dropped as unrecoverable", jobsDeletedUnrecoverableTotal.Load())
	writeCounter(&buf, "guard_denied_total", "Total admissions denied by the guard", guardDeniedTotal.Load())
	writeCounter(&buf, "provider_attempts_total", "Total HTTP attempts against the analysis provider", providerAttemptsTotal.Load())
	writeCounter(&buf, "provider_overloaded_total", "Total jobs that saw the provider overloaded", providerOverloadTotal.Load())
	writeCounter(&buf, "delivery_fallback_total", "Total reply deliveries that fell back to push", deliveryFallbackTotal.Load())
	writeCounter(&buf, "delivery_failed_total", "Total deliveries that exhausted both paths", deliveryFailedTotal.Load())
	writeHistogram(&buf, "job_duration_ms", "Job duration in milliseconds", jobDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// NowMillis returns current time in milliseconds for duration bookkeeping.
func NowMillis() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
