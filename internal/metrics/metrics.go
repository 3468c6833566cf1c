// Package metrics registers the Prometheus collectors shared by the
// telemetry, actuator, and badge subsystems. Collectors live on the default
// registry and are exposed by the HTTP layer under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "companion_speed_samples_accepted_total",
		Help: "Speed samples that passed range validation and entered a bucket.",
	})
	samplesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "companion_speed_samples_rejected_total",
		Help: "Speed samples discarded as sensor noise (outside 0..15 km/h).",
	})
	bucketFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_bucket_flushes_total",
		Help: "Minute-bucket flushes partitioned by outcome.",
	}, []string{"outcome"})
	actuatorState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "companion_actuator_link_state",
		Help: "Current actuator link state (0 disconnected, 1 connecting, 2 connected).",
	})
	actuatorConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_actuator_connect_attempts_total",
		Help: "Actuator connect attempts partitioned by result.",
	}, []string{"result"})
	actuatorWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "companion_actuator_write_failures_total",
		Help: "Emotion writes that failed and dropped the link.",
	})
	encountersRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "companion_encounters_recorded_total",
		Help: "Proximity encounters durably recorded.",
	})
	badgesUnlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companion_badges_unlocked_total",
		Help: "Badge unlocks written, partitioned by badge identifier.",
	}, []string{"badge"})
)

func IncSampleAccepted() { samplesAccepted.Inc() }
func IncSampleRejected() { samplesRejected.Inc() }

// ObserveFlush records the outcome of one scheduler flush. Outcome is one
// of "aggregated", "empty", or "final".
func ObserveFlush(outcome string) { bucketFlushes.WithLabelValues(outcome).Inc() }

func SetLinkState(state int)          { actuatorState.Set(float64(state)) }
func IncConnectAttempt(result string) { actuatorConnects.WithLabelValues(result).Inc() }
func IncActuatorWriteFailure()        { actuatorWriteFailures.Inc() }
func IncEncounterRecorded()           { encountersRecorded.Inc() }
func IncBadgeUnlocked(badgeID string) { badgesUnlocked.WithLabelValues(badgeID).Inc() }
