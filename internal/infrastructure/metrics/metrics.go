package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bridge metrics
var (
	// Persist cycle counters
	PersistsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wa",
			Subsystem: "bridge",
			Name:      "persists_total",
			Help:      "Total session persist cycles",
		},
		[]string{"trigger", "status"},
	)

	// Persist duration histogram
	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wa",
			Subsystem: "bridge",
			Name:      "persist_duration_seconds",
			Help:      "Session persist duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	// Archive size gauge
	ArchiveBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wa",
			Subsystem: "bridge",
			Name:      "archive_bytes",
			Help:      "Size of the most recent session archive in bytes",
		},
	)

	// Restore counter
	RestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wa",
			Subsystem: "bridge",
			Name:      "restores_total",
			Help:      "Total session restore attempts",
		},
		[]string{"outcome"},
	)

	// Watcher event counters
	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wa",
			Subsystem: "bridge",
			Name:      "watcher_events_total",
			Help:      "Filesystem change events observed by the watcher",
		},
		[]string{"result"},
	)

	// Media forwarding counters
	MediaUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wa",
			Subsystem: "bridge",
			Name:      "media_uploads_total",
			Help:      "Total media attachments forwarded to the file store",
		},
		[]string{"content_type", "status"},
	)

	MediaUploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wa",
			Subsystem: "bridge",
			Name:      "media_upload_bytes_total",
			Help:      "Total media bytes forwarded",
		},
		[]string{"content_type"},
	)
)

// RecordPersist records one persist cycle.
func RecordPersist(trigger, status string, durationSec float64, archiveBytes int64) {
	PersistsTotal.WithLabelValues(trigger, status).Inc()
	PersistDuration.Observe(durationSec)
	if status == "success" && archiveBytes > 0 {
		ArchiveBytes.Set(float64(archiveBytes))
	}
}

// RecordRestore records one restore attempt outcome.
func RecordRestore(outcome string) {
	RestoresTotal.WithLabelValues(outcome).Inc()
}

// RecordWatcherEvent records a queued or dropped change notification.
func RecordWatcherEvent(result string) {
	WatcherEventsTotal.WithLabelValues(result).Inc()
}

// RecordMediaUpload records a forwarded attachment.
func RecordMediaUpload(contentType, status string, bytes int64) {
	MediaUploadsTotal.WithLabelValues(contentType, status).Inc()
	if status == "success" {
		MediaUploadBytesTotal.WithLabelValues(contentType).Add(float64(bytes))
	}
}
