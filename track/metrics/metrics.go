// Copyright 2019 The zbdba Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics publishes the tracker's operational counters through
// github.com/prometheus/client_golang. Nothing in the core control flow
// reads these back: they exist purely for external observability.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "pagetracker"

// Metrics bundles every collector the tracker updates. Construct one with
// New and register it with a prometheus.Registerer before serving /metrics.
type Metrics struct {
	FollowCycleDuration prometheus.Histogram
	BytesFlushed        prometheus.Counter
	BlocksWritten       prometheus.Counter
	FilesRotated        prometheus.Counter
	ChecksumFailures    prometheus.Counter
	PurgedFiles         prometheus.Counter
	TrackedLSN          prometheus.Gauge
}

// New constructs a Metrics with all collectors instantiated but not yet
// registered.
func New() *Metrics {
	return &Metrics{
		FollowCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "follow_cycle_duration_seconds",
			Help:      "Duration of one log follower cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		BytesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bitmap_bytes_flushed_total",
			Help:      "Total bytes written to bitmap files.",
		}),
		BlocksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bitmap_blocks_written_total",
			Help:      "Total bitmap blocks flushed.",
		}),
		FilesRotated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bitmap_files_rotated_total",
			Help:      "Total bitmap file rotations.",
		}),
		ChecksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_failures_total",
			Help:      "Total redo log block checksum failures detected by the log follower.",
		}),
		PurgedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_files_total",
			Help:      "Total bitmap files deleted by purge.",
		}),
		TrackedLSN: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_lsn",
			Help:      "The most recently published tracked LSN.",
		}),
	}
}

// MustRegister registers every collector with reg, panicking on a
// duplicate-registration error the way the prometheus client itself does
// for this kind of programmer error.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.FollowCycleDuration,
		m.BytesFlushed,
		m.BlocksWritten,
		m.FilesRotated,
		m.ChecksumFailures,
		m.PurgedFiles,
		m.TrackedLSN,
	)
}
