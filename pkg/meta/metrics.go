/*
 * JuiceFS, Copyright 2020 Juicedata, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package meta

import "github.com/prometheus/client_golang/prometheus"

// opDist times every operation by name, mirroring the teacher's own
// latency histogram for its Meta interface calls.
var opDist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "lizardmeta_op_duration_seconds",
	Help:    "Distribution of operation latency.",
	Buckets: prometheus.ExponentialBuckets(1e-5, 2, 24),
}, []string{"op"})

var changelogEmitted = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "lizardmeta_changelog_records_total",
	Help: "Total changelog records emitted by this engine as master.",
})

var checksumMismatches = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "lizardmeta_checksum_mismatches_total",
	Help: "Total checksum mismatches detected during replay or background recalculation.",
})

var dumpResult = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "lizardmeta_dump_total",
	Help: "Image dump attempts by outcome.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(opDist, changelogEmitted, checksumMismatches, dumpResult)
}

// Collectors exposes the package's prometheus collectors so cmd/master can
// register them against its own registry instead of the global default
// one, if it prefers (spec §10 observability carried as ambient stack).
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{opDist, changelogEmitted, checksumMismatches, dumpResult}
}
