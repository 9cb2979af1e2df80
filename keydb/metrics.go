/*
   openpgp-keychain - OpenPGP keyring construction and storage

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

package keydb

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var metrics = struct {
	replaced        prometheus.Counter
	fetched         prometheus.Counter
	deleted         prometheus.Counter
	cacheHits       prometheus.Counter
	replaceDuration prometheus.Histogram
}{
	replaced: prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "keychain",
			Subsystem: "keydb",
			Name:      "keyrings_replaced",
			Help:      "Count of keyring aggregates replaced since startup",
		},
	),
	fetched: prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "keychain",
			Subsystem: "keydb",
			Name:      "keyrings_fetched",
			Help:      "Count of keyring blobs fetched and parsed since startup",
		},
	),
	deleted: prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "keychain",
			Subsystem: "keydb",
			Name:      "keyrings_deleted",
			Help:      "Count of keyring aggregates deleted since startup",
		},
	),
	cacheHits: prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "keychain",
			Subsystem: "keydb",
			Name:      "fetch_cache_hits",
			Help:      "Count of fetches served from the decoded keyring cache",
		},
	),
	replaceDuration: prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "keychain",
			Subsystem: "keydb",
			Name:      "replace_duration_seconds",
			Help:      "Time spent replacing a keyring aggregate",
		},
	),
}

var metricsRegister sync.Once

func registerMetrics() {
	metricsRegister.Do(func() {
		prometheus.MustRegister(metrics.replaced)
		prometheus.MustRegister(metrics.fetched)
		prometheus.MustRegister(metrics.deleted)
		prometheus.MustRegister(metrics.cacheHits)
		prometheus.MustRegister(metrics.replaceDuration)
	})
}

func recordReplaceDuration(start time.Time) {
	metrics.replaceDuration.Observe(time.Since(start).Seconds())
}
