// Copyright 2025 The duesync Authors
// This file is part of the duesync library.
//
// The duesync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The duesync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the duesync library. If not, see <http://www.gnu.org/licenses/>.

package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics carries the pipeline instrumentation on a private registry, so
// tests and embedded use never collide with the default one.
type Metrics struct {
	reg *prometheus.Registry

	Lookups   prometheus.Counter
	Fetches   prometheus.Counter
	Probes    prometheus.Counter
	Unchanged prometheus.Counter
	Links     prometheus.Counter
	Lockouts  prometheus.Counter
	Failures  *prometheus.CounterVec
}

// NewMetrics registers the pipeline counters on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Lookups: factory.NewCounter(prometheus.CounterOpts{
			Name: "duesync_lookups_total",
			Help: "Invoice-to-declaration lookup calls issued.",
		}),
		Fetches: factory.NewCounter(prometheus.CounterOpts{
			Name: "duesync_fetches_total",
			Help: "Full declaration fetches persisted.",
		}),
		Probes: factory.NewCounter(prometheus.CounterOpts{
			Name: "duesync_probes_total",
			Help: "Revision probes issued by the refresh pipeline.",
		}),
		Unchanged: factory.NewCounter(prometheus.CounterOpts{
			Name: "duesync_unchanged_total",
			Help: "Probes whose remote revision matched the stored one.",
		}),
		Links: factory.NewCounter(prometheus.CounterOpts{
			Name: "duesync_links_total",
			Help: "Invoice bindings recorded.",
		}),
		Lockouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "duesync_lockouts_total",
			Help: "Upstream rate lock-outs observed.",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duesync_failures_total",
			Help: "Declarations skipped, by failure class.",
		}, []string{"class"}),
	}
}

// Registry exposes the backing registry for a scrape handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
