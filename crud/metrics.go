/*
 * Copyright 2025 tomoncle.
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

package crud

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts manager operations, failed dispatches and schema
// introspections. A nil *Metrics records nothing.
type Metrics struct {
	operations     *prometheus.CounterVec
	dispatchMisses *prometheus.CounterVec
	introspections prometheus.Counter
}

// NewMetrics creates the collectors under namespace and registers them with
// reg when it is not nil.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "crud",
				Name:      "operations_total",
				Help:      "Total number of table manager operations",
			},
			[]string{"table", "operation", "result"},
		),
		dispatchMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "crud",
				Name:      "dispatch_misses_total",
				Help:      "Total number of calls to undefined manager methods",
			},
			[]string{"table"},
		),
		introspections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "crud",
				Name:      "schema_introspections_total",
				Help:      "Total number of table list loads from the database",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.dispatchMisses, m.introspections)
	}
	return m
}

func (m *Metrics) observe(table string, kind OperationKind, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(table, kind.Name(), result).Inc()
}

func (m *Metrics) dispatchMiss(table string) {
	if m == nil {
		return
	}
	m.dispatchMisses.WithLabelValues(table).Inc()
}

func (m *Metrics) introspection() {
	if m == nil {
		return
	}
	m.introspections.Inc()
}
