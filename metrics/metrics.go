// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository at
// https://github.com/hyperledger-labs/perun-appchannel
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

// Package metrics exposes prometheus collectors for the protocol runs of a
// node. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "appchannel"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector records protocol runs and dropped messages.
type Collector struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	dropped  *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_runs_total",
			Help:      "Protocol runs by protocol, role and result.",
		}, []string{"protocol", "role", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "protocol_duration_seconds",
			Help:      "Duration of protocol runs.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"protocol", "role"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "protocols_in_flight",
			Help:      "Protocol runs not yet completed.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Inbound messages dropped by reason.",
		}, []string{"reason"}),
	}
	for _, col := range []prometheus.Collector{c.runs, c.duration, c.inFlight, c.dropped} {
		if err := reg.Register(col); err != nil {
			return nil, errors.Wrap(err, "registering collector")
		}
	}
	return c, nil
}

// StartRun records the start of a protocol run. The returned function
// records its completion with the error of the run.
func (c *Collector) StartRun(protocol, role string) (done func(error)) {
	if c == nil {
		return func(error) {}
	}
	started := time.Now()
	c.inFlight.Inc()
	return func(err error) {
		c.inFlight.Dec()
		result := ResultSuccess
		if err != nil {
			result = ResultFailure
		}
		c.runs.WithLabelValues(protocol, role, result).Inc()
		c.duration.WithLabelValues(protocol, role).Observe(time.Since(started).Seconds())
	}
}

// DroppedMessage records an inbound message that was not processed.
func (c *Collector) DroppedMessage(reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(reason).Inc()
}

// Handler serves the metrics gathered by g in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
