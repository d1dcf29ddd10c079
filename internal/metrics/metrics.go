// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the service's Prometheus metrics: the HTTP
// surface, the generation pipeline and the rate limiter.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jaycherian/gcp-go-media-metadata/internal/core/model"
)

const namespace = "media_metadata"

// Metrics holds the collectors. It implements workflow.Observer.
type Metrics struct {
	gatherer prometheus.Gatherer
	factory  promauto.Factory

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	jobsRequested   *prometheus.CounterVec
	jobsFinished    *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	quotaRejections *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return NewWith(reg, reg)
}

// NewWith registers the collectors on reg.
func NewWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		factory:  f,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		jobsRequested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_jobs_requested_total",
			Help:      "Generation requests by entity type; reused is true when a pending job was returned.",
		}, []string{"entity_type", "reused"}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_jobs_finished_total",
			Help:      "Finished generation jobs by entity type, status and error type.",
		}, []string{"entity_type", "status", "error_type"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_job_duration_seconds",
			Help:      "Worker time per generation job.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		}, []string{"entity_type", "status"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests refused by the adaptive limiter, by class.",
		}, []string{"class"}),
		quotaRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_quota_rejections_total",
			Help:      "Requests refused by plan quotas, by reason.",
		}, []string{"reason"}),
	}
}

// JobRequested counts a generation request.
func (m *Metrics) JobRequested(t model.EntityType, reused bool) {
	m.jobsRequested.WithLabelValues(string(t), strconv.FormatBool(reused)).Inc()
}

// JobFinished counts a finished job and records its duration.
func (m *Metrics) JobFinished(t model.EntityType, status model.JobStatus, errType model.ErrorType, elapsed time.Duration) {
	m.jobsFinished.WithLabelValues(string(t), string(status), string(errType)).Inc()
	m.jobDuration.WithLabelValues(string(t), string(status)).Observe(elapsed.Seconds())
}

// RateLimited counts a request refused by the adaptive limiter.
func (m *Metrics) RateLimited(class string) {
	m.rateLimited.WithLabelValues(class).Inc()
}

// QuotaRejected counts a request refused by a plan quota.
func (m *Metrics) QuotaRejected(reason string) {
	m.quotaRejections.WithLabelValues(reason).Inc()
}

// RegisterQueue exposes the generation queue depth and capacity.
func (m *Metrics) RegisterQueue(depth func() (int, int)) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "generation_queue_depth",
		Help:      "Tasks waiting in the in-process generation queue.",
	}, func() float64 {
		d, _ := depth()
		return float64(d)
	})
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "generation_queue_capacity",
		Help:      "Capacity of the in-process generation queue.",
	}, func() float64 {
		_, c := depth()
		return float64(c)
	})
}

// RegisterLoad exposes the limiter's load signal.
func (m *Metrics) RegisterLoad(load func() float64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "load_signal",
		Help:      "Load signal in [0,1] driving the adaptive rate limits.",
	}, load)
}

// Middleware records request counts and latency. Routes are labelled with
// their gin pattern, so slugs and job ids do not multiply label values.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
