// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package metrics exposes counters about the frames seen on the serial line.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ffutop/modbus-rtu-slave/modbus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame results.
const (
	ResultOK              = "ok"
	ResultCRCError        = "crc_error"
	ResultIgnored         = "ignored"
	ResultTooLong         = "too_long"
	ResultIllegalFunction = "illegal_function"
	ResultTimeout         = "timeout"
	ResultOverflow        = "overflow"
)

// Response kinds.
const (
	KindNormal    = "normal"
	KindException = "exception"
)

var frameResults = []string{
	ResultOK, ResultCRCError, ResultIgnored, ResultTooLong,
	ResultIllegalFunction, ResultTimeout, ResultOverflow,
}

// Metrics holds the collectors of one server. All methods are safe on a nil
// receiver, which records nothing.
type Metrics struct {
	reg         *prometheus.Registry
	frames      *prometheus.CounterVec
	responses   *prometheus.CounterVec
	exceptions  *prometheus.CounterVec
	lastRequest prometheus.Gauge
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modbus_rtu_frames_total",
				Help: "Inbound frames by outcome",
			},
			[]string{"result"}),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modbus_rtu_responses_total",
				Help: "Responses written to the line",
			},
			[]string{"kind"}),
		exceptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modbus_rtu_exceptions_total",
				Help: "Exception responses by exception code",
			},
			[]string{"code"}),
		lastRequest: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modbus_rtu_last_request_timestamp_seconds",
			Help: "Time when the last valid request was received, in unixtime",
		}),
	}
	m.reg.MustRegister(m.frames)
	m.reg.MustRegister(m.responses)
	m.reg.MustRegister(m.exceptions)
	m.reg.MustRegister(m.lastRequest)
	// Instantiate the counters to zero
	for _, label := range frameResults {
		m.frames.WithLabelValues(label)
	}
	for _, label := range []string{KindNormal, KindException} {
		m.responses.WithLabelValues(label)
	}

	m.reg.MustRegister(collectors.NewBuildInfoCollector())
	m.reg.MustRegister(collectors.NewGoCollector())
	return m
}

// Frame records the outcome of one inbound frame.
func (m *Metrics) Frame(result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.lastRequest.Set(float64(time.Now().UnixNano()) / 1e9)
	}
}

// Response records a normal response.
func (m *Metrics) Response() {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(KindNormal).Inc()
}

// Exception records an exception response.
func (m *Metrics) Exception(code modbus.ExceptionCode) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(KindException).Inc()
	m.exceptions.WithLabelValues(strconv.Itoa(int(code))).Inc()
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
