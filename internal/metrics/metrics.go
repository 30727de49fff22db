// Package metrics exposes switcher health and command counters to
// Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/m-lange/puretools-remote/internal/puretools"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "puretools"

// Result label values
const (
	ResultOK          = "ok"
	ResultUnreachable = "unreachable"
	ResultError       = "error"
	ResultIgnored     = "ignored"
	ResultReadOnly    = "read_only"
)

// Collector holds every bridge metric. A nil *Collector is valid and
// records nothing.
type Collector struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pollSuccess     *prometheus.GaugeVec
	activeInput     *prometheus.GaugeVec
	autoMode        *prometheus.GaugeVec
	commands        *prometheus.CounterVec
}

// NewCollector creates the collectors and registers them with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_requests_total",
			Help:      "HTTP requests sent to switchers",
		}, []string{"device", "endpoint", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "device_request_duration_seconds",
			Help:      "Latency of switcher HTTP requests",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"device", "endpoint"}),
		pollSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_success",
			Help:      "Last poll success (1=ok, 0=error)",
		}, []string{"device"}),
		activeInput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_input",
			Help:      "Active HDMI input (1-4, 0 if unknown)",
		}, []string{"device"}),
		autoMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auto_mode",
			Help:      "Auto-switching mode (1=on, 0=off)",
		}, []string{"device"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands received for switchers",
		}, []string{"device", "command", "result"}),
	}

	reg.MustRegister(c.requests, c.requestDuration, c.pollSuccess, c.activeInput, c.autoMode, c.commands)
	return c
}

// NewRegistry returns a registry with the Go runtime and process collectors
// plus the bridge collectors
func NewRegistry() (*prometheus.Registry, *Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, NewCollector(reg)
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// RequestHook returns a client hook that records requests for device
func (c *Collector) RequestHook(device string) puretools.RequestHook {
	return func(path string, elapsed time.Duration, err error) {
		c.ObserveRequest(device, path, elapsed, err)
	}
}

// ObserveRequest records one device request
func (c *Collector) ObserveRequest(device, path string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	endpoint := strings.TrimPrefix(path, "/")
	c.requests.WithLabelValues(device, endpoint, resultOf(err)).Inc()
	c.requestDuration.WithLabelValues(device, endpoint).Observe(elapsed.Seconds())
}

// SetPollResult records whether the last poll of device succeeded
func (c *Collector) SetPollResult(device string, ok bool) {
	if c == nil {
		return
	}
	c.pollSuccess.WithLabelValues(device).Set(boolValue(ok))
}

// SetDeviceState records the active input and auto mode of device
func (c *Collector) SetDeviceState(device string, input int, auto bool) {
	if c == nil {
		return
	}
	c.activeInput.WithLabelValues(device).Set(float64(input))
	c.autoMode.WithLabelValues(device).Set(boolValue(auto))
}

// CountCommand records a command and its outcome
func (c *Collector) CountCommand(device, command, result string) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(device, command, result).Inc()
}

// Forget drops every series of device
func (c *Collector) Forget(device string) {
	if c == nil {
		return
	}
	match := prometheus.Labels{"device": device}
	c.requests.DeletePartialMatch(match)
	c.requestDuration.DeletePartialMatch(match)
	c.pollSuccess.DeletePartialMatch(match)
	c.activeInput.DeletePartialMatch(match)
	c.autoMode.DeletePartialMatch(match)
	c.commands.DeletePartialMatch(match)
}

// ResultOf maps a command error to a result label
func ResultOf(err error) string {
	return resultOf(err)
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, puretools.ErrCannotConnect):
		return ResultUnreachable
	default:
		return ResultError
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
