// Package metrics exposes gateway counters in Prometheus text exposition
// format without pulling in a client library.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	route  string
	method string
	code   string
}

type latencyKey struct {
	route  string
	method string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	latency  map[latencyKey]*histogram
	counters map[string]uint64
}

var gatewayCollector = &collector{
	requests: make(map[requestKey]uint64),
	latency:  make(map[latencyKey]*histogram),
	counters: make(map[string]uint64),
}

// ObserveRequest records one proxied or handled HTTP request.
func ObserveRequest(route, method string, status int, duration time.Duration) {
	gatewayCollector.observeRequest(route, method, status, duration)
}

// Counter names for gateway lifecycle events.
const (
	CounterProcessStarts  = "process_starts"
	CounterStartupFails   = "startup_failures"
	CounterZombieKills    = "zombie_kills"
	CounterAuthGranted    = "auth_granted"
	CounterAuthRejected   = "auth_rejected"
	CounterRelaySessions  = "relay_sessions"
	CounterRelayRewrites  = "relay_close_rewrites"
	CounterTenantResolved = "tenant_resolutions"
)

// Inc increments a named lifecycle counter.
func Inc(name string) {
	gatewayCollector.mu.Lock()
	gatewayCollector.counters[name]++
	gatewayCollector.mu.Unlock()
}

func (c *collector) observeRequest(route, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{route: route, method: method, code: strconv.Itoa(status)}]++

	key := latencyKey{route: route, method: method}
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 90}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
	// Values beyond the last bound land only in the +Inf bucket via h.count.
}

// Handler serves the current metric snapshot.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, gatewayCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type requestMetric struct {
		requestKey
		value uint64
	}
	type latencyMetric struct {
		latencyKey
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}

	reqs := make([]requestMetric, 0, len(c.requests))
	for key, value := range c.requests {
		reqs = append(reqs, requestMetric{requestKey: key, value: value})
	}
	lats := make([]latencyMetric, 0, len(c.latency))
	for key, hist := range c.latency {
		lats = append(lats, latencyMetric{
			latencyKey: key,
			buckets:    append([]float64(nil), hist.buckets...),
			counts:     append([]uint64(nil), hist.counts...),
			sum:        hist.sum,
			count:      hist.count,
		})
	}
	names := make([]string, 0, len(c.counters))
	for name := range c.counters {
		names = append(names, name)
	}

	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].route == reqs[j].route {
			if reqs[i].method == reqs[j].method {
				return reqs[i].code < reqs[j].code
			}
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].route < reqs[j].route
	})
	sort.Slice(lats, func(i, j int) bool {
		if lats[i].route == lats[j].route {
			return lats[i].method < lats[j].method
		}
		return lats[i].route < lats[j].route
	})
	sort.Strings(names)

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP agentgate_http_requests_total Total number of HTTP requests handled by the gateway.\n")
	builder.WriteString("# TYPE agentgate_http_requests_total counter\n")
	for _, metric := range reqs {
		builder.WriteString(fmt.Sprintf("agentgate_http_requests_total{route=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(metric.route), escape(metric.method), escape(metric.code), metric.value))
	}

	builder.WriteString("# HELP agentgate_http_request_duration_seconds HTTP request duration in seconds.\n")
	builder.WriteString("# TYPE agentgate_http_request_duration_seconds histogram\n")
	for _, metric := range lats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("agentgate_http_request_duration_seconds_bucket{route=\"%s\",method=\"%s\",le=\"%s\"} %d\n",
				escape(metric.route), escape(metric.method), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("agentgate_http_request_duration_seconds_bucket{route=\"%s\",method=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.route), escape(metric.method), metric.count))
		builder.WriteString(fmt.Sprintf("agentgate_http_request_duration_seconds_sum{route=\"%s\",method=\"%s\"} %s\n",
			escape(metric.route), escape(metric.method), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("agentgate_http_request_duration_seconds_count{route=\"%s\",method=\"%s\"} %d\n",
			escape(metric.route), escape(metric.method), metric.count))
	}

	for _, name := range names {
		builder.WriteString(fmt.Sprintf("# HELP agentgate_%s_total Total %s observed by the gateway.\n", name, strings.ReplaceAll(name, "_", " ")))
		builder.WriteString(fmt.Sprintf("# TYPE agentgate_%s_total counter\n", name))
		builder.WriteString(fmt.Sprintf("agentgate_%s_total %d\n", name, c.counters[name]))
	}

	return builder.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer runs a standalone /metrics endpoint until ctx is cancelled.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
