package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerRendersCountersAndHistograms(t *testing.T) {
	ObserveRequest("proxy", "GET", 200, 120*time.Millisecond)
	ObserveRequest("proxy", "GET", 200, 80*time.Millisecond)
	ObserveRequest("auth", "POST", 401, 10*time.Millisecond)
	Inc(CounterZombieKills)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `agentgate_http_requests_total{route="proxy",method="GET",code="200"} 2`) {
		t.Fatalf("request counter missing:\n%s", body)
	}
	if !strings.Contains(body, `agentgate_http_requests_total{route="auth",method="POST",code="401"} 1`) {
		t.Fatalf("auth counter missing:\n%s", body)
	}
	if !strings.Contains(body, `agentgate_http_request_duration_seconds_bucket{route="proxy",method="GET",le="+Inf"} 2`) {
		t.Fatalf("histogram missing:\n%s", body)
	}
	if !strings.Contains(body, "agentgate_zombie_kills_total 1") {
		t.Fatalf("lifecycle counter missing:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
}
