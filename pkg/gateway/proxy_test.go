package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker()

	for i := 0; i < breakerFailureThreshold-1; i++ {
		cb.recordFailure("storage")
		if cb.Open("storage") {
			t.Fatalf("breaker open after %d failures, want closed until threshold %d", i+1, breakerFailureThreshold)
		}
	}

	cb.recordFailure("storage")
	if !cb.Open("storage") {
		t.Fatal("breaker should be open after reaching the failure threshold")
	}
}

func TestCircuitBreakerResetsOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker()
	for i := 0; i < breakerFailureThreshold; i++ {
		cb.recordFailure("storage")
	}
	if !cb.Open("storage") {
		t.Fatal("breaker should be open")
	}

	cb.recordSuccess("storage")
	if cb.Open("storage") {
		t.Fatal("breaker should close after a recorded success")
	}
}

func TestCircuitBreakerIsPerRoute(t *testing.T) {
	cb := NewCircuitBreaker()
	for i := 0; i < breakerFailureThreshold; i++ {
		cb.recordFailure("storage")
	}
	if !cb.Open("storage") {
		t.Fatal("storage breaker should be open")
	}
	if cb.Open("db") {
		t.Fatal("db breaker should be unaffected by storage's failures")
	}
}

func TestRouterServesServiceUnavailableWhenBreakerOpen(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	router, err := NewRouter([]UpstreamRoute{{RouteBase: "storage", TargetURL: upstream.URL}})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	for i := 0; i < breakerFailureThreshold; i++ {
		router.Breaker.recordFailure("storage")
	}

	req := httptest.NewRequest(http.MethodGet, "/storage/buckets/a", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when breaker is open", w.Code)
	}
}

func TestCircuitBreakerCooldownElapses(t *testing.T) {
	cb := NewCircuitBreaker()
	for i := 0; i < breakerFailureThreshold; i++ {
		cb.recordFailure("storage")
	}
	s := cb.state("storage")
	s.openedAt = time.Now().Add(-breakerCooldown - time.Second)

	if cb.Open("storage") {
		t.Fatal("breaker should allow a trial request once the cooldown has elapsed")
	}
}
