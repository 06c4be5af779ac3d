package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker tracks per-component readiness for the health endpoints
// on the metrics server. The service is ready once every registered
// component is.
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]bool
	startTime  time.Time
}

// NewHealthChecker registers the named components, all starting not
// ready.
func NewHealthChecker(components ...string) *HealthChecker {
	c := make(map[string]bool, len(components))
	for _, name := range components {
		c[name] = false
	}
	return &HealthChecker{
		components: c,
		startTime:  time.Now(),
	}
}

// SetReady marks one component up or down. An unknown name registers
// on first use.
func (h *HealthChecker) SetReady(component string, ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[component] = ready
}

// SetAllNotReady marks every component down, used when shutdown begins.
func (h *HealthChecker) SetAllNotReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name := range h.components {
		h.components[name] = false
	}
}

// IsReady reports whether every registered component is ready.
func (h *HealthChecker) IsReady() bool {
	return len(h.notReady()) == 0
}

func (h *HealthChecker) notReady() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var down []string
	for name, ready := range h.components {
		if !ready {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	return down
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 if every component is ready, 503
// with the components still waited on otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	down := h.notReady()
	if len(down) == 0 {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "not_ready",
		"waiting_on": down,
	})
}
