// Package health exposes liveness and readiness of the pipeline's
// dependencies over HTTP.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckResult is one probe outcome.
type CheckResult struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Manager runs registered checkers on demand and caches the last result.
type Manager struct {
	mu       sync.Mutex
	checkers []Checker
	last     map[string]CheckResult
	timeout  time.Duration
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		last:    make(map[string]CheckResult),
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// CheckAll probes every registered checker and reports overall health.
func (m *Manager) CheckAll(ctx context.Context) (bool, []CheckResult) {
	m.mu.Lock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	timeout := m.timeout
	m.mu.Unlock()

	healthy := true
	results := make([]CheckResult, 0, len(checkers))
	for _, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Check(cctx)
		cancel()

		result := CheckResult{Name: c.Name(), Healthy: err == nil, CheckedAt: time.Now().UTC()}
		if err != nil {
			result.Error = err.Error()
			healthy = false
			m.logger.Warn("Health check failed", zap.String("check", c.Name()), zap.Error(err))
		}
		results = append(results, result)

		m.mu.Lock()
		m.last[c.Name()] = result
		m.mu.Unlock()
	}
	return healthy, results
}

// RegisterRoutes mounts /health (liveness, always 200 while the process
// runs) and /readiness (503 until every dependency answers).
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readiness", func(w http.ResponseWriter, r *http.Request) {
		healthy, results := m.CheckAll(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"healthy": healthy,
			"checks":  results,
		})
	})
}

// SessionsDirChecker verifies the session store is writable.
type SessionsDirChecker struct {
	Dir string
}

func (c SessionsDirChecker) Name() string { return "sessions_dir" }

func (c SessionsDirChecker) Check(_ context.Context) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	probe := filepath.Join(c.Dir, ".health")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("sessions dir not writable: %w", err)
	}
	return os.Remove(probe)
}

// HTTPChecker verifies an upstream HTTP service answers at all.
type HTTPChecker struct {
	CheckName string
	URL       string
	Client    *http.Client
}

func (c HTTPChecker) Name() string { return c.CheckName }

func (c HTTPChecker) Check(ctx context.Context) error {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned %d", c.URL, resp.StatusCode)
	}
	return nil
}
