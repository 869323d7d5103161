// Package health serves the engine's /health report: live collection and
// document counts plus the state of the backing services (the store, and
// the Redis cache when one is configured).
//
// Probes are few and cheap, so they run sequentially with a short per-probe
// deadline rather than fanning out. A failing critical dependency (the
// store) takes the whole report down; a failing optional one (the cache,
// which searches bypass anyway) only degrades it.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const probeTimeout = 2 * time.Second

// EngineStats is the snapshot of the engine embedded in every report.
type EngineStats struct {
	Collections int `json:"collections"`
	Documents   int `json:"documents"`
}

// DependencyStatus is the probed state of one backing service.
type DependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report is the /health response body.
type Report struct {
	Status       string                      `json:"status"`
	Engine       EngineStats                 `json:"engine"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
	Timestamp    string                      `json:"timestamp"`
}

type probe struct {
	name     string
	critical bool
	check    func(ctx context.Context) error
}

// Checker assembles health reports for the engine.
type Checker struct {
	stats  func() EngineStats
	probes []probe
}

// NewChecker creates a Checker; stats supplies the engine snapshot and may
// be nil when no collection manager is attached (tests).
func NewChecker(stats func() EngineStats) *Checker {
	return &Checker{stats: stats}
}

// Probe registers a dependency check. Critical dependencies take the
// report to "down" when failing; optional ones only to "degraded".
func (c *Checker) Probe(name string, critical bool, check func(ctx context.Context) error) {
	c.probes = append(c.probes, probe{name: name, critical: critical, check: check})
}

// Run probes every dependency and aggregates the report.
func (c *Checker) Run(ctx context.Context) Report {
	report := Report{
		Status:       "up",
		Dependencies: make(map[string]DependencyStatus, len(c.probes)),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	if c.stats != nil {
		report.Engine = c.stats()
	}
	for _, p := range c.probes {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.check(probeCtx)
		cancel()
		if err == nil {
			report.Dependencies[p.name] = DependencyStatus{Status: "up"}
			continue
		}
		report.Dependencies[p.name] = DependencyStatus{Status: "down", Error: err.Error()}
		if p.critical {
			report.Status = "down"
		} else if report.Status == "up" {
			report.Status = "degraded"
		}
	}
	return report
}

// Handler serves the report; only a down report returns 503.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status == "down" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}
