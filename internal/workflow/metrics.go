package workflow

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Stage names one network round-trip of a workflow.
type Stage string

const (
	StageIngest   Stage = "ingest"
	StageRFP      Stage = "rfp_upload"
	StageGenerate Stage = "generate"
)

// latencyWindow bounds the samples kept per stage; p95 covers the most
// recent requests.
const latencyWindow = 512

// Metrics keeps in-process outcome counters per stage.
type Metrics struct {
	mu     sync.Mutex
	stages map[Stage]*stageCounters
}

type stageCounters struct {
	success   int
	failure   int
	latencies []time.Duration
	next      int
}

func (c *stageCounters) observe(latency time.Duration) {
	if len(c.latencies) < latencyWindow {
		c.latencies = append(c.latencies, latency)
		return
	}
	c.latencies[c.next] = latency
	c.next = (c.next + 1) % latencyWindow
}

// StageKPI summarizes one stage.
type StageKPI struct {
	Success      int     `json:"success"`
	Failures     int     `json:"failures"`
	SuccessRate  float64 `json:"success_rate"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
}

func NewMetrics() *Metrics {
	return &Metrics{stages: make(map[Stage]*stageCounters)}
}

// Record adds one finished request.
func (m *Metrics) Record(stage Stage, ok bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, found := m.stages[stage]
	if !found {
		c = &stageCounters{}
		m.stages[stage] = c
	}
	if ok {
		c.success++
	} else {
		c.failure++
	}
	if latency > 0 {
		c.observe(latency)
	}
}

// Snapshot returns the KPIs of every stage seen so far.
func (m *Metrics) Snapshot() map[Stage]StageKPI {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Stage]StageKPI, len(m.stages))
	for stage, c := range m.stages {
		kpi := StageKPI{Success: c.success, Failures: c.failure}
		if total := c.success + c.failure; total > 0 {
			kpi.SuccessRate = float64(c.success) / float64(total)
		}
		if len(c.latencies) > 0 {
			durations := append([]time.Duration(nil), c.latencies...)
			sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
			index := int(math.Round(0.95 * float64(len(durations)-1)))
			kpi.P95LatencyMs = float64(durations[index].Milliseconds())
		}
		out[stage] = kpi
	}
	return out
}
