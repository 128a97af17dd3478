package importer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Counts is one kind's outcome tally for the end-of-run summary.
type Counts struct {
	Fetched  int
	Imported int
	Skipped  int
	Failed   int
}

// Metrics counts pipeline outcomes per object kind, exported through
// Prometheus and snapshotted in process for the console summary.
type Metrics struct {
	fetched  *prometheus.CounterVec
	imported *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	failed   *prometheus.CounterVec
	pages    *prometheus.CounterVec

	mu     sync.Mutex
	counts map[string]*Counts
}

// NewMetrics builds the counter set and registers it when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoport",
			Name:      "objects_fetched_total",
			Help:      "Objects read from the source API, before dedup filtering.",
		}, []string{"kind"}),
		imported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoport",
			Name:      "objects_imported_total",
			Help:      "Objects persisted successfully.",
		}, []string{"kind"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoport",
			Name:      "objects_skipped_total",
			Help:      "Objects skipped: already imported, parent missing, or unhandled.",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoport",
			Name:      "objects_failed_total",
			Help:      "Objects whose import failed terminally.",
		}, []string{"kind"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoport",
			Name:      "pages_fetched_total",
			Help:      "Collection pages fetched from the source API.",
		}, []string{"kind"}),
		counts: make(map[string]*Counts),
	}
	if reg != nil {
		reg.MustRegister(m.fetched, m.imported, m.skipped, m.failed, m.pages)
	}
	return m
}

func (m *Metrics) forKind(kind string) *Counts {
	if c, ok := m.counts[kind]; ok {
		return c
	}
	c := &Counts{}
	m.counts[kind] = c
	return c
}

func (m *Metrics) Fetched(kind string, n int) {
	m.fetched.WithLabelValues(kind).Add(float64(n))
	m.mu.Lock()
	m.forKind(kind).Fetched += n
	m.mu.Unlock()
}

func (m *Metrics) Imported(kind string) {
	m.imported.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.forKind(kind).Imported++
	m.mu.Unlock()
}

func (m *Metrics) Skipped(kind string) {
	m.skipped.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.forKind(kind).Skipped++
	m.mu.Unlock()
}

func (m *Metrics) Failed(kind string) {
	m.failed.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.forKind(kind).Failed++
	m.mu.Unlock()
}

func (m *Metrics) Page(kind string) { m.pages.WithLabelValues(kind).Inc() }

// Summary snapshots every kind's tallies.
func (m *Metrics) Summary() map[string]Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Counts, len(m.counts))
	for kind, c := range m.counts {
		out[kind] = *c
	}
	return out
}

// CountsFor snapshots one kind's tallies.
func (m *Metrics) CountsFor(kind string) Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counts[kind]; ok {
		return *c
	}
	return Counts{}
}
