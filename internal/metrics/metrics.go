package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder counts uniqueness validations per rule kind.
type Recorder struct {
	validations *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
}

// NewRecorder registers the counters on reg. A nil reg means the default
// registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nestuniq",
			Name:      "validations_total",
			Help:      "Uniqueness validations by rule kind and result.",
		}, []string{"kind", "result"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nestuniq",
			Name:      "duplicates_total",
			Help:      "Records flagged as duplicates by rule kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(r.validations, r.duplicates)
	return r
}

func (r *Recorder) ObserveValidation(kind string, valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	r.validations.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) ObserveDuplicates(kind string, n int) {
	if n <= 0 {
		return
	}
	r.duplicates.WithLabelValues(kind).Add(float64(n))
}
