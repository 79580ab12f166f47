package registry

import "github.com/prometheus/client_golang/prometheus"

// componentHealthGauge exports each component's health as 1 (healthy), 0
// (unhealthy) or is left unset (disabled, no probe) — the registry health
// gauge named in the domain-stack's Prometheus entry.
var componentHealthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "registry_component_health",
	Help: "1 if the component's last health probe succeeded, 0 otherwise",
}, []string{"component"})

func init() {
	prometheus.MustRegister(componentHealthGauge)
}

func recordHealthGauge(report HealthReport) {
	switch report.Status {
	case StatusHealthy:
		componentHealthGauge.WithLabelValues(report.Name).Set(1)
	case StatusUnhealthy:
		componentHealthGauge.WithLabelValues(report.Name).Set(0)
	case StatusDisabled:
		componentHealthGauge.DeleteLabelValues(report.Name)
	}
}
