package config

import (
	"github.com/FerroO2000/elastico/internal/telemetry"
)

// Validator is an utility struct for validating a configuration.
type Validator struct {
	tel *telemetry.Telemetry

	anomalyCollector *AnomalyCollector
}

// NewValidator returns a new validator.
func NewValidator(tel *telemetry.Telemetry) *Validator {
	return &Validator{
		tel: tel,

		anomalyCollector: newAnomalyCollector(),
	}
}

// Validate validates the given configuration.
// Every anomaly is logged and its field replaced by the fallback.
func (v *Validator) Validate(config Config) {
	config.Validate(v.anomalyCollector)

	for anomaly := range v.anomalyCollector.iter() {
		v.handleAnomaly(anomaly)
	}
}

func (v *Validator) handleAnomaly(an *anomaly) {
	v.tel.LogWarn("config anomaly",
		"field", an.field, "reason", an.reason,
		"actual", an.actual, "fallback", an.fallback)
}
