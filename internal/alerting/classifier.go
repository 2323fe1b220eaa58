// Package alerting decides, per reading, whether a host is in breach and
// keeps the alert ledger consistent with that decision.
package alerting

import "recsignal/internal/models"

// Classify maps value onto a severity. Every metric type is larger-is-worse.
func Classify(value float64, t models.Threshold) models.Severity {
	switch {
	case value >= t.Critical:
		return models.SeverityCritical
	case value >= t.Warning:
		return models.SeverityWarning
	default:
		return models.SeverityOK
	}
}
